// Package monitor runs the periodic policy sweep: promoting matured
// delayed retries, recovering jobs whose workers went silent, and
// reaping ended jobs past their expiry window.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/legaultmarc/ocypod"
	"github.com/legaultmarc/ocypod/job"
	"github.com/legaultmarc/ocypod/metrics"
	"github.com/legaultmarc/ocypod/worker"
)

// Monitor owns the background sweep. Every transition it makes is
// compare-and-swap against the status and heartbeat it observed, so a
// client writing a result concurrently always wins.
type Monitor struct {
	store    job.Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	pool     *worker.Pool

	cron *cron.Cron
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics attaches Prometheus counters to sweep outcomes.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mx }
}

// WithPool routes each tick through the worker pool, so sweep traffic
// and request traffic share the same storage concurrency budget.
func WithPool(p *worker.Pool) Option {
	return func(m *Monitor) { m.pool = p }
}

// New creates a Monitor sweeping every interval.
func New(s job.Store, interval time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		store:    s,
		interval: interval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start schedules the sweep. A tick that overruns the interval causes
// the next one to be skipped rather than piled up.
func (m *Monitor) Start() {
	if m.cron != nil {
		return
	}
	logger := cronLogger{m.logger}
	m.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(logger)))
	m.cron.Schedule(cron.Every(m.interval), cron.FuncJob(func() {
		if err := m.tick(); err != nil {
			m.logger.Error("monitor tick failed", "error", err)
		}
	}))
	m.cron.Start()
	m.logger.Info("monitor started", slog.Duration("interval", m.interval))
}

// Stop halts the schedule and waits for a tick in flight.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.logger.Info("monitor stopped")
}

// tick is the scheduled entry point, occupying one pool slot when a
// pool is attached.
func (m *Monitor) tick() error {
	ctx := context.Background()
	if m.pool != nil {
		return m.pool.Do(ctx, m.Tick)
	}
	return m.Tick(ctx)
}

// Tick runs one full sweep. Per-job failures are logged and skipped so
// one bad record cannot stall the rest; only store-level failures
// abort the pass.
func (m *Monitor) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	promoted, err := m.store.PromoteDelayedJobs(ctx, now)
	if err != nil {
		return err
	}
	if promoted > 0 {
		m.logger.Debug("promoted delayed jobs", slog.Int("count", promoted))
	}

	if err := m.checkRunning(ctx, now); err != nil {
		return err
	}
	if err := m.reapExpired(ctx, now); err != nil {
		return err
	}

	if m.metrics != nil {
		counts, err := m.store.StatusCounts(ctx)
		if err != nil {
			return err
		}
		m.metrics.SetStatusCounts(counts)
	}
	return nil
}

// checkRunning retries or times out running jobs whose worker missed
// its deadline.
func (m *Monitor) checkRunning(ctx context.Context, now time.Time) error {
	ids, err := m.store.RunningJobs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		j, err := m.store.GetJob(ctx, id)
		if errors.Is(err, ocypod.ErrJobNotFound) {
			continue
		}
		if err != nil {
			m.logger.Warn("monitor: cannot load running job", "job_id", id, "error", err)
			continue
		}
		if j.Status != job.StatusRunning || j.LastHeartbeat == nil || !deadlineMissed(j, now) {
			continue
		}

		heartbeat := *j.LastHeartbeat
		if j.RetriesAttempted < j.Retries {
			delay := j.RetryDelay(j.RetriesAttempted)
			applied, err := m.store.RetryJob(ctx, id, heartbeat, delay)
			if err != nil {
				m.logger.Warn("monitor: retry failed", "job_id", id, "error", err)
				continue
			}
			if applied {
				m.logger.Info("job retried after missed deadline",
					"job_id", id, "queue", j.Queue,
					"attempt", j.RetriesAttempted+1, "delay", delay)
				if m.metrics != nil {
					m.metrics.JobsRetried.Inc()
				}
			}
			continue
		}

		applied, err := m.store.TimeoutJob(ctx, id, heartbeat)
		if err != nil {
			m.logger.Warn("monitor: timeout failed", "job_id", id, "error", err)
			continue
		}
		if applied {
			m.logger.Info("job timed out", "job_id", id, "queue", j.Queue)
			if m.metrics != nil {
				m.metrics.JobsTimedOut.Inc()
			}
		}
	}
	return nil
}

// reapExpired deletes ended jobs older than their expiry window.
func (m *Monitor) reapExpired(ctx context.Context, now time.Time) error {
	ids, err := m.store.EndedJobs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		j, err := m.store.GetJob(ctx, id)
		if errors.Is(err, ocypod.ErrJobNotFound) {
			continue
		}
		if err != nil {
			m.logger.Warn("monitor: cannot load ended job", "job_id", id, "error", err)
			continue
		}
		// ExpiresAfter of zero keeps the job forever.
		if j.ExpiresAfter <= 0 || j.EndedAt == nil || now.Sub(*j.EndedAt) < j.ExpiresAfter.Std() {
			continue
		}

		removed, err := m.store.DeleteJob(ctx, id)
		if err != nil {
			m.logger.Warn("monitor: reap failed", "job_id", id, "error", err)
			continue
		}
		if removed {
			m.logger.Info("reaped expired job", "job_id", id, "queue", j.Queue)
			if m.metrics != nil {
				m.metrics.JobsReaped.Inc()
			}
		}
	}
	return nil
}

// deadlineMissed reports whether the job blew either its heartbeat
// window or its total runtime budget. A zero heartbeat timeout
// disables the heartbeat check.
func deadlineMissed(j *job.Job, now time.Time) bool {
	if j.HeartbeatTimeout > 0 && now.Sub(*j.LastHeartbeat) > j.HeartbeatTimeout.Std() {
		return true
	}
	if j.Timeout > 0 && j.StartedAt != nil && now.Sub(*j.StartedAt) > j.Timeout.Std() {
		return true
	}
	return false
}

// cronLogger adapts slog to the cron scheduler's logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug(msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(kv, "error", err)...)
}
