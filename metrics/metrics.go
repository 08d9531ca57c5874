// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/legaultmarc/ocypod/job"
)

// Metrics holds every collector the server registers. All metrics live
// on a private registry so tests can run side by side without
// duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	JobsEnqueued prometheus.Counter
	JobsClaimed  prometheus.Counter
	JobsRetried  prometheus.Counter
	JobsTimedOut prometheus.Counter
	JobsReaped   prometheus.Counter

	jobsByStatus *prometheus.GaugeVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocypod_jobs_enqueued_total",
			Help: "Jobs accepted onto a queue.",
		}),
		JobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocypod_jobs_claimed_total",
			Help: "Jobs handed to a worker.",
		}),
		JobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocypod_jobs_retried_total",
			Help: "Jobs re-queued by the monitor after a missed deadline.",
		}),
		JobsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocypod_jobs_timed_out_total",
			Help: "Jobs moved to timed_out after exhausting retries.",
		}),
		JobsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ocypod_jobs_reaped_total",
			Help: "Ended jobs removed after their expiry window.",
		}),
		jobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ocypod_jobs",
			Help: "Jobs currently tracked, by status.",
		}, []string{"status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ocypod_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobsEnqueued,
		m.JobsClaimed,
		m.JobsRetried,
		m.JobsTimedOut,
		m.JobsReaped,
		m.jobsByStatus,
		m.httpDuration,
	)
	return m
}

// SetStatusCounts publishes a fresh status breakdown, typically taken
// by the monitor once per tick.
func (m *Metrics) SetStatusCounts(counts map[job.Status]int64) {
	for status, n := range counts {
		m.jobsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

// ObserveHTTPRequest records one handled request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	m.httpDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
