// Package worker provides the bounded pool that funnels every storage
// operation of the server through a fixed number of goroutines, so the
// number of concurrent Redis commands in flight never exceeds the
// configured worker count regardless of how many requests arrive.
package worker

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/legaultmarc/ocypod"
)

// Task is one unit of storage work executed by a pool worker.
type Task func(ctx context.Context) error

// submission pairs a task with the channel its result is delivered on.
type submission struct {
	ctx  context.Context
	task Task
	done chan error
}

// Pool runs submitted tasks on a fixed set of goroutines. Do blocks
// the caller until a worker has executed the task, so the pool acts as
// a concurrency limiter rather than a queue.
type Pool struct {
	size   int
	logger *slog.Logger

	tasks chan submission
	quit  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithSize sets the number of worker goroutines. Values below one fall
// back to the default.
func WithSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a pool sized to the number of CPUs unless overridden.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		size:   runtime.NumCPU(),
		logger: slog.Default(),
		tasks:  make(chan submission),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the number of worker goroutines.
func (p *Pool) Size() int { return p.size }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return
	}
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("size", p.size))
	for range p.size {
		p.wg.Add(1)
		go p.run()
	}
}

// Stop refuses new submissions and waits for in-flight tasks, or until
// ctx expires. A task already handed to a worker runs to completion;
// submitters still waiting for a worker receive ocypod.ErrPoolClosed.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}

// Do runs task on a pool worker and blocks until it finishes,
// returning the task's error. Returns ocypod.ErrPoolClosed once Stop
// has been called, and ctx.Err() if the caller gives up before a
// worker picks the task up.
func (p *Pool) Do(ctx context.Context, task Task) error {
	sub := submission{ctx: ctx, task: task, done: make(chan error, 1)}
	select {
	case p.tasks <- sub:
	case <-p.quit:
		return ocypod.ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-sub.done:
		return err
	case <-ctx.Done():
		// The worker still owns the task; its result is discarded.
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case sub := <-p.tasks:
			if err := sub.ctx.Err(); err != nil {
				sub.done <- err
				continue
			}
			sub.done <- sub.task(sub.ctx)
		}
	}
}
