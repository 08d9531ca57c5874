package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/legaultmarc/ocypod"
)

func TestPoolRunsTasksAndReturnsErrors(t *testing.T) {
	p := NewPool(WithSize(2))
	p.Start()
	defer p.Stop(context.Background())

	if err := p.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}

	want := errors.New("boom")
	if err := p.Do(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("Do() = %v, want %v", err, want)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	p := NewPool(WithSize(size))
	p.Start()
	defer p.Stop(context.Background())

	var active, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := atomic.AddInt64(&active, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > size {
		t.Fatalf("peak concurrency = %d, want <= %d", got, size)
	}
}

func TestPoolDoAfterStop(t *testing.T) {
	p := NewPool(WithSize(1))
	p.Start()
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}

	err := p.Do(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ocypod.ErrPoolClosed) {
		t.Fatalf("Do() after Stop = %v, want %v", err, ocypod.ErrPoolClosed)
	}
}

func TestPoolDoHonorsCallerContext(t *testing.T) {
	p := NewPool(WithSize(1))
	p.Start()
	defer p.Stop(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	// The single worker is busy, so this submission cannot be picked
	// up before the context expires.
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() = %v, want %v", err, context.DeadlineExceeded)
	}
	close(release)
}

func TestPoolStopWaitsForInFlightTasks(t *testing.T) {
	p := NewPool(WithSize(1))
	p.Start()

	started := make(chan struct{})
	var finished atomic.Bool
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}()

	<-started
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if !finished.Load() {
		t.Fatal("Stop() returned before the in-flight task finished")
	}
}

func TestPoolStopTimeout(t *testing.T) {
	p := NewPool(WithSize(1))
	p.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() = %v, want %v", err, context.DeadlineExceeded)
	}
	close(release)
}
