package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorScheduleBoundsConcurrency(t *testing.T) {
	e := New(2)
	var inFlight, maxSeen atomic.Int32

	var started atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 5; i++ {
		ok := e.Schedule(context.Background(), func(ctx context.Context) {
			started.Add(1)
			n := inFlight.Add(1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
		})
		if !ok {
			t.Fatalf("Schedule(%d) returned false", i)
		}
	}

	deadline := time.After(time.Second)
	for started.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the pool to admit its first 2 tasks")
		case <-time.After(time.Millisecond):
		}
	}
	if got := maxSeen.Load(); got > 2 {
		t.Errorf("max concurrent tasks = %d, want <= 2", got)
	}

	close(release)
	if err := e.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if got := started.Load(); got != 5 {
		t.Errorf("started = %d, want 5", got)
	}
}

func TestExecutorScheduleRejectsAfterShutdown(t *testing.T) {
	e := New(1)
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if ok := e.Schedule(context.Background(), func(context.Context) {}); ok {
		t.Error("Schedule returned true after Shutdown")
	}
}

func TestExecutorShutdownRespectsContext(t *testing.T) {
	e := New(1)
	block := make(chan struct{})
	e.Schedule(context.Background(), func(ctx context.Context) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown error = %v, want context.DeadlineExceeded", err)
	}
	close(block)
}

func TestAfterFiresOnDuration(t *testing.T) {
	start := time.Now()
	<-After(context.Background(), 10*time.Millisecond)
	if time.Since(start) < 10*time.Millisecond {
		t.Error("After fired before the requested duration elapsed")
	}
}

func TestAfterCancelledByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := After(ctx, time.Hour)
	cancel()
	select {
	case v := <-ch:
		t.Errorf("After sent %v after its context was cancelled", v)
	case <-time.After(50 * time.Millisecond):
		// no value delivered — cancellation was observed instead of the timer.
	}
}
