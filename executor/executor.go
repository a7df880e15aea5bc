// Package executor implements the fixed-size worker pool spec §5's
// scheduling model describes ("a fixed-size pool of worker threads, each
// running an event loop that services a shard of connections"), plus the
// suspension-point primitives (sleep, collectAll/collectAny) a handler
// uses when it needs to wait on something other than its own connection's
// I/O.
//
// Go's goroutine scheduler already gives every connection its own
// lightweight "thread" for free, so Executor does not pin connections to
// workers the way the original model does; it exists as the one place
// ampere bounds total concurrent handler work to worker_threads (spec §6),
// the resource control the original gets from its fixed thread count.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of work submitted to an Executor.
type Task func(ctx context.Context)

// Executor bounds concurrent work to a fixed number of slots, matching
// spec §6's worker_threads server configuration. Grounded on
// shockwave/pkg/shockwave/server/server.go's BaseServer.connSem (a
// buffered channel used as a counting semaphore over concurrent
// connections), retargeted here at concurrent handler work rather than
// connection count.
type Executor struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an Executor with the given number of worker slots. workers
// <= 0 is treated as 1.
func New(workers int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	return &Executor{sem: make(chan struct{}, workers)}
}

// Schedule runs fn on the pool, blocking the caller until a worker slot
// frees up or ctx is cancelled first. Returns false (without running fn)
// if the executor is shutting down or ctx was already done.
func (e *Executor) Schedule(ctx context.Context, fn Task) bool {
	if e.closed.Load() {
		return false
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.sem }()
		fn(ctx)
	}()
	return true
}

// Shutdown stops accepting new work and waits for scheduled tasks to
// finish, bounded by ctx — the same wg.Wait()-race-ctx.Done() shape as
// BaseServer.Shutdown in the teacher.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.closed.Store(true)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// After fires once d has elapsed or ctx is cancelled, whichever comes
// first — the suspension point spec §5 calls "sleep".
func After(ctx context.Context, d time.Duration) <-chan time.Time {
	t := time.NewTimer(d)
	ch := make(chan time.Time, 1)
	go func() {
		defer t.Stop()
		select {
		case tm := <-t.C:
			ch <- tm
		case <-ctx.Done():
		}
	}()
	return ch
}
