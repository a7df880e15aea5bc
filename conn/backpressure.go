package conn

import "sync"

// writeQueue gates a connection's producer (a streamed/chunked response
// generator, or the body-pull loop of a streamed-dispatch request)
// against a slow peer: once Reserve has admitted more than HighWaterMark
// bytes that haven't yet been Released (flushed to the wire), further
// Reserve calls block until Release drains the total back below
// LowWaterMark (spec §4.3's back-pressure policy; defaults 1MiB/256KiB
// per spec §6).
//
// The teacher's Connection.Serve writes synchronously to a bufio.Writer
// with no such gate (shockwave/pkg/shockwave/http11/connection.go);
// spec §4.3 requires one explicitly for the cases where output
// generation and socket draining aren't naturally serialized — a
// streamed body dispatched before the request finishes, or a chunked
// generator body running ahead of a congested client.
type writeQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queued int
	high   int
	low    int
	paused bool
}

func newWriteQueue(high, low int) *writeQueue {
	if high <= 0 {
		high = 1 << 20
	}
	if low <= 0 || low >= high {
		low = high / 4
	}
	q := &writeQueue{high: high, low: low}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Reserve accounts for n more queued bytes, blocking the caller while
// the queue sits above its high water mark.
func (q *writeQueue) Reserve(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued += n
	if q.queued > q.high {
		q.paused = true
	}
	for q.paused {
		q.cond.Wait()
	}
}

// Release accounts for n bytes having drained to the wire, resuming any
// blocked Reserve callers once the queue falls back to the low water
// mark.
func (q *writeQueue) Release(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued -= n
	if q.queued < 0 {
		q.queued = 0
	}
	if q.paused && q.queued <= q.low {
		q.paused = false
		q.cond.Broadcast()
	}
}

// Paused reports whether the read side should currently hold off pulling
// more streamed-body bytes.
func (q *writeQueue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}
