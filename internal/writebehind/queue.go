// Package writebehind implements a coalescing write-behind queue: keys collect in a
// pending set and are flushed once no new key has arrived for the configured delay.
// Every Add restarts the timer, so a steady stream of arrivals defers the flush.
package writebehind

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// FlushFunc receives the keys pending at flush time, in arrival order.
type FlushFunc[K comparable] func(ctx context.Context, keys []K)

type Queue[K comparable] struct {
	mu      sync.Mutex
	pending []K
	seen    map[K]struct{}
	timer   *clock.Timer
	closed  bool

	// flushMu serializes flushes so a timer flush and an explicit Flush never overlap.
	flushMu sync.Mutex

	delay time.Duration
	clock clock.Clock
	flush FlushFunc[K]
	ctx   context.Context
}

// New creates a queue. ctx is handed to timer-driven flushes.
func New[K comparable](ctx context.Context, delay time.Duration, clk clock.Clock, flush FlushFunc[K]) *Queue[K] {
	if clk == nil {
		clk = clock.New()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Queue[K]{
		seen:  make(map[K]struct{}),
		delay: delay,
		clock: clk,
		flush: flush,
		ctx:   ctx,
	}
}

// Add enqueues key (duplicates coalesce) and restarts the debounce timer.
// It reports false once the queue is closed.
func (q *Queue[K]) Add(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, dup := q.seen[key]; !dup {
		q.seen[key] = struct{}{}
		q.pending = append(q.pending, key)
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = q.clock.AfterFunc(q.delay, func() {
		q.Flush(q.ctx)
	})
	return true
}

// Pending returns a copy of the keys awaiting flush.
func (q *Queue[K]) Pending() []K {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]K, len(q.pending))
	copy(out, q.pending)
	return out
}

// Flush drains the pending set now. The set is cleared before the flush func runs;
// keys that fail inside it are not re-queued.
func (q *Queue[K]) Flush(ctx context.Context) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	keys := q.pending
	q.pending = nil
	q.seen = make(map[K]struct{})
	q.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	q.flush(ctx, keys)
}

// Close stops accepting keys and flushes whatever is pending.
func (q *Queue[K]) Close(ctx context.Context) {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.Flush(ctx)
}
