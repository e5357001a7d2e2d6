// Package coalesce buffers inbound events for a short fixed window so that the
// downstream state-update rate is bounded independently of the feed rate.
package coalesce

import (
	"sync"
	"time"
)

// DefaultInterval is the coalescing window between a first enqueue and the
// flush that drains it.
const DefaultInterval = 100 * time.Millisecond

// Coalescer collects items into a pending batch and delivers the whole batch
// to the flush callback once per window. Only one flush may be pending at a
// time; items enqueued while a flush is pending join the same batch.
type Coalescer[T any] struct {
	mu       sync.Mutex
	queue    []T
	timer    *time.Timer
	interval time.Duration
	stopped  bool
	flushFn  func([]T)
}

// New creates a Coalescer that delivers drained batches to flushFn.
// flushFn runs on the timer goroutine; it must not call back into the
// Coalescer while holding its own locks in a conflicting order.
func New[T any](interval time.Duration, flushFn func([]T)) *Coalescer[T] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coalescer[T]{
		interval: interval,
		flushFn:  flushFn,
	}
}

// Enqueue appends an item to the pending batch and schedules a flush if none
// is scheduled yet. Enqueue order is preserved into the batch.
func (c *Coalescer[T]) Enqueue(item T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	c.queue = append(c.queue, item)

	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.Flush)
	}
}

// Flush atomically drains the entire queue and hands it to the flush callback.
// Flushing an empty queue is a no-op.
func (c *Coalescer[T]) Flush() {
	c.mu.Lock()
	batch := c.queue
	c.queue = nil
	c.timer = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	c.flushFn(batch)
}

// Reset drops any queued items and cancels the pending flush. Used on
// symbol/timeframe switch so stale ticks cannot merge into the new series.
func (c *Coalescer[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Stop permanently disables the coalescer, cancelling any pending flush.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.queue = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
