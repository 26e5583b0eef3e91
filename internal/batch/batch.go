// Package batch groups items and hands them to a flush callback in bulk.
package batch

import (
	"sync"
	"time"
)

// FlushFunc is called with the accumulated items. It must not call back into
// the Collector.
type FlushFunc[T any] func(items []T)

// Collector flushes after Size items or Interval after the first pending
// item, whichever comes first.
type Collector[T any] struct {
	mu       sync.Mutex
	items    []T
	size     int
	interval time.Duration
	timer    *time.Timer
	closed   bool
	onFlush  FlushFunc[T]

	// flushMu serializes flushes so batches reach onFlush in order.
	flushMu sync.Mutex
}

// New creates a Collector. A size below 1 means 1; a non-positive interval
// disables the timer.
func New[T any](size int, interval time.Duration, onFlush FlushFunc[T]) *Collector[T] {
	return &Collector[T]{
		size:     max(size, 1),
		interval: interval,
		onFlush:  onFlush,
	}
}

// Add queues an item and flushes if the batch is full. Items added after
// Close are flushed immediately.
func (c *Collector[T]) Add(item T) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	c.items = append(c.items, item)

	var batch []T
	switch {
	case c.closed || len(c.items) >= c.size:
		batch = c.take()
	case c.timer == nil && c.interval > 0:
		c.timer = time.AfterFunc(c.interval, c.flushTimer)
	}
	c.mu.Unlock()

	if len(batch) > 0 {
		c.onFlush(batch)
	}
}

// Flush hands any pending items to the callback now.
func (c *Collector[T]) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	batch := c.take()
	c.mu.Unlock()

	if len(batch) > 0 {
		c.onFlush(batch)
	}
}

// Close stops the timer and flushes pending items.
func (c *Collector[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Flush()
}

func (c *Collector[T]) flushTimer() {
	c.Flush()
}

// take detaches the pending items. c.mu must be held.
func (c *Collector[T]) take() []T {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	items := c.items
	c.items = nil
	return items
}
