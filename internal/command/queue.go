package command

import (
	"context"
	"errors"
	"sync/atomic"
)

// QueueCapacity is the number of pending Commands a channel queue holds.
const QueueCapacity = 10

// ErrQueueFull is returned by TrySend when the queue has no free slot.
var ErrQueueFull = errors.New("command queue full")

// Queue is a bounded FIFO of Commands feeding one animation engine.
// Any number of goroutines may send; one engine receives.
//
// Every accepted Command stays outstanding until the receiver calls Done for
// it, so a Command that has been received but not yet finished still counts.
type Queue struct {
	name        string
	ch          chan *Command
	outstanding atomic.Int64
}

// NewQueue creates a queue with QueueCapacity slots.
func NewQueue(name string) *Queue {
	return NewQueueWithCapacity(name, QueueCapacity)
}

// NewQueueWithCapacity creates a queue with a custom capacity.
func NewQueueWithCapacity(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = QueueCapacity
	}
	return &Queue{
		name: name,
		ch:   make(chan *Command, capacity),
	}
}

// Name returns the channel name the queue belongs to.
func (q *Queue) Name() string {
	return q.name
}

// Send enqueues cmd, blocking while the queue is full.
// It only fails when ctx is cancelled; ownership of cmd stays with the caller then.
func (q *Queue) Send(ctx context.Context, cmd *Command) error {
	q.outstanding.Add(1)
	select {
	case q.ch <- cmd:
		return nil
	case <-ctx.Done():
		q.outstanding.Add(-1)
		return ctx.Err()
	}
}

// TrySend enqueues cmd without blocking.
func (q *Queue) TrySend(cmd *Command) error {
	q.outstanding.Add(1)
	select {
	case q.ch <- cmd:
		return nil
	default:
		q.outstanding.Add(-1)
		return ErrQueueFull
	}
}

// Receive blocks until a Command is available or ctx is cancelled.
func (q *Queue) Receive(ctx context.Context) (*Command, error) {
	select {
	case cmd := <-q.ch:
		return cmd, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryReceive returns the next pending Command, or nil if the queue is empty.
func (q *Queue) TryReceive() *Command {
	select {
	case cmd := <-q.ch:
		return cmd
	default:
		return nil
	}
}

// Len returns the number of pending Commands.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Done marks one received Command as finished.
func (q *Queue) Done() {
	q.outstanding.Add(-1)
}

// Outstanding returns the number of Commands sent but not yet marked Done.
// It is counted before a Command becomes visible to the receiver and
// released only after the receiver has finished with it.
func (q *Queue) Outstanding() int {
	return int(q.outstanding.Load())
}
