// Package queue provides the in-process Action Queue: a bounded, strictly FIFO,
// multi-producer single-consumer channel that stamps each action with a sequence number.
package queue

import (
	"context"
	"sync"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
)

// DefaultCapacity bounds a queue when no capacity is given.
const DefaultCapacity = 64

// Queue is a bounded FIFO of actions for one session.
type Queue struct {
	mu     sync.Mutex
	ch     chan domain.Action
	seq    uint64
	closed bool
}

var _ ports.ActionQueue = (*Queue)(nil)

// New creates a queue holding at most capacity pending actions.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan domain.Action, capacity)}
}

// Enqueue stamps a with the next sequence number and appends it without blocking.
// Stamping and appending share one critical section, so Seq order is queue order.
func (q *Queue) Enqueue(ctx context.Context, a domain.Action) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, domain.ErrQueueClosed
	}
	a.Seq = q.seq + 1
	select {
	case q.ch <- a:
		q.seq = a.Seq
		return a.Seq, nil
	default:
		return 0, domain.ErrQueueFull
	}
}

// Dequeue blocks until an action is available.
// After Close it drains what is left, then returns domain.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (domain.Action, error) {
	select {
	case a, ok := <-q.ch:
		if !ok {
			return domain.Action{}, domain.ErrQueueClosed
		}
		return a, nil
	case <-ctx.Done():
		return domain.Action{}, ctx.Err()
	}
}

// Len reports the number of pending actions.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting actions. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
