package ports

import (
	"context"

	"github.com/aretw0/tapestry/pkg/domain"
)

// ActionQueue is the ordered hand-off channel for one session.
// Any number of producers may Enqueue concurrently; exactly one worker Dequeues.
type ActionQueue interface {
	// Enqueue appends a without blocking and returns the sequence number stamped on it.
	// Returns domain.ErrQueueFull when the bound is reached and domain.ErrQueueClosed after Close.
	Enqueue(ctx context.Context, a domain.Action) (uint64, error)

	// Dequeue blocks until an action is available, ctx is done, or the queue is closed and drained.
	Dequeue(ctx context.Context) (domain.Action, error)

	// Len reports the number of pending actions.
	Len() int

	// Close stops accepting new actions. Pending actions can still be dequeued.
	Close() error
}

// AckQueue is an ActionQueue that keeps a dequeued action pending until it is
// acknowledged, so an action taken by a worker that died before applying it
// can be handed to the next worker.
type AckQueue interface {
	ActionQueue

	// Ack marks the action stamped seq as handled.
	Ack(ctx context.Context, seq uint64) error

	// Recover moves unacknowledged actions back to the head of the queue, in
	// their original order, and reports how many were moved.
	Recover(ctx context.Context) (int, error)
}
