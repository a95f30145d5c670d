package ports

import (
	"context"

	"github.com/aretw0/tapestry/pkg/domain"
)

// OutputSink receives the result of every processed action.
// Delivery is fire-and-forget for the worker: errors are logged, never fed back.
type OutputSink interface {
	Deliver(ctx context.Context, result domain.Result) error
}

// SinkFunc adapts a function to the OutputSink interface.
type SinkFunc func(ctx context.Context, result domain.Result) error

func (f SinkFunc) Deliver(ctx context.Context, result domain.Result) error {
	return f(ctx, result)
}
