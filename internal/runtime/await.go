package runtime

import (
	"context"
	"time"
)

type awaited[T any] struct {
	value T
	err   error
	panic any
}

// await runs fn in its own goroutine and returns when it finishes or when the
// deadline d fires, whichever comes first. A call that ignores cancellation keeps
// running in the background; its late result is discarded.
// A panic inside fn is re-raised on the caller's goroutine.
func await[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if d > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan awaited[T], 1)
	go func() {
		var r awaited[T]
		defer func() {
			r.panic = recover()
			done <- r
		}()
		r.value, r.err = fn(callCtx)
	}()

	select {
	case r := <-done:
		if r.panic != nil {
			panic(r.panic)
		}
		return r.value, r.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}
