package runner

import (
	"log/slog"
	"time"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/observability"
	"github.com/aretw0/tapestry/pkg/ports"
)

// DefaultLockTTL is the lease used when a locker is configured without a TTL.
const DefaultLockTTL = 3 * time.Minute

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSink configures where results are delivered.
func WithSink(sink ports.OutputSink) Option {
	return func(r *Runner) {
		r.sink = sink
	}
}

// WithMetrics configures the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithLocker makes the worker hold a lease on its session ref for as long as it
// runs, refreshed every third of ttl, and keep its committed session in the
// store under WorkingKey(ref). Replicas sharing a queue then take turns owning
// the session instead of splitting it.
func WithLocker(locker ports.LeaseLocker, ttl time.Duration) Option {
	return func(r *Runner) {
		r.locker = locker
		if ttl <= 0 {
			ttl = DefaultLockTTL
		}
		r.lockTTL = ttl
	}
}

// WithProcessHook registers a callback invoked with every result, after delivery.
func WithProcessHook(hook func(domain.Result)) Option {
	return func(r *Runner) {
		r.hook = hook
	}
}

// WithInitialSession starts the worker from s instead of a fresh session.
func WithInitialSession(s *domain.Session) Option {
	return func(r *Runner) {
		if s != nil {
			r.session = s.Clone()
		}
	}
}

// WithClock overrides the time source used for fallback keys.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}
