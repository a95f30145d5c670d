package tapestry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/tapestry/internal/logging"
	"github.com/aretw0/tapestry/internal/runtime"
	"github.com/aretw0/tapestry/pkg/adapters/memory"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/observability"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/aretw0/tapestry/pkg/runner"
	"github.com/aretw0/tapestry/pkg/session"
)

// Version is the tapestry release.
const Version = "0.1.0"

// Tapestry is the high-level entry point for the library.
// It wires a generator and a store into an engine and a session manager.
type Tapestry struct {
	engine  *runtime.Engine
	manager *session.Manager
	store   ports.SessionStore
	logger  *slog.Logger
}

type settings struct {
	store       ports.SessionStore
	logger      *slog.Logger
	metrics     *observability.Metrics
	engineOpts  []runtime.Option
	managerOpts []session.Option
}

// Option defines a functional option for configuring Tapestry.
type Option func(*settings)

// WithStore sets the durable store for saves. Defaults to an in-memory store.
func WithStore(store ports.SessionStore) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithLogger sets a custom structured logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMetrics records engine, queue and worker metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithSink receives every Result. Use runner.MultiSink for several.
func WithSink(sink ports.OutputSink) Option {
	return func(s *settings) {
		s.managerOpts = append(s.managerOpts, session.WithSink(sink))
	}
}

// WithWindow bounds the history sent to the generator.
func WithWindow(w domain.Window) Option {
	return func(s *settings) {
		s.engineOpts = append(s.engineOpts, runtime.WithWindow(w))
	}
}

// WithActTimeout bounds a single generation.
func WithActTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.engineOpts = append(s.engineOpts, runtime.WithActTimeout(d))
	}
}

// WithPersistTimeout bounds a single store call.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.engineOpts = append(s.engineOpts, runtime.WithPersistTimeout(d))
	}
}

// WithAutoSave toggles the saves made on NEW_GAME and EXIT.
func WithAutoSave(onNewGame, onExit bool) Option {
	return func(s *settings) {
		s.engineOpts = append(s.engineOpts, runtime.WithAutoSave(onNewGame, onExit))
	}
}

// WithLocker makes each worker hold a lease on its ref and keep its session in
// the store, for replicas sharing one queue.
func WithLocker(locker ports.LeaseLocker, ttl time.Duration) Option {
	return func(s *settings) {
		s.managerOpts = append(s.managerOpts, session.WithLocker(locker, ttl))
	}
}

// WithQueueFactory replaces the in-process queue.
func WithQueueFactory(f session.QueueFactory) Option {
	return func(s *settings) {
		s.managerOpts = append(s.managerOpts, session.WithQueueFactory(f))
	}
}

// WithQueueCapacity bounds the in-process queue of every session.
func WithQueueCapacity(n int) Option {
	return func(s *settings) {
		s.managerOpts = append(s.managerOpts, session.WithQueueCapacity(n))
	}
}

// WithRunnerOptions passes options to every session worker.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(s *settings) {
		s.managerOpts = append(s.managerOpts, session.WithRunnerOptions(opts...))
	}
}

// New builds a Tapestry around gen.
func New(gen ports.Generator, opts ...Option) (*Tapestry, error) {
	if gen == nil {
		return nil, errors.New("tapestry: a generator is required")
	}
	s := &settings{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = memory.NewStore()
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}

	engineOpts := append([]runtime.Option{
		runtime.WithLogger(s.logger),
		runtime.WithMetrics(s.metrics),
	}, s.engineOpts...)
	engine := runtime.NewEngine(gen, s.store, engineOpts...)

	managerOpts := append([]session.Option{
		session.WithLogger(s.logger),
		session.WithMetrics(s.metrics),
	}, s.managerOpts...)

	return &Tapestry{
		engine:  engine,
		manager: session.NewManager(engine, managerOpts...),
		store:   s.store,
		logger:  s.logger,
	}, nil
}

// Submit queues a for its session and returns the queue sequence number.
// The Result arrives later on the configured sink.
func (t *Tapestry) Submit(ctx context.Context, a domain.Action) (uint64, error) {
	return t.manager.Submit(ctx, a)
}

// Snapshot returns a copy of the live session for ref.
func (t *Tapestry) Snapshot(ref string) (*domain.Session, bool) {
	return t.manager.Snapshot(ref)
}

// Sessions lists the refs with a live worker.
func (t *Tapestry) Sessions() []string {
	return t.manager.Sessions()
}

// Manager exposes the session manager, for intakes that take one.
func (t *Tapestry) Manager() *session.Manager {
	return t.manager
}

// Store returns the durable store.
func (t *Tapestry) Store() ports.SessionStore {
	return t.store
}

// Shutdown stops every worker. Workers with unsaved progress write a
// disconnect save before returning.
func (t *Tapestry) Shutdown(ctx context.Context) error {
	t.logger.Debug("shutting down", "sessions", len(t.manager.Sessions()))
	return t.manager.Shutdown(ctx)
}
