package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/tapestry/internal/logging"
	"github.com/aretw0/tapestry/internal/runtime"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/observability"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/aretw0/tapestry/pkg/queue"
	"github.com/aretw0/tapestry/pkg/runner"
)

// QueueFactory creates the Action Queue for a session ref.
type QueueFactory func(ref string) (ports.ActionQueue, error)

// worker is the queue and runner serving one ref.
type worker struct {
	runner *runner.Runner
	queue  ports.ActionQueue
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns every live worker.
type Manager struct {
	engine     *runtime.Engine
	newQueue   QueueFactory
	sink       ports.OutputSink
	locker     ports.LeaseLocker
	lockTTL    time.Duration
	runnerOpts []runner.Option
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu      sync.Mutex // guards workers and closed
	workers map[string]*worker
	closed  bool

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger configures a logger for the Manager and its workers.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics configures the Prometheus collectors shared by all workers.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithSink sets the OutputSink every worker delivers to.
func WithSink(sink ports.OutputSink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithLocker makes every worker hold a lease on its ref while it runs.
// See runner.WithLocker.
func WithLocker(locker ports.LeaseLocker, ttl time.Duration) Option {
	return func(m *Manager) {
		m.locker = locker
		m.lockTTL = ttl
	}
}

// WithQueueFactory replaces the in-process queue (for example with a Redis queue).
func WithQueueFactory(f QueueFactory) Option {
	return func(m *Manager) {
		if f != nil {
			m.newQueue = f
		}
	}
}

// WithQueueCapacity bounds the default in-process queues.
func WithQueueCapacity(capacity int) Option {
	return func(m *Manager) {
		m.newQueue = func(string) (ports.ActionQueue, error) {
			return queue.New(capacity), nil
		}
	}
}

// WithRunnerOptions appends options applied to every spawned Runner.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(m *Manager) {
		m.runnerOpts = append(m.runnerOpts, opts...)
	}
}

// NewManager creates a Manager applying actions with engine.
func NewManager(engine *runtime.Engine, opts ...Option) *Manager {
	m := &Manager{
		engine:  engine,
		workers: make(map[string]*worker),
		logger:  logging.NewNop(), // Default to no-op
		newQueue: func(string) (ports.ActionQueue, error) {
			return queue.New(queue.DefaultCapacity), nil
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.baseCtx, m.stop = context.WithCancel(context.Background())
	return m
}

// Submit sanitizes a and enqueues it on the worker for a.SessionRef, spawning one if needed.
// It never waits for the action to be applied and returns the queue sequence number.
func (m *Manager) Submit(ctx context.Context, a domain.Action) (uint64, error) {
	a, err := runner.SanitizeAction(a)
	if err != nil {
		return 0, err
	}
	if a.SessionRef == "" {
		return 0, fmt.Errorf("%w: missing sessionRef", domain.ErrUserInput)
	}

	// A worker that just exited may still be registered with a closed queue; retry once.
	for attempt := 0; attempt < 2; attempt++ {
		w, err := m.acquire(a.SessionRef)
		if err != nil {
			return 0, err
		}
		seq, err := w.queue.Enqueue(ctx, a)
		switch {
		case err == nil:
			m.metrics.QueueEnqueued()
			return seq, nil
		case errors.Is(err, domain.ErrQueueFull):
			m.metrics.QueueRejected()
			m.logger.Warn("queue full, rejecting action", "session_ref", a.SessionRef, "kind", a.Kind)
			return 0, err
		case errors.Is(err, domain.ErrQueueClosed):
			m.remove(a.SessionRef, w)
			continue
		default:
			return 0, err
		}
	}
	return 0, domain.ErrQueueClosed
}

// acquire returns the live worker for ref, spawning it on first use.
func (m *Manager) acquire(ref string) (*worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, domain.ErrQueueClosed
	}
	if w, ok := m.workers[ref]; ok {
		return w, nil
	}

	q, err := m.newQueue(ref)
	if err != nil {
		return nil, fmt.Errorf("create queue for %q: %w", ref, err)
	}

	opts := []runner.Option{
		runner.WithLogger(m.logger),
		runner.WithMetrics(m.metrics),
		runner.WithSink(m.sink),
	}
	if m.locker != nil {
		opts = append(opts, runner.WithLocker(m.locker, m.lockTTL))
	}
	opts = append(opts, m.runnerOpts...)

	ctx, cancel := context.WithCancel(m.baseCtx)
	w := &worker{
		runner: runner.NewRunner(ref, q, m.engine, opts...),
		queue:  q,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.workers[ref] = w

	m.wg.Add(1)
	go m.run(ctx, ref, w)
	m.logger.Debug("worker spawned", "session_ref", ref)
	return w, nil
}

func (m *Manager) run(ctx context.Context, ref string, w *worker) {
	defer m.wg.Done()
	defer close(w.done)
	defer w.cancel()

	err := w.runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("worker stopped", "session_ref", ref, "error", err)
	}

	m.remove(ref, w)
	if cerr := w.queue.Close(); cerr != nil {
		m.logger.Warn("failed to close queue", "session_ref", ref, "error", cerr)
	}
}

func (m *Manager) remove(ref string, w *worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.workers[ref]; ok && cur == w {
		delete(m.workers, ref)
	}
}

// Snapshot returns a copy of the last committed session for ref.
func (m *Manager) Snapshot(ref string) (*domain.Session, bool) {
	m.mu.Lock()
	w, ok := m.workers[ref]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return w.runner.Snapshot(), true
}

// Sessions lists the refs with a live worker.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]string, 0, len(m.workers))
	for ref := range m.workers {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Shutdown stops accepting actions, cancels every worker and waits for their
// disconnect saves, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
