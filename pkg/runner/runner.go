package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aretw0/tapestry/internal/logging"
	"github.com/aretw0/tapestry/internal/runtime"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/observability"
	"github.com/aretw0/tapestry/pkg/ports"
)

// ErrActionPanicked is reported when applying an action panicked.
var ErrActionPanicked = errors.New("action panicked")

const (
	// DisconnectKey is the fallback save key used on shutdown.
	DisconnectKey = "disconnect-protect"
	// WorkingPrefix prefixes the key a leased worker keeps its committed session under.
	WorkingPrefix = "live"
	// crashLayout formats the timestamp of crash fallback keys.
	crashLayout = "02-01-2006_150405"
)

// Runner is the single consumer of one session's Action Queue and the sole
// writer of its Session State.
type Runner struct {
	ref     string
	queue   ports.ActionQueue
	engine  *runtime.Engine
	sink    ports.OutputSink
	logger  *slog.Logger
	metrics *observability.Metrics
	locker  ports.LeaseLocker
	lockTTL time.Duration
	hook    func(domain.Result)
	now     func() time.Time

	// session is only touched by the goroutine running Run.
	session  *domain.Session
	exited   bool
	snapshot atomic.Pointer[domain.Session]
}

// NewRunner creates a worker for the session routed as ref.
func NewRunner(ref string, q ports.ActionQueue, engine *runtime.Engine, opts ...Option) *Runner {
	r := &Runner{
		ref:     ref,
		queue:   q,
		engine:  engine,
		logger:  logging.NewNop(),
		lockTTL: DefaultLockTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.session == nil {
		r.session = domain.NewSession()
	}
	r.logger = r.logger.With("session_ref", ref)
	r.snapshot.Store(r.session.Clone())
	return r
}

// Ref returns the routing target this worker serves.
func (r *Runner) Ref() string {
	return r.ref
}

// Snapshot returns a deep copy of the last committed session.
// It may lag behind an in-flight action.
func (r *Runner) Snapshot() *domain.Session {
	return r.snapshot.Load().Clone()
}

// Run drains the queue until EXIT, queue closure, or ctx cancellation.
// It returns nil on EXIT and on a closed queue, ctx.Err() on cancellation.
// On closure and cancellation the session is saved under the disconnect key first.
//
// With a locker, Run first blocks until it holds the lease on the ref, then
// resumes the working session left in the store by the previous holder. It
// keeps the lease for its whole life and returns ports.ErrLeaseLost if the
// lease is taken away.
func (r *Runner) Run(ctx context.Context) error {
	r.metrics.WorkerStarted()
	defer r.metrics.WorkerStopped()

	if r.locker == nil {
		r.logger.Debug("worker started")
		return r.loop(ctx)
	}

	r.logger.Debug("waiting for session lease")
	lease, err := r.locker.Acquire(ctx, r.ref, r.lockTTL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("acquire session lease: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("failed to release session lease", "error", err)
		}
	}()

	held, lost := context.WithCancelCause(ctx)
	defer lost(nil)
	go r.keepAlive(held, lease, lost)

	if err := r.resume(held); err != nil {
		return err
	}
	r.logger.Debug("worker started")
	return r.loop(held)
}

func (r *Runner) loop(ctx context.Context) error {
	for {
		a, err := r.queue.Dequeue(ctx)
		if err != nil {
			switch {
			case errors.Is(context.Cause(ctx), ports.ErrLeaseLost):
				r.logger.Error("session lease lost, stopping worker")
				return ports.ErrLeaseLost
			case ctx.Err() != nil:
				r.protect(context.WithoutCancel(ctx))
				return ctx.Err()
			case errors.Is(err, domain.ErrQueueClosed):
				r.protect(ctx)
				return nil
			case errors.Is(err, domain.ErrUserInput), errors.Is(err, domain.ErrUnknownKind):
				r.logger.Warn("dropping undecodable action", "error", err)
				r.metrics.ObserveAction("invalid", observability.OutcomeDropped)
				continue
			default:
				r.logger.Error("dequeue failed", "error", err)
				sleepCtx(ctx, 100*time.Millisecond)
				continue
			}
		}
		r.metrics.QueueDequeued()

		if r.handle(ctx, a) {
			r.discardPending(ctx)
			r.logger.Info("worker exited", "seq", a.Seq)
			return nil
		}
	}
}

// handle runs process under a guard for panics outside the engine, such as
// in a sink, then acknowledges a. It reports whether the worker must stop.
func (r *Runner) handle(ctx context.Context, a domain.Action) (exit bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while handling action",
				"seq", a.Seq, "kind", a.Kind, "panic", p, "stack", string(debug.Stack()))
			r.crashSave(ctx)
			exit = r.exited
		}
		r.ack(ctx, a)
	}()
	return r.process(ctx, a)
}

func (r *Runner) ack(ctx context.Context, a domain.Action) {
	aq, ok := r.queue.(ports.AckQueue)
	if !ok {
		return
	}
	if err := aq.Ack(context.WithoutCancel(ctx), a.Seq); err != nil {
		r.logger.Warn("failed to acknowledge action", "seq", a.Seq, "error", err)
	}
}

// discardPending closes the queue and drops what was queued behind an EXIT.
func (r *Runner) discardPending(ctx context.Context) {
	if err := r.queue.Close(); err != nil {
		r.logger.Warn("failed to close queue", "error", err)
	}
	ctx = context.WithoutCancel(ctx)
	for {
		a, err := r.queue.Dequeue(ctx)
		switch {
		case err == nil:
			r.metrics.QueueDequeued()
			r.logger.Warn("discarding action queued after exit", "seq", a.Seq, "kind", a.Kind)
		case errors.Is(err, domain.ErrQueueClosed):
			return
		case errors.Is(err, domain.ErrUserInput), errors.Is(err, domain.ErrUnknownKind):
			r.logger.Warn("discarding undecodable action queued after exit", "error", err)
		default:
			r.logger.Warn("failed to drain queue", "error", err)
			return
		}
	}
}

// resume adopts the working session left by the previous lease holder and
// requeues actions it dequeued but never acknowledged.
func (r *Runner) resume(ctx context.Context) error {
	key := WorkingKey(r.ref)
	s, err := r.engine.Restore(ctx, key)
	switch {
	case err == nil:
		r.commit(s)
		r.logger.Info("working session resumed", "key", key, "turns", len(s.Actions))
	case errors.Is(err, domain.ErrSessionNotFound):
	case errors.Is(err, domain.ErrCorruptRecord):
		r.logger.Error("ignoring corrupt working session", "key", key, "error", err)
	default:
		return fmt.Errorf("load working session: %w", err)
	}

	if aq, ok := r.queue.(ports.AckQueue); ok {
		n, err := aq.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover pending actions: %w", err)
		}
		if n > 0 {
			r.logger.Warn("requeued unacknowledged actions", "count", n)
		}
	}
	return nil
}

// keepAlive refreshes the lease every third of its ttl and cancels ctx with
// ports.ErrLeaseLost once it cannot be kept.
func (r *Runner) keepAlive(ctx context.Context, lease ports.Lease, lost context.CancelCauseFunc) {
	t := time.NewTicker(r.lockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := lease.Refresh(ctx, r.lockTTL)
		switch {
		case err == nil, ctx.Err() != nil:
		case errors.Is(err, ports.ErrLeaseLost):
			lost(ports.ErrLeaseLost)
			return
		default:
			r.logger.Warn("failed to refresh session lease", "error", err)
		}
	}
}

// keep writes the committed session under its working key while a lease is held.
// An exited or uninitialized session leaves nothing to resume.
func (r *Runner) keep(ctx context.Context) {
	if r.locker == nil {
		return
	}
	key := WorkingKey(r.ref)
	var err error
	if r.exited || r.session.Phase() == domain.PhaseUninitialized {
		err = r.engine.Discard(ctx, key)
	} else {
		err = r.engine.Persist(ctx, key, r.session)
	}
	if err != nil {
		r.logger.Error("failed to keep working session", "key", key, "error", err)
	}
}

// process handles one action and reports whether the worker must stop.
func (r *Runner) process(ctx context.Context, a domain.Action) bool {
	log := r.logger.With("seq", a.Seq, "kind", a.Kind)
	log.Debug("processing action")

	if err := a.Validate(); err != nil {
		if errors.Is(err, domain.ErrUnknownKind) {
			log.Warn("dropping action with unknown kind", "error", err)
			r.metrics.ObserveAction("unknown", observability.OutcomeDropped)
			return false
		}
		r.fail(ctx, a, err)
		return false
	}

	out, err := r.apply(ctx, a)
	if err != nil {
		r.fail(ctx, a, err)
		return false
	}

	r.commit(out.Session)
	phase := r.session.Phase()
	if out.Exit {
		r.exited = true
		phase = domain.PhaseExited
	}
	r.keep(ctx)
	r.metrics.ObserveAction(string(a.Kind), observability.OutcomeOK)
	r.publish(ctx, domain.Result{
		Seq:        a.Seq,
		Kind:       a.Kind,
		SessionRef: r.ref,
		Phase:      phase,
		Author:     a.Author,
		Input:      input(a),
		Text:       out.Text,
		Speech:     out.Speech,
	})
	return out.Exit
}

// apply runs the engine under a panic guard.
func (r *Runner) apply(ctx context.Context, a domain.Action) (out runtime.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while applying action",
				"seq", a.Seq, "kind", a.Kind, "panic", p, "stack", string(debug.Stack()))
			r.crashSave(ctx)
			out, err = runtime.Outcome{}, fmt.Errorf("%w: %v", ErrActionPanicked, p)
		}
	}()

	out, err = r.engine.Apply(ctx, r.session, a)
	if err == nil && out.Session == nil {
		err = fmt.Errorf("%s produced no session", a.Kind)
	}
	return out, err
}

func (r *Runner) commit(s *domain.Session) {
	r.session = s
	r.snapshot.Store(s.Clone())
}

func (r *Runner) fail(ctx context.Context, a domain.Action, err error) {
	outcome := observability.OutcomeError
	if errors.Is(err, domain.ErrBackendTimeout) {
		outcome = observability.OutcomeTimeout
	}
	r.metrics.ObserveAction(string(a.Kind), outcome)

	level := slog.LevelWarn
	if errors.Is(err, ErrActionPanicked) {
		level = slog.LevelError
	}
	r.logger.Log(ctx, level, "action failed", "seq", a.Seq, "kind", a.Kind, "error", err)

	msg := domain.UserMessage(err)
	r.publish(ctx, domain.Result{
		Seq:        a.Seq,
		Kind:       a.Kind,
		SessionRef: r.ref,
		Phase:      r.session.Phase(),
		Author:     a.Author,
		Input:      input(a),
		Text:       domain.Escape(msg),
		Speech:     msg,
		Error:      err.Error(),
	})
}

func (r *Runner) publish(ctx context.Context, res domain.Result) {
	if r.sink != nil {
		if err := r.sink.Deliver(ctx, res); err != nil {
			r.logger.Warn("failed to deliver result", "seq", res.Seq, "error", err)
		}
	}
	if r.hook != nil {
		r.hook(res)
	}
}

// input is the free-form payload of a, echoed on its Result.
func input(a domain.Action) string {
	if a.Kind == domain.KindLoad || a.Kind == domain.KindSave {
		return a.ID
	}
	return a.Text
}

// crashSave stores the pre-action session under a timestamped key without renaming it.
func (r *Runner) crashSave(ctx context.Context) {
	key := CrashKey(r.now(), r.ref)
	saved, err := r.engine.AutoSave(context.WithoutCancel(ctx), key, r.session)
	switch {
	case err != nil:
		r.logger.Error("crash save failed", "key", key, "error", err)
	case saved:
		r.logger.Info("crash save written", "key", key)
	}
}

// protect stores the session under the disconnect key, unless it already exited.
func (r *Runner) protect(ctx context.Context) {
	if r.exited {
		return
	}
	key := DisconnectProtectKey(r.ref)
	saved, err := r.engine.AutoSave(ctx, key, r.session)
	switch {
	case err != nil:
		r.logger.Error("disconnect save failed", "key", key, "error", err)
	case saved:
		r.logger.Info("disconnect save written", "key", key)
	}
}

// CrashKey is the fallback save key for a panic at t.
func CrashKey(t time.Time, ref string) string {
	key := "crash-" + t.Format(crashLayout)
	if ref = safeKeyPart(ref); ref != "" {
		key += "-" + ref
	}
	return key
}

// WorkingKey is the key a leased worker for ref keeps its committed session under.
func WorkingKey(ref string) string {
	return WorkingPrefix + "-" + safeKeyPart(ref)
}

// DisconnectProtectKey is the fallback save key used when the worker for ref shuts down.
func DisconnectProtectKey(ref string) string {
	if ref = safeKeyPart(ref); ref != "" {
		return DisconnectKey + "-" + ref
	}
	return DisconnectKey
}

func safeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// sleepCtx waits for d and reports whether ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
