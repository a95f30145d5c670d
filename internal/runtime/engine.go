package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/tapestry/internal/logging"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/observability"
	"github.com/aretw0/tapestry/pkg/ports"
)

const (
	// DefaultActTimeout bounds a single generation call.
	DefaultActTimeout = 120 * time.Second
	// DefaultPersistTimeout bounds a single store operation.
	DefaultPersistTimeout = 5 * time.Second
)

// Outcome is the effect of one successful Apply.
type Outcome struct {
	// Session is the committed state after the action. Apply never mutates its input.
	Session *domain.Session
	// Text is the reply, markdown-escaped.
	Text string
	// Speech is the reply as plain text.
	Speech string
	// Exit is set by EXIT; the worker stops consuming afterwards.
	Exit bool
}

// Engine applies actions to sessions.
// It holds no session state itself and is safe for concurrent use by many workers.
type Engine struct {
	generator ports.Generator
	store     ports.SessionStore
	logger    *slog.Logger
	metrics   *observability.Metrics

	window            domain.Window
	actTimeout        time.Duration
	persistTimeout    time.Duration
	autoSaveOnNewGame bool
	autoSaveOnExit    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithWindow sets the prompt history window.
func WithWindow(w domain.Window) Option {
	return func(e *Engine) {
		e.window = w
	}
}

// WithActTimeout bounds generation calls. Zero disables the bound.
func WithActTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.actTimeout = d
	}
}

// WithPersistTimeout bounds store calls. Zero disables the bound.
func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.persistTimeout = d
	}
}

// WithAutoSave toggles the implicit saves done before NEW_GAME and on EXIT.
func WithAutoSave(onNewGame, onExit bool) Option {
	return func(e *Engine) {
		e.autoSaveOnNewGame = onNewGame
		e.autoSaveOnExit = onExit
	}
}

// NewEngine creates an engine. store may be nil, in which case SAVE and LOAD are refused.
func NewEngine(gen ports.Generator, store ports.SessionStore, opts ...Option) *Engine {
	e := &Engine{
		generator:         gen,
		store:             store,
		logger:            logging.NewNop(),
		window:            domain.DefaultWindow,
		actTimeout:        DefaultActTimeout,
		persistTimeout:    DefaultPersistTimeout,
		autoSaveOnNewGame: true,
		autoSaveOnExit:    true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply runs one transition. On error the input session is untouched and
// Outcome is zero; the error wraps one of the domain sentinels.
func (e *Engine) Apply(ctx context.Context, s *domain.Session, a domain.Action) (Outcome, error) {
	if s == nil {
		s = domain.NewSession()
	}
	if err := a.Validate(); err != nil {
		return Outcome{}, err
	}

	next := s.Clone()
	var (
		reply string
		exit  bool
		err   error
	)

	switch a.Kind {
	case domain.KindSetContext:
		reply, err = e.setContext(next, a)
	case domain.KindAct:
		reply, err = e.act(ctx, next, a)
	case domain.KindRevert:
		reply, err = e.revert(next)
	case domain.KindAlter:
		reply, err = e.alter(next, a)
	case domain.KindRemember:
		reply, err = e.remember(next, a)
	case domain.KindForget:
		reply, err = e.forget(next)
	case domain.KindNewGame:
		next, reply = e.newGame(ctx, s, a)
	case domain.KindRestart:
		reply, err = e.restart(next)
	case domain.KindLoad:
		next, reply, err = e.load(ctx, a)
	case domain.KindSave:
		reply, err = e.save(ctx, next, a)
	case domain.KindToggleCensor:
		next.Censor = *a.Flag
		reply = "Censor is " + onOff(next.Censor)
	case domain.KindExit:
		reply = e.exit(ctx, s)
		exit = true
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnknownKind, a.Kind)
	}
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Session: next,
		Text:    domain.Escape(reply),
		Speech:  reply,
		Exit:    exit,
	}, nil
}

func (e *Engine) setContext(s *domain.Session, a domain.Action) (string, error) {
	if s.Phase() != domain.PhaseUninitialized {
		return "", domain.Reject(a.Kind, domain.ErrGuardViolation, "The story has already begun. Start a new game to change its premise.")
	}
	s.Context = strings.TrimSpace(a.Text)
	return s.Context + "\n\nContext set! What do you do first?", nil
}

func (e *Engine) act(ctx context.Context, s *domain.Session, a domain.Action) (string, error) {
	if s.Phase() == domain.PhaseUninitialized {
		return "", domain.Reject(a.Kind, domain.ErrGuardViolation, "Set the scene first: describe where the story begins.")
	}
	if e.generator == nil {
		return "", fmt.Errorf("%w: no generator configured", domain.ErrBackendRequest)
	}

	action := strings.TrimSpace(a.Text)
	prompt := domain.BuildPrompt(s, action, e.window)

	start := time.Now()
	text, err := await(ctx, e.actTimeout, func(ctx context.Context) (string, error) {
		return e.generator.Generate(ctx, prompt)
	})
	elapsed := time.Since(start)

	if err != nil {
		err = e.classifyBackendError(ctx, err)
		outcome := observability.OutcomeError
		if errors.Is(err, domain.ErrBackendTimeout) {
			outcome = observability.OutcomeTimeout
		}
		e.metrics.ObserveBackend(outcome, elapsed)
		e.logger.Warn("generation failed", "session_id", s.ID, "elapsed", elapsed, "error", err)
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		e.metrics.ObserveBackend(observability.OutcomeError, elapsed)
		return "", fmt.Errorf("%w: empty response", domain.ErrBackendRequest)
	}
	e.metrics.ObserveBackend(observability.OutcomeOK, elapsed)

	s.Actions = append(s.Actions, action)
	s.Results = append(s.Results, text)
	return action + "\n" + text, nil
}

func (e *Engine) classifyBackendError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrBackendTimeout), errors.Is(err, domain.ErrBackendRequest):
		return err
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w after %s", domain.ErrBackendTimeout, e.actTimeout)
	default:
		return fmt.Errorf("%w: %v", domain.ErrBackendRequest, err)
	}
}

func (e *Engine) revert(s *domain.Session) (string, error) {
	if len(s.Actions) == 0 {
		return "", domain.Reject(domain.KindRevert, domain.ErrGuardViolation, "You can't go back any farther.")
	}
	n := len(s.Actions) - 1
	s.Actions = s.Actions[:n]
	s.Results = s.Results[:n]

	last := s.LastResult()
	if last == "" {
		last = s.Context
	}
	return "Last action reverted.\n" + last, nil
}

func (e *Engine) alter(s *domain.Session, a domain.Action) (string, error) {
	if len(s.Results) == 0 {
		return "", domain.Reject(a.Kind, domain.ErrGuardViolation, "There is nothing to alter yet.")
	}
	text := strings.TrimSpace(a.Text)
	s.Results[len(s.Results)-1] = text
	return "The last result now reads:\n" + text, nil
}

func (e *Engine) remember(s *domain.Session, a domain.Action) (string, error) {
	fact, err := domain.NormalizeFact(a.Text)
	if err != nil {
		return "", err
	}
	s.Memory = append(s.Memory, fact)
	return "You remember that " + lowerFirst(fact), nil
}

func (e *Engine) forget(s *domain.Session) (string, error) {
	if len(s.Memory) == 0 {
		return "", domain.Reject(domain.KindForget, domain.ErrGuardViolation, "There is nothing to forget.")
	}
	last := s.Memory[len(s.Memory)-1]
	s.Memory = s.Memory[:len(s.Memory)-1]
	return "You forget that " + lowerFirst(last), nil
}

func (e *Engine) restart(s *domain.Session) (string, error) {
	if s.Phase() == domain.PhaseUninitialized {
		return "", domain.Reject(domain.KindRestart, domain.ErrGuardViolation, "There is no story to restart.")
	}
	s.Actions = s.Actions[:0]
	s.Results = s.Results[:0]
	return "Restarted game from beginning.\n" + s.Context, nil
}

func (e *Engine) newGame(ctx context.Context, current *domain.Session, a domain.Action) (*domain.Session, string) {
	var notes []string
	if e.autoSaveOnNewGame && e.store != nil {
		if saved, err := e.AutoSave(ctx, current.ID, current); err != nil {
			notes = append(notes, "The previous story could not be saved.")
		} else if saved {
			notes = append(notes, "Previous story saved as "+current.ID+".")
		}
	}

	next := domain.NewSession()
	if text := strings.TrimSpace(a.Text); text != "" {
		next.Context = text
		notes = append(notes, "Setting context for new story...\n"+text+"\n\nWhat do you do first?")
	} else {
		notes = append(notes, "Starting a new adventure...\nDescribe where the story begins.")
	}
	return next, strings.Join(notes, "\n")
}

func (e *Engine) load(ctx context.Context, a domain.Action) (*domain.Session, string, error) {
	if e.store == nil {
		return nil, "", domain.Reject(a.Kind, domain.ErrGuardViolation, "Saved games are not available.")
	}
	key := strings.TrimSpace(a.ID)
	loaded, err := await(ctx, e.persistTimeout, func(ctx context.Context) (*domain.Session, error) {
		return e.store.Load(ctx, key)
	})
	e.metrics.ObservePersistence("load", err)
	if err != nil {
		e.logger.Warn("load failed", "key", key, "error", err)
		if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrCorruptRecord) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("load %q: %w", key, err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, "", err
	}
	loaded = loaded.Clone()
	loaded.ID = key

	lines := []string{"Previously on your adventure...", loaded.Context}
	if last := loaded.LastAction(); last != "" {
		lines = append(lines, last)
	}
	if last := loaded.LastResult(); last != "" {
		lines = append(lines, last)
	}
	return loaded, strings.Join(lines, "\n"), nil
}

func (e *Engine) save(ctx context.Context, s *domain.Session, a domain.Action) (string, error) {
	if e.store == nil {
		return "", domain.Reject(a.Kind, domain.ErrGuardViolation, "Saved games are not available.")
	}
	if key := strings.TrimSpace(a.ID); key != "" {
		s.ID = key
	}
	if strings.TrimSpace(s.ID) == "" {
		s.ID = domain.NewID()
	}
	if err := e.Persist(ctx, s.ID, s); err != nil {
		return "", err
	}
	return "Game saved.\nTo load the game, use: load " + s.ID, nil
}

func (e *Engine) exit(ctx context.Context, s *domain.Session) string {
	if e.autoSaveOnExit && e.store != nil {
		if saved, err := e.AutoSave(ctx, s.ID, s); err == nil && saved {
			return "Game saved as " + s.ID + ".\nExiting game..."
		}
	}
	return "Exiting game..."
}

// Persist stores s under key, bounded by the persist timeout.
func (e *Engine) Persist(ctx context.Context, key string, s *domain.Session) error {
	if e.store == nil {
		return errors.New("no session store configured")
	}
	snapshot := s.Clone()
	_, err := await(ctx, e.persistTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.store.Save(ctx, key, snapshot)
	})
	e.metrics.ObservePersistence("save", err)
	if err != nil {
		e.logger.Error("save failed", "key", key, "error", err)
		return fmt.Errorf("save %q: %w", key, err)
	}
	e.logger.Debug("session saved", "key", key, "turns", len(snapshot.Actions))
	return nil
}

// Restore loads the record stored under key, bounded by the persist timeout.
// It returns domain.ErrSessionNotFound when nothing is stored there.
func (e *Engine) Restore(ctx context.Context, key string) (*domain.Session, error) {
	if e.store == nil {
		return nil, domain.ErrSessionNotFound
	}
	s, err := await(ctx, e.persistTimeout, func(ctx context.Context) (*domain.Session, error) {
		return e.store.Load(ctx, key)
	})
	e.metrics.ObservePersistence("load", err)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Discard deletes the record stored under key. A missing key is not an error.
func (e *Engine) Discard(ctx context.Context, key string) error {
	if e.store == nil {
		return nil
	}
	_, err := await(ctx, e.persistTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.store.Delete(ctx, key)
	})
	e.metrics.ObservePersistence("delete", err)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// AutoSave persists s under key unless it is Uninitialized or no store is configured.
// It reports whether a save happened.
func (e *Engine) AutoSave(ctx context.Context, key string, s *domain.Session) (bool, error) {
	if e.store == nil || s == nil || s.Phase() == domain.PhaseUninitialized {
		return false, nil
	}
	if err := e.Persist(ctx, key, s); err != nil {
		return false, err
	}
	return true, nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
