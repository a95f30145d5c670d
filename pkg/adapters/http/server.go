// Package http exposes the session manager over HTTP: an intake for actions,
// read-only snapshots, a server-sent event stream of results, health and metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/aretw0/tapestry/internal/logging"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxBodyBytes bounds an action request body.
const MaxBodyBytes = 64 << 10

// Sessions is the part of the session manager the server drives.
type Sessions interface {
	Submit(ctx context.Context, a domain.Action) (uint64, error)
	Snapshot(ref string) (*domain.Session, bool)
	Sessions() []string
}

// Server routes HTTP requests to the session manager.
type Server struct {
	sessions Sessions
	streams  *StreamManager
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStreams sets the StreamManager whose subscribers the event endpoint
// serves. Pass the same StreamManager to the session manager as its sink.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		if sm != nil {
			s.streams = sm
		}
	}
}

// WithGatherer serves metrics from g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates a server over sessions.
func NewServer(sessions Sessions, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		streams:  NewStreamManager(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/healthz", s.GetHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Get("/{ref}", s.GetSession)
		r.Post("/{ref}/actions", s.SubmitAction)
		r.Get("/{ref}/events", s.SubscribeEvents)
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SubmitResponse is returned when an action is accepted.
type SubmitResponse struct {
	Seq        uint64 `json:"seq"`
	SessionRef string `json:"sessionRef"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitAction handles POST /sessions/{ref}/actions.
func (s *Server) SubmitAction(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(data) > MaxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	a, err := domain.DecodeAction(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		s.logger.Warn("SubmitAction: invalid body", "err", err, "session_ref", ref)
		return
	}
	if a.SessionRef == "" {
		a.SessionRef = ref
	}
	if a.SessionRef != ref {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("sessionRef %q does not match path", a.SessionRef))
		return
	}
	a.Seq = 0
	if err := a.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	seq, err := s.sessions.Submit(r.Context(), a)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("SubmitAction: submit failed", "err", err, "session_ref", ref)
		}
		writeError(w, status, validationMessage(err))
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{Seq: seq, SessionRef: ref})
}

// GetSession handles GET /sessions/{ref}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	snap, ok := s.sessions.Snapshot(ref)
	if !ok {
		writeError(w, http.StatusNotFound, "no active worker for session")
		return
	}
	writeJSON(w, http.StatusOK, SessionView{Phase: snap.Phase(), Session: snap})
}

// SessionView is a snapshot with its derived phase.
type SessionView struct {
	Phase domain.Phase `json:"phase"`
	*domain.Session
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	refs := s.sessions.Sessions()
	sort.Strings(refs)
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": refs})
}

// GetHealth handles GET /healthz.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubscribeEvents handles GET /sessions/{ref}/events (SSE).
// The optional "kinds" query parameter filters results by comma-separated kind.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ref := chi.URLParam(r, "ref")
	filter := parseKinds(r.URL.Query().Get("kinds"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.streams.Subscribe(ref)
	defer cancel()
	s.logger.Info("SSE: subscribed", "session_ref", ref)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE: client disconnected", "session_ref", ref)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(filter) > 0 && !matchesKind(msg, filter) {
				continue
			}
			fmt.Fprintf(w, "event: result\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func parseKinds(raw string) map[domain.Kind]bool {
	if raw == "" {
		return nil
	}
	kinds := make(map[domain.Kind]bool)
	for _, k := range strings.Split(raw, ",") {
		kinds[domain.Kind(strings.ToUpper(strings.TrimSpace(k)))] = true
	}
	return kinds
}

func matchesKind(msg string, filter map[domain.Kind]bool) bool {
	var res struct {
		Kind domain.Kind `json:"kind"`
	}
	if err := json.Unmarshal([]byte(msg), &res); err != nil {
		return false
	}
	return filter[res.Kind]
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUserInput), errors.Is(err, domain.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validationMessage(err error) string {
	var ae *domain.ActionError
	if errors.As(err, &ae) {
		return ae.Msg
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
