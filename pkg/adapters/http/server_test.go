package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tapestry/internal/runtime"
	tapestryhttp "github.com/aretw0/tapestry/pkg/adapters/http"
	"github.com/aretw0/tapestry/pkg/adapters/echo"
	"github.com/aretw0/tapestry/pkg/adapters/memory"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/observability"
	"github.com/aretw0/tapestry/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	mu        sync.Mutex
	submitted []domain.Action
	err       error
	snapshots map[string]*domain.Session
}

func (f *fakeSessions) Submit(ctx context.Context, a domain.Action) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.submitted = append(f.submitted, a)
	return uint64(len(f.submitted)), nil
}

func (f *fakeSessions) Snapshot(ref string) (*domain.Session, bool) {
	s, ok := f.snapshots[ref]
	return s, ok
}

func (f *fakeSessions) Sessions() []string {
	refs := make([]string, 0, len(f.snapshots))
	for ref := range f.snapshots {
		refs = append(refs, ref)
	}
	return refs
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSubmitAction_Accepted(t *testing.T) {
	fake := &fakeSessions{}
	h := tapestryhttp.NewServer(fake).Handler()

	w := post(h, "/sessions/alice/actions", `{"kind":"ACT","text":"open the door","author":"alice"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp tapestryhttp.SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.Seq)
	assert.Equal(t, "alice", resp.SessionRef)

	require.Len(t, fake.submitted, 1)
	assert.Equal(t, "alice", fake.submitted[0].SessionRef)
	assert.Equal(t, domain.KindAct, fake.submitted[0].Kind)
}

func TestSubmitAction_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
	}{
		{"malformed json", "/sessions/a/actions", `{"kind":`, nil, http.StatusBadRequest},
		{"unknown kind", "/sessions/a/actions", `{"kind":"DANCE"}`, nil, http.StatusBadRequest},
		{"missing text", "/sessions/a/actions", `{"kind":"ACT"}`, nil, http.StatusBadRequest},
		{"ref mismatch", "/sessions/a/actions", `{"kind":"REVERT","sessionRef":"b"}`, nil, http.StatusBadRequest},
		{"queue full", "/sessions/a/actions", `{"kind":"REVERT"}`, domain.ErrQueueFull, http.StatusTooManyRequests},
		{"queue closed", "/sessions/a/actions", `{"kind":"REVERT"}`, domain.ErrQueueClosed, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSessions{err: tt.err}
			w := post(tapestryhttp.NewServer(fake).Handler(), tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var resp tapestryhttp.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestNewServer_SilentWithoutLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	w := post(tapestryhttp.NewServer(&fakeSessions{}).Handler(), "/sessions/a/actions", `{"kind":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, buf.String())
}

func TestSubmitAction_UserMessage(t *testing.T) {
	w := post(tapestryhttp.NewServer(&fakeSessions{}).Handler(), "/sessions/a/actions", `{"kind":"LOAD"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Please specify a save file to load.")
}

func TestGetSession(t *testing.T) {
	fake := &fakeSessions{snapshots: map[string]*domain.Session{
		"alice": {ID: "s1", Context: "A cave.", Actions: []string{}, Results: []string{}, Memory: []string{}},
	}}
	h := tapestryhttp.NewServer(fake).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/alice", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var view struct {
		Phase   string `json:"phase"`
		ID      string `json:"id"`
		Context string `json:"context"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, string(domain.PhaseContextSet), view.Phase)
	assert.Equal(t, "A cave.", view.Context)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/bob", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	assert.JSONEq(t, `{"sessions":["alice"]}`, w.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	metrics.QueueRejected()

	h := tapestryhttp.NewServer(&fakeSessions{}, tapestryhttp.WithGatherer(reg)).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tapestry_queue_rejected_total 1")
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return data
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
		}
	}
}

func TestSubscribeEvents_DeliversResults(t *testing.T) {
	streams := tapestryhttp.NewStreamManager()
	ts := httptest.NewServer(tapestryhttp.NewServer(&fakeSessions{}, tapestryhttp.WithStreams(streams)).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sessions/alice/events?kinds=act", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, "connected", readEvent(t, reader))

	// Filtered out by kind, then a different session, then a match.
	require.NoError(t, streams.Deliver(ctx, domain.Result{Seq: 1, Kind: domain.KindRevert, SessionRef: "alice"}))
	require.NoError(t, streams.Deliver(ctx, domain.Result{Seq: 2, Kind: domain.KindAct, SessionRef: "bob"}))
	require.NoError(t, streams.Deliver(ctx, domain.Result{Seq: 3, Kind: domain.KindAct, SessionRef: "alice", Text: "You wait."}))

	var got domain.Result
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, reader)), &got))
	assert.Equal(t, uint64(3), got.Seq)
	assert.Equal(t, "You wait.", got.Text)
}

func TestEndToEnd_WithManager(t *testing.T) {
	engine := runtime.NewEngine(echo.New(), memory.NewStore())
	streams := tapestryhttp.NewStreamManager()
	mgr := session.NewManager(engine, session.WithSink(streams))
	defer func() { _ = mgr.Shutdown(context.Background()) }()

	h := tapestryhttp.NewServer(mgr, tapestryhttp.WithStreams(streams)).Handler()
	require.Equal(t, http.StatusAccepted, post(h, "/sessions/e2e/actions", `{"kind":"SET_CONTEXT","text":"A dark hall."}`).Code)
	require.Equal(t, http.StatusAccepted, post(h, "/sessions/e2e/actions", `{"kind":"ACT","text":"light a lamp"}`).Code)

	require.Eventually(t, func() bool {
		snap, ok := mgr.Snapshot("e2e")
		return ok && len(snap.Actions) == 1
	}, 3*time.Second, 10*time.Millisecond)

	snap, _ := mgr.Snapshot("e2e")
	assert.Equal(t, []string{"light a lamp"}, snap.Actions)
	assert.Equal(t, []string{"You light a lamp. Nothing else happens."}, snap.Results)
}
