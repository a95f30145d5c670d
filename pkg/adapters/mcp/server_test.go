package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
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

func (f *fakeSessions) Sessions() []string { return nil }

func call(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var tool actionTool
	for _, at := range actionTools {
		if at.name == name {
			tool = at
		}
	}
	require.NotEmpty(t, tool.name, "unknown tool %s", name)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.submitHandler(tool)(context.Background(), req)
	require.NoError(t, err)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestActionTools_CoverEveryKind(t *testing.T) {
	covered := map[domain.Kind]bool{}
	for _, at := range actionTools {
		covered[at.kind] = true
	}
	for _, k := range domain.Kinds {
		assert.True(t, covered[k], "no tool for %s", k)
	}
}

func TestSubmitTools(t *testing.T) {
	fake := &fakeSessions{}
	s := NewServer(fake, "test", nil)

	res := call(t, s, "act", map[string]any{"session_ref": "alice", "text": "open the door", "author": "alice"})
	assert.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "seq 1")

	res = call(t, s, "toggle_censor", map[string]any{"session_ref": "alice", "flag": false})
	assert.False(t, res.IsError)

	res = call(t, s, "toggle_censor", map[string]any{"session_ref": "alice", "flag": "on"})
	assert.False(t, res.IsError)

	res = call(t, s, "save", map[string]any{"session_ref": "alice"})
	assert.False(t, res.IsError)

	require.Len(t, fake.submitted, 4)
	assert.Equal(t, domain.KindAct, fake.submitted[0].Kind)
	assert.Equal(t, "open the door", fake.submitted[0].Text)
	require.NotNil(t, fake.submitted[1].Flag)
	assert.False(t, *fake.submitted[1].Flag)
	assert.True(t, *fake.submitted[2].Flag)
	assert.Equal(t, domain.KindSave, fake.submitted[3].Kind)
}

func TestSubmitTools_Rejections(t *testing.T) {
	fake := &fakeSessions{}
	s := NewServer(fake, "test", nil)

	res := call(t, s, "act", map[string]any{"session_ref": "alice"})
	assert.True(t, res.IsError)
	assert.Equal(t, "Please enter something valid.", text(t, res))

	res = call(t, s, "revert", map[string]any{})
	assert.True(t, res.IsError)

	res = call(t, s, "toggle_censor", map[string]any{"session_ref": "alice", "flag": "maybe"})
	assert.True(t, res.IsError)

	fake.err = domain.ErrQueueFull
	res = call(t, s, "revert", map[string]any{"session_ref": "alice"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "full")

	assert.Empty(t, fake.submitted)
}

func TestSnapshotTool(t *testing.T) {
	fake := &fakeSessions{snapshots: map[string]*domain.Session{
		"alice": {ID: "s1", Context: "A cave.", Actions: []string{"look"}, Results: []string{"Dark."}, Memory: []string{}},
	}}
	s := NewServer(fake, "test", nil)

	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"session_ref": "alice"}
	res, err := s.handleSnapshot(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), `"phase":"active"`)
	assert.Contains(t, text(t, res), `"context":"A cave."`)

	req.Params.Arguments = map[string]any{"session_ref": "bob"}
	res, err = s.handleSnapshot(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSSEHandler_Preflight(t *testing.T) {
	s := NewServer(&fakeSessions{}, "test", nil)
	h := s.SSEHandler("http://localhost:8090")

	req := httptest.NewRequest(http.MethodOptions, "/message", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
