package session_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tapestry/internal/runtime"
	"github.com/aretw0/tapestry/pkg/adapters/memory"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/aretw0/tapestry/pkg/runner"
	"github.com/aretw0/tapestry/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	results map[string][]domain.Result
	ch      chan domain.Result
}

func newCollector() *collector {
	return &collector{results: make(map[string][]domain.Result), ch: make(chan domain.Result, 1024)}
}

func (c *collector) Deliver(ctx context.Context, r domain.Result) error {
	c.mu.Lock()
	c.results[r.SessionRef] = append(c.results[r.SessionRef], r)
	c.mu.Unlock()
	c.ch <- r
	return nil
}

func (c *collector) wait(t *testing.T, n int) []domain.Result {
	t.Helper()
	out := make([]domain.Result, 0, n)
	for len(out) < n {
		select {
		case r := <-c.ch:
			out = append(out, r)
		case <-time.After(3 * time.Second):
			t.Fatalf("got %d of %d results", len(out), n)
		}
	}
	return out
}

func echo() ports.Generator {
	return ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
		return "You " + p.Action + ".", nil
	})
}

func submit(t *testing.T, m *session.Manager, a domain.Action) uint64 {
	t.Helper()
	seq, err := m.Submit(context.Background(), a)
	require.NoError(t, err)
	return seq
}

func TestManager_RoutesPerSession(t *testing.T) {
	sink := newCollector()
	m := session.NewManager(runtime.NewEngine(echo(), memory.NewStore()), session.WithSink(sink))
	defer func() { _ = m.Shutdown(context.Background()) }()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := fmt.Sprintf("chan-%d", i)
			_, err := m.Submit(context.Background(), domain.Action{Kind: domain.KindSetContext, SessionRef: ref, Text: "Story " + ref})
			assert.NoError(t, err)
			for j := 0; j < 5; j++ {
				_, err := m.Submit(context.Background(), domain.Action{Kind: domain.KindAct, SessionRef: ref, Text: fmt.Sprintf("step %d", j)})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	sink.wait(t, 4*6)

	assert.Equal(t, []string{"chan-0", "chan-1", "chan-2", "chan-3"}, m.Sessions())
	for i := 0; i < 4; i++ {
		ref := fmt.Sprintf("chan-%d", i)
		snap, ok := m.Snapshot(ref)
		require.True(t, ok)
		assert.Equal(t, "Story "+ref, snap.Context)
		assert.Equal(t, []string{"step 0", "step 1", "step 2", "step 3", "step 4"}, snap.Actions)
	}
}

func TestManager_ExitRetiresWorker(t *testing.T) {
	sink := newCollector()
	m := session.NewManager(runtime.NewEngine(echo(), memory.NewStore()), session.WithSink(sink))
	defer func() { _ = m.Shutdown(context.Background()) }()

	submit(t, m, domain.Action{Kind: domain.KindSetContext, SessionRef: "r", Text: "c"})
	submit(t, m, domain.Action{Kind: domain.KindExit, SessionRef: "r"})
	sink.wait(t, 2)

	assert.Eventually(t, func() bool { return len(m.Sessions()) == 0 }, 2*time.Second, 10*time.Millisecond)
	_, ok := m.Snapshot("r")
	assert.False(t, ok)

	// The next action starts a fresh session for the same ref.
	submit(t, m, domain.Action{Kind: domain.KindAct, SessionRef: "r", Text: "look"})
	res := sink.wait(t, 1)[0]
	assert.True(t, res.Failed(), "a fresh session has no context yet")
	assert.Equal(t, domain.PhaseUninitialized, res.Phase)
}

func TestManager_QueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	gen := ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
		started <- struct{}{}
		<-release
		return "done", nil
	})
	sink := newCollector()
	m := session.NewManager(runtime.NewEngine(gen, nil), session.WithSink(sink), session.WithQueueCapacity(1))
	defer func() { _ = m.Shutdown(context.Background()) }()

	submit(t, m, domain.Action{Kind: domain.KindSetContext, SessionRef: "r", Text: "c"})
	sink.wait(t, 1)
	submit(t, m, domain.Action{Kind: domain.KindAct, SessionRef: "r", Text: "slow"})
	<-started

	submit(t, m, domain.Action{Kind: domain.KindRemember, SessionRef: "r", Text: "x"})
	_, err := m.Submit(context.Background(), domain.Action{Kind: domain.KindRemember, SessionRef: "r", Text: "y"})
	assert.ErrorIs(t, err, domain.ErrQueueFull)

	close(release)
	sink.wait(t, 2)
}

func TestManager_RejectsBadInput(t *testing.T) {
	m := session.NewManager(runtime.NewEngine(echo(), nil))
	defer func() { _ = m.Shutdown(context.Background()) }()

	_, err := m.Submit(context.Background(), domain.Action{Kind: domain.KindAct, Text: "no ref"})
	assert.ErrorIs(t, err, domain.ErrUserInput)

	_, err = m.Submit(context.Background(), domain.Action{Kind: domain.KindAct, SessionRef: "r", Text: strings.Repeat("a", runner.DefaultMaxInputSize+1)})
	assert.ErrorIs(t, err, runner.ErrInputTooLarge)
	assert.Empty(t, m.Sessions())
}

func TestManager_ShutdownSavesDisconnectProtect(t *testing.T) {
	store := memory.NewStore()
	sink := newCollector()
	m := session.NewManager(runtime.NewEngine(echo(), store), session.WithSink(sink))

	submit(t, m, domain.Action{Kind: domain.KindSetContext, SessionRef: "a", Text: "first"})
	submit(t, m, domain.Action{Kind: domain.KindSetContext, SessionRef: "b", Text: "second"})
	sink.wait(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	for ref, want := range map[string]string{"a": "first", "b": "second"} {
		saved, err := store.Load(context.Background(), runner.DisconnectProtectKey(ref))
		require.NoError(t, err)
		assert.Equal(t, want, saved.Context)
	}

	_, err := m.Submit(context.Background(), domain.Action{Kind: domain.KindExit, SessionRef: "a"})
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
}
