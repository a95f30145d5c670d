package episode_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/aretw0/tapestry/pkg/adapters/episode"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		res  domain.Result
		want string
	}{
		{"set context", domain.Result{Kind: domain.KindSetContext, Input: "You are a knight."}, "\n>> You are a knight."},
		{"act", domain.Result{Kind: domain.KindAct, Author: "alice", Input: "look", Speech: "look\nA dragon sleeps."}, "\n[alice] >> look\nA dragon sleeps."},
		{"act anonymous", domain.Result{Kind: domain.KindAct, Input: "look", Speech: "look\nDark."}, "\n[player] >> look\nDark."},
		{"revert", domain.Result{Kind: domain.KindRevert, Speech: "Last action reverted.\nA dragon sleeps."}, "\n\n>> Reverted to: A dragon sleeps."},
		{"remember", domain.Result{Kind: domain.KindRemember, Speech: "You remember that you have a shield."}, "\nYou remember that you have a shield."},
		{"forget", domain.Result{Kind: domain.KindForget, Speech: "You forget that you have a shield."}, "\n\n>> You forget that you have a shield."},
		{"new game", domain.Result{Kind: domain.KindNewGame}, "\n\n\n\n\n\nStarting a new adventure..."},
		{"save is silent", domain.Result{Kind: domain.KindSave, Speech: "Game saved."}, ""},
		{"failure is silent", domain.Result{Kind: domain.KindAct, Input: "look", Error: "timeout"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, episode.Format(tt.res))
		})
	}
}

func TestLog_AppendsPerSession(t *testing.T) {
	dir := t.TempDir()
	log, err := episode.New(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, log.Deliver(ctx, domain.Result{Kind: domain.KindSetContext, SessionRef: "guild/42", Input: "A tavern."}))
	require.NoError(t, log.Deliver(ctx, domain.Result{Kind: domain.KindAct, SessionRef: "guild/42", Author: "bob", Input: "order ale", Speech: "order ale\nThe barkeep nods."}))
	require.NoError(t, log.Deliver(ctx, domain.Result{Kind: domain.KindSave, SessionRef: "guild/42"}))
	require.NoError(t, log.Deliver(ctx, domain.Result{Kind: domain.KindSetContext, SessionRef: "other", Input: "A ship."}))
	require.NoError(t, log.Close())

	assert.Equal(t, dir+"/guild_42.log", log.Path("guild/42"))
	data, err := os.ReadFile(log.Path("guild/42"))
	require.NoError(t, err)
	assert.Equal(t, "\n>> A tavern.\n\n[bob] >> order ale\nThe barkeep nods.\n", string(data))

	data, err = os.ReadFile(log.Path("other"))
	require.NoError(t, err)
	assert.Equal(t, "\n>> A ship.\n", string(data))
}

func TestLog_PostsEntriesToRemote(t *testing.T) {
	var (
		mu      sync.Mutex
		entries []episode.Entry
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var e episode.Entry
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&e)) {
			mu.Lock()
			entries = append(entries, e)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	log, err := episode.New(t.TempDir(), episode.WithRemote(srv.URL, nil))
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	require.NoError(t, log.Deliver(ctx, domain.Result{Seq: 1, Kind: domain.KindSetContext, SessionRef: "t", Input: "A tavern."}))
	require.NoError(t, log.Deliver(ctx, domain.Result{Seq: 2, Kind: domain.KindSave, SessionRef: "t"}))
	require.NoError(t, log.Deliver(ctx, domain.Result{Seq: 3, Kind: domain.KindAct, SessionRef: "t", Author: "bob", Input: "sit", Speech: "sit\nYou sit."}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, entries, 2, "silent results are not posted")
	assert.Equal(t, episode.Entry{SessionRef: "t", Seq: 1, Kind: domain.KindSetContext, Text: "\n>> A tavern."}, entries[0])
	assert.Equal(t, "bob", entries[1].Author)
	assert.Equal(t, "\n[bob] >> sit\nYou sit.", entries[1].Text)
}

func TestLog_RemoteFailureStillWritesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	log, err := episode.New(t.TempDir(), episode.WithRemote(srv.URL, srv.Client()))
	require.NoError(t, err)

	err = log.Deliver(context.Background(), domain.Result{Kind: domain.KindSetContext, SessionRef: "t", Input: "A ship."})
	assert.ErrorContains(t, err, "502")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(log.Path("t"))
	require.NoError(t, err)
	assert.Equal(t, "\n>> A ship.\n", string(data))
}
