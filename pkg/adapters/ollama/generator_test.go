package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/tapestry/pkg/adapters/ollama"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Generate(t *testing.T) {
	var seen api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&seen))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.ChatResponse{
			Model:   "llama3",
			Message: api.Message{Role: "assistant", Content: "The torch flickers."},
			Done:    true,
		})
	}))
	defer srv.Close()

	gen, err := ollama.New(ollama.Config{BaseURL: srv.URL + "/v1", Model: "llama3", NumPredict: 128})
	require.NoError(t, err)

	text, err := gen.Generate(context.Background(), domain.Prompt{
		Context: "A cave.",
		History: []domain.Turn{{Action: "enter", Result: "It is dark."}},
		Action:  "light a torch",
	})
	require.NoError(t, err)
	assert.Equal(t, "The torch flickers.", text)

	assert.Equal(t, "llama3", seen.Model)
	require.NotNil(t, seen.Stream)
	assert.False(t, *seen.Stream)
	require.Len(t, seen.Messages, 5)
	assert.Equal(t, "A cave.", seen.Messages[1].Content)
	assert.Equal(t, "light a torch", seen.Messages[4].Content)
	assert.EqualValues(t, 128, seen.Options["num_predict"])
}

func TestGenerator_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.ChatResponse{Done: true})
	}))
	defer srv.Close()

	gen, err := ollama.New(ollama.Config{BaseURL: srv.URL, Model: "llama3"})
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), domain.Prompt{Context: "c", Action: "a"})
	assert.ErrorIs(t, err, domain.ErrBackendRequest)
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := ollama.New(ollama.Config{})
	assert.Error(t, err)
}
