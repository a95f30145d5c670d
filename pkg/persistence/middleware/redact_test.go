package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactMiddleware_MasksStoredCopy(t *testing.T) {
	underlying := NewMockStore()
	mw, err := middleware.NewRedactMiddleware([]string{`[\w.]+@[\w.]+`})
	require.NoError(t, err)
	store := mw(underlying)
	ctx := context.Background()

	s := &domain.Session{
		ID:      "mail",
		Context: "Write to bob@example.com for help.",
		Actions: []string{"email alice@example.org"},
		Results: []string{"No answer."},
		Memory:  []string{"carol@example.net knows the way"},
	}
	require.NoError(t, store.Save(ctx, "mail", s))

	stored, err := underlying.Load(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, "Write to *** for help.", stored.Context)
	assert.Equal(t, []string{"email ***"}, stored.Actions)
	assert.Equal(t, []string{"No answer."}, stored.Results)
	assert.Equal(t, []string{"*** knows the way"}, stored.Memory)

	// The caller's session is not modified.
	assert.Equal(t, "Write to bob@example.com for help.", s.Context)
	assert.Equal(t, "email alice@example.org", s.Actions[0])
}

func TestRedactMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewRedactMiddleware([]string{"("})
	assert.Error(t, err)
}

func TestChain_Order(t *testing.T) {
	underlying := NewMockStore()
	redact, err := middleware.NewRedactMiddleware([]string{"secret"})
	require.NoError(t, err)
	encrypt := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})

	// Redaction runs before encryption, so the sealed record is already masked.
	store := middleware.Chain(underlying, redact, encrypt)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "k", &domain.Session{ID: "k", Context: "the secret door"}))

	loaded, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "the *** door", loaded.Context)
}
