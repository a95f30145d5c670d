package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore
// implementation adheres to the interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	t.Helper()
	ctx := context.Background()
	key := "contract-" + time.Now().Format("20060102150405.000000000")

	t.Run("Save and Load", func(t *testing.T) {
		s := &domain.Session{
			ID:      key,
			Context: "You are a knight.",
			Actions: []string{"draw your sword"},
			Results: []string{"You draw your sword."},
			Memory:  []string{"You have a shield."},
			Censor:  true,
		}
		require.NoError(t, store.Save(ctx, key, s))

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.True(t, domain.Equal(s, loaded), "round trip mismatch: %+v", loaded)
	})

	t.Run("Empty Sequences Round Trip", func(t *testing.T) {
		empty := key + "-empty"
		s := &domain.Session{ID: empty}
		require.NoError(t, store.Save(ctx, empty, s))
		defer func() { _ = store.Delete(ctx, empty) }()

		loaded, err := store.Load(ctx, empty)
		require.NoError(t, err)
		assert.True(t, domain.Equal(s, loaded))
		assert.NotNil(t, loaded.Actions)
		assert.NotNil(t, loaded.Memory)
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		s := &domain.Session{ID: key, Context: "second premise"}
		require.NoError(t, store.Save(ctx, key, s))

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "second premise", loaded.Context)
		assert.Empty(t, loaded.Actions)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, key, &domain.Session{ID: key}))
		require.NoError(t, store.Delete(ctx, key))

		_, err := store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, key), "deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := key + "-1"
		id2 := key + "-2"
		require.NoError(t, store.Save(ctx, id1, &domain.Session{ID: id1}))
		require.NoError(t, store.Save(ctx, id2, &domain.Session{ID: id2}))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, id1)
		assert.Contains(t, keys, id2)
	})
}
