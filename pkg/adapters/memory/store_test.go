package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/tapestry/pkg/adapters/memory"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSessionStoreContract(t, store)
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	s := &domain.Session{ID: "k", Context: "c", Memory: []string{"A."}}
	require.NoError(t, store.Save(ctx, "k", s))

	s.Memory[0] = "mutated"
	loaded, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "A.", loaded.Memory[0])

	loaded.Memory[0] = "mutated again"
	again, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "A.", again.Memory[0])
}
