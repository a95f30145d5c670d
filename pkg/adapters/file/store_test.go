package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/tapestry/pkg/adapters/file"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	ports.RunSessionStoreContract(t, file.New(t.TempDir()))
}

func TestFileStore_RecordFormat(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	s := &domain.Session{ID: "k1", Context: "c", Actions: []string{"a"}, Results: []string{"r"}, Censor: true}
	require.NoError(t, store.Save(context.Background(), "k1", s))

	data, err := os.ReadFile(filepath.Join(dir, "k1.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"k1","context":"c","actions":["a"],"results":["r"],"memory":[],"censor":true}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"),
		[]byte(`{"id":"bad","context":"c","actions":["a"],"results":[],"memory":[],"censor":false}`), 0o644))

	_, err := file.New(dir).Load(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrCorruptRecord)
}

func TestFileStore_RejectsUnsafeKeys(t *testing.T) {
	store := file.New(t.TempDir())
	for _, key := range []string{"", "../escape", "a/b", `a\b`, ".hidden", " padded "} {
		err := store.Save(context.Background(), key, &domain.Session{ID: key})
		assert.ErrorIs(t, err, file.ErrInvalidKey, key)
	}
}

func TestFileStore_ListMissingDir(t *testing.T) {
	keys, err := file.New(filepath.Join(t.TempDir(), "nope")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}
