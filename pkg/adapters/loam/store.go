// Package loam stores saved games in a loam document repository: one document
// per save, with the record in the front matter and the readable transcript as
// its body, so a save folder doubles as a library of stories.
package loam

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"
	"github.com/aretw0/tapestry/internal/export"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
)

// SaveMetadata is the front matter of a save document.
type SaveMetadata struct {
	// Key is the save id; document ids are an escaped form of it.
	Key   string `json:"key" mapstructure:"key"`
	Turns int    `json:"turns" mapstructure:"turns"`
	// Record is the session in its persisted JSON form.
	Record string `json:"record" mapstructure:"record"`
}

// Store implements ports.SessionStore on a loam repository.
type Store struct {
	typed *loam.TypedRepository[SaveMetadata]
}

var _ ports.SessionStore = (*Store)(nil)

// Open initializes an unversioned loam repository in dir.
func Open(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create save dir: %w", err)
	}
	repo, err := loam.Init(abs, loam.WithVersioning(false), loam.WithForceTemp(false))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(repo), nil
}

// New wraps an initialized repository.
func New(repo core.Repository) *Store {
	return &Store{typed: loam.NewTypedRepository[SaveMetadata](repo)}
}

// Save writes the record and its transcript under key.
func (s *Store) Save(ctx context.Context, key string, session *domain.Session) error {
	data, err := domain.MarshalRecord(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	err = s.typed.Save(ctx, &loam.DocumentModel[SaveMetadata]{
		ID:      docID(key),
		Content: export.Transcript(session),
		Data: SaveMetadata{
			Key:    key,
			Turns:  len(session.Actions),
			Record: string(data),
		},
	})
	if err != nil {
		return fmt.Errorf("loam save failed for %s: %w", key, err)
	}
	return nil
}

// Load decodes the record stored under key.
func (s *Store) Load(ctx context.Context, key string) (*domain.Session, error) {
	doc, err := s.typed.Get(ctx, docID(key))
	if err != nil {
		if found, lerr := s.has(ctx, key); lerr == nil && !found {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("loam get failed for %s: %w", key, err)
	}
	if doc.Data.Key == "" {
		return nil, domain.ErrSessionNotFound
	}
	if doc.Data.Key != key || doc.Data.Record == "" {
		return nil, domain.Corrupt("document %s carries no record for %q", doc.ID, key)
	}
	return domain.UnmarshalRecord([]byte(doc.Data.Record))
}

// Delete blanks the document for key; a document without a key is not a save.
// A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	found, err := s.has(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	err = s.typed.Save(ctx, &loam.DocumentModel[SaveMetadata]{ID: docID(key)})
	if err != nil {
		return fmt.Errorf("loam delete failed for %s: %w", key, err)
	}
	return nil
}

// List returns the save keys, sorted. Documents without a key are not saves.
func (s *Store) List(ctx context.Context) ([]string, error) {
	docs, err := s.typed.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}
	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.Key != "" {
			keys = append(keys, doc.Data.Key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Store) has(ctx context.Context, key string) (bool, error) {
	keys, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(keys, key)
	return found, nil
}

// docID maps a save key onto a file-safe document id. Anything outside
// [A-Za-z0-9_-] is written as ~xx so ids never carry an extension or a path.
func docID(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "~%02x", c)
		}
	}
	if b.Len() == 0 {
		return "~"
	}
	return b.String()
}
