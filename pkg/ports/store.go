package ports

import (
	"context"

	"github.com/aretw0/tapestry/pkg/domain"
)

// SessionStore defines the interface for persisting sessions.
// Records are keyed by save id; the stored Session's own ID is not consulted.
type SessionStore interface {
	// Save persists the session under key, replacing any previous record.
	Save(ctx context.Context, key string, session *domain.Session) error

	// Load retrieves the session stored under key.
	// Returns domain.ErrSessionNotFound if the key is absent and
	// domain.ErrCorruptRecord if the record fails validation.
	Load(ctx context.Context, key string) (*domain.Session, error)

	// Delete removes the record stored under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys of all stored sessions.
	List(ctx context.Context) ([]string, error)
}
