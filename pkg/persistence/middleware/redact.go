package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
)

// RedactMask replaces every redacted match.
const RedactMask = "***"

type redactMiddleware struct {
	next     ports.SessionStore
	patterns []*regexp.Regexp
}

// NewRedactMiddleware masks text matching any pattern before it is saved.
// The in-memory session is left untouched; only the stored copy is masked.
func NewRedactMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns[i] = re
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &redactMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *redactMiddleware) Save(ctx context.Context, key string, session *domain.Session) error {
	cloned := session.Clone()
	cloned.Context = m.mask(cloned.Context)
	maskAll(cloned.Actions, m.mask)
	maskAll(cloned.Results, m.mask)
	maskAll(cloned.Memory, m.mask)
	return m.next.Save(ctx, key, cloned)
}

func (m *redactMiddleware) Load(ctx context.Context, key string) (*domain.Session, error) {
	return m.next.Load(ctx, key)
}

func (m *redactMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *redactMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *redactMiddleware) mask(s string) string {
	for _, p := range m.patterns {
		s = p.ReplaceAllString(s, RedactMask)
	}
	return s
}

func maskAll(items []string, mask func(string) string) {
	for i, item := range items {
		items[i] = mask(item)
	}
}
