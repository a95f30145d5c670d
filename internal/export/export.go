// Package export renders saved sessions as plain-text story transcripts.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/aretw0/tapestry/internal/logging"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength bounds transcript file names.
const MaxSlugLength = 240

// Transcript renders the context followed by every action/result pair.
func Transcript(s *domain.Session) string {
	var b strings.Builder
	b.WriteString(s.Context)
	for i := range s.Actions {
		b.WriteString("\n\n> ")
		b.WriteString(s.Actions[i])
		if i < len(s.Results) {
			b.WriteString("\n\n")
			b.WriteString(s.Results[i])
		}
	}
	b.WriteString("\n")
	return b.String()
}

// Slug turns text into a lowercase ASCII file name of at most max bytes.
// Accents are stripped, runs of anything else collapse into one "-".
func Slug(text string, max int) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if max > 0 && len(slug) > max {
		slug = strings.TrimRight(slug[:max], "-")
	}
	if slug == "" {
		return "untitled"
	}
	return slug
}

// Exporter writes every saved session in a store to a directory.
type Exporter struct {
	store  ports.SessionStore
	dir    string
	logger *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger used for skipped records.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Exporter writing into dir.
func New(store ports.SessionStore, dir string, opts ...Option) *Exporter {
	e := &Exporter{store: store, dir: dir, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run writes one transcript per save and returns the written paths.
// Corrupt records and saves without a context are skipped.
func (e *Exporter) Run(ctx context.Context) ([]string, error) {
	keys, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	used := make(map[string]bool, len(keys))
	var written []string
	for _, key := range keys {
		s, err := e.store.Load(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrCorruptRecord) || errors.Is(err, domain.ErrSessionNotFound) {
				e.logger.Warn("skipping save", "key", key, "err", err)
				continue
			}
			return written, fmt.Errorf("failed to load %s: %w", key, err)
		}
		if s.Context == "" {
			e.logger.Debug("skipping save without context", "key", key)
			continue
		}

		name := Slug(s.Context, MaxSlugLength)
		if used[name] {
			name = name + "-" + Slug(key, 64)
		}
		used[name] = true

		path := filepath.Join(e.dir, name+".txt")
		if err := os.WriteFile(path, []byte(Transcript(s)), 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		e.logger.Info("exported save", "key", key, "path", path)
		written = append(written, path)
	}
	return written, nil
}
