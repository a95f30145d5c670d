package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aretw0/tapestry/pkg/domain"
)

// ContentRenderer is a function that transforms the content before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// TextSink writes results as human-readable blocks.
// Successful replies are quoted ("> ..."), failures are written as-is.
type TextSink struct {
	Writer   io.Writer
	Renderer ContentRenderer

	mu sync.Mutex
}

// TextSinkOption defines configuration for TextSink.
type TextSinkOption func(*TextSink)

// WithTextSinkRenderer configures the content renderer.
func WithTextSinkRenderer(renderer ContentRenderer) TextSinkOption {
	return func(s *TextSink) {
		s.Renderer = renderer
	}
}

// NewTextSink creates a sink writing to w (Stdout when nil).
func NewTextSink(w io.Writer, opts ...TextSinkOption) *TextSink {
	if w == nil {
		w = os.Stdout
	}
	s := &TextSink{Writer: w}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver writes one result.
func (s *TextSink) Deliver(ctx context.Context, res domain.Result) error {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return nil
	}
	if !res.Failed() {
		text = quote(text)
	}
	if s.Renderer != nil {
		// Fall back to the raw text when rendering fails.
		if rendered, err := s.Renderer(text); err == nil {
			text = strings.TrimSpace(rendered)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.Writer, text)
	return err
}

// quote prefixes every line with "> ", producing a markdown block quote.
func quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}
