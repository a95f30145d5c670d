package runner

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/aretw0/tapestry/pkg/domain"
)

// JSONSink writes each result as one JSON object per line (JSON Lines).
type JSONSink struct {
	mu      sync.Mutex
	Encoder *json.Encoder
}

// NewJSONSink creates a sink writing to w (Stdout when nil).
func NewJSONSink(w io.Writer) *JSONSink {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONSink{Encoder: enc}
}

// Deliver encodes res as a single line.
func (s *JSONSink) Deliver(ctx context.Context, res domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Encoder.Encode(res)
}
