// Package ollama generates story continuations with a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/ollama/ollama/api"
)

// DefaultBaseURL is the address of a stock local Ollama install.
const DefaultBaseURL = "http://localhost:11434"

// Config configures a Generator.
type Config struct {
	BaseURL     string
	Model       string
	NumPredict  int     // 0 leaves the server default
	Temperature float64 // 0 leaves the server default
	HTTPClient  *http.Client
}

// Generator implements ports.Generator with the native chat API.
type Generator struct {
	client *api.Client
	cfg    Config
}

var _ ports.Generator = (*Generator)(nil)

// New builds a Generator. A trailing "/v1" on BaseURL is tolerated so the
// OpenAI-compatible address of the same server can be reused.
func New(cfg Config) (*Generator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	base = strings.TrimSuffix(strings.TrimSuffix(base, "/"), "/v1")

	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base url %q: %w", base, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Generator{client: api.NewClient(parsed, httpClient), cfg: cfg}, nil
}

// Generate runs one non-streaming chat request.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    g.cfg.Model,
		Messages: Messages(prompt),
		Stream:   &stream,
		Options:  g.options(),
	}

	var out strings.Builder
	err := g.client.Chat(ctx, req, func(r api.ChatResponse) error {
		out.WriteString(r.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: ollama: %v", domain.ErrBackendRequest, err)
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("%w: ollama: empty response", domain.ErrBackendRequest)
	}
	return text, nil
}

func (g *Generator) options() map[string]any {
	opts := map[string]any{}
	if g.cfg.NumPredict > 0 {
		opts["num_predict"] = g.cfg.NumPredict
	}
	if g.cfg.Temperature > 0 {
		opts["temperature"] = g.cfg.Temperature
	}
	return opts
}

// Messages maps a prompt to Ollama chat messages.
func Messages(prompt domain.Prompt) []api.Message {
	messages := []api.Message{
		{Role: "system", Content: prompt.Instructions()},
		{Role: "system", Content: prompt.Premise()},
	}
	for _, t := range prompt.History {
		messages = append(messages,
			api.Message{Role: "user", Content: t.Action},
			api.Message{Role: "assistant", Content: t.Result},
		)
	}
	return append(messages, api.Message{Role: "user", Content: prompt.Action})
}
