// Package anthropic generates story continuations with the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
)

// DefaultMaxTokens bounds a continuation when no limit is configured.
const DefaultMaxTokens = 512

// Config configures a Generator. An empty APIKey falls back to ANTHROPIC_API_KEY.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
	// MaxRetries is passed to the SDK; negative keeps the SDK default.
	MaxRetries int
}

// Generator implements ports.Generator.
type Generator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

var _ ports.Generator = (*Generator)(nil)

// New builds a Generator from cfg.
func New(cfg Config) (*Generator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic: model is required")
	}
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Generator{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

// Generate sends one Messages request and joins the returned text blocks.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	msg, err := g.client.Messages.New(ctx, Params(prompt, g.model, g.maxTokens))
	if err != nil {
		return "", fmt.Errorf("%w: anthropic: %v", domain.ErrBackendRequest, err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("%w: anthropic: empty response (stop reason %q)", domain.ErrBackendRequest, msg.StopReason)
	}
	return text, nil
}

// Params maps a prompt to a Messages request. The premise opens the
// conversation as the first user turn since the API requires one.
func Params(prompt domain.Prompt, model string, maxTokens int64) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, 2*len(prompt.History)+1)
	first := prompt.Premise()
	for _, t := range prompt.History {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(withPremise(first, t.Action))),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Result)),
		)
		first = ""
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(withPremise(first, prompt.Action))))

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: prompt.Instructions()}},
	}
}

func withPremise(premise, action string) string {
	if premise == "" {
		return action
	}
	return premise + "\n\n> " + action
}
