// Package openai generates story continuations through any OpenAI-compatible
// chat completions endpoint.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	openaigo "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openaigo.GPT4oMini

// Config configures a Generator.
type Config struct {
	APIKey      string
	BaseURL     string // empty keeps the library default
	Model       string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
}

// Generator implements ports.Generator with chat completions.
type Generator struct {
	client *openaigo.Client
	cfg    Config
}

var _ ports.Generator = (*Generator)(nil)

// New builds a Generator from cfg.
func New(cfg Config) *Generator {
	clientCfg := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Generator{
		client: openaigo.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// Generate sends the prompt as a chat transcript and returns the first choice.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    Messages(prompt),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", domain.ErrBackendRequest, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai: no choices returned", domain.ErrBackendRequest)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: openai: empty response", domain.ErrBackendRequest)
	}
	return text, nil
}

// Messages maps a prompt to chat messages: instructions, story so far, then
// one user/assistant pair per remembered turn and the new action.
func Messages(prompt domain.Prompt) []openaigo.ChatCompletionMessage {
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: prompt.Instructions()},
		{Role: openaigo.ChatMessageRoleSystem, Content: prompt.Premise()},
	}
	for _, t := range prompt.History {
		messages = append(messages,
			openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: t.Action},
			openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleAssistant, Content: t.Result},
		)
	}
	return append(messages, openaigo.ChatCompletionMessage{
		Role:    openaigo.ChatMessageRoleUser,
		Content: prompt.Action,
	})
}
