package ports

import (
	"context"

	"github.com/aretw0/tapestry/pkg/domain"
)

// Generator turns a prompt into continuation text.
// Implementations make a single attempt and should honor ctx cancellation,
// although the worker does not rely on it.
type Generator interface {
	Generate(ctx context.Context, prompt domain.Prompt) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt domain.Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	return f(ctx, prompt)
}
