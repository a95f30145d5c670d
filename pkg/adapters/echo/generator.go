// Package echo is an offline backend that narrates deterministically.
// It is used for local play, demos and tests.
package echo

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
)

// Generator answers every action with a fixed template.
type Generator struct {
	delay    time.Duration
	template string
}

var _ ports.Generator = (*Generator)(nil)

// Option configures a Generator.
type Option func(*Generator)

// WithDelay makes each call wait d, simulating a slow backend.
func WithDelay(d time.Duration) Option {
	return func(g *Generator) {
		g.delay = d
	}
}

// WithTemplate sets the fmt template; %s receives the action text.
func WithTemplate(template string) Option {
	return func(g *Generator) {
		g.template = template
	}
}

// New returns an echo Generator.
func New(opts ...Option) *Generator {
	g := &Generator{template: "You %s. Nothing else happens."}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate waits for the configured delay, then formats the action.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Sprintf(g.template, prompt.Action), nil
}
