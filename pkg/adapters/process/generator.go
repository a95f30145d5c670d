// Package process runs a local program as the story generator, for models
// served by a script rather than an HTTP API.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
)

// Request is written to the program's stdin as one JSON object.
type Request struct {
	Instructions string        `json:"instructions"`
	Premise      string        `json:"premise"`
	Turns        []domain.Turn `json:"turns"`
	Action       string        `json:"action"`
	Censor       bool          `json:"censor"`
	Prompt       string        `json:"prompt"`
}

// response is the optional structured output: {"text": "..."}.
type response struct {
	Text string `json:"text"`
}

// Generator implements ports.Generator by executing Config.Command once per ACT.
type Generator struct {
	cfg Config
}

var _ ports.Generator = (*Generator)(nil)

// New returns a Generator for cfg.
func New(cfg Config) (*Generator, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("process: command is required")
	}
	return &Generator{cfg: cfg}, nil
}

// Generate runs the program. The prompt arrives as JSON on stdin and the
// action and censor flag also as TAPESTRY_ACTION and TAPESTRY_CENSOR, so
// simple scripts need not parse JSON. Stdout is the continuation, either plain
// text or {"text": "..."}.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	body, err := json.Marshal(Request{
		Instructions: prompt.Instructions(),
		Premise:      prompt.Premise(),
		Turns:        prompt.History,
		Action:       prompt.Action,
		Censor:       prompt.Censor,
		Prompt:       prompt.Text(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode prompt: %v", domain.ErrBackendRequest, err)
	}

	cmd := exec.CommandContext(ctx, g.cfg.Command, g.cfg.Args...)
	cmd.Dir = g.cfg.Dir
	// Values travel in the environment, never as flags, to avoid argument injection.
	cmd.Env = append(cmd.Environ(),
		"TAPESTRY_ACTION="+prompt.Action,
		"TAPESTRY_CENSOR="+strconv.FormatBool(prompt.Censor),
	)
	for k, v := range g.cfg.Environment {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(body)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s failed: %v: %s", domain.ErrBackendRequest, g.cfg.Command, err, strings.TrimSpace(stderr.String()))
	}

	text := parseOutput(stdout.String())
	if text == "" {
		return "", fmt.Errorf("%w: %s wrote nothing", domain.ErrBackendRequest, g.cfg.Command)
	}
	return text, nil
}

func parseOutput(out string) string {
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var r response
		if err := json.Unmarshal([]byte(trimmed), &r); err == nil {
			return strings.TrimSpace(r.Text)
		}
	}
	return trimmed
}
