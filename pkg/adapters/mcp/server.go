// Package mcp exposes session actions as Model Context Protocol tools so an
// assistant can play or moderate a session.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Sessions is the part of the session manager the tools drive.
type Sessions interface {
	Submit(ctx context.Context, a domain.Action) (uint64, error)
	Snapshot(ref string) (*domain.Session, bool)
	Sessions() []string
}

// payload names the extra argument an action tool takes.
type payload int

const (
	payloadNone payload = iota
	payloadText
	payloadID
	payloadOptionalID
	payloadFlag
)

type actionTool struct {
	name        string
	kind        domain.Kind
	description string
	payload     payload
	argHelp     string
}

var actionTools = []actionTool{
	{"set_context", domain.KindSetContext, "Set the story premise for a session.", payloadText, "The premise text"},
	{"act", domain.KindAct, "Take a turn: the narrator continues the story from this action.", payloadText, "What the player does"},
	{"revert", domain.KindRevert, "Undo the last action and its result.", payloadNone, ""},
	{"alter", domain.KindAlter, "Replace the text of the last result.", payloadText, "The new result text"},
	{"remember", domain.KindRemember, "Add a fact the narrator should keep in mind.", payloadText, "The fact to remember"},
	{"forget", domain.KindForget, "Drop the most recently remembered fact.", payloadNone, ""},
	{"new_game", domain.KindNewGame, "Save the current game and start a fresh one.", payloadNone, ""},
	{"restart", domain.KindRestart, "Clear all turns but keep the premise and memory.", payloadNone, ""},
	{"load", domain.KindLoad, "Load a saved game by id.", payloadID, "The save id"},
	{"save", domain.KindSave, "Save the game, optionally under a new id.", payloadOptionalID, "Optional save id"},
	{"toggle_censor", domain.KindToggleCensor, "Turn the content censor on or off.", payloadFlag, "true to enable the censor"},
	{"exit", domain.KindExit, "Save and stop the session worker.", payloadNone, ""},
}

// Server wraps the session manager and exposes it as an MCP server.
type Server struct {
	sessions  Sessions
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP server over sessions.
func NewServer(sessions Sessions, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessions:  sessions,
		mcpServer: server.NewMCPServer("tapestry-mcp", strings.TrimSpace(version)),
		logger:    logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, for transports other than stdio.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// SSEHandler returns the /sse and /message endpoints for baseURL.
func (s *Server) SSEHandler(baseURL string) http.Handler {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))
	return mux
}

// ServeSSE serves the SSE transport on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.SSEHandler(baseURL),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	for _, t := range actionTools {
		opts := []mcp.ToolOption{
			mcp.WithDescription(t.description + " The action is queued; results arrive in order on the session's output."),
			mcp.WithString("session_ref", mcp.Required(), mcp.Description("The session (player or channel) to route to")),
			mcp.WithString("author", mcp.Description("Who issued the action (optional)")),
		}
		switch t.payload {
		case payloadText:
			opts = append(opts, mcp.WithString("text", mcp.Required(), mcp.Description(t.argHelp)))
		case payloadID:
			opts = append(opts, mcp.WithString("id", mcp.Required(), mcp.Description(t.argHelp)))
		case payloadOptionalID:
			opts = append(opts, mcp.WithString("id", mcp.Description(t.argHelp)))
		case payloadFlag:
			opts = append(opts, mcp.WithBoolean("flag", mcp.Required(), mcp.Description(t.argHelp)))
		}
		s.mcpServer.AddTool(mcp.NewTool(t.name, opts...), s.submitHandler(t))
	}

	s.mcpServer.AddTool(mcp.NewTool("snapshot",
		mcp.WithDescription("Read the last committed state of a session."),
		mcp.WithString("session_ref", mcp.Required(), mcp.Description("The session to inspect")),
	), s.handleSnapshot)
}

func (s *Server) submitHandler(t actionTool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := buildAction(t, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := a.Validate(); err != nil {
			return mcp.NewToolResultError(userText(err)), nil
		}
		seq, err := s.sessions.Submit(ctx, a)
		if err != nil {
			s.logger.Warn("MCP: submit rejected", "tool", t.name, "session_ref", a.SessionRef, "err", err)
			return mcp.NewToolResultError(userText(err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("queued %s for session %s (seq %d)", a.Kind, a.SessionRef, seq)), nil
	}
}

func buildAction(t actionTool, args map[string]any) (domain.Action, error) {
	a := domain.Action{Kind: t.kind}
	a.SessionRef, _ = args["session_ref"].(string)
	a.Author, _ = args["author"].(string)
	switch t.payload {
	case payloadText:
		a.Text, _ = args["text"].(string)
	case payloadID, payloadOptionalID:
		a.ID, _ = args["id"].(string)
	case payloadFlag:
		switch v := args["flag"].(type) {
		case bool:
			a.Flag = domain.Bool(v)
		case string:
			on, ok := parseOnOff(v)
			if !ok {
				return domain.Action{}, fmt.Errorf("flag must be true or false, got %q", v)
			}
			a.Flag = domain.Bool(on)
		}
	}
	return a, nil
}

func parseOnOff(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "yes", "1":
		return true, true
	case "false", "off", "no", "0":
		return false, true
	}
	return false, false
}

func (s *Server) handleSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, _ := request.GetArguments()["session_ref"].(string)
	snap, ok := s.sessions.Snapshot(ref)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no active worker for session %q", ref)), nil
	}
	data, err := json.Marshal(struct {
		Phase domain.Phase `json:"phase"`
		*domain.Session
	}{snap.Phase(), snap})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("tapestry://sessions", "Active Sessions",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		refs := s.sessions.Sessions()
		sort.Strings(refs)
		data, err := json.Marshal(refs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode sessions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "tapestry://sessions",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func userText(err error) string {
	var ae *domain.ActionError
	if errors.As(err, &ae) {
		return ae.Msg
	}
	return err.Error()
}
