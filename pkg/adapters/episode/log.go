// Package episode writes a readable narrative transcript per session, the
// "episode log" a moderator tails while a game is played.
package episode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
)

// DefaultRemoteTimeout bounds one POST to the remote episode log.
const DefaultRemoteTimeout = 5 * time.Second

// Log is an OutputSink that appends to <dir>/<ref>.log.
type Log struct {
	dir    string
	url    string
	client *http.Client

	mu    sync.Mutex
	files map[string]*os.File
}

var _ ports.OutputSink = (*Log)(nil)

// Option configures a Log.
type Option func(*Log)

// WithRemote also POSTs every entry as a JSON Entry to url.
// A nil client uses one with DefaultRemoteTimeout.
func WithRemote(url string, client *http.Client) Option {
	return func(l *Log) {
		l.url = url
		if client != nil {
			l.client = client
		}
	}
}

// Entry is the JSON body posted to the remote episode log.
type Entry struct {
	SessionRef string      `json:"sessionRef"`
	Seq        uint64      `json:"seq"`
	Kind       domain.Kind `json:"kind"`
	Author     string      `json:"author,omitempty"`
	Text       string      `json:"text"`
}

// New creates dir if needed and returns a Log writing into it.
func New(dir string, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create episode dir: %w", err)
	}
	l := &Log{
		dir:    dir,
		client: &http.Client{Timeout: DefaultRemoteTimeout},
		files:  make(map[string]*os.File),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the transcript file for ref.
func (l *Log) Path(ref string) string {
	return filepath.Join(l.dir, fileName(ref)+".log")
}

// Deliver appends the transcript lines for res, then posts them to the remote
// log when one is configured. Failed actions are not narrated.
func (l *Log) Deliver(ctx context.Context, res domain.Result) error {
	entry := Format(res)
	if entry == "" {
		return nil
	}
	if err := l.append(res.SessionRef, entry); err != nil {
		return err
	}
	if l.url == "" {
		return nil
	}
	return l.post(ctx, Entry{
		SessionRef: res.SessionRef,
		Seq:        res.Seq,
		Kind:       res.Kind,
		Author:     res.Author,
		Text:       entry,
	})
}

func (l *Log) append(ref, entry string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.file(ref)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(entry + "\n"); err != nil {
		return fmt.Errorf("failed to write episode log: %w", err)
	}
	return nil
}

func (l *Log) post(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode episode entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build episode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post episode entry: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return errors.New("episode log endpoint returned " + resp.Status)
	}
	return nil
}

func (l *Log) file(ref string) (*os.File, error) {
	if f, ok := l.files[ref]; ok {
		return f, nil
	}
	f, err := os.OpenFile(l.Path(ref), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open episode log: %w", err)
	}
	l.files[ref] = f
	return f, nil
}

// Close closes every open transcript.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for ref, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.files, ref)
	}
	return firstErr
}

// Format renders one result as transcript text, or "" when it is not part of the story.
func Format(res domain.Result) string {
	if res.Failed() {
		return ""
	}
	switch res.Kind {
	case domain.KindSetContext:
		return "\n>> " + res.Input
	case domain.KindNewGame:
		return "\n\n\n\n\n\nStarting a new adventure..."
	case domain.KindRestart:
		return "\n\n>> " + firstLine(res.Speech)
	case domain.KindAct:
		author := res.Author
		if author == "" {
			author = "player"
		}
		response := strings.TrimPrefix(res.Speech, res.Input+"\n")
		return fmt.Sprintf("\n[%s] >> %s\n%s", author, res.Input, response)
	case domain.KindRevert:
		_, rest, _ := strings.Cut(res.Speech, "\n")
		return "\n\n>> Reverted to: " + rest
	case domain.KindAlter:
		return "\n>> " + res.Speech
	case domain.KindRemember:
		return "\n" + res.Speech
	case domain.KindForget:
		return "\n\n>> " + res.Speech
	case domain.KindLoad:
		return "\n>> " + res.Speech
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func fileName(ref string) string {
	if ref == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, ref)
}
