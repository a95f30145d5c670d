package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
)

// StreamManager fans results out to the event stream subscribers of each session.
// It is an OutputSink, so it can be handed to the session manager directly.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan string]struct{} // SessionRef -> set of channels
}

var _ ports.OutputSink = (*StreamManager)(nil)

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan string]struct{}),
	}
}

// Subscribe registers a buffered channel for ref. The returned func unsubscribes
// and closes the channel.
func (sm *StreamManager) Subscribe(ref string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 16)
	if _, ok := sm.subscribers[ref]; !ok {
		sm.subscribers[ref] = make(map[chan string]struct{})
	}
	sm.subscribers[ref][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[ref]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, ref)
				}
			}
		})
	}
}

// Broadcast sends msg to every subscriber of ref without blocking.
func (sm *StreamManager) Broadcast(ref string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[ref] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			slog.Warn("SSE: client buffer full, dropping message", "session_ref", ref)
		}
	}
}

// Subscribers returns the number of live subscribers for ref.
func (sm *StreamManager) Subscribers(ref string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[ref])
}

// Deliver broadcasts res as JSON to the subscribers of its session.
func (sm *StreamManager) Deliver(ctx context.Context, res domain.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	sm.Broadcast(res.SessionRef, string(data))
	return nil
}
