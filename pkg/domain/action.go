package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the discriminating tag of an Action.
type Kind string

const (
	KindSetContext   Kind = "SET_CONTEXT"
	KindAct          Kind = "ACT"
	KindRevert       Kind = "REVERT"
	KindAlter        Kind = "ALTER"
	KindRemember     Kind = "REMEMBER"
	KindForget       Kind = "FORGET"
	KindNewGame      Kind = "NEW_GAME"
	KindRestart      Kind = "RESTART"
	KindLoad         Kind = "LOAD"
	KindSave         Kind = "SAVE"
	KindToggleCensor Kind = "TOGGLE_CENSOR"
	KindExit         Kind = "EXIT"
)

// Kinds lists every known kind in declaration order.
var Kinds = []Kind{
	KindSetContext, KindAct, KindRevert, KindAlter, KindRemember, KindForget,
	KindNewGame, KindRestart, KindLoad, KindSave, KindToggleCensor, KindExit,
}

// Known reports whether k is part of the closed set.
func (k Kind) Known() bool {
	switch k {
	case KindSetContext, KindAct, KindRevert, KindAlter, KindRemember, KindForget,
		KindNewGame, KindRestart, KindLoad, KindSave, KindToggleCensor, KindExit:
		return true
	}
	return false
}

// Action is one normalized command routed to a single session.
type Action struct {
	Kind       Kind   `json:"kind"`
	SessionRef string `json:"sessionRef"`
	Text       string `json:"text,omitempty"`
	ID         string `json:"id,omitempty"`
	Flag       *bool  `json:"flag,omitempty"`
	Author     string `json:"author,omitempty"`

	// Seq is stamped by the queue on enqueue. Producers leave it zero.
	Seq uint64 `json:"seq,omitempty"`
}

// Validate enforces the kind-specific payload rules.
func (a Action) Validate() error {
	if !a.Kind.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, a.Kind)
	}
	if a.SessionRef == "" {
		return fmt.Errorf("%w: %s: missing sessionRef", ErrUserInput, a.Kind)
	}
	switch a.Kind {
	case KindSetContext, KindAct, KindAlter, KindRemember:
		if strings.TrimSpace(a.Text) == "" {
			return Reject(a.Kind, ErrUserInput, "Please enter something valid.")
		}
	case KindLoad:
		if strings.TrimSpace(a.ID) == "" {
			return Reject(a.Kind, ErrUserInput, "Please specify a save file to load.")
		}
	case KindToggleCensor:
		if a.Flag == nil {
			return Reject(a.Kind, ErrUserInput, "Please say whether the censor should be on or off.")
		}
	}
	return nil
}

// DecodeAction parses a queue message. Schema checks are left to Validate so the
// worker can tell unknown kinds apart from bad payloads.
func DecodeAction(data []byte) (Action, error) {
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return Action{}, fmt.Errorf("%w: decode action: %v", ErrUserInput, err)
	}
	return a, nil
}

// Bool returns a pointer to v, for building TOGGLE_CENSOR actions.
func Bool(v bool) *bool {
	return &v
}
