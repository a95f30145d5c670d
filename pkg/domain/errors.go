package domain

import (
	"errors"
	"fmt"
)

// ErrUserInput is returned for malformed commands (missing or empty fields).
var ErrUserInput = errors.New("invalid input")

// ErrGuardViolation is returned when a valid command does not apply to the current state.
var ErrGuardViolation = errors.New("action not allowed in current state")

// ErrBackendTimeout is returned when the generation backend exceeds its deadline.
var ErrBackendTimeout = errors.New("generation timed out")

// ErrBackendRequest is returned when the generation backend fails.
var ErrBackendRequest = errors.New("generation failed")

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrCorruptRecord is returned when a persisted record fails structural validation.
var ErrCorruptRecord = errors.New("corrupt session record")

// ErrUnknownKind is returned when an action carries a kind this build does not know.
var ErrUnknownKind = errors.New("unknown action kind")

// ErrQueueFull is returned when an action queue is at capacity.
var ErrQueueFull = errors.New("action queue is full")

// ErrQueueClosed is returned by a queue after Close.
var ErrQueueClosed = errors.New("action queue is closed")

// ActionError pairs a taxonomy sentinel with a message meant for players.
type ActionError struct {
	Kind Kind
	Err  error
	Msg  string
}

func (e *ActionError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Kind, e.Err, e.Msg)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// Reject builds an ActionError for kind wrapping sentinel.
func Reject(kind Kind, sentinel error, msg string) error {
	return &ActionError{Kind: kind, Err: sentinel, Msg: msg}
}

// UserMessage renders err as a line suitable for the output sink.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *ActionError
	if errors.As(err, &ae) && ae.Msg != "" {
		return ae.Msg
	}
	switch {
	case errors.Is(err, ErrBackendTimeout):
		return "The story took too long to continue. Try again."
	case errors.Is(err, ErrBackendRequest):
		return "The story could not be continued. Try again."
	case errors.Is(err, ErrSessionNotFound):
		return "Save file not found."
	case errors.Is(err, ErrCorruptRecord):
		return "Save file is damaged and cannot be loaded."
	case errors.Is(err, ErrQueueFull):
		return "Too many commands are waiting. Try again shortly."
	case errors.Is(err, ErrUserInput):
		return "Please enter something valid."
	case errors.Is(err, ErrGuardViolation):
		return "That cannot be done right now."
	}
	return "Something went wrong; aborting."
}
