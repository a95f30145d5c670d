package domain

import (
	"slices"

	"github.com/google/uuid"
)

// Phase is the lifecycle stage of a Session.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized" // No premise yet
	PhaseContextSet    Phase = "context_set"   // Premise set, no turns
	PhaseActive        Phase = "active"        // At least one action/result pair
	PhaseExited        Phase = "exited"        // Worker stopped consuming
)

// Session is the narrative timeline of one story.
// It is owned by a single worker; everything else sees clones.
type Session struct {
	// ID is the save identifier. It only changes through an explicit rename (SAVE with id).
	ID string `json:"id"`

	// Context is the free text premise of the story.
	Context string `json:"context"`

	// Actions and Results are paired turns: Actions[i] produced Results[i].
	Actions []string `json:"actions"`
	Results []string `json:"results"`

	// Memory holds permanent facts, independent of the turn timeline.
	Memory []string `json:"memory"`

	// Censor is forwarded to the generation backend and never interpreted here.
	Censor bool `json:"censor"`
}

// NewID returns a random save identifier.
func NewID() string {
	return uuid.NewString()
}

// NewSession creates an Uninitialized session with a random id.
func NewSession() *Session {
	return &Session{
		ID:      NewID(),
		Actions: []string{},
		Results: []string{},
		Memory:  []string{},
		Censor:  true,
	}
}

// Phase derives the lifecycle stage from the fields.
func (s *Session) Phase() Phase {
	switch {
	case s.Context == "":
		return PhaseUninitialized
	case len(s.Actions) == 0:
		return PhaseContextSet
	default:
		return PhaseActive
	}
}

// Clone returns a deep copy. Nil sequences come back empty.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	return &Session{
		ID:      s.ID,
		Context: s.Context,
		Actions: cloneStrings(s.Actions),
		Results: cloneStrings(s.Results),
		Memory:  cloneStrings(s.Memory),
		Censor:  s.Censor,
	}
}

// Validate checks the structural invariants of the timeline.
func (s *Session) Validate() error {
	if len(s.Actions) != len(s.Results) {
		return Corrupt("%d actions but %d results", len(s.Actions), len(s.Results))
	}
	if s.Context == "" && len(s.Actions) > 0 {
		return Corrupt("turns recorded without a context")
	}
	return nil
}

// LastAction returns the tail of Actions, or "".
func (s *Session) LastAction() string {
	if len(s.Actions) == 0 {
		return ""
	}
	return s.Actions[len(s.Actions)-1]
}

// LastResult returns the tail of Results, or "".
func (s *Session) LastResult() string {
	if len(s.Results) == 0 {
		return ""
	}
	return s.Results[len(s.Results)-1]
}

// Turns returns the timeline as action/result pairs.
func (s *Session) Turns() []Turn {
	n := min(len(s.Actions), len(s.Results))
	turns := make([]Turn, n)
	for i := range n {
		turns[i] = Turn{Action: s.Actions[i], Result: s.Results[i]}
	}
	return turns
}

// Equal reports whether a and b hold the same story. Nil and empty sequences compare equal.
func Equal(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID &&
		a.Context == b.Context &&
		a.Censor == b.Censor &&
		slices.Equal(a.Actions, b.Actions) &&
		slices.Equal(a.Results, b.Results) &&
		slices.Equal(a.Memory, b.Memory)
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
