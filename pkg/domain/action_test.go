package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr error
	}{
		{"act", Action{Kind: KindAct, SessionRef: "r", Text: "look"}, nil},
		{"act empty", Action{Kind: KindAct, SessionRef: "r", Text: "  "}, ErrUserInput},
		{"missing ref", Action{Kind: KindRevert}, ErrUserInput},
		{"unknown", Action{Kind: "DANCE", SessionRef: "r"}, ErrUnknownKind},
		{"load without id", Action{Kind: KindLoad, SessionRef: "r"}, ErrUserInput},
		{"load", Action{Kind: KindLoad, SessionRef: "r", ID: "k1"}, nil},
		{"save without id", Action{Kind: KindSave, SessionRef: "r"}, nil},
		{"censor without flag", Action{Kind: KindToggleCensor, SessionRef: "r"}, ErrUserInput},
		{"censor", Action{Kind: KindToggleCensor, SessionRef: "r", Flag: Bool(false)}, nil},
		{"new game without context", Action{Kind: KindNewGame, SessionRef: "r"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestKinds_AllKnown(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Known(), k)
	}
	assert.False(t, Kind("act").Known())
}

func TestDecodeAction(t *testing.T) {
	a, err := DecodeAction([]byte(`{"kind":"TOGGLE_CENSOR","sessionRef":"chan-1","flag":false}`))
	require.NoError(t, err)
	assert.Equal(t, KindToggleCensor, a.Kind)
	assert.Equal(t, "chan-1", a.SessionRef)
	require.NotNil(t, a.Flag)
	assert.False(t, *a.Flag)
	assert.NoError(t, a.Validate())

	_, err = DecodeAction([]byte(`{"kind":`))
	assert.ErrorIs(t, err, ErrUserInput)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "You can't go back any farther.",
		UserMessage(Reject(KindRevert, ErrGuardViolation, "You can't go back any farther.")))
	assert.Equal(t, "Save file not found.", UserMessage(ErrSessionNotFound))
	assert.Contains(t, UserMessage(ErrBackendTimeout), "too long")
}
