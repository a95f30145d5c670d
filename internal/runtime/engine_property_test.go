package runtime_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/aretw0/tapestry/internal/runtime"
	"github.com/aretw0/tapestry/pkg/adapters/memory"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyGenerator fails every third call and otherwise echoes the action.
func flakyGenerator() ports.Generator {
	calls := 0
	return ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
		calls++
		if calls%3 == 0 {
			return "", fmt.Errorf("unavailable")
		}
		return "You " + p.Action + ".", nil
	})
}

func randomAction(rng *rand.Rand) domain.Action {
	texts := []string{"", "  ", "look", "that the door is open", "run!", "?"}
	ids := []string{"", "slot-a", "slot-b", "missing"}
	a := domain.Action{SessionRef: ref}
	kinds := append([]domain.Kind{"BOGUS"}, domain.Kinds...)
	a.Kind = kinds[rng.Intn(len(kinds))]
	a.Text = texts[rng.Intn(len(texts))]
	a.ID = ids[rng.Intn(len(ids))]
	if rng.Intn(2) == 0 {
		a.Flag = domain.Bool(rng.Intn(2) == 0)
	}
	return a
}

func TestEngine_InvariantsHoldUnderRandomSequences(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		e := runtime.NewEngine(flakyGenerator(), memory.NewStore())
		s := domain.NewSession()

		for step := 0; step < 200; step++ {
			a := randomAction(rng)
			if a.Kind == domain.KindExit {
				continue
			}
			before := s.Clone()
			out, err := e.Apply(context.Background(), s, a)
			if err != nil {
				require.True(t, domain.Equal(before, s), "seed %d step %d: failed %s mutated session", seed, step, a.Kind)
				continue
			}
			s = out.Session
			require.NoError(t, s.Validate(), "seed %d step %d after %s", seed, step, a.Kind)
		}
	}
}

func TestEngine_UndoLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e := runtime.NewEngine(reply("Something happens."), nil)

	s := &domain.Session{ID: "a", Context: "c"}
	for i := 0; i < 50; i++ {
		s = apply(t, e, s, domain.Action{Kind: domain.KindAct, Text: fmt.Sprintf("step %d", rng.Intn(1000))})
		before := s.Clone()

		acted := apply(t, e, s, domain.Action{Kind: domain.KindAct, Text: "try again"})
		reverted := apply(t, e, acted, domain.Action{Kind: domain.KindRevert})
		assert.True(t, domain.Equal(before, reverted), "revert(act(S)) != S at %d", i)
	}
}

func TestEngine_MemoryStackLaw(t *testing.T) {
	e := runtime.NewEngine(reply("ok"), nil)
	s := &domain.Session{ID: "a", Context: "c", Memory: []string{"First."}}
	for _, fact := range []string{"you have a shield", "that the king is dead", "dragons fear water!"} {
		before := s.Clone()
		remembered := apply(t, e, s, domain.Action{Kind: domain.KindRemember, Text: fact})
		forgotten := apply(t, e, remembered, domain.Action{Kind: domain.KindForget})
		assert.True(t, domain.Equal(before, forgotten))
		s = remembered
	}
}

func TestEngine_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := runtime.NewEngine(reply("ok"), memory.NewStore())
	sessions := []*domain.Session{
		{ID: "empty", Actions: []string{}, Results: []string{}, Memory: []string{}},
		{ID: "ctx", Context: "c", Censor: true},
		{ID: "full", Context: "c", Actions: []string{"a"}, Results: []string{"r"}, Memory: []string{"M."}},
	}
	for _, s := range sessions {
		saved := apply(t, e, s, domain.Action{Kind: domain.KindSave})
		out, err := e.Apply(ctx, domain.NewSession(), domain.Action{Kind: domain.KindLoad, SessionRef: ref, ID: s.ID})
		require.NoError(t, err)
		assert.True(t, domain.Equal(saved, out.Session), "%s did not round trip", s.ID)
	}
}
