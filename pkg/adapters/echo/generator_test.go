package echo_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tapestry/pkg/adapters/echo"
	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Deterministic(t *testing.T) {
	gen := echo.New()
	p := domain.Prompt{Context: "c", Action: "open the door"}

	first, err := gen.Generate(context.Background(), p)
	require.NoError(t, err)
	second, err := gen.Generate(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, "You open the door. Nothing else happens.", first)
	assert.Equal(t, first, second)
}

func TestGenerator_Template(t *testing.T) {
	gen := echo.New(echo.WithTemplate("[%s]"))
	text, err := gen.Generate(context.Background(), domain.Prompt{Action: "wait"})
	require.NoError(t, err)
	assert.Equal(t, "[wait]", text)
}

func TestGenerator_DelayHonorsContext(t *testing.T) {
	gen := echo.New(echo.WithDelay(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := gen.Generate(ctx, domain.Prompt{Action: "wait"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
