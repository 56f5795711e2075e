package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeState struct {
	Turn  int    `json:"turn"`
	Stage string `json:"stage"`
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	saver := NewMemory()

	_, found, err := Load[probeState](ctx, saver, "t1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, Save(ctx, saver, "t1", &probeState{Turn: 1, Stage: "clarify"}))

	state, found, err := Load[probeState](ctx, saver, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, state.Turn)
	assert.Equal(t, "clarify", state.Stage)
}

func TestMemoryThreadsIndependent(t *testing.T) {
	ctx := context.Background()
	saver := NewMemory()

	require.NoError(t, Save(ctx, saver, "a", &probeState{Turn: 1}))
	require.NoError(t, Save(ctx, saver, "b", &probeState{Turn: 2}))

	a, _, err := Load[probeState](ctx, saver, "a")
	require.NoError(t, err)
	b, _, err := Load[probeState](ctx, saver, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Turn)
	assert.Equal(t, 2, b.Turn)
}

func TestMemoryCopiesState(t *testing.T) {
	ctx := context.Background()
	saver := NewMemory()

	raw := []byte(`{"turn":1}`)
	require.NoError(t, saver.Put(ctx, "t1", raw))
	raw[2] = 'x' // mutate the caller's buffer

	state, _, err := Load[probeState](ctx, saver, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Turn)
}
