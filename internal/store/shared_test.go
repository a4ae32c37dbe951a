package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSharedStateRoundtrip(t *testing.T) {
	t.Parallel()

	shared := NewSharedState(map[string]any{"seeded": 1})
	shared.Set("mapName", "divided")

	require.True(t, shared.Has("seeded"))
	v, ok := shared.Get("mapName")
	require.True(t, ok)
	require.Equal(t, "divided", v)

	require.Equal(t, []string{"mapName", "seeded"}, shared.Names())

	require.True(t, shared.Delete("seeded"))
	require.False(t, shared.Delete("seeded"))
	require.Equal(t, []string{"mapName"}, shared.Names())
}

func TestSharedStateSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	shared := NewSharedState(nil)
	shared.Set("k", "v")

	snapshot := shared.Snapshot()
	snapshot["k"] = "mutated"

	v, _ := shared.Get("k")
	require.Equal(t, "v", v)
}

func TestNewSharedStateCopiesSeed(t *testing.T) {
	t.Parallel()

	seed := map[string]any{"k": "v"}
	shared := NewSharedState(seed)
	seed["k"] = "mutated"

	v, _ := shared.Get("k")
	require.Equal(t, "v", v)
}
