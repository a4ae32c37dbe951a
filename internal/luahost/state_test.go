package luahost

import (
	"testing"

	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/alexisbeaulieu97/conductor/internal/store"
)

func TestStateUserDataMethods(t *testing.T) {
	t.Parallel()

	L := lua.NewState()
	defer L.Close()
	registerStateType(L)

	shared := store.NewSharedState(map[string]any{"motd": "welcome", "round": 3})
	L.SetGlobal("s", newStateUserData(L, shared))

	require.NoError(t, L.DoString(`
		s:set("round", s:get("round") + 1)
		had = s:has("motd")
		gone = s:delete("motd")
		gone_again = s:delete("motd")
		missing = s:get("motd")
		names = s:names()
	`))

	round, ok := shared.Get("round")
	require.True(t, ok)
	require.Equal(t, int64(4), round)
	require.Equal(t, true, toGo(L.GetGlobal("had")))
	require.Equal(t, true, toGo(L.GetGlobal("gone")))
	require.Equal(t, false, toGo(L.GetGlobal("gone_again")))
	require.Nil(t, toGo(L.GetGlobal("missing")))
	require.Equal(t, []any{"round"}, toGo(L.GetGlobal("names")))
}

func TestStateUserDataNilHandle(t *testing.T) {
	t.Parallel()

	L := lua.NewState()
	defer L.Close()
	registerStateType(L)

	require.Equal(t, lua.LNil, newStateUserData(L, nil))
}
