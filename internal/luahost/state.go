package luahost

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/alexisbeaulieu97/conductor/internal/dispatch"
)

const stateTypeName = "conductor.state"

// registerStateType installs the shared state userdata methods into a state.
// Hooks receive the handle as ctx.state; property reads through `room` fall
// back to the same values, so scripts only need the handle to write:
//
//	state:get("key")
//	state:set("key", value)
//	state:has("key")
//	state:delete("key")
//	state:names()
func registerStateType(L *lua.LState) {
	mt := L.NewTypeMetatable(stateTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), stateMethods))
}

func newStateUserData(L *lua.LState, state dispatch.StateAccessor) lua.LValue {
	if state == nil {
		return lua.LNil
	}
	ud := L.NewUserData()
	ud.Value = state
	L.SetMetatable(ud, L.GetTypeMetatable(stateTypeName))
	return ud
}

var stateMethods = map[string]lua.LGFunction{
	"get":    stateGet,
	"set":    stateSet,
	"has":    stateHas,
	"delete": stateDelete,
	"names":  stateNames,
}

func checkState(L *lua.LState) dispatch.StateAccessor {
	ud := L.CheckUserData(1)
	if state, ok := ud.Value.(dispatch.StateAccessor); ok {
		return state
	}
	L.ArgError(1, "shared state handle expected")
	return nil
}

func stateGet(L *lua.LState) int {
	state := checkState(L)
	name := L.CheckString(2)
	value, ok := state.Get(name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, value))
	return 1
}

func stateSet(L *lua.LState) int {
	state := checkState(L)
	name := L.CheckString(2)
	state.Set(name, toGo(L.Get(3)))
	return 0
}

func stateHas(L *lua.LState) int {
	state := checkState(L)
	L.Push(lua.LBool(state.Has(L.CheckString(2))))
	return 1
}

func stateDelete(L *lua.LState) int {
	state := checkState(L)
	L.Push(lua.LBool(state.Delete(L.CheckString(2))))
	return 1
}

func stateNames(L *lua.LState) int {
	state := checkState(L)
	L.Push(toLua(L, state.Names()))
	return 1
}
