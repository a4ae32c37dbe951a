package luahost

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/alexisbeaulieu97/conductor/internal/dispatch"
)

const metaTypeName = "conductor.meta"

// registerMetaType installs the metadata view userdata methods into a state.
// Scripts receive a view as the injected handler parameter or as ctx.meta in
// hooks:
//
//	meta:set("key", value)
//	meta:get("key")
//	meta:return_value("other-plugin")
//	meta:returns()
//	meta:plugin()
//	meta:event()
func registerMetaType(L *lua.LState) {
	mt := L.NewTypeMetatable(metaTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), metaMethods))
}

func newMetaUserData(L *lua.LState, view *dispatch.MetaView) lua.LValue {
	if view == nil {
		return lua.LNil
	}
	ud := L.NewUserData()
	ud.Value = view
	L.SetMetatable(ud, L.GetTypeMetatable(metaTypeName))
	return ud
}

var metaMethods = map[string]lua.LGFunction{
	"get":          metaGet,
	"set":          metaSet,
	"return_value": metaReturnValue,
	"returns":      metaReturns,
	"plugin":       metaPlugin,
	"event":        metaEvent,
}

func checkMetaView(L *lua.LState) *dispatch.MetaView {
	ud := L.CheckUserData(1)
	if view, ok := ud.Value.(*dispatch.MetaView); ok {
		return view
	}
	L.ArgError(1, "metadata view expected")
	return nil
}

func metaGet(L *lua.LState) int {
	view := checkMetaView(L)
	key := L.CheckString(2)
	value, ok := view.Get(key)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, value))
	return 1
}

func metaSet(L *lua.LState) int {
	view := checkMetaView(L)
	key := L.CheckString(2)
	view.Set(key, toGo(L.Get(3)))
	return 0
}

func metaReturnValue(L *lua.LState) int {
	view := checkMetaView(L)
	name := L.CheckString(2)
	value, ok := view.ReturnValue(name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, value))
	return 1
}

func metaReturns(L *lua.LState) int {
	view := checkMetaView(L)
	L.Push(toLua(L, view.Returns()))
	return 1
}

func metaPlugin(L *lua.LState) int {
	view := checkMetaView(L)
	L.Push(lua.LString(view.Plugin()))
	return 1
}

func metaEvent(L *lua.LState) int {
	view := checkMetaView(L)
	L.Push(lua.LString(view.Event()))
	return 1
}
