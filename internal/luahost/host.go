// Package luahost runs Lua plugin scripts against a session. Each script
// gets its own sandboxed interpreter state and a `room` global whose
// properties and on-prefixed handler assignments forward to the plugin's
// session view.
package luahost

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/alexisbeaulieu97/conductor/internal/dispatch"
	"github.com/alexisbeaulieu97/conductor/internal/logger"
	"github.com/alexisbeaulieu97/conductor/internal/plugin"
	"github.com/alexisbeaulieu97/conductor/internal/session"
	conductorerrors "github.com/alexisbeaulieu97/conductor/pkg/errors"
)

type instance struct {
	id     plugin.ID
	path   string
	config map[string]any
	state  *lua.LState
}

// Host loads Lua plugins into a session and owns their interpreter states.
// Lua states are not goroutine safe; callbacks run on the goroutine that
// fires the event, which must be the same goroutine that loads and reloads
// scripts.
type Host struct {
	mu      sync.Mutex
	session *session.Session
	log     *logger.Logger
	plugins map[plugin.ID]*instance
	byPath  map[string]plugin.ID
}

// New creates a host bound to a session.
func New(sess *session.Session, log *logger.Logger) *Host {
	return &Host{
		session: sess,
		log:     log,
		plugins: make(map[plugin.ID]*instance),
		byPath:  make(map[string]plugin.ID),
	}
}

// Session returns the session this host loads plugins into.
func (h *Host) Session() *session.Session {
	return h.session
}

// LoadFile reads and runs a plugin script. The returned identity is live:
// handlers the script registered fire on the next matching trigger.
func (h *Host) LoadFile(path string, config map[string]any) (plugin.ID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", conductorerrors.NewPluginError(filepath.Base(path), err)
	}
	source, err := os.ReadFile(abs)
	if err != nil {
		return "", conductorerrors.NewPluginError(filepath.Base(path), err)
	}
	return h.LoadSource(abs, string(source), config)
}

// LoadSource runs a plugin script from memory. path labels the plugin and
// keys reloads; it does not need to exist on disk.
func (h *Host) LoadSource(path, source string, config map[string]any) (plugin.ID, error) {
	label := filepath.Base(path)

	id := h.session.BeginPlugin(config)
	view := h.session.Scope(id)

	L := newState()
	registerMetaType(L)
	registerStateType(L)
	h.installRoomAPI(L, view, chunkKey(source))

	if err := L.DoString(source); err != nil {
		L.Close()
		h.session.RemovePlugin(id)
		return "", conductorerrors.NewPluginError(label, err)
	}
	if err := h.session.FinishPlugin(id); err != nil {
		L.Close()
		h.session.RemovePlugin(id)
		return "", err
	}

	h.mu.Lock()
	h.plugins[id] = &instance{id: id, path: path, config: config, state: L}
	h.byPath[path] = id
	h.mu.Unlock()

	h.log.WithPlugin(h.session.PluginName(id)).Debug("lua plugin loaded")
	return id, nil
}

// Reload replaces the plugin loaded from path with a fresh run of the
// current file contents. The old instance is removed first so the new one
// can reclaim the declared plugin name.
func (h *Host) Reload(path string) (plugin.ID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", conductorerrors.NewPluginError(filepath.Base(path), err)
	}

	h.mu.Lock()
	oldID, known := h.byPath[abs]
	var config map[string]any
	if known {
		if inst, ok := h.plugins[oldID]; ok {
			config = inst.config
		}
	}
	h.mu.Unlock()

	if known {
		h.Remove(oldID)
	}
	return h.LoadFile(abs, config)
}

// Remove unloads a plugin and closes its interpreter state.
func (h *Host) Remove(id plugin.ID) bool {
	h.mu.Lock()
	inst, ok := h.plugins[id]
	if ok {
		delete(h.plugins, id)
		delete(h.byPath, inst.path)
	}
	h.mu.Unlock()

	removed := h.session.RemovePlugin(id)
	if ok {
		inst.state.Close()
	}
	return ok || removed
}

// Plugins lists the loaded script identities.
func (h *Host) Plugins() []plugin.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]plugin.ID, 0, len(h.plugins))
	for id := range h.plugins {
		ids = append(ids, id)
	}
	return ids
}

// Close unloads every plugin and releases all interpreter states.
func (h *Host) Close() {
	h.mu.Lock()
	instances := make([]*instance, 0, len(h.plugins))
	for _, inst := range h.plugins {
		instances = append(instances, inst)
	}
	h.plugins = make(map[plugin.ID]*instance)
	h.byPath = make(map[string]plugin.ID)
	h.mu.Unlock()

	for _, inst := range instances {
		h.session.RemovePlugin(inst.id)
		inst.state.Close()
	}
}

// newState creates an interpreter with the safe library subset: base, table,
// string and math. io, os, debug and package stay closed to scripts, and the
// chunk loading builtins are stubbed out.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// installRoomAPI builds the `room` global as a proxy table. The raw table
// stays empty so every read and write goes through the metamethods: reads
// resolve builtins first and fall back to properties, writes always reach
// the handler or property path.
func (h *Host) installRoomAPI(L *lua.LState, view *session.View, chunk string) {
	builtins := map[string]lua.LValue{
		"log": L.NewFunction(func(L *lua.LState) int {
			view.Log().Info(L.CheckString(1))
			return 0
		}),
		"trigger": L.NewFunction(func(L *lua.LState) int {
			event := L.CheckString(1)
			args := make([]any, 0, L.GetTop()-1)
			for i := 2; i <= L.GetTop(); i++ {
				args = append(args, toGo(L.Get(i)))
			}
			result, err := view.Trigger(event, args...)
			if err != nil {
				L.RaiseError("%v", err)
				return 0
			}
			L.Push(lua.LBool(result))
			return 1
		}),
		"name": L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LString(view.Plugin()))
			return 1
		}),
		"session": L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LString(view.SessionName()))
			return 1
		}),
		"config": L.NewFunction(func(L *lua.LState) int {
			L.Push(toLua(L, view.Config()))
			return 1
		}),
		"enabled": L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LBool(view.Enabled()))
			return 1
		}),
		"property_names": L.NewFunction(func(L *lua.LState) int {
			L.Push(toLua(L, view.Names()))
			return 1
		}),
		"add_pre_hook":  h.hookFunc(L, view.AddPreHook),
		"add_post_hook": h.hookFunc(L, view.AddPostHook),
		"add_validator": h.hookFunc(L, view.AddValidator),
	}

	room := L.NewTable()
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if builtin, ok := builtins[key]; ok {
			L.Push(builtin)
			return 1
		}
		value, ok := view.Get(key)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, value))
		return 1
	}))
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		h.assign(L, view, chunk, key, L.Get(3))
		return 0
	}))
	L.SetMetatable(room, mt)
	L.SetGlobal("room", room)
}

// assign implements `room.<key> = value`. On-prefixed keys holding a
// function register handlers; the `{fn = ..., meta = true}` table form opts
// the handler into metadata injection. Anything else is a property write,
// with nil clearing the entry.
func (h *Host) assign(L *lua.LState, view *session.View, chunk, key string, value lua.LValue) {
	if plugin.IsHandlerName(key) {
		switch v := value.(type) {
		case *lua.LFunction:
			h.setLuaHandler(L, view, chunk, key, v, false)
			return
		case *lua.LTable:
			if fn, ok := v.RawGetString("fn").(*lua.LFunction); ok {
				h.setLuaHandler(L, view, chunk, key, fn, lua.LVAsBool(v.RawGetString("meta")))
				return
			}
		case *lua.LNilType:
			if view.HasHandler(key) {
				view.UnsetHandler(key)
				return
			}
		}
	}

	if value == lua.LNil {
		view.Delete(key)
		return
	}
	view.Set(key, toGo(value))
}

func (h *Host) setLuaHandler(L *lua.LState, view *session.View, chunk, event string, fn *lua.LFunction, wantsMeta bool) {
	if err := view.SetHandler(event, h.luaHandler(L, chunk, fn, wantsMeta)); err != nil {
		L.RaiseError("%v", err)
	}
}

// luaHandler wraps a Lua function as an engine handler. The parameter
// descriptor is read from the compiled prototype and memoized under the
// chunk's content hash, so reloading identical source reuses the cached
// description.
func (h *Host) luaHandler(L *lua.LState, chunk string, fn *lua.LFunction, wantsMeta bool) *dispatch.Handler {
	desc := dispatch.Descriptor{}
	if fn.Proto != nil {
		numParams := int(fn.Proto.NumParameters)
		desc = h.session.Injector().DescriptorForKey(
			fmt.Sprintf("%s:%d:%t", chunk, fn.Proto.LineDefined, wantsMeta),
			func() dispatch.Descriptor {
				return dispatch.Descriptor{
					NumParams: numParams,
					WantsMeta: wantsMeta && numParams > 0,
				}
			},
		)
	}

	call := func(args []any) (any, error) {
		luaArgs := make([]lua.LValue, len(args))
		for i, a := range args {
			luaArgs[i] = toLua(L, a)
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
			return nil, err
		}
		ret := L.Get(-1)
		L.Pop(1)
		return toGo(ret), nil
	}
	return dispatch.NewHandler(call, desc)
}

// hookFunc adapts one of the view's hook registration methods into the Lua
// form `room.add_pre_hook(events, fn)`, where events is a string or an array
// of strings. The hook receives a ctx table with event, plugin, meta and
// state fields followed by the firing's arguments.
func (h *Host) hookFunc(L *lua.LState, register func([]string, dispatch.HookFunc)) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		names := toStringList(L.Get(1))
		fn := L.CheckFunction(2)
		if len(names) == 0 {
			L.ArgError(1, "event name or list of event names expected")
			return 0
		}
		register(names, h.luaHook(L, fn))
		return 0
	})
}

func (h *Host) luaHook(L *lua.LState, fn *lua.LFunction) dispatch.HookFunc {
	return func(ctx *dispatch.HookContext, args ...any) (any, error) {
		ctxTable := L.NewTable()
		ctxTable.RawSetString("event", lua.LString(ctx.Event))
		ctxTable.RawSetString("plugin", lua.LString(ctx.Plugin))
		ctxTable.RawSetString("meta", newMetaUserData(L, ctx.Meta))
		ctxTable.RawSetString("state", newStateUserData(L, ctx.State))

		luaArgs := make([]lua.LValue, 0, len(args)+1)
		luaArgs = append(luaArgs, ctxTable)
		for _, a := range args {
			luaArgs = append(luaArgs, toLua(L, a))
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, luaArgs...); err != nil {
			return nil, err
		}
		ret := L.Get(-1)
		L.Pop(1)
		return toGo(ret), nil
	}
}

func chunkKey(source string) string {
	h := fnv.New64a()
	h.Write([]byte(source))
	return fmt.Sprintf("lua:%x", h.Sum64())
}
