package dispatch

import "github.com/alexisbeaulieu97/conductor/internal/plugin"

// StateAccessor is the shared state handle passed to hooks. The session's
// shared state satisfies it.
type StateAccessor interface {
	Get(name string) (any, bool)
	Set(name string, value any)
	Has(name string) bool
	Delete(name string) bool
	Names() []string
}

// HookContext is handed to every pre hook, validator and post hook call.
type HookContext struct {
	// Event is the name the current firing was triggered under.
	Event string
	// Plugin is the name of the plugin that registered the hook.
	Plugin string
	// State is the session's shared state.
	State StateAccessor
	// Meta is the hook plugin's view of the firing metadata.
	Meta *MetaView
}

// HookFunc is the shape of pre hooks, validators and post hooks. Pre hooks
// may return an ordered sequence to replace the firing's argument list.
// Validators invalidate the firing by returning exactly false. Post hook
// return values are ignored.
type HookFunc func(ctx *HookContext, args ...any) (any, error)

type hookEntry struct {
	id plugin.ID
	fn HookFunc
}

// hookTable keeps hook registrations per event name in registration order.
// It is not safe for concurrent use on its own; the dispatcher guards it.
type hookTable struct {
	byEvent map[string][]hookEntry
}

func newHookTable() hookTable {
	return hookTable{byEvent: make(map[string][]hookEntry)}
}

func (t *hookTable) add(id plugin.ID, events []string, fn HookFunc) {
	if fn == nil {
		return
	}
	for _, event := range events {
		if event == "" {
			continue
		}
		t.byEvent[event] = append(t.byEvent[event], hookEntry{id: id, fn: fn})
	}
}

func (t *hookTable) removePlugin(id plugin.ID) {
	for event, entries := range t.byEvent {
		kept := entries[:0]
		for _, e := range entries {
			if e.id != id {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(t.byEvent, event)
			continue
		}
		t.byEvent[event] = kept
	}
}

// snapshot copies the entries for one event so callers can iterate without
// holding the dispatcher lock while hook code runs.
func (t *hookTable) snapshot(event string) []hookEntry {
	entries := t.byEvent[event]
	if len(entries) == 0 {
		return nil
	}
	out := make([]hookEntry, len(entries))
	copy(out, entries)
	return out
}
