// Package store keeps per plugin handlers and properties for one session.
// Storage is keyed by plugin identity, auto provisioned on first write, and
// backs both the dispatcher's handler lookups and the order resolver's view
// of events and constraints.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/conductor/internal/dispatch"
	"github.com/alexisbeaulieu97/conductor/internal/events"
	"github.com/alexisbeaulieu97/conductor/internal/plugin"
)

// ReservedPrefix marks property names that resolve locally only and never
// fall back to shared state.
const ReservedPrefix = "_"

// IsReserved reports whether a property name is local only.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

type record struct {
	handlers map[string]*dispatch.Handler
	props    map[string]any
}

func newRecord() *record {
	return &record{
		handlers: make(map[string]*dispatch.Handler),
		props:    make(map[string]any),
	}
}

// Options configures a Store.
type Options struct {
	// Shared is the session's fallback state. Required.
	Shared *SharedState
	// Notify receives a notification for every handler and property
	// mutation. Optional.
	Notify func(events.Event)
}

// Store holds all plugin registrations for a session.
type Store struct {
	mu         sync.RWMutex
	plugins    map[plugin.ID]*record
	eventOrder map[string][]plugin.ID
	idByName   map[string]plugin.ID
	nameByID   map[plugin.ID]string
	specs      map[plugin.ID]*plugin.Spec
	shared     *SharedState
	notify     func(events.Event)
	invalidate func()
}

// New creates an empty Store.
func New(opts Options) *Store {
	shared := opts.Shared
	if shared == nil {
		shared = NewSharedState(nil)
	}
	return &Store{
		plugins:    make(map[plugin.ID]*record),
		eventOrder: make(map[string][]plugin.ID),
		idByName:   make(map[string]plugin.ID),
		nameByID:   make(map[plugin.ID]string),
		specs:      make(map[plugin.ID]*plugin.Spec),
		shared:     shared,
		notify:     opts.Notify,
	}
}

// OnChange registers the callback invoked after any mutation that can affect
// execution ordering. The order resolver uses it to mark cached orders
// stale. Must be set before the store is shared across goroutines.
func (s *Store) OnChange(fn func()) {
	s.invalidate = fn
}

// Shared returns the session's shared state.
func (s *Store) Shared() *SharedState {
	return s.shared
}

// RegisterHandler binds a callback to an event name for the plugin identity.
// Re-registering replaces the callback but keeps the identity's original
// position in the event's registration order. A nil handler unregisters.
func (s *Store) RegisterHandler(id plugin.ID, event string, h *dispatch.Handler) {
	if event == "" {
		return
	}
	if h == nil {
		s.UnregisterHandler(id, event)
		return
	}

	s.mu.Lock()
	rec := s.ensureLocked(id)
	_, existed := rec.handlers[event]
	rec.handlers[event] = h
	if !existed {
		s.eventOrder[event] = append(s.eventOrder[event], id)
	}
	name := s.displayNameLocked(id)
	s.mu.Unlock()

	s.changed()
	s.publish(events.HandlerSet, map[string]any{"plugin": name, "event": event})
}

// UnregisterHandler removes the identity's callback for an event. Removing a
// handler that was never registered is a no-op.
func (s *Store) UnregisterHandler(id plugin.ID, event string) {
	s.mu.Lock()
	rec, ok := s.plugins[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := rec.handlers[event]; !ok {
		s.mu.Unlock()
		return
	}
	delete(rec.handlers, event)
	s.dropFromOrderLocked(event, id)
	name := s.displayNameLocked(id)
	s.mu.Unlock()

	s.changed()
	s.publish(events.HandlerUnset, map[string]any{"plugin": name, "event": event})
}

// HasHandler reports whether the identity has a callback for the event.
func (s *Store) HasHandler(id plugin.ID, event string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.plugins[id]
	if !ok {
		return false
	}
	_, ok = rec.handlers[event]
	return ok
}

// Handler returns the identity's callback for the event.
func (s *Store) Handler(id plugin.ID, event string) (*dispatch.Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.plugins[id]
	if !ok {
		return nil, false
	}
	h, ok := rec.handlers[event]
	return h, ok
}

// HandlerNames lists the event names the identity handles, sorted.
func (s *Store) HandlerNames(id plugin.ID) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.plugins[id]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(rec.handlers))
	for name := range rec.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetProperty stores a plugin local property value. Setting the plugin spec
// property additionally records the parsed spec and binds the declared
// plugin name to the identity. The binding is permanent for the identity's
// lifetime; unsetting the property does not undo it.
func (s *Store) SetProperty(id plugin.ID, name string, value any) {
	if name == "" {
		return
	}

	s.mu.Lock()
	rec := s.ensureLocked(id)
	rec.props[name] = value
	orderingChanged := false
	if name == plugin.SpecProperty {
		if spec, ok := plugin.SpecFromValue(value); ok {
			s.specs[id] = spec
			if spec.Name != "" {
				s.bindNameLocked(id, spec.Name)
			}
			orderingChanged = true
		}
	}
	display := s.displayNameLocked(id)
	s.mu.Unlock()

	if orderingChanged {
		s.changed()
	}
	s.publish(events.PropertySet, map[string]any{"plugin": display, "property": name})
}

// UnsetProperty removes a plugin local property, reporting whether a value
// was present. Shared state and spec name bindings are untouched.
func (s *Store) UnsetProperty(id plugin.ID, name string) bool {
	s.mu.Lock()
	rec, ok := s.plugins[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if _, ok := rec.props[name]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(rec.props, name)
	display := s.displayNameLocked(id)
	s.mu.Unlock()

	s.publish(events.PropertyUnset, map[string]any{"plugin": display, "property": name})
	return true
}

// Property reads a property for the identity. Local values win; names
// without a local value fall back to shared state unless reserved.
func (s *Store) Property(id plugin.ID, name string) (any, bool) {
	s.mu.RLock()
	if rec, ok := s.plugins[id]; ok {
		if v, ok := rec.props[name]; ok {
			s.mu.RUnlock()
			return v, true
		}
	}
	s.mu.RUnlock()

	if IsReserved(name) {
		return nil, false
	}
	return s.shared.Get(name)
}

// HasProperty reports whether Property would find a value.
func (s *Store) HasProperty(id plugin.ID, name string) bool {
	_, ok := s.Property(id, name)
	return ok
}

// PropertyNames lists every name visible to the identity: local properties
// plus non reserved shared names, deduplicated and sorted.
func (s *Store) PropertyNames(id plugin.ID) []string {
	seen := make(map[string]struct{})
	s.mu.RLock()
	if rec, ok := s.plugins[id]; ok {
		for name := range rec.props {
			seen[name] = struct{}{}
		}
	}
	s.mu.RUnlock()

	for _, name := range s.shared.Names() {
		if !IsReserved(name) {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemovePlugin drops every handler, property and spec recorded for the
// identity, reporting whether anything was stored. The name binding is
// released so a reloaded plugin can claim it again.
func (s *Store) RemovePlugin(id plugin.ID) bool {
	s.mu.Lock()
	rec, ok := s.plugins[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	for event := range rec.handlers {
		s.dropFromOrderLocked(event, id)
	}
	delete(s.plugins, id)
	delete(s.specs, id)
	if name, ok := s.nameByID[id]; ok {
		delete(s.nameByID, id)
		if s.idByName[name] == id {
			delete(s.idByName, name)
		}
	}
	s.mu.Unlock()

	s.changed()
	return true
}

// Spec returns the parsed plugin spec recorded for the identity.
func (s *Store) Spec(id plugin.ID) (*plugin.Spec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[id]
	return spec, ok
}

// EventNames lists every event with at least one registered handler, sorted.
func (s *Store) EventNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.eventOrder))
	for name := range s.eventOrder {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandlersFor returns the identities handling an event in registration
// order.
func (s *Store) HandlersFor(event string) []plugin.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.eventOrder[event]
	if len(ids) == 0 {
		return nil
	}
	out := make([]plugin.ID, len(ids))
	copy(out, ids)
	return out
}

// ConstraintsFor returns the ordering constraint the identity's spec
// declares for an event, falling back to the spec's wildcard entry.
func (s *Store) ConstraintsFor(id plugin.ID, event string) plugin.Constraint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.specs[id].ConstraintFor(event)
}

// ResolveName maps a declared plugin name to its identity.
func (s *Store) ResolveName(name string) (plugin.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idByName[name]
	return id, ok
}

// PluginName returns the declared name bound to the identity, or empty.
func (s *Store) PluginName(id plugin.ID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nameByID[id]
}

func (s *Store) ensureLocked(id plugin.ID) *record {
	rec, ok := s.plugins[id]
	if !ok {
		rec = newRecord()
		s.plugins[id] = rec
	}
	return rec
}

func (s *Store) bindNameLocked(id plugin.ID, name string) {
	// The first binder keeps the name; duplicate loads are rejected at the
	// session level. Removal releases the binding for reloads.
	if existing, ok := s.idByName[name]; ok && existing != id {
		return
	}
	if old, ok := s.nameByID[id]; ok && old != name && s.idByName[old] == id {
		delete(s.idByName, old)
	}
	s.idByName[name] = id
	s.nameByID[id] = name
}

func (s *Store) dropFromOrderLocked(event string, id plugin.ID) {
	ids := s.eventOrder[event]
	kept := ids[:0]
	for _, other := range ids {
		if other != id {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(s.eventOrder, event)
		return
	}
	s.eventOrder[event] = kept
}

func (s *Store) displayNameLocked(id plugin.ID) string {
	if name, ok := s.nameByID[id]; ok {
		return name
	}
	return id.String()
}

func (s *Store) changed() {
	if s.invalidate != nil {
		s.invalidate()
	}
}

func (s *Store) publish(eventType string, fields map[string]any) {
	if s.notify == nil {
		return
	}
	s.notify(events.New(eventType, fields))
}
