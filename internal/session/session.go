// Package session assembles one running engine instance: plugin storage,
// order resolution, dispatch and lifecycle notifications wired together
// behind the API plugin hosts use.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/conductor/internal/dispatch"
	"github.com/alexisbeaulieu97/conductor/internal/events"
	"github.com/alexisbeaulieu97/conductor/internal/logger"
	"github.com/alexisbeaulieu97/conductor/internal/order"
	"github.com/alexisbeaulieu97/conductor/internal/plugin"
	"github.com/alexisbeaulieu97/conductor/internal/store"
	conductorerrors "github.com/alexisbeaulieu97/conductor/pkg/errors"
)

// Options configures a Session.
type Options struct {
	// Name labels the session in logs and listings.
	Name string
	// Logger receives engine logging. Optional.
	Logger *logger.Logger
	// Shared seeds the session's shared state.
	Shared map[string]any
}

type pluginState struct {
	enabled bool
	loaded  bool
	config  map[string]any
}

// Session owns the plugin population of one event dispatching engine. All
// mutating calls are safe for concurrent use, though plugin callbacks
// themselves run on the goroutine that fired the event.
type Session struct {
	mu         sync.RWMutex
	name       string
	log        *logger.Logger
	shared     *store.SharedState
	store      *store.Store
	resolver   *order.Resolver
	dispatcher *dispatch.Dispatcher
	notifier   *events.Notifier
	plugins    map[plugin.ID]*pluginState
	loadOrder  []plugin.ID
}

// New creates an empty session.
func New(opts Options) *Session {
	s := &Session{
		name:    opts.Name,
		log:     opts.Logger,
		plugins: make(map[plugin.ID]*pluginState),
	}
	s.notifier = events.NewNotifier(opts.Logger)
	s.shared = store.NewSharedState(opts.Shared)
	s.store = store.New(store.Options{
		Shared: s.shared,
		Notify: s.publish,
	})
	s.resolver = order.NewResolver(s.store, opts.Logger)
	s.store.OnChange(s.resolver.Invalidate)
	s.dispatcher = dispatch.New(dispatch.Options{
		Handlers:  s.store,
		Orders:    s.resolver,
		Lifecycle: s,
		State:     s.shared,
		Injector:  dispatch.NewInjector(),
		Logger:    opts.Logger,
	})
	return s
}

// Name returns the session label.
func (s *Session) Name() string {
	return s.name
}

// Notifier exposes the lifecycle notification stream for subscribers.
func (s *Session) Notifier() *events.Notifier {
	return s.notifier
}

// Shared returns the session's shared state.
func (s *Session) Shared() *store.SharedState {
	return s.shared
}

// Injector returns the session wide signature cache.
func (s *Session) Injector() *dispatch.Injector {
	return s.dispatcher.Injector()
}

// BeginPlugin reserves a fresh identity and announces the upcoming load.
// The caller runs the plugin's initialization against the identity and then
// seals it with FinishPlugin.
func (s *Session) BeginPlugin(config map[string]any) plugin.ID {
	id := plugin.NewID()

	cfg := make(map[string]any, len(config))
	for k, v := range config {
		cfg[k] = v
	}

	s.mu.Lock()
	s.plugins[id] = &pluginState{enabled: true, config: cfg}
	s.loadOrder = append(s.loadOrder, id)
	s.mu.Unlock()

	s.publish(events.New(events.BeforePluginLoaded, map[string]any{"id": id.String()}))
	return id
}

// FinishPlugin marks the identity as fully loaded, making its handlers
// eligible for execution. Finishing fails when another loaded plugin already
// uses the declared name; the caller decides whether to remove the identity.
func (s *Session) FinishPlugin(id plugin.ID) error {
	s.mu.RLock()
	state, ok := s.plugins[id]
	loaded := ok && state.loaded
	s.mu.RUnlock()
	if !ok {
		return conductorerrors.NewPluginError(id.String(), fmt.Errorf("unknown plugin identity"))
	}
	if loaded {
		return nil
	}

	var name string
	if spec, ok := s.store.Spec(id); ok {
		name = spec.Name
	}
	if name != "" {
		if existing, ok := s.store.ResolveName(name); ok && existing != id {
			return conductorerrors.NewPluginError(name, fmt.Errorf("plugin name already in use"))
		}
	}
	s.warnMissingDependencies(id, name)

	s.mu.Lock()
	state.loaded = true
	s.mu.Unlock()

	display := s.PluginName(id)
	s.publish(events.New(events.PluginLoaded, map[string]any{"plugin": display}))
	s.log.WithPlugin(display).Debug("plugin loaded")
	return nil
}

// AddPlugin loads a plugin whose spec is already known: it reserves an
// identity, records the spec and seals the load in one call.
func (s *Session) AddPlugin(spec *plugin.Spec, config map[string]any) (plugin.ID, error) {
	if spec != nil {
		if err := spec.Validate(); err != nil {
			return "", err
		}
	}

	id := s.BeginPlugin(config)
	if spec != nil {
		s.store.SetProperty(id, plugin.SpecProperty, spec)
	}
	if err := s.FinishPlugin(id); err != nil {
		s.RemovePlugin(id)
		return "", err
	}
	return id, nil
}

// OverrideOrder merges ordering constraints over the plugin's declared spec.
// Room files use this to adjust execution order without editing scripts: a
// key given here replaces the script's constraint for that key while the
// rest of the spec stays as declared.
func (s *Session) OverrideOrder(id plugin.ID, overrides map[string]plugin.Constraint) {
	if len(overrides) == 0 {
		return
	}

	var merged plugin.Spec
	if spec, ok := s.store.Spec(id); ok {
		merged = *spec
	}
	combined := make(map[string]plugin.Constraint, len(merged.Order)+len(overrides))
	for key, c := range merged.Order {
		combined[key] = c
	}
	for key, c := range overrides {
		combined[key] = c
	}
	merged.Order = combined

	s.store.SetProperty(id, plugin.SpecProperty, &merged)
}

// EnablePlugin re-enables a disabled plugin, reporting whether the state
// changed. Enabling keeps the plugin's position in every execution order.
func (s *Session) EnablePlugin(id plugin.ID) bool {
	s.mu.Lock()
	state, ok := s.plugins[id]
	if !ok || state.enabled {
		s.mu.Unlock()
		return false
	}
	state.enabled = true
	s.mu.Unlock()

	display := s.PluginName(id)
	s.publish(events.New(events.PluginEnabled, map[string]any{"plugin": display}))
	s.log.WithPlugin(display).Debug("plugin enabled")
	return true
}

// DisablePlugin suspends a plugin's participation in firings without
// touching its registrations, reporting whether the state changed.
func (s *Session) DisablePlugin(id plugin.ID) bool {
	s.mu.Lock()
	state, ok := s.plugins[id]
	if !ok || !state.enabled {
		s.mu.Unlock()
		return false
	}
	state.enabled = false
	s.mu.Unlock()

	display := s.PluginName(id)
	s.publish(events.New(events.PluginDisabled, map[string]any{"plugin": display}))
	s.log.WithPlugin(display).Debug("plugin disabled")
	return true
}

// RemovePlugin drops the identity with every handler, property, hook and
// validator it registered. Removing an unknown identity is a no-op.
func (s *Session) RemovePlugin(id plugin.ID) bool {
	s.mu.Lock()
	_, ok := s.plugins[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.plugins, id)
	kept := s.loadOrder[:0]
	for _, other := range s.loadOrder {
		if other != id {
			kept = append(kept, other)
		}
	}
	s.loadOrder = kept
	s.mu.Unlock()

	display := s.PluginName(id)
	s.store.RemovePlugin(id)
	s.dispatcher.RemovePlugin(id)
	s.publish(events.New(events.PluginRemoved, map[string]any{"plugin": display}))
	s.log.WithPlugin(display).Debug("plugin removed")
	return true
}

// Trigger fires an event through the dispatch protocol and reports the
// aggregate result.
func (s *Session) Trigger(event string, args ...any) (bool, error) {
	s.publish(events.New(events.LocalEvent, map[string]any{
		"event": event,
		"args":  len(args),
	}))
	return s.dispatcher.Trigger(event, args...)
}

// EnabledAndLoaded reports whether the identity may take part in firings.
func (s *Session) EnabledAndLoaded(id plugin.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.plugins[id]
	return ok && state.enabled && state.loaded
}

// PluginName returns the declared name bound to the identity, falling back
// to the identity string for anonymous plugins.
func (s *Session) PluginName(id plugin.ID) string {
	if name := s.store.PluginName(id); name != "" {
		return name
	}
	return id.String()
}

// ResolveName maps a declared plugin name to its identity.
func (s *Session) ResolveName(name string) (plugin.ID, bool) {
	return s.store.ResolveName(name)
}

// Info describes one loaded plugin for listings.
type Info struct {
	ID       plugin.ID
	Name     string
	Version  string
	Enabled  bool
	Loaded   bool
	Handlers []string
}

// Plugins lists the session's plugins in load order.
func (s *Session) Plugins() []Info {
	s.mu.RLock()
	ids := make([]plugin.ID, len(s.loadOrder))
	copy(ids, s.loadOrder)
	states := make(map[plugin.ID]pluginState, len(s.plugins))
	for id, state := range s.plugins {
		states[id] = *state
	}
	s.mu.RUnlock()

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		state := states[id]
		info := Info{
			ID:       id,
			Name:     s.store.PluginName(id),
			Enabled:  state.enabled,
			Loaded:   state.loaded,
			Handlers: s.store.HandlerNames(id),
		}
		if spec, ok := s.store.Spec(id); ok {
			info.Version = spec.Version
		}
		infos = append(infos, info)
	}
	return infos
}

// ExecutionOrders resolves every event's plugin sequence, keyed by event
// name with plugin display names as values.
func (s *Session) ExecutionOrders() (map[string][]string, error) {
	all, err := s.resolver.All()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(all))
	for event, ids := range all {
		names := make([]string, len(ids))
		for i, id := range ids {
			names[i] = s.PluginName(id)
		}
		out[event] = names
	}
	return out, nil
}

// EventNames lists every event with registered handlers, sorted.
func (s *Session) EventNames() []string {
	return s.store.EventNames()
}

// warnMissingDependencies logs declared dependencies that are not loaded.
// The engine never fetches plugins, so this is advisory only.
func (s *Session) warnMissingDependencies(id plugin.ID, name string) {
	spec, ok := s.store.Spec(id)
	if !ok || len(spec.Dependencies) == 0 {
		return
	}
	missing := make([]string, 0, len(spec.Dependencies))
	for _, dep := range spec.Dependencies {
		if _, ok := s.store.ResolveName(dep); !ok {
			missing = append(missing, dep)
		}
	}
	if len(missing) == 0 {
		return
	}
	sort.Strings(missing)
	for _, dep := range missing {
		s.log.WithPlugin(name).WithFields(map[string]any{"dependency": dep}).Warn("declared dependency is not loaded")
	}
}

func (s *Session) publish(event events.Event) {
	s.notifier.Publish(context.Background(), event)
}
