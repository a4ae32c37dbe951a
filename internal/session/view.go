package session

import (
	"github.com/alexisbeaulieu97/conductor/internal/dispatch"
	"github.com/alexisbeaulieu97/conductor/internal/logger"
	"github.com/alexisbeaulieu97/conductor/internal/plugin"
	conductorerrors "github.com/alexisbeaulieu97/conductor/pkg/errors"
)

// View is the capability a single plugin receives. Every call forwards to
// the session under the plugin's own identity, so a plugin can only mutate
// its own namespace.
type View struct {
	s  *Session
	id plugin.ID
}

// Scope returns the view bound to one plugin identity.
func (s *Session) Scope(id plugin.ID) *View {
	return &View{s: s, id: id}
}

// ID returns the plugin's identity.
func (v *View) ID() plugin.ID {
	return v.id
}

// Plugin returns the plugin's display name.
func (v *View) Plugin() string {
	return v.s.PluginName(v.id)
}

// SessionName returns the owning session's label.
func (v *View) SessionName() string {
	return v.s.Name()
}

// Enabled reports whether the plugin currently takes part in firings.
func (v *View) Enabled() bool {
	return v.s.EnabledAndLoaded(v.id)
}

// Get reads a property, falling back to shared state for non reserved
// names.
func (v *View) Get(name string) (any, bool) {
	return v.s.store.Property(v.id, name)
}

// Set writes a plugin local property.
func (v *View) Set(name string, value any) {
	v.s.store.SetProperty(v.id, name, value)
}

// Has reports whether Get would find a value.
func (v *View) Has(name string) bool {
	return v.s.store.HasProperty(v.id, name)
}

// Delete removes a plugin local property, reporting whether one was set.
// A shared value of the same name becomes visible again.
func (v *View) Delete(name string) bool {
	return v.s.store.UnsetProperty(v.id, name)
}

// Names lists every property name visible to the plugin.
func (v *View) Names() []string {
	return v.s.store.PropertyNames(v.id)
}

// SetHandler registers a callback for an event name. fn may be a *Handler,
// the plain variadic form or any function the injector accepts.
func (v *View) SetHandler(event string, fn any) error {
	h, err := v.s.Injector().HandlerFor(fn)
	if err != nil {
		return conductorerrors.NewPluginError(v.Plugin(), err)
	}
	v.s.store.RegisterHandler(v.id, event, h)
	return nil
}

// UnsetHandler removes the plugin's callback for an event name.
func (v *View) UnsetHandler(event string) {
	v.s.store.UnregisterHandler(v.id, event)
}

// HasHandler reports whether the plugin handles an event.
func (v *View) HasHandler(event string) bool {
	return v.s.store.HasHandler(v.id, event)
}

// HandlerNames lists the event names the plugin handles, sorted.
func (v *View) HandlerNames() []string {
	return v.s.store.HandlerNames(v.id)
}

// AddPreHook runs fn before validation for each listed event.
func (v *View) AddPreHook(events []string, fn dispatch.HookFunc) {
	v.s.dispatcher.AddPreHook(v.id, events, fn)
}

// AddPostHook runs fn after handler execution for each listed event.
func (v *View) AddPostHook(events []string, fn dispatch.HookFunc) {
	v.s.dispatcher.AddPostHook(v.id, events, fn)
}

// AddValidator registers fn as a state validator for each listed event.
func (v *View) AddValidator(events []string, fn dispatch.HookFunc) {
	v.s.dispatcher.AddValidator(v.id, events, fn)
}

// Trigger fires an event through the session.
func (v *View) Trigger(event string, args ...any) (bool, error) {
	return v.s.Trigger(event, args...)
}

// Spec returns the plugin's declared specification, if one was set.
func (v *View) Spec() (*plugin.Spec, bool) {
	return v.s.store.Spec(v.id)
}

// Config merges the spec's default configuration with the values supplied
// when the plugin was loaded. Load time values win.
func (v *View) Config() map[string]any {
	out := make(map[string]any)
	if spec, ok := v.s.store.Spec(v.id); ok {
		for k, value := range spec.Config {
			out[k] = value
		}
	}
	v.s.mu.RLock()
	if state, ok := v.s.plugins[v.id]; ok {
		for k, value := range state.config {
			out[k] = value
		}
	}
	v.s.mu.RUnlock()
	return out
}

// Log returns a logger scoped to the plugin.
func (v *View) Log() *logger.Logger {
	return v.s.log.WithPlugin(v.Plugin())
}
