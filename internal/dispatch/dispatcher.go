// Package dispatch implements event firing: hook phases, state validation,
// dependency ordered handler execution and per firing metadata.
package dispatch

import (
	"sync"

	"github.com/alexisbeaulieu97/conductor/internal/logger"
	"github.com/alexisbeaulieu97/conductor/internal/plugin"
	conductorerrors "github.com/alexisbeaulieu97/conductor/pkg/errors"
)

// HandlerSource resolves registered handlers. The session's store satisfies
// it.
type HandlerSource interface {
	Handler(id plugin.ID, event string) (*Handler, bool)
}

// OrderSource yields the dependency ordered plugin sequence for an event.
// The order resolver satisfies it.
type OrderSource interface {
	Resolve(event string) ([]plugin.ID, error)
}

// Lifecycle answers liveness questions about plugin identities. The session
// satisfies it.
type Lifecycle interface {
	EnabledAndLoaded(id plugin.ID) bool
	PluginName(id plugin.ID) string
}

// Options wires a Dispatcher's collaborators.
type Options struct {
	Handlers  HandlerSource
	Orders    OrderSource
	Lifecycle Lifecycle
	State     StateAccessor
	Injector  *Injector
	Logger    *logger.Logger
}

// Dispatcher runs the firing protocol for a single session. Each firing
// moves through four phases: pre hooks, validation, ordered handler
// execution and post hooks.
//
// All callbacks run synchronously on the goroutine that fired the event.
// A callback may start its own goroutines, but the dispatcher never waits
// for them: such work runs outside the firing's ordering and validation
// guarantees and must synchronize through SharedState or its own channels.
type Dispatcher struct {
	mu         sync.RWMutex
	handlers   HandlerSource
	orders     OrderSource
	lifecycle  Lifecycle
	state      StateAccessor
	injector   *Injector
	log        *logger.Logger
	preHooks   hookTable
	postHooks  hookTable
	validators hookTable
}

// New creates a Dispatcher from its collaborators.
func New(opts Options) *Dispatcher {
	injector := opts.Injector
	if injector == nil {
		injector = NewInjector()
	}
	return &Dispatcher{
		handlers:   opts.Handlers,
		orders:     opts.Orders,
		lifecycle:  opts.Lifecycle,
		state:      opts.State,
		injector:   injector,
		log:        opts.Logger,
		preHooks:   newHookTable(),
		postHooks:  newHookTable(),
		validators: newHookTable(),
	}
}

// Injector returns the dispatcher's shared signature cache.
func (d *Dispatcher) Injector() *Injector {
	return d.injector
}

// AddPreHook registers fn to run before validation for each listed event.
func (d *Dispatcher) AddPreHook(id plugin.ID, events []string, fn HookFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preHooks.add(id, events, fn)
}

// AddPostHook registers fn to run after handler execution for each listed
// event.
func (d *Dispatcher) AddPostHook(id plugin.ID, events []string, fn HookFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.postHooks.add(id, events, fn)
}

// AddValidator registers fn as a state validator for each listed event.
func (d *Dispatcher) AddValidator(id plugin.ID, events []string, fn HookFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.validators.add(id, events, fn)
}

// RemovePlugin drops every hook and validator the identity registered.
func (d *Dispatcher) RemovePlugin(id plugin.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preHooks.removePlugin(id)
	d.postHooks.removePlugin(id)
	d.validators.removePlugin(id)
}

// Trigger fires the named event. It returns false when any executed handler
// returned exactly false, true otherwise. Callback errors abort the firing
// and surface wrapped in a DispatchError.
func (d *Dispatcher) Trigger(event string, args ...any) (bool, error) {
	order, err := d.orders.Resolve(event)
	if err != nil {
		return false, conductorerrors.NewDispatchError(event, err)
	}

	log := d.log.WithEvent(event)
	log.Debug("firing event")

	meta := NewMeta(event)

	args, err = d.runPreHooks(event, meta, args)
	if err != nil {
		return false, conductorerrors.NewDispatchError(event, err)
	}

	result := true
	validators := d.snapshotHooks(&d.validators, event)
	for _, id := range order {
		if !d.lifecycle.EnabledAndLoaded(id) {
			continue
		}
		valid, err := d.runValidators(validators, event, meta, args)
		if err != nil {
			return false, conductorerrors.NewDispatchError(event, err)
		}
		if !valid {
			log.Debug("state invalid, skipping remaining handlers")
			break
		}

		h, ok := d.handlers.Handler(id, event)
		if !ok {
			continue
		}
		name := d.lifecycle.PluginName(id)
		callArgs := d.injector.BuildArgs(h.Descriptor(), args, meta.ForPlugin(name))
		value, err := h.Invoke(callArgs)
		if err != nil {
			return false, conductorerrors.NewDispatchError(event, conductorerrors.NewPluginError(name, err))
		}
		meta.RecordReturn(name, value)
		if b, isBool := value.(bool); isBool && !b {
			result = false
		}
	}

	if err := d.runPostHooks(event, meta, args); err != nil {
		return result, conductorerrors.NewDispatchError(event, err)
	}
	return result, nil
}

// runPreHooks executes the event's pre hooks in registration order. A hook
// returning an ordered sequence replaces the argument list for everything
// that follows; any other non nil return is recorded as the hook plugin's
// return value.
func (d *Dispatcher) runPreHooks(event string, meta *Meta, args []any) ([]any, error) {
	for _, entry := range d.snapshotHooks(&d.preHooks, event) {
		if !d.lifecycle.EnabledAndLoaded(entry.id) {
			continue
		}
		name := d.lifecycle.PluginName(entry.id)
		value, err := entry.fn(d.hookContext(event, name, meta), args...)
		if err != nil {
			return nil, conductorerrors.NewPluginError(name, err)
		}
		if replacement, ok := ArgList(value); ok {
			args = replacement
			continue
		}
		meta.RecordReturn(name, value)
	}
	return args, nil
}

// runValidators reports whether the session state is valid for this firing.
// A firing with no validators is always valid. A validator invalidates by
// returning exactly false; other return values are ignored.
func (d *Dispatcher) runValidators(validators []hookEntry, event string, meta *Meta, args []any) (bool, error) {
	for _, entry := range validators {
		if !d.lifecycle.EnabledAndLoaded(entry.id) {
			continue
		}
		name := d.lifecycle.PluginName(entry.id)
		value, err := entry.fn(d.hookContext(event, name, meta), args...)
		if err != nil {
			return false, conductorerrors.NewPluginError(name, err)
		}
		if b, ok := value.(bool); ok && !b {
			return false, nil
		}
	}
	return true, nil
}

// runPostHooks executes the event's post hooks with the final argument list.
// Post hooks run even when validation aborted handler execution.
func (d *Dispatcher) runPostHooks(event string, meta *Meta, args []any) error {
	for _, entry := range d.snapshotHooks(&d.postHooks, event) {
		if !d.lifecycle.EnabledAndLoaded(entry.id) {
			continue
		}
		name := d.lifecycle.PluginName(entry.id)
		if _, err := entry.fn(d.hookContext(event, name, meta), args...); err != nil {
			return conductorerrors.NewPluginError(name, err)
		}
	}
	return nil
}

func (d *Dispatcher) hookContext(event, pluginName string, meta *Meta) *HookContext {
	return &HookContext{
		Event:  event,
		Plugin: pluginName,
		State:  d.state,
		Meta:   meta.ForPlugin(pluginName),
	}
}

func (d *Dispatcher) snapshotHooks(table *hookTable, event string) []hookEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return table.snapshot(event)
}
