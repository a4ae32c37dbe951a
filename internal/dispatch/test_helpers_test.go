package dispatch

import (
	"sort"

	"github.com/alexisbeaulieu97/conductor/internal/logger"
	"github.com/alexisbeaulieu97/conductor/internal/plugin"
)

type stubState struct {
	values map[string]any
}

func newStubState() *stubState {
	return &stubState{values: make(map[string]any)}
}

func (s *stubState) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

func (s *stubState) Set(name string, value any) {
	s.values[name] = value
}

func (s *stubState) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

func (s *stubState) Delete(name string) bool {
	_, ok := s.values[name]
	delete(s.values, name)
	return ok
}

func (s *stubState) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type stubHandlers struct {
	byPlugin map[plugin.ID]map[string]*Handler
}

func (s *stubHandlers) Handler(id plugin.ID, event string) (*Handler, bool) {
	h, ok := s.byPlugin[id][event]
	return h, ok && h != nil
}

type stubOrders struct {
	byEvent map[string][]plugin.ID
	err     error
}

func (s *stubOrders) Resolve(event string) ([]plugin.ID, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byEvent[event], nil
}

type stubLifecycle struct {
	names    map[plugin.ID]string
	disabled map[plugin.ID]bool
}

func (s *stubLifecycle) EnabledAndLoaded(id plugin.ID) bool {
	return !s.disabled[id]
}

func (s *stubLifecycle) PluginName(id plugin.ID) string {
	if name, ok := s.names[id]; ok {
		return name
	}
	return string(id)
}

// rig assembles a dispatcher over in-memory collaborators. Tests mutate the
// stub maps directly before firing.
type rig struct {
	dispatcher *Dispatcher
	handlers   *stubHandlers
	orders     *stubOrders
	lifecycle  *stubLifecycle
	state      *stubState
}

func newRig() *rig {
	handlers := &stubHandlers{byPlugin: make(map[plugin.ID]map[string]*Handler)}
	orders := &stubOrders{byEvent: make(map[string][]plugin.ID)}
	lifecycle := &stubLifecycle{
		names:    make(map[plugin.ID]string),
		disabled: make(map[plugin.ID]bool),
	}
	state := newStubState()
	d := New(Options{
		Handlers:  handlers,
		Orders:    orders,
		Lifecycle: lifecycle,
		State:     state,
		Logger:    discardLogger(),
	})
	return &rig{
		dispatcher: d,
		handlers:   handlers,
		orders:     orders,
		lifecycle:  lifecycle,
		state:      state,
	}
}

// register wires a plugin under name with a handler for event, appending the
// identity to the event's execution order.
func (r *rig) register(id plugin.ID, name, event string, h *Handler) {
	r.lifecycle.names[id] = name
	byEvent, ok := r.handlers.byPlugin[id]
	if !ok {
		byEvent = make(map[string]*Handler)
		r.handlers.byPlugin[id] = byEvent
	}
	byEvent[event] = h
	r.orders.byEvent[event] = append(r.orders.byEvent[event], id)
}

func discardLogger() *logger.Logger {
	log, err := logger.New(logger.Options{Level: "error", Writer: nopWriter{}})
	if err != nil {
		panic(err)
	}
	return log
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) {
	return len(p), nil
}
