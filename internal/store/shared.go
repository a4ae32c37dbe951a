package store

import (
	"sort"
	"sync"
)

// SharedState is the session level key value store. Plugin property reads
// fall back to it when no local value is set, so plugins can exchange state
// without knowing about each other.
type SharedState struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSharedState creates shared state seeded with a copy of initial.
func NewSharedState(initial map[string]any) *SharedState {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &SharedState{values: values}
}

// Get reads a shared value.
func (s *SharedState) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Set writes a shared value.
func (s *SharedState) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// Has reports whether a shared value exists.
func (s *SharedState) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[name]
	return ok
}

// Delete removes a shared value, reporting whether it was present.
func (s *SharedState) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[name]
	delete(s.values, name)
	return ok
}

// Names lists shared value names in sorted order.
func (s *SharedState) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies the full shared map.
func (s *SharedState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
