// Package order computes the plugin execution sequence for each event name
// from the before and after constraints plugins declare. Orders are cached
// per event and recomputed lazily after the store reports a change.
package order

import (
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/conductor/internal/logger"
	"github.com/alexisbeaulieu97/conductor/internal/plugin"
)

// Source is the resolver's read view of the session store.
type Source interface {
	// EventNames lists every event with at least one handler.
	EventNames() []string
	// HandlersFor returns the identities handling an event in registration
	// order.
	HandlersFor(event string) []plugin.ID
	// ConstraintsFor returns the ordering constraint an identity declares
	// for an event.
	ConstraintsFor(id plugin.ID, event string) plugin.Constraint
	// ResolveName maps a declared plugin name to its identity.
	ResolveName(name string) (plugin.ID, bool)
	// PluginName returns the declared name for an identity, or empty.
	PluginName(id plugin.ID) string
}

// Resolver owns the cached execution orders. A single store mutation marks
// the whole table stale; the next Resolve call recomputes every event in one
// pass.
type Resolver struct {
	mu     sync.Mutex
	source Source
	log    *logger.Logger
	dirty  bool
	orders map[string][]plugin.ID
}

// NewResolver creates a resolver over the given store view.
func NewResolver(source Source, log *logger.Logger) *Resolver {
	return &Resolver{
		source: source,
		log:    log,
		dirty:  true,
		orders: make(map[string][]plugin.ID),
	}
}

// Invalidate marks every cached order stale. The store calls it after each
// mutation that can affect ordering.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// Dirty reports whether the cache needs recomputation.
func (r *Resolver) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// Resolve returns the execution order for an event. The returned slice is
// the caller's to keep; later store mutations never alter it. An event
// without handlers resolves to an empty order.
func (r *Resolver) Resolve(event string) ([]plugin.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.recomputeLocked(); err != nil {
		return nil, err
	}
	ids := r.orders[event]
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]plugin.ID, len(ids))
	copy(out, ids)
	return out, nil
}

// All returns a copy of every cached execution order, recomputing first if
// stale.
func (r *Resolver) All() (map[string][]plugin.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.recomputeLocked(); err != nil {
		return nil, err
	}
	out := make(map[string][]plugin.ID, len(r.orders))
	for event, ids := range r.orders {
		seq := make([]plugin.ID, len(ids))
		copy(seq, ids)
		out[event] = seq
	}
	return out, nil
}

// recomputeLocked rebuilds the order table when stale. On a constraint cycle
// the cache keeps its previous content and stays stale so a later resolve
// retries after the configuration changed.
func (r *Resolver) recomputeLocked() error {
	if !r.dirty {
		return nil
	}

	fresh := make(map[string][]plugin.ID)
	for _, event := range r.source.EventNames() {
		participants := r.source.HandlersFor(event)
		if len(participants) == 0 {
			continue
		}
		seq, err := r.orderFor(event, participants)
		if err != nil {
			return err
		}
		fresh[event] = seq
	}

	r.orders = fresh
	r.dirty = false
	r.log.Debug("execution orders recomputed")
	return nil
}

// orderFor sorts one event's participants. Only identities mentioned by at
// least one constraint take part in the topological sort; everyone else is
// appended afterwards in registration order. Ties inside the sort are broken
// by registration position, so the result is stable across recomputations.
func (r *Resolver) orderFor(event string, participants []plugin.ID) ([]plugin.ID, error) {
	index := make(map[plugin.ID]int, len(participants))
	for i, id := range participants {
		index[id] = i
	}

	outgoing := make(map[plugin.ID]map[plugin.ID]struct{})
	indegree := make(map[plugin.ID]int)
	mentioned := make(map[plugin.ID]struct{})

	addEdge := func(from, to plugin.ID) {
		if from == to {
			return
		}
		set, ok := outgoing[from]
		if !ok {
			set = make(map[plugin.ID]struct{})
			outgoing[from] = set
		}
		if _, dup := set[to]; dup {
			return
		}
		set[to] = struct{}{}
		indegree[to]++
		mentioned[from] = struct{}{}
		mentioned[to] = struct{}{}
	}

	for _, id := range participants {
		constraint := r.source.ConstraintsFor(id, event)
		for _, name := range constraint.Before {
			if other, ok := r.participant(name, index); ok {
				addEdge(id, other)
			}
		}
		for _, name := range constraint.After {
			if other, ok := r.participant(name, index); ok {
				addEdge(other, id)
			}
		}
	}

	queue := make([]plugin.ID, 0, len(mentioned))
	for id := range mentioned {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sortByIndex(queue, index)

	sorted := make([]plugin.ID, 0, len(participants))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)

		for _, to := range sortedNeighbors(outgoing[current], index) {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
				sortByIndex(queue, index)
			}
		}
	}

	if len(sorted) != len(mentioned) {
		cycle := extractCycle(outgoing, participants)
		return nil, ErrCircularOrdering{Event: event, Cycle: r.cycleNames(cycle)}
	}

	for _, id := range participants {
		if _, ok := mentioned[id]; !ok {
			sorted = append(sorted, id)
		}
	}
	return sorted, nil
}

// participant resolves a constraint target to an identity that handles the
// event. Unknown names and plugins without a handler for the event are
// ignored.
func (r *Resolver) participant(name string, index map[plugin.ID]int) (plugin.ID, bool) {
	if name == "" {
		return "", false
	}
	id, ok := r.source.ResolveName(name)
	if !ok {
		return "", false
	}
	if _, ok := index[id]; !ok {
		return "", false
	}
	return id, true
}

func (r *Resolver) cycleNames(cycle []plugin.ID) []string {
	names := make([]string, len(cycle))
	for i, id := range cycle {
		if name := r.source.PluginName(id); name != "" {
			names[i] = name
			continue
		}
		names[i] = id.String()
	}
	return names
}

// extractCycle walks the constraint edges depth first and returns one cycle.
// Nodes are visited in registration order so repeated failures report the
// same cycle.
func extractCycle(outgoing map[plugin.ID]map[plugin.ID]struct{}, participants []plugin.ID) []plugin.ID {
	index := make(map[plugin.ID]int, len(participants))
	for i, id := range participants {
		index[id] = i
	}

	visited := make(map[plugin.ID]bool)
	stack := make(map[plugin.ID]bool)
	path := []plugin.ID{}

	var cycle []plugin.ID
	var dfs func(node plugin.ID) bool

	dfs = func(node plugin.ID) bool {
		visited[node] = true
		stack[node] = true
		path = append(path, node)

		for _, next := range sortedNeighbors(outgoing[node], index) {
			if !visited[next] {
				if dfs(next) {
					return true
				}
			} else if stack[next] {
				idx := len(path) - 1
				for idx >= 0 && path[idx] != next {
					idx--
				}
				if idx >= 0 {
					cycle = append([]plugin.ID{}, path[idx:]...)
					return true
				}
			}
		}

		stack[node] = false
		path = path[:len(path)-1]
		return false
	}

	for _, node := range participants {
		if _, constrained := outgoing[node]; !constrained {
			continue
		}
		if !visited[node] {
			if dfs(node) {
				break
			}
		}
	}
	return cycle
}

func sortByIndex(ids []plugin.ID, index map[plugin.ID]int) {
	sort.Slice(ids, func(i, j int) bool {
		return index[ids[i]] < index[ids[j]]
	})
}

func sortedNeighbors(set map[plugin.ID]struct{}, index map[plugin.ID]int) []plugin.ID {
	if len(set) == 0 {
		return nil
	}
	out := make([]plugin.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortByIndex(out, index)
	return out
}
