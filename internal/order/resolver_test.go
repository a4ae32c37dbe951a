package order

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/conductor/internal/plugin"
)

type stubSource struct {
	handlers    map[string][]plugin.ID
	constraints map[plugin.ID]map[string]plugin.Constraint
	known       map[string]plugin.ID
}

func newStubSource() *stubSource {
	return &stubSource{
		handlers:    make(map[string][]plugin.ID),
		constraints: make(map[plugin.ID]map[string]plugin.Constraint),
		known:       make(map[string]plugin.ID),
	}
}

// add registers a handler under an identity whose declared name equals the
// identity string.
func (s *stubSource) add(event string, id plugin.ID) {
	s.handlers[event] = append(s.handlers[event], id)
	s.known[string(id)] = id
}

func (s *stubSource) constrain(id plugin.ID, event string, c plugin.Constraint) {
	byEvent, ok := s.constraints[id]
	if !ok {
		byEvent = make(map[string]plugin.Constraint)
		s.constraints[id] = byEvent
	}
	byEvent[event] = c
}

func (s *stubSource) EventNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *stubSource) HandlersFor(event string) []plugin.ID {
	ids := s.handlers[event]
	out := make([]plugin.ID, len(ids))
	copy(out, ids)
	return out
}

func (s *stubSource) ConstraintsFor(id plugin.ID, event string) plugin.Constraint {
	return s.constraints[id][event]
}

func (s *stubSource) ResolveName(name string) (plugin.ID, bool) {
	id, ok := s.known[name]
	return id, ok
}

func (s *stubSource) PluginName(id plugin.ID) string {
	if _, ok := s.known[string(id)]; ok {
		return string(id)
	}
	return ""
}

func TestResolvePreservesRegistrationOrderWithoutConstraints(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onTick", "beta")
	src.add("onTick", "alpha")
	src.add("onTick", "gamma")

	r := NewResolver(src, nil)
	seq, err := r.Resolve("onTick")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"beta", "alpha", "gamma"}, seq)
}

func TestResolveBeforeConstraint(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onJoin", "beta")
	src.add("onJoin", "gamma")
	src.add("onJoin", "alpha")
	src.constrain("alpha", "onJoin", plugin.Constraint{Before: []string{"beta"}})

	r := NewResolver(src, nil)
	seq, err := r.Resolve("onJoin")
	require.NoError(t, err)

	// Constrained participants come first, everyone else follows in
	// registration order.
	require.Equal(t, []plugin.ID{"alpha", "beta", "gamma"}, seq)
}

func TestResolveAfterConstraint(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onJoin", "alpha")
	src.add("onJoin", "beta")
	src.constrain("alpha", "onJoin", plugin.Constraint{After: []string{"beta"}})

	r := NewResolver(src, nil)
	seq, err := r.Resolve("onJoin")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"beta", "alpha"}, seq)
}

func TestResolveTieBreaksByRegistrationPosition(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onTick", "beta")
	src.add("onTick", "alpha")
	src.add("onTick", "last")
	src.constrain("beta", "onTick", plugin.Constraint{Before: []string{"last"}})
	src.constrain("alpha", "onTick", plugin.Constraint{Before: []string{"last"}})

	r := NewResolver(src, nil)
	seq, err := r.Resolve("onTick")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"beta", "alpha", "last"}, seq)
}

func TestResolveIsDeterministic(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	for _, id := range []plugin.ID{"e", "d", "c", "b", "a"} {
		src.add("onTick", id)
	}
	src.constrain("a", "onTick", plugin.Constraint{Before: []string{"e"}})
	src.constrain("c", "onTick", plugin.Constraint{After: []string{"d"}})

	r := NewResolver(src, nil)
	first, err := r.Resolve("onTick")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		r.Invalidate()
		again, err := r.Resolve("onTick")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestResolveIgnoresConstraintsOnAbsentPlugins(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onTick", "alpha")
	src.add("onTick", "beta")
	src.add("onSave", "gamma")
	src.constrain("alpha", "onTick", plugin.Constraint{
		// gamma has no onTick handler, nobody knows "missing".
		After: []string{"gamma", "missing", ""},
	})

	r := NewResolver(src, nil)
	seq, err := r.Resolve("onTick")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"alpha", "beta"}, seq)
}

func TestResolveSelfConstraintIsIgnored(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onTick", "alpha")
	src.add("onTick", "beta")
	src.constrain("alpha", "onTick", plugin.Constraint{Before: []string{"alpha", "beta"}})

	r := NewResolver(src, nil)
	seq, err := r.Resolve("onTick")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"alpha", "beta"}, seq)
}

func TestResolveCycleFails(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onTick", "alpha")
	src.add("onTick", "beta")
	src.constrain("alpha", "onTick", plugin.Constraint{Before: []string{"beta"}})
	src.constrain("beta", "onTick", plugin.Constraint{Before: []string{"alpha"}})

	r := NewResolver(src, nil)
	_, err := r.Resolve("onTick")
	require.Error(t, err)

	var cycleErr ErrCircularOrdering
	require.ErrorAs(t, err, &cycleErr)
	require.Equal(t, "onTick", cycleErr.Event)
	require.ElementsMatch(t, []string{"alpha", "beta"}, cycleErr.Cycle)
	require.Contains(t, err.Error(), " -> ")

	// The cache stays stale, so fixing the constraints unblocks resolution.
	src.constrain("beta", "onTick", plugin.Constraint{})
	seq, err := r.Resolve("onTick")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"alpha", "beta"}, seq)
}

func TestResolveUnknownEventIsEmpty(t *testing.T) {
	t.Parallel()

	r := NewResolver(newStubSource(), nil)
	seq, err := r.Resolve("onNothing")
	require.NoError(t, err)
	require.Empty(t, seq)
}

func TestResolveCachesUntilInvalidated(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onTick", "alpha")

	r := NewResolver(src, nil)
	require.True(t, r.Dirty())

	seq, err := r.Resolve("onTick")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"alpha"}, seq)
	require.False(t, r.Dirty())

	// A change without invalidation is not picked up.
	src.add("onTick", "beta")
	seq, err = r.Resolve("onTick")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"alpha"}, seq)

	r.Invalidate()
	seq, err = r.Resolve("onTick")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"alpha", "beta"}, seq)
}

func TestResolveRecomputesWholeTableOnce(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onTick", "alpha")
	src.add("onSave", "beta")

	r := NewResolver(src, nil)
	_, err := r.Resolve("onTick")
	require.NoError(t, err)
	require.False(t, r.Dirty())

	// The first resolve computed every event in one pass.
	seq, err := r.Resolve("onSave")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"beta"}, seq)
	require.False(t, r.Dirty())
}

func TestResolveReturnsCallerOwnedCopy(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onTick", "alpha")
	src.add("onTick", "beta")

	r := NewResolver(src, nil)
	seq, err := r.Resolve("onTick")
	require.NoError(t, err)
	seq[0] = "mutated"

	again, err := r.Resolve("onTick")
	require.NoError(t, err)
	require.Equal(t, []plugin.ID{"alpha", "beta"}, again)
}

func TestAllReturnsEveryOrder(t *testing.T) {
	t.Parallel()

	src := newStubSource()
	src.add("onTick", "alpha")
	src.add("onSave", "beta")
	src.add("onSave", "gamma")

	r := NewResolver(src, nil)
	all, err := r.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []plugin.ID{"alpha"}, all["onTick"])
	require.Equal(t, []plugin.ID{"beta", "gamma"}, all["onSave"])
}
