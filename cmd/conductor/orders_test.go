package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func orderedRoom(t *testing.T) string {
	t.Helper()

	return writeRoom(t, `version: "1.0"
name: "ordered"
plugins:
  - path: plugins/stats.lua
  - path: plugins/referee.lua
`, map[string]string{
		"stats.lua": `
			room.pluginSpec = {name = "stats", order = {onGoal = {after = {"referee"}}}}
			room.onGoal = function() end
		`,
		"referee.lua": `
			room.pluginSpec = {name = "referee"}
			room.onGoal = function() end
		`,
	})
}

func TestOrdersCommandShowsConstraintOrder(t *testing.T) {
	output, err := executeCommand(t, "orders", orderedRoom(t))
	require.NoError(t, err)
	require.Contains(t, output, "EVENT")
	require.Contains(t, output, "onGoal")
	require.Contains(t, output, "referee -> stats")
}

func TestOrdersCommandEventFilter(t *testing.T) {
	path := orderedRoom(t)

	output, err := executeCommand(t, "orders", path, "--event", "onGoal")
	require.NoError(t, err)
	require.Contains(t, output, "onGoal")

	_, err = executeCommand(t, "orders", path, "--event", "onUnknown")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no handlers registered")
}

func TestOrdersCommandJSON(t *testing.T) {
	output, err := executeCommand(t, "orders", orderedRoom(t), "--json")
	require.NoError(t, err)

	var parsed map[string][]string
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
	require.Equal(t, []string{"referee", "stats"}, parsed["onGoal"])
}

func TestOrdersCommandConfigOverride(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "overridden"
plugins:
  - label: opener
    path: plugins/opener.lua
  - label: closer
    path: plugins/closer.lua
    order:
      onGoal:
        before: [opener]
`, map[string]string{
		"opener.lua": `
			room.pluginSpec = {name = "opener"}
			room.onGoal = function() end
		`,
		"closer.lua": `
			room.pluginSpec = {name = "closer"}
			room.onGoal = function() end
		`,
	})

	output, err := executeCommand(t, "orders", path)
	require.NoError(t, err)
	require.Contains(t, output, "closer -> opener")

	// The singular form is an alias.
	aliased, err := executeCommand(t, "order", path)
	require.NoError(t, err)
	require.Equal(t, output, aliased)
}

func TestOrdersCommandCycleFails(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "tangled"
plugins:
  - path: plugins/a.lua
  - path: plugins/b.lua
`, map[string]string{
		"a.lua": `
			room.pluginSpec = {name = "a", order = {onTick = {before = {"b"}}}}
			room.onTick = function() end
		`,
		"b.lua": `
			room.pluginSpec = {name = "b", order = {onTick = {before = {"a"}}}}
			room.onTick = function() end
		`,
	})

	_, err := executeCommand(t, "orders", path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "circular ordering constraint")
}
