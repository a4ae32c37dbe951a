package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateCommandAcceptsValidRoom(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "valid"
plugins:
  - path: plugins/a.lua
`, map[string]string{
		"a.lua": `room.pluginSpec = {name = "a"}`,
	})

	output, err := executeCommand(t, "validate", path)
	require.NoError(t, err)
	require.Contains(t, output, "configuration valid")
	require.Contains(t, output, "1 plugins")
}

func TestValidateCommandAllowsUnknownOrderTargets(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "advisory"
plugins:
  - label: a
    path: plugins/a.lua
    order:
      onTick:
        after: [phantom]
`, map[string]string{
		"a.lua": `
			room.pluginSpec = {name = "a"}
			room.onTick = function() end
		`,
	})

	// Unknown targets are advisory; the room still validates.
	output, err := executeCommand(t, "validate", path)
	require.NoError(t, err)
	require.Contains(t, output, "configuration valid")
}

func TestValidateCommandWithScripts(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "scripted"
plugins:
  - path: plugins/a.lua
  - path: plugins/b.lua
`, map[string]string{
		"a.lua": `
			room.pluginSpec = {name = "a"}
			room.onTick = function() end
		`,
		"b.lua": `
			room.pluginSpec = {name = "b", order = {onTick = {after = {"a"}}}}
			room.onTick = function() end
		`,
	})

	output, err := executeCommand(t, "validate", path, "--scripts")
	require.NoError(t, err)
	require.Contains(t, output, "configuration valid")
}
