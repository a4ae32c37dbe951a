package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeRoom(t *testing.T, cfgYAML string, scripts map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "plugins"), 0o755))
	for name, src := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "plugins", name), []byte(src), 0o644))
	}
	path := filepath.Join(dir, "room.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfgYAML), 0o600))
	return path
}

func TestRunCommandFiresScenario(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "match-night"
plugins:
  - path: plugins/greeter.lua
scenario:
  - event: onPlayerJoin
    args: ["ada"]
`, map[string]string{
		"greeter.lua": `
			room.pluginSpec = {name = "greeter", version = "2.1.0"}
			room.onPlayerJoin = function(name)
				room.last = name
			end
		`,
	})

	output, err := executeCommand(t, "run", path)
	require.NoError(t, err)
	require.Contains(t, output, "Room: match-night")
	require.Contains(t, output, "greeter")
	require.Contains(t, output, "2.1.0")
	require.Contains(t, output, "onPlayerJoin")
	require.Contains(t, output, "ok")
}

func TestRunCommandReportsVeto(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "veto-room"
plugins:
  - path: plugins/veto.lua
scenario:
  - event: onDoorOpen
`, map[string]string{
		"veto.lua": `
			room.pluginSpec = {name = "veto"}
			room.onDoorOpen = function() return false end
		`,
	})

	output, err := executeCommand(t, "run", path)
	require.NoError(t, err)
	require.Contains(t, output, "vetoed")
}

func TestRunCommandScenarioErrorFailsRun(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "error-room"
plugins:
  - path: plugins/explosive.lua
scenario:
  - event: onBoom
`, map[string]string{
		"explosive.lua": `
			room.pluginSpec = {name = "explosive"}
			room.onBoom = function() error("kaboom") end
		`,
	})

	_, err := executeCommand(t, "run", path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 1 scenario events failed")
}

func TestRunCommandJSONOutput(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "json-room"
plugins:
  - path: plugins/greeter.lua
scenario:
  - event: onPlayerJoin
    args: ["ada"]
`, map[string]string{
		"greeter.lua": `
			room.pluginSpec = {name = "greeter"}
			room.onPlayerJoin = function(name) end
		`,
	})

	output, err := executeCommand(t, "run", path, "--json")
	require.NoError(t, err)

	var parsed struct {
		Room    string `json:"room"`
		Plugins []struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"plugins"`
		Firings []struct {
			Event  string `json:"event"`
			Result bool   `json:"result"`
		} `json:"firings"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
	require.Equal(t, "json-room", parsed.Room)
	require.Len(t, parsed.Plugins, 1)
	require.Equal(t, "greeter", parsed.Plugins[0].Name)
	require.True(t, parsed.Plugins[0].Enabled)
	require.Len(t, parsed.Firings, 1)
	require.Equal(t, "onPlayerJoin", parsed.Firings[0].Event)
	require.True(t, parsed.Firings[0].Result)
}

func TestRunCommandDisabledPluginSkipsHandlers(t *testing.T) {
	path := writeRoom(t, `version: "1.0"
name: "bench"
plugins:
  - path: plugins/active.lua
  - path: plugins/benched.lua
    enabled: false
scenario:
  - event: onWhistle
`, map[string]string{
		"active.lua": `
			room.pluginSpec = {name = "active"}
			room.onWhistle = function() end
		`,
		"benched.lua": `
			room.pluginSpec = {name = "benched"}
			room.onWhistle = function() error("should not run") end
		`,
	})

	output, err := executeCommand(t, "run", path)
	require.NoError(t, err)
	require.Contains(t, output, "benched")
	require.Contains(t, output, "false")
}

func TestRunCommandMissingConfigFails(t *testing.T) {
	_, err := executeCommand(t, "run", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "config file does not exist")
}
