package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPluginConfigEnabledDefaultsTrue(t *testing.T) {
	t.Parallel()

	var p PluginConfig
	require.NoError(t, yaml.Unmarshal([]byte(`path: plugins/a.lua`), &p))
	require.True(t, p.Enabled)

	var explicit PluginConfig
	require.NoError(t, yaml.Unmarshal([]byte("path: plugins/a.lua\nenabled: false"), &explicit))
	require.False(t, explicit.Enabled)
}

func TestPluginConfigResolvePath(t *testing.T) {
	t.Parallel()

	rel := PluginConfig{Path: filepath.Join("plugins", "a.lua")}
	require.Equal(t, filepath.Join("/rooms", "plugins", "a.lua"), rel.ResolvePath("/rooms"))
	require.Equal(t, filepath.Join("plugins", "a.lua"), rel.ResolvePath(""))

	abs := PluginConfig{Path: "/opt/plugins/a.lua"}
	require.Equal(t, "/opt/plugins/a.lua", abs.ResolvePath("/rooms"))
}

func TestPluginConfigDisplayName(t *testing.T) {
	t.Parallel()

	labelled := PluginConfig{Label: "greeter", Path: "plugins/greeter.lua"}
	require.Equal(t, "greeter", labelled.DisplayName())

	bare := PluginConfig{Path: filepath.Join("plugins", "stats.lua")}
	require.Equal(t, "stats.lua", bare.DisplayName())
}

func TestValidateConfigDuplicatePaths(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Version: "1.0",
		Name:    "dupes",
		Plugins: []PluginConfig{
			{Path: "a.lua", Enabled: true},
			{Path: "a.lua", Enabled: true},
		},
	}
	err := ValidateConfig(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate plugin path")
}

func TestValidateConfigNil(t *testing.T) {
	t.Parallel()

	require.Error(t, ValidateConfig(nil))
}
