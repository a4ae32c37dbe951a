package config

import (
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/conductor/internal/plugin"
)

// Config represents a full room configuration document: the session label,
// seeded shared state, the plugin scripts to load and an optional scenario
// of events to fire once everything is up.
type Config struct {
	Version     string          `yaml:"version" validate:"required,semver"`
	Name        string          `yaml:"name" validate:"required,min=1,max=100"`
	Description string          `yaml:"description,omitempty"`
	Settings    Settings        `yaml:"settings,omitempty"`
	Shared      map[string]any  `yaml:"shared,omitempty"`
	Plugins     []PluginConfig  `yaml:"plugins" validate:"required,min=1,dive"`
	Scenario    []ScenarioEvent `yaml:"scenario,omitempty" validate:"omitempty,dive"`
}

// Settings holds global runtime parameters.
type Settings struct {
	LogLevel  string `yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	HumanLogs bool   `yaml:"human_logs,omitempty"`
	Watch     bool   `yaml:"watch,omitempty"`
}

// PluginConfig describes one plugin script to load. Label is the name used
// in logs until the script declares its own through pluginSpec. Order holds
// operator-supplied ordering constraints that are merged over whatever the
// script declares, keyed by event name or the wildcard.
type PluginConfig struct {
	Label   string                       `yaml:"label,omitempty" validate:"omitempty,plugin_label"`
	Path    string                       `yaml:"path" validate:"required"`
	Enabled bool                         `yaml:"enabled,omitempty"`
	Config  map[string]any               `yaml:"config,omitempty"`
	Order   map[string]plugin.Constraint `yaml:"order,omitempty"`
}

// UnmarshalYAML applies the enabled-by-default rule for plugin entries.
func (p *PluginConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawPlugin struct {
		Label   string                       `yaml:"label"`
		Path    string                       `yaml:"path"`
		Enabled *bool                        `yaml:"enabled"`
		Config  map[string]any               `yaml:"config"`
		Order   map[string]plugin.Constraint `yaml:"order"`
	}

	var raw rawPlugin
	if err := value.Decode(&raw); err != nil {
		return err
	}

	p.Label = raw.Label
	p.Path = raw.Path
	p.Config = raw.Config
	p.Order = raw.Order
	if raw.Enabled != nil {
		p.Enabled = *raw.Enabled
	} else {
		p.Enabled = true
	}

	return nil
}

// ResolvePath returns the script path anchored at base when it is relative.
// base is normally the directory holding the config file.
func (p PluginConfig) ResolvePath(base string) string {
	if filepath.IsAbs(p.Path) || base == "" {
		return p.Path
	}
	return filepath.Join(base, p.Path)
}

// DisplayName returns the label when set, else the script file name.
func (p PluginConfig) DisplayName() string {
	if p.Label != "" {
		return p.Label
	}
	return filepath.Base(p.Path)
}

// ScenarioEvent is one event firing in the scripted scenario.
type ScenarioEvent struct {
	Event string `yaml:"event" validate:"required,event_name"`
	Args  []any  `yaml:"args,omitempty"`
}
