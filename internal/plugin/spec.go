package plugin

import (
	"fmt"
	"regexp"
	"strings"
)

// Wildcard is the handler-name key whose constraints apply to every handler
// the plugin registers, unless a handler-specific entry overrides them.
const Wildcard = "*"

// SpecProperty is the reserved property name whose assignment declares a
// plugin's specification and binds its human-readable name to its identity.
const SpecProperty = "pluginSpec"

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*(/[a-z0-9][a-z0-9._-]*)*$`)

// Constraint declares where a plugin wants its handler to run relative to
// other plugins, referenced by their human-readable names.
type Constraint struct {
	Before []string `yaml:"before,omitempty" json:"before,omitempty"`
	After  []string `yaml:"after,omitempty" json:"after,omitempty"`
}

// IsZero reports whether the constraint carries no ordering preferences.
func (c Constraint) IsZero() bool {
	return len(c.Before) == 0 && len(c.After) == 0
}

// Spec is the declaration block a plugin publishes by assigning the
// pluginSpec property. Only Name participates in engine semantics (name to
// identity binding and constraint resolution); the rest is carried for
// collaborators and kept opaque by the engine.
type Spec struct {
	Name         string                `yaml:"name" json:"name"`
	Author       string                `yaml:"author,omitempty" json:"author,omitempty"`
	Version      string                `yaml:"version,omitempty" json:"version,omitempty"`
	Dependencies []string              `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Order        map[string]Constraint `yaml:"order,omitempty" json:"order,omitempty"`
	Config       map[string]any        `yaml:"config,omitempty" json:"config,omitempty"`
}

// Validate ensures the declaration is well-formed.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("plugin spec is nil")
	}
	if strings.TrimSpace(s.Name) != "" && !namePattern.MatchString(s.Name) {
		return fmt.Errorf("plugin name %q is invalid (expected lowercase segments such as author/plugin)", s.Name)
	}

	seen := map[string]struct{}{}
	for _, dep := range s.Dependencies {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("plugin %q declares a dependency with an empty name", s.Name)
		}
		if dep == s.Name {
			return fmt.Errorf("plugin %q cannot depend on itself", s.Name)
		}
		if _, dup := seen[dep]; dup {
			return fmt.Errorf("plugin %q lists dependency %q more than once", s.Name, dep)
		}
		seen[dep] = struct{}{}
	}

	for handler := range s.Order {
		if handler != Wildcard && !IsHandlerName(handler) {
			return fmt.Errorf("plugin %q declares ordering for %q which is neither %q nor an %s-prefixed handler name", s.Name, handler, Wildcard, HandlerPrefix)
		}
	}

	return nil
}

// ConstraintFor resolves the constraints applicable to one handler name:
// the handler-specific entry when present, else the wildcard entry, else the
// zero constraint.
func (s *Spec) ConstraintFor(handler string) Constraint {
	if s == nil {
		return Constraint{}
	}
	if c, ok := s.Order[handler]; ok {
		return c
	}
	if c, ok := s.Order[Wildcard]; ok {
		return c
	}
	return Constraint{}
}

// SpecFromValue coerces a property value into a Spec. Assignments arrive
// either as typed specs (native plugins) or as loosely shaped maps (scripted
// plugins and YAML config blocks).
func SpecFromValue(v any) (*Spec, bool) {
	switch spec := v.(type) {
	case *Spec:
		return spec, spec != nil
	case Spec:
		return &spec, true
	case map[string]any:
		return specFromMap(spec), true
	default:
		return nil, false
	}
}

func specFromMap(m map[string]any) *Spec {
	s := &Spec{}
	if name, ok := m["name"].(string); ok {
		s.Name = name
	}
	if author, ok := m["author"].(string); ok {
		s.Author = author
	}
	if version, ok := m["version"].(string); ok {
		s.Version = version
	}
	s.Dependencies = stringList(m["dependencies"])
	if cfg, ok := m["config"].(map[string]any); ok {
		s.Config = cfg
	}

	if rawOrder, ok := m["order"].(map[string]any); ok {
		s.Order = make(map[string]Constraint, len(rawOrder))
		for handler, rawConstraint := range rawOrder {
			entry, ok := rawConstraint.(map[string]any)
			if !ok {
				continue
			}
			s.Order[handler] = Constraint{
				Before: stringList(entry["before"]),
				After:  stringList(entry["after"]),
			}
		}
	}

	return s
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}
