package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/alexisbeaulieu97/conductor/internal/plugin"
	"github.com/alexisbeaulieu97/conductor/internal/store"
	conductorerrors "github.com/alexisbeaulieu97/conductor/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern      = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	pluginLabelPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	eventNamePattern   = regexp.MustCompile(`^on[A-Za-z0-9_]+$`)
)

// validatorInstance configures and returns the shared validator used across
// the config package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("plugin_label", func(fl validator.FieldLevel) bool {
			return pluginLabelPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("event_name", func(fl validator.FieldLevel) bool {
			return eventNamePattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns the configured validator instance for use outside the
// config package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}

// ValidateConfig performs schema and cross-field validation on a room
// configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return conductorerrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	labels := make(map[string]int, len(cfg.Plugins))
	paths := make(map[string]int, len(cfg.Plugins))
	for i, p := range cfg.Plugins {
		if p.Label != "" {
			if prev, exists := labels[p.Label]; exists {
				return conductorerrors.NewValidationError(
					fieldForPlugin(i, "label"),
					fmt.Sprintf("duplicate plugin label %q (also used by plugins[%d])", p.Label, prev), nil)
			}
			labels[p.Label] = i
		}
		if prev, exists := paths[p.Path]; exists {
			return conductorerrors.NewValidationError(
				fieldForPlugin(i, "path"),
				fmt.Sprintf("duplicate plugin path %q (also used by plugins[%d])", p.Path, prev), nil)
		}
		paths[p.Path] = i
	}

	// Reserved-prefix values never fall back from shared state, so seeding
	// one is always a mistake.
	for key := range cfg.Shared {
		if store.IsReserved(key) {
			return conductorerrors.NewValidationError(
				fmt.Sprintf("shared.%s", key),
				fmt.Sprintf("shared values cannot use the reserved %q prefix", store.ReservedPrefix), nil)
		}
	}

	if err := validateOrderBlocks(cfg); err != nil {
		return err
	}

	return nil
}

// validateOrderBlocks checks config-level ordering constraints: every order
// key must be the wildcard or an event name, and the constraints declared
// under one key must not contradict each other. Wildcard and event-specific
// keys are checked independently; cross-key conflicts depend on which events
// a script actually handles and are caught when the order is resolved.
func validateOrderBlocks(cfg *Config) error {
	byLabel := make(map[string]int, len(cfg.Plugins))
	for i, p := range cfg.Plugins {
		if p.Label != "" {
			byLabel[p.Label] = i
		}
	}

	keySet := make(map[string]struct{})
	for i, p := range cfg.Plugins {
		for key := range p.Order {
			if key != plugin.Wildcard && !plugin.IsHandlerName(key) {
				return conductorerrors.NewValidationError(
					fieldForPlugin(i, "order"),
					fmt.Sprintf("order key %q must be %q or an event name starting with %q",
						key, plugin.Wildcard, plugin.HandlerPrefix), nil)
			}
			keySet[key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if cycle := orderCycleForKey(cfg, byLabel, key); len(cycle) > 0 {
			return conductorerrors.NewValidationError(
				"plugins.order",
				fmt.Sprintf("ordering constraints for %q form a cycle: %s",
					key, strings.Join(cycle, " -> ")), nil)
		}
	}

	return nil
}

// orderCycleForKey builds the runs-before graph declared under a single order
// key and returns the labels along a cycle, or nil when the graph is acyclic.
// Targets matching no configured label are skipped here; OrderWarnings is the
// surface that reports those.
func orderCycleForKey(cfg *Config, byLabel map[string]int, key string) []string {
	adj := make(map[int][]int)
	for i, p := range cfg.Plugins {
		c, ok := p.Order[key]
		if !ok {
			continue
		}
		for _, target := range c.Before {
			if t, known := byLabel[target]; known && t != i {
				adj[i] = append(adj[i], t)
			}
		}
		for _, target := range c.After {
			if t, known := byLabel[target]; known && t != i {
				adj[t] = append(adj[t], i)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(cfg.Plugins))
	var stack []int

	var walk func(int) []string
	walk = func(n int) []string {
		state[n] = visiting
		stack = append(stack, n)
		for _, next := range adj[n] {
			switch state[next] {
			case visiting:
				start := 0
				for idx, id := range stack {
					if id == next {
						start = idx
						break
					}
				}
				cycle := make([]string, 0, len(stack)-start+1)
				for _, id := range stack[start:] {
					cycle = append(cycle, cfg.Plugins[id].DisplayName())
				}
				return append(cycle, cfg.Plugins[next].DisplayName())
			case unvisited:
				if cycle := walk(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return nil
	}

	for i := range cfg.Plugins {
		if state[i] == unvisited {
			if cycle := walk(i); cycle != nil {
				return cycle
			}
		}
	}

	return nil
}

// OrderWarnings reports advisory findings about config-level ordering
// constraints. A constraint target that matches no configured label is not an
// error, the script may declare that name at load time, but it usually means
// a typo in the room file.
func OrderWarnings(cfg *Config) []string {
	if cfg == nil {
		return nil
	}

	known := make(map[string]struct{}, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		if p.Label != "" {
			known[p.Label] = struct{}{}
		}
	}

	var warnings []string
	for i, p := range cfg.Plugins {
		keys := make([]string, 0, len(p.Order))
		for key := range p.Order {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			c := p.Order[key]
			for _, target := range c.Before {
				if _, ok := known[target]; !ok {
					warnings = append(warnings, unknownTargetWarning(i, key, target))
				}
			}
			for _, target := range c.After {
				if _, ok := known[target]; !ok {
					warnings = append(warnings, unknownTargetWarning(i, key, target))
				}
			}
		}
	}

	return warnings
}

func unknownTargetWarning(index int, key, target string) string {
	return fmt.Sprintf("plugins[%d].order[%q]: target %q matches no configured label; the constraint only binds if a script declares that name",
		index, key, target)
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return conductorerrors.NewValidationError(field, msg, err)
	}

	return conductorerrors.NewValidationError("config", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	var lowered []string
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

func fieldForPlugin(index int, field string) string {
	return fmt.Sprintf("plugins[%d].%s", index, field)
}
