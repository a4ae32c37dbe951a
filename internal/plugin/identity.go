// Package plugin defines the identity and declaration model shared by the
// conductor engine: opaque per-instance identities, the pluginSpec declaration
// block, and the ordering constraints plugins publish for their handlers.
package plugin

import "github.com/google/uuid"

// ID is the opaque, stable token assigned to a plugin instance at creation
// time. It is distinct from the plugin's human-readable name, which is
// optional, assigned later through the pluginSpec property, and mutable.
type ID string

// NewID mints a fresh plugin identity.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}

// HandlerPrefix marks the property names that register event handlers when
// assigned through a plugin's room view.
const HandlerPrefix = "on"

// IsHandlerName reports whether the given property name denotes an event
// handler slot rather than a plain property.
func IsHandlerName(name string) bool {
	return len(name) > len(HandlerPrefix) && name[:len(HandlerPrefix)] == HandlerPrefix
}
