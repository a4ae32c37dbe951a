// Package events carries the observer-notification surface of the engine:
// named lifecycle events delivered synchronously to registered observers.
package events

import (
	"context"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/conductor/internal/logger"
)

// Lifecycle event names delivered to observers.
const (
	HandlerSet         = "handlerSet"
	HandlerUnset       = "handlerUnset"
	PropertySet        = "propertySet"
	PropertyUnset      = "propertyUnset"
	PluginEnabled      = "pluginEnabled"
	PluginDisabled     = "pluginDisabled"
	BeforePluginLoaded = "beforePluginLoaded"
	PluginLoaded       = "pluginLoaded"
	PluginRemoved      = "pluginRemoved"
	LocalEvent         = "localEvent"
)

// AllTypes subscribes an observer to every lifecycle event type.
const AllTypes = "*"

// Event is one lifecycle notification. Fields carry the structured payload
// (plugin, name, value) the observer and the log entry receive.
type Event struct {
	Type   string
	Fields map[string]any
}

// New builds an event of the given type with the supplied payload fields.
func New(eventType string, fields map[string]any) Event {
	return Event{Type: eventType, Fields: fields}
}

// Handler processes one delivered event. Failures are logged and never
// interrupt delivery to the remaining observers.
type Handler func(ctx context.Context, event Event) error

// Subscription represents a registered observer. Callers must invoke
// Unsubscribe to stop receiving events.
type Subscription interface {
	Unsubscribe()
}

// Notifier delivers lifecycle events to observers and writes each one as a
// structured log entry. Delivery is synchronous; no ordering is guaranteed
// between distinct observers.
type Notifier struct {
	logger *logger.Logger
	subs   map[string][]subscriptionEntry
	nextID int
	mu     sync.RWMutex
}

// NewNotifier creates a notifier backed by the supplied logger.
func NewNotifier(log *logger.Logger) *Notifier {
	return &Notifier{
		logger: log,
		subs:   make(map[string][]subscriptionEntry),
	}
}

// Publish logs the event and delivers it to every observer subscribed to its
// type or to AllTypes.
func (n *Notifier) Publish(ctx context.Context, event Event) {
	if n == nil || event.Type == "" {
		return
	}

	n.mu.RLock()
	handlers := append([]subscriptionEntry(nil), n.subs[event.Type]...)
	handlers = append(handlers, n.subs[AllTypes]...)
	n.mu.RUnlock()

	n.logEvent(event)

	for _, entry := range handlers {
		handler := entry.handler
		if handler == nil {
			continue
		}
		if err := handler(ctx, event); err != nil {
			n.logger.WithFields(map[string]any{
				"notification": event.Type,
			}).Warn("observer failed: " + err.Error())
		}
	}
}

// Subscribe registers an observer for the provided event type. Use AllTypes
// to observe every lifecycle event.
func (n *Notifier) Subscribe(eventType string, handler Handler) (Subscription, error) {
	if n == nil || handler == nil {
		return noopSubscription{}, nil
	}
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs[eventType] = append(n.subs[eventType], subscriptionEntry{id: id, handler: handler})
	n.mu.Unlock()

	return subscription{
		cancel: func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			handlers := n.subs[eventType]
			for i, entry := range handlers {
				if entry.id == id {
					n.subs[eventType] = append(handlers[:i], handlers[i+1:]...)
					break
				}
			}
		},
	}, nil
}

func (n *Notifier) logEvent(event Event) {
	if n.logger == nil {
		return
	}

	fields := map[string]any{"notification": event.Type}
	keys := make([]string, 0, len(event.Fields))
	for key := range event.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fields[key] = event.Fields[key]
	}

	n.logger.WithFields(fields).Debug("lifecycle event")
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type subscription struct {
	cancel func()
}

func (s subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

type subscriptionEntry struct {
	id      int
	handler Handler
}
