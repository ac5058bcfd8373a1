package event

import (
	"slices"
	"sync"

	"github.com/storefront/cartsync/internal/domain/shared"
)

type subscription struct {
	handler shared.EventHandler
	types   map[string]struct{} // nil receives every event
}

func (s subscription) matches(eventType string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// HandlerRegistry keeps subscriptions in registration order
type HandlerRegistry struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{}
}

// Register adds a handler. With no event types the handler receives all
// events. Registering the same handler again widens its type set.
func (r *HandlerRegistry) Register(handler shared.EventHandler, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var types map[string]struct{}
	if len(eventTypes) > 0 {
		types = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			types[t] = struct{}{}
		}
	}

	for i, s := range r.subs {
		if s.handler != handler {
			continue
		}
		if s.types == nil || types == nil {
			r.subs[i].types = nil
			return
		}
		for t := range types {
			s.types[t] = struct{}{}
		}
		return
	}
	r.subs = append(r.subs, subscription{handler: handler, types: types})
}

// Unregister removes a handler
func (r *HandlerRegistry) Unregister(handler shared.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = slices.DeleteFunc(r.subs, func(s subscription) bool {
		return s.handler == handler
	})
}

// GetHandlers returns the handlers for eventType in registration order
func (r *HandlerRegistry) GetHandlers(eventType string) []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]shared.EventHandler, 0, len(r.subs))
	for _, s := range r.subs {
		if s.matches(eventType) {
			result = append(result, s.handler)
		}
	}
	return result
}

// Len returns the number of registered handlers
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
