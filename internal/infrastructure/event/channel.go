package event

import (
	"context"
	"sync/atomic"

	"github.com/storefront/cartsync/internal/domain/shared"
)

// ChannelHandler forwards events to a buffered channel. When the buffer is
// full the event is dropped and counted; snapshots carry full state, so a
// reader that falls behind only misses intermediate states.
type ChannelHandler struct {
	ch      chan shared.DomainEvent
	types   []string
	dropped atomic.Int64
}

// NewChannelHandler creates a handler with a buffer of size events
func NewChannelHandler(size int, eventTypes ...string) *ChannelHandler {
	if size <= 0 {
		size = 16
	}
	return &ChannelHandler{ch: make(chan shared.DomainEvent, size), types: eventTypes}
}

// Handle implements shared.EventHandler
func (h *ChannelHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	select {
	case h.ch <- event:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// EventTypes implements shared.EventHandler
func (h *ChannelHandler) EventTypes() []string {
	return h.types
}

// C returns the receive side of the channel
func (h *ChannelHandler) C() <-chan shared.DomainEvent {
	return h.ch
}

// Dropped returns how many events did not fit the buffer
func (h *ChannelHandler) Dropped() int64 {
	return h.dropped.Load()
}
