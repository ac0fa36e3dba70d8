// Package bus provides the synchronous in-process event bus that notifies
// UI-facing consumers of storage and state changes.
package bus

import (
	"log/slog"
	"sync"
)

// Event types published by the core. Payloads carry just enough to re-query
// the affected entity (a message id, a node id), never a full snapshot.
const (
	EventMessageAdded    = "message_added"
	EventDeliveryUpdated = "delivery_updated"
	EventReactionUpdated = "reaction_updated"
	EventNodeUpdated     = "node_updated"
	EventNodesImported   = "nodes_imported"
	EventDMReceived      = "dm_received"
	EventCleared         = "cleared"
)

// Event is one published notification.
type Event struct {
	Type    string
	Payload any
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine, in subscription order.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus is a registered-callback event bus. Delivery is synchronous and
// in-process; a handler that panics is isolated so the remaining handlers
// still run.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events and returns a token for
// Unsubscribe.
func (b *Bus) Subscribe(fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, fn: fn})
	return b.nextID
}

// Unsubscribe removes a previously registered handler. Unknown tokens are
// ignored.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every subscriber in registration order on
// the caller's goroutine.
func (b *Bus) Publish(eventType string, payload any) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	evt := Event{Type: eventType, Payload: payload}
	for _, s := range subs {
		deliver(s.fn, evt)
	}
}

func deliver(fn Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("event subscriber panicked", "event", evt.Type, "panic", r)
		}
	}()
	fn(evt)
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
