// Package reactions implements toggle-based emoji reaction bookkeeping on
// top of the persistent store.
package reactions

import (
	"fmt"

	"github.com/meshlog/meshlog/internal/bus"
	"github.com/meshlog/meshlog/internal/meshid"
	"github.com/meshlog/meshlog/internal/store"
)

// Supported maps each accepted reaction emoji to its meaning. Reactions
// outside this set are rejected so every client renders the same picker.
var Supported = map[string]string{
	"👍": "Thumbs up",
	"👎": "Thumbs down",
	"❤️": "Love",
	"😂": "Laugh",
	"❗": "Important",
	"❓": "Question",
}

// IsSupported reports whether emoji is in the supported reaction set.
func IsSupported(emoji string) bool {
	_, ok := Supported[emoji]
	return ok
}

// Storage is the slice of the persistent store the engine needs.
type Storage interface {
	ToggleReaction(messageID, packetID int64, reactorNode, emoji string, ts float64) (bool, error)
	ReactionsFor(messageID int64) ([]store.Reaction, error)
	ReactionsForAll(messageIDs []int64) (map[int64][]store.Reaction, error)
	FindByPacketID(packetID int64) (*store.Message, error)
}

// Engine applies and reads reactions. Toggle semantics are a hard invariant:
// expressing an identical reaction a second time removes it.
type Engine struct {
	storage Storage
	events  *bus.Bus
}

// NewEngine creates an engine over storage, publishing reaction_updated on
// events (which may be nil).
func NewEngine(storage Storage, events *bus.Bus) *Engine {
	return &Engine{storage: storage, events: events}
}

// Toggle applies reactor's emoji to a stored message, removing it when
// already present. Returns true when the reaction was added. Unsupported
// emoji indicate a broken caller and are an error.
func (e *Engine) Toggle(messageID, packetID int64, reactor any, emoji string, ts float64) (bool, error) {
	if !IsSupported(emoji) {
		return false, fmt.Errorf("unsupported reaction emoji %q", emoji)
	}
	added, err := e.storage.ToggleReaction(messageID, packetID, meshid.Normalize(reactor), emoji, ts)
	if err != nil {
		return false, err
	}
	if e.events != nil {
		e.events.Publish(bus.EventReactionUpdated, messageID)
	}
	return added, nil
}

// ToggleForPacket resolves the target message by protocol packet id and
// toggles the reaction on it. Returns the target's database id, or 0 when
// the target is not stored (the reaction is dropped, matching how a radio
// client behaves when it never saw the original message).
func (e *Engine) ToggleForPacket(targetPacketID int64, reactor any, emoji string, ts float64) (added bool, messageID int64, err error) {
	if !IsSupported(emoji) {
		return false, 0, fmt.Errorf("unsupported reaction emoji %q", emoji)
	}
	target, err := e.storage.FindByPacketID(targetPacketID)
	if err != nil {
		return false, 0, err
	}
	if target == nil {
		return false, 0, nil
	}
	added, err = e.Toggle(target.ID, targetPacketID, reactor, emoji, ts)
	return added, target.ID, err
}

// For returns the reactions on one message in time order.
func (e *Engine) For(messageID int64) ([]store.Reaction, error) {
	return e.storage.ReactionsFor(messageID)
}

// ForAll returns reactions for a page of messages in one query, avoiding an
// N+1 scan when rendering history.
func (e *Engine) ForAll(messageIDs []int64) (map[int64][]store.Reaction, error) {
	return e.storage.ReactionsForAll(messageIDs)
}
