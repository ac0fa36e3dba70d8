// Package conversation keeps the bounded in-memory mirror of recent packets
// and tracks outbound messages awaiting delivery acknowledgment.
package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/meshlog/meshlog/internal/bus"
	"github.com/meshlog/meshlog/internal/meshid"
	"github.com/meshlog/meshlog/internal/packet"
)

// DefaultCapacity bounds the mirror when no explicit size is configured.
const DefaultCapacity = 1000

// Storage is the slice of the persistent store the buffer writes through to.
type Storage interface {
	InsertPacket(rec *packet.Record, ts float64) (int64, error)
	UpdateDeliveryStatus(packetID int64, delivered bool, errorReason string) error
}

// Entry is one mirrored packet. DBID is 0 when persistence failed; the entry
// still lives in the mirror so live display is unaffected.
type Entry struct {
	Record    *packet.Record
	Timestamp float64
	DBID      int64
}

// Pending tracks one outbound packet awaiting an acknowledgment.
type Pending struct {
	RequestID int64
	PacketID  int64 // protocol packet id, for the durable delivery update
	Record    *packet.Record
	CreatedAt float64
}

// Buffer is a bounded FIFO mirror of recent packets. Oldest entries drop
// silently once capacity is exceeded. Writes go through to storage; reads of
// the mirror may come from a UI thread, so access is guarded.
type Buffer struct {
	mu      sync.Mutex
	entries []*Entry
	max     int
	pending map[int64]*Pending
	storage Storage
	events  *bus.Bus
	now     func() time.Time
}

// NewBuffer creates a buffer holding at most max entries. storage and events
// may be nil in tests.
func NewBuffer(max int, storage Storage, events *bus.Bus) *Buffer {
	if max <= 0 {
		max = DefaultCapacity
	}
	return &Buffer{
		max:     max,
		pending: make(map[int64]*Pending),
		storage: storage,
		events:  events,
		now:     time.Now,
	}
}

// Add persists the packet and appends it to the mirror. A storage failure is
// swallowed: the mirror still gains the entry and message_added still fires,
// with a zero database id. Returns the database id, 0 when not persisted.
func (b *Buffer) Add(rec *packet.Record) int64 {
	ts := float64(b.now().UnixNano()) / 1e9

	var dbID int64
	if b.storage != nil {
		id, err := b.storage.InsertPacket(rec, ts)
		if err != nil {
			// Storage trouble must not drop live messages.
			slog.Warn("failed to persist packet", "error", err)
		} else {
			dbID = id
		}
	}

	entry := &Entry{Record: rec, Timestamp: ts, DBID: dbID}
	b.mu.Lock()
	b.entries = append(b.entries, entry)
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
	b.mu.Unlock()

	b.publish(bus.EventMessageAdded, dbID)
	return dbID
}

// AddPending registers an outbound packet awaiting acknowledgment.
func (b *Buffer) AddPending(requestID int64, rec *packet.Record, packetID int64) {
	b.mu.Lock()
	b.pending[requestID] = &Pending{
		RequestID: requestID,
		PacketID:  packetID,
		Record:    rec,
		CreatedAt: float64(b.now().UnixNano()) / 1e9,
	}
	b.mu.Unlock()
}

// ResolvePending records the delivery outcome for a tracked send: the
// in-memory record's delivery fields are mutated, the durable row is updated
// by protocol packet id, and delivery_updated fires. An unknown request id
// is a no-op returning nil — duplicate and late acknowledgments are expected
// on a lossy radio link.
func (b *Buffer) ResolvePending(requestID int64, success bool, errorReason string) *packet.Record {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
		// The record may be shared with mirror readers; mutate it under the
		// same lock that guards their access.
		delivered := success
		p.Record.Delivered = &delivered
		if !success && errorReason != "" {
			p.Record.ErrorReason = errorReason
		}
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}

	if b.storage != nil && p.PacketID != 0 {
		if err := b.storage.UpdateDeliveryStatus(p.PacketID, success, errorReason); err != nil {
			slog.Warn("failed to persist delivery status", "packet_id", p.PacketID, "error", err)
		}
	}
	b.publish(bus.EventDeliveryUpdated, p.PacketID)
	return p.Record
}

// PendingCount returns how many sends are still awaiting acknowledgment.
func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// All returns the mirrored entries, oldest first.
func (b *Buffer) All() []*Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Recent returns the newest count entries, oldest first.
func (b *Buffer) Recent(count int) []*Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if count > len(b.entries) {
		count = len(b.entries)
	}
	out := make([]*Entry, count)
	copy(out, b.entries[len(b.entries)-count:])
	return out
}

// The filter helpers below scan the mirror only. They exist as a fallback
// when the store is unavailable and are O(n) by design.

// TextMessages returns mirrored text-kind entries, optionally restricted to
// one channel, optionally excluding direct messages.
func (b *Buffer) TextMessages(channel *int, broadcastOnly bool) []*Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Entry
	for _, e := range b.entries {
		if !e.Record.IsText() {
			continue
		}
		if channel != nil && e.Record.Channel != *channel {
			continue
		}
		if broadcastOnly && !e.Record.IsBroadcast() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ForNode returns mirrored entries sent by or to the node.
func (b *Buffer) ForNode(id any) []*Entry {
	nodeID := meshid.Normalize(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Entry
	for _, e := range b.entries {
		if e.Record.FromID() == nodeID || e.Record.ToID() == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// TextMessagesForNode returns mirrored text entries involving the node. With
// dmOnly set, broadcasts are excluded using the channel-0 address convention:
// a DM is anything addressed to the node, or sent by it to a non-broadcast
// address.
func (b *Buffer) TextMessagesForNode(id any, channel *int, dmOnly bool) []*Entry {
	nodeID := meshid.Normalize(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Entry
	for _, e := range b.entries {
		if !e.Record.IsText() {
			continue
		}
		if channel != nil && e.Record.Channel != *channel {
			continue
		}
		from, to := e.Record.FromID(), e.Record.ToID()
		if dmOnly {
			toNode := to == nodeID
			fromNode := from == nodeID && !meshid.IsBroadcast(to)
			if toNode || fromNode {
				out = append(out, e)
			}
			continue
		}
		if from == nodeID || to == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops all mirrored entries. Pending delivery tracking survives.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
	b.publish(bus.EventCleared, "messages")
}

// Len returns the number of mirrored entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Buffer) publish(eventType string, payload any) {
	if b.events != nil {
		b.events.Publish(eventType, payload)
	}
}
