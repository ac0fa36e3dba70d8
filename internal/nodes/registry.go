// Package nodes keeps the in-memory registry of mesh nodes, merged from
// packet telemetry and identity broadcasts and persisted through the store.
package nodes

import (
	"log/slog"
	"sync"
	"time"

	"github.com/meshlog/meshlog/internal/bus"
	"github.com/meshlog/meshlog/internal/meshid"
)

// Storage is the slice of the persistent store the registry needs.
type Storage interface {
	UpsertNode(nodeID string, data map[string]any) error
	AllNodes() (map[string]map[string]any, error)
	DeleteNodesOlderThan(maxAge time.Duration) (int64, error)
}

// Registry maps canonical node ids to merged attribute maps. Scalar
// attributes overwrite on merge; nested attribute groups (identity, position,
// telemetry) merge key-by-key one level deep, so a partial position update
// never wipes previously known fields.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[string]map[string]any
	storage Storage
	events  *bus.Bus
	now     func() time.Time
}

// NewRegistry creates a registry persisting through storage and publishing
// node events on events. Either may be nil in tests.
func NewRegistry(storage Storage, events *bus.Bus) *Registry {
	return &Registry{
		nodes:   make(map[string]map[string]any),
		storage: storage,
		events:  events,
		now:     time.Now,
	}
}

// LoadFromStorage seeds the registry from persisted nodes without clobbering
// anything already merged this session. Emits one nodes_imported event when
// anything was loaded.
func (r *Registry) LoadFromStorage() {
	if r.storage == nil {
		return
	}
	stored, err := r.storage.AllNodes()
	if err != nil {
		slog.Warn("failed to load nodes from storage", "error", err)
		return
	}
	r.mu.Lock()
	for id, data := range stored {
		if _, ok := r.nodes[id]; !ok {
			r.nodes[id] = data
		}
	}
	r.mu.Unlock()
	if len(stored) > 0 {
		r.publish(bus.EventNodesImported, nil)
	}
}

// Merge folds attrs into the node's record, creating it on first sighting.
// last_heard always moves to now, and a public key in the identity block
// sets the has_public_key flag. The merged record is persisted best-effort:
// a storage failure leaves the in-memory state valid.
func (r *Registry) Merge(id any, attrs map[string]any) {
	nodeID := meshid.Normalize(id)

	r.mu.Lock()
	node := r.mergeLocked(nodeID, id, attrs)
	snapshot := copyNode(node)
	r.mu.Unlock()

	r.persist(nodeID, snapshot)
	r.publish(bus.EventNodeUpdated, nodeID)
}

func (r *Registry) mergeLocked(nodeID string, rawID any, attrs map[string]any) map[string]any {
	node, ok := r.nodes[nodeID]
	if !ok {
		node = map[string]any{"num": rawID}
		r.nodes[nodeID] = node
	}

	for key, value := range attrs {
		incoming, inMap := value.(map[string]any)
		existing, exMap := node[key].(map[string]any)
		if inMap && exMap {
			for k, v := range incoming {
				existing[k] = v
			}
		} else {
			node[key] = value
		}
	}

	if user, ok := attrs["user"].(map[string]any); ok {
		if pk, present := user["publicKey"]; present {
			node["has_public_key"] = !isEmptyValue(pk)
		}
	}
	node["lastHeard"] = r.now().Unix()
	return node
}

// ImportBulk merges a batch of nodes (typically the device's node database
// at connect time). Each node goes through the same merge-and-persist path
// as Merge; only the event differs, a single nodes_imported instead of one
// node_updated per node.
func (r *Registry) ImportBulk(batch map[string]map[string]any) {
	snapshots := make(map[string]map[string]any, len(batch))
	r.mu.Lock()
	for id, data := range batch {
		rawID := any(id)
		if num, ok := data["num"]; ok {
			rawID = num
		}
		nodeID := meshid.Normalize(rawID)
		attrs := make(map[string]any, len(data))
		for k, v := range data {
			attrs[k] = v
		}
		// Device exports use isFavorite; the registry's flag is is_favorite.
		if fav, ok := attrs["isFavorite"]; ok {
			delete(attrs, "isFavorite")
			attrs["is_favorite"] = fav
		}
		snapshots[nodeID] = copyNode(r.mergeLocked(nodeID, rawID, attrs))
	}
	r.mu.Unlock()

	for nodeID, snapshot := range snapshots {
		r.persist(nodeID, snapshot)
	}
	r.publish(bus.EventNodesImported, nil)
}

// Get returns a copy of the node's attributes, or nil if unknown.
func (r *Registry) Get(id any) map[string]any {
	nodeID := meshid.Normalize(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return nil
	}
	return copyNode(node)
}

// All returns a copy of every known node keyed by canonical id.
func (r *Registry) All() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]any, len(r.nodes))
	for id, node := range r.nodes {
		out[id] = copyNode(node)
	}
	return out
}

// DisplayName returns the node's short name, falling back to long name and
// finally the canonical id.
func (r *Registry) DisplayName(id any) string {
	nodeID := meshid.Normalize(id)
	node := r.Get(nodeID)
	if node == nil {
		return nodeID
	}
	if user, ok := node["user"].(map[string]any); ok {
		if s, ok := user["shortName"].(string); ok && s != "" {
			return s
		}
		if l, ok := user["longName"].(string); ok && l != "" {
			return l
		}
	}
	return nodeID
}

// IsFavorite reports the node's favorite flag.
func (r *Registry) IsFavorite(id any) bool {
	node := r.Get(id)
	if node == nil {
		return false
	}
	fav, _ := node["is_favorite"].(bool)
	return fav
}

// SetFavorite toggles the standalone favorite flag. Independent of merges.
func (r *Registry) SetFavorite(id any, favorite bool) {
	nodeID := meshid.Normalize(id)
	r.mu.Lock()
	node, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	node["is_favorite"] = favorite
	snapshot := copyNode(node)
	r.mu.Unlock()

	r.persist(nodeID, snapshot)
	r.publish(bus.EventNodeUpdated, nodeID)
}

// Prune deletes persisted nodes older than maxAge and drops them from
// memory. Returns how many were removed from storage.
func (r *Registry) Prune(maxAge time.Duration) int64 {
	var removed int64
	if r.storage != nil {
		n, err := r.storage.DeleteNodesOlderThan(maxAge)
		if err != nil {
			slog.Warn("failed to prune nodes", "error", err)
		} else {
			removed = n
		}
	}
	cutoff := r.now().Add(-maxAge).Unix()
	r.mu.Lock()
	for id, node := range r.nodes {
		// lastHeard is int64 when merged this session and float64 after a
		// JSON round-trip through storage; both forms must age out.
		if heard, ok := asUnix(node["lastHeard"]); ok && heard < cutoff {
			delete(r.nodes, id)
		}
	}
	r.mu.Unlock()
	return removed
}

func asUnix(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case int:
		return int64(x), true
	default:
		return 0, false
	}
}

// Clear drops all in-memory nodes.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.nodes = make(map[string]map[string]any)
	r.mu.Unlock()
	r.publish(bus.EventCleared, "nodes")
}

// Len returns the number of known nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

func (r *Registry) persist(nodeID string, node map[string]any) {
	if r.storage == nil {
		return
	}
	if err := r.storage.UpsertNode(nodeID, node); err != nil {
		// Node state stays valid in memory even when not durable.
		slog.Warn("failed to persist node", "node", nodeID, "error", err)
	}
}

func (r *Registry) publish(eventType string, payload any) {
	if r.events != nil {
		r.events.Publish(eventType, payload)
	}
}

func copyNode(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for k, v := range node {
		if m, ok := v.(map[string]any); ok {
			inner := make(map[string]any, len(m))
			for ik, iv := range m {
				inner[ik] = iv
			}
			out[k] = inner
			continue
		}
		out[k] = v
	}
	return out
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []byte:
		return len(x) == 0
	default:
		return false
	}
}
