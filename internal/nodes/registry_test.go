package nodes

import (
	"testing"
	"time"

	"github.com/meshlog/meshlog/internal/bus"
)

type fakeStorage struct {
	upserts map[string]map[string]any
	loaded  map[string]map[string]any
	pruned  int64
	failing bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{upserts: make(map[string]map[string]any)}
}

func (f *fakeStorage) UpsertNode(nodeID string, data map[string]any) error {
	if f.failing {
		return errFail
	}
	f.upserts[nodeID] = data
	return nil
}

func (f *fakeStorage) AllNodes() (map[string]map[string]any, error) {
	return f.loaded, nil
}

func (f *fakeStorage) DeleteNodesOlderThan(time.Duration) (int64, error) {
	return f.pruned, nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFail = fakeErr("disk full")

func TestMergePreservesNestedAttributes(t *testing.T) {
	r := NewRegistry(newFakeStorage(), nil)

	r.Merge("!00000001", map[string]any{"position": map[string]any{"lat": 1.0}})
	r.Merge("!00000001", map[string]any{"position": map[string]any{"lon": 2.0}})

	node := r.Get("!00000001")
	pos := node["position"].(map[string]any)
	if pos["lat"] != 1.0 || pos["lon"] != 2.0 {
		t.Fatalf("position = %v, want lat and lon", pos)
	}
}

func TestMergeScalarOverwrites(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Merge(uint32(1), map[string]any{"snr": 5.0})
	r.Merge(uint32(1), map[string]any{"snr": -3.0})
	if got := r.Get(uint32(1))["snr"]; got != -3.0 {
		t.Fatalf("snr = %v, want -3.0", got)
	}
}

func TestMergeSetsLastHeardAndPublicKey(t *testing.T) {
	r := NewRegistry(nil, nil)
	before := time.Now().Unix()
	r.Merge("!00000001", map[string]any{"user": map[string]any{"shortName": "AB", "publicKey": "abc123"}})

	node := r.Get("!00000001")
	if heard, ok := node["lastHeard"].(int64); !ok || heard < before {
		t.Fatalf("lastHeard = %v", node["lastHeard"])
	}
	if node["has_public_key"] != true {
		t.Fatal("has_public_key not derived from identity block")
	}

	r.Merge("!00000002", map[string]any{"user": map[string]any{"publicKey": ""}})
	if r.Get("!00000002")["has_public_key"] != false {
		t.Fatal("empty public key should clear the flag")
	}
}

func TestMergePersistsAndPublishes(t *testing.T) {
	st := newFakeStorage()
	events := bus.New()
	var got []bus.Event
	events.Subscribe(func(e bus.Event) { got = append(got, e) })

	r := NewRegistry(st, events)
	r.Merge(uint32(0xaabbccdd), map[string]any{"snr": 1.0})

	if _, ok := st.upserts["!aabbccdd"]; !ok {
		t.Fatal("node not persisted")
	}
	if len(got) != 1 || got[0].Type != bus.EventNodeUpdated || got[0].Payload != "!aabbccdd" {
		t.Fatalf("events = %+v", got)
	}
}

func TestMergeSurvivesStorageFailure(t *testing.T) {
	st := newFakeStorage()
	st.failing = true
	r := NewRegistry(st, nil)
	r.Merge("!00000001", map[string]any{"snr": 1.0})
	if r.Get("!00000001") == nil {
		t.Fatal("in-memory node lost on storage failure")
	}
}

func TestImportBulkSingleEvent(t *testing.T) {
	events := bus.New()
	var types []string
	events.Subscribe(func(e bus.Event) { types = append(types, e.Type) })

	r := NewRegistry(nil, events)
	r.ImportBulk(map[string]map[string]any{
		"!00000001": {"num": 1, "isFavorite": true},
		"!00000002": {"num": 2},
		"!00000003": {"num": 3},
	})

	if len(types) != 1 || types[0] != bus.EventNodesImported {
		t.Fatalf("events = %v, want single nodes_imported", types)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d", r.Len())
	}
	if !r.IsFavorite(uint32(1)) {
		t.Fatal("isFavorite not converted to favorite flag")
	}
}

func TestImportBulkPersistsEachNode(t *testing.T) {
	st := newFakeStorage()
	r := NewRegistry(st, nil)

	r.ImportBulk(map[string]map[string]any{
		"!00000001": {"num": 1, "isFavorite": true},
		"!00000002": {"num": 2},
	})

	if len(st.upserts) != 2 {
		t.Fatalf("persisted = %d nodes, want 2", len(st.upserts))
	}
	saved, ok := st.upserts["!00000001"]
	if !ok {
		t.Fatal("imported node missing from storage")
	}
	if saved["is_favorite"] != true {
		t.Fatalf("persisted attrs = %v", saved)
	}
	if _, ok := saved["lastHeard"]; !ok {
		t.Fatal("persisted node missing lastHeard")
	}
}

func TestPruneDropsNodesLoadedFromStorage(t *testing.T) {
	st := newFakeStorage()
	st.pruned = 1
	// Stored attribute blobs come back from JSON, so lastHeard is float64.
	old := float64(time.Now().Add(-90 * 24 * time.Hour).Unix())
	st.loaded = map[string]map[string]any{
		"!0000000a": {"lastHeard": old, "snr": 1.0},
	}
	r := NewRegistry(st, nil)
	r.LoadFromStorage()

	if removed := r.Prune(30 * 24 * time.Hour); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if r.Get("!0000000a") != nil {
		t.Fatal("aged node still in memory after prune")
	}
}

func TestSetFavorite(t *testing.T) {
	events := bus.New()
	var count int
	events.Subscribe(func(e bus.Event) {
		if e.Type == bus.EventNodeUpdated {
			count++
		}
	})
	r := NewRegistry(nil, events)
	r.Merge("!00000001", map[string]any{})

	r.SetFavorite("!00000001", true)
	if !r.IsFavorite("!00000001") {
		t.Fatal("favorite not set")
	}
	r.SetFavorite("!00000001", false)
	if r.IsFavorite("!00000001") {
		t.Fatal("favorite not cleared")
	}
	if count != 3 {
		t.Fatalf("node_updated events = %d, want 3", count)
	}

	// Unknown node is a no-op, not an error.
	r.SetFavorite("!0000dead", true)
}

func TestLoadFromStorageKeepsLiveNodes(t *testing.T) {
	st := newFakeStorage()
	st.loaded = map[string]map[string]any{
		"!00000001": {"snr": 9.0},
		"!00000002": {"snr": 2.0},
	}
	r := NewRegistry(st, nil)
	r.Merge("!00000001", map[string]any{"snr": 1.0})

	r.LoadFromStorage()

	if got := r.Get("!00000001")["snr"]; got != 1.0 {
		t.Fatalf("live node clobbered by storage load: %v", got)
	}
	if r.Get("!00000002") == nil {
		t.Fatal("stored node not loaded")
	}
}

func TestDisplayName(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Merge("!00000001", map[string]any{"user": map[string]any{"shortName": "AB", "longName": "Alpha Base"}})
	r.Merge("!00000002", map[string]any{"user": map[string]any{"longName": "Beta"}})

	if got := r.DisplayName("!00000001"); got != "AB" {
		t.Errorf("short name preferred: got %q", got)
	}
	if got := r.DisplayName("!00000002"); got != "Beta" {
		t.Errorf("long name fallback: got %q", got)
	}
	if got := r.DisplayName("!0000dead"); got != "!0000dead" {
		t.Errorf("id fallback: got %q", got)
	}
}
