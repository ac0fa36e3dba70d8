package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/meshlog/meshlog/internal/packet"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "messages.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func textRecord(pktID int64, from, to string, channel int, text string) *packet.Record {
	return &packet.Record{
		From:    from,
		To:      to,
		ID:      pktID,
		Channel: channel,
		Decoded: packet.Decoded{PortKind: packet.PortText, Text: text},
	}
}

func TestInsertAndRoundTrip(t *testing.T) {
	s := newTestStore(t)

	snr := 7.25
	rssi := -90
	hopStart, hopLimit := 3, 1
	rec := &packet.Record{
		From:     uint32(0x0a1b2c3d),
		To:       "^all",
		ID:       123456,
		Channel:  2,
		SNR:      &snr,
		RSSI:     &rssi,
		HopStart: &hopStart,
		HopLimit: &hopLimit,
		Decoded:  packet.Decoded{PortKind: packet.PortText, Text: "Hello world"},
	}
	id, err := s.InsertPacket(rec, 1700000000.5)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected nonzero db id")
	}

	m, err := s.FindByPacketID(123456)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m == nil {
		t.Fatal("message not found by protocol id")
	}
	if m.FromNode != "!0a1b2c3d" || m.ToNode != "^all" {
		t.Errorf("nodes = %q -> %q", m.FromNode, m.ToNode)
	}
	if m.Channel != 2 || m.PortKind != packet.PortText {
		t.Errorf("channel=%d kind=%q", m.Channel, m.PortKind)
	}
	if m.Timestamp != 1700000000.5 {
		t.Errorf("timestamp = %v", m.Timestamp)
	}
	if m.SNR == nil || *m.SNR != 7.25 {
		t.Errorf("snr = %v", m.SNR)
	}
	if m.RSSI == nil || *m.RSSI != -90 {
		t.Errorf("rssi = %v", m.RSSI)
	}
	if m.Hops == nil || *m.Hops != 2 {
		t.Errorf("hops = %v", m.Hops)
	}
	if m.Delivered != nil {
		t.Errorf("delivered should be unknown, got %v", *m.Delivered)
	}
	if m.Payload["text"] != "Hello world" {
		t.Errorf("payload text = %v", m.Payload["text"])
	}
	if m.Raw == nil || m.Raw.Decoded.Text != "Hello world" {
		t.Errorf("raw record not restored: %+v", m.Raw)
	}
	if m.Raw.FromID() != "!0a1b2c3d" {
		t.Errorf("raw from = %v", m.Raw.From)
	}
}

func TestFindByPacketIDPrefersOldest(t *testing.T) {
	s := newTestStore(t)

	first, err := s.InsertPacket(textRecord(777, "!00000001", "^all", 0, "first use"), 1)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Protocol ids recycle over long sessions; a reused id must not shadow
	// the original message.
	if _, err := s.InsertPacket(textRecord(777, "!00000002", "^all", 0, "recycled id"), 2); err != nil {
		t.Fatalf("insert: %v", err)
	}

	m, err := s.FindByPacketID(777)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m == nil || m.ID != first {
		t.Fatalf("matched id %v, want %d", m, first)
	}
}

func TestIDsStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.InsertPacket(textRecord(0, "!00000001", "^all", 0, "x"), float64(i))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestDeliveryStatusOnlyTouchesOutbound(t *testing.T) {
	s := newTestStore(t)

	inbound := textRecord(777, "!00000002", "!00000001", 0, "in")
	if _, err := s.InsertPacket(inbound, 1); err != nil {
		t.Fatalf("insert inbound: %v", err)
	}
	outbound := textRecord(888, "!00000001", "!00000002", 0, "out")
	outbound.Outbound = true
	if _, err := s.InsertPacket(outbound, 2); err != nil {
		t.Fatalf("insert outbound: %v", err)
	}

	if err := s.UpdateDeliveryStatus(777, false, "MAX_RETRANSMIT"); err != nil {
		t.Fatalf("update inbound: %v", err)
	}
	if err := s.UpdateDeliveryStatus(888, false, "MAX_RETRANSMIT"); err != nil {
		t.Fatalf("update outbound: %v", err)
	}

	in, _ := s.FindByPacketID(777)
	if in.Delivered != nil {
		t.Error("inbound packet delivery state mutated")
	}
	out, _ := s.FindByPacketID(888)
	if out.Delivered == nil || *out.Delivered {
		t.Fatal("outbound delivery not recorded")
	}
	if out.ErrorReason != "MAX_RETRANSMIT" {
		t.Errorf("error reason = %q", out.ErrorReason)
	}
}

func TestTextMessagePagination(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		if _, err := s.InsertPacket(textRecord(int64(1000+i), "!00000001", "^all", 0, "m"), float64(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	first, err := s.TextMessages(nil, 5, 0, false)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("first page len = %d", len(first))
	}
	// Pages come back oldest-first so callers prepend older pages.
	for i := 1; i < len(first); i++ {
		if first[i].ID <= first[i-1].ID {
			t.Fatal("page not ascending")
		}
	}

	second, err := s.TextMessages(nil, 5, first[0].ID, false)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 5 {
		t.Fatalf("second page len = %d", len(second))
	}

	seen := map[int64]bool{}
	for _, m := range append(second, first...) {
		if seen[m.ID] {
			t.Fatalf("id %d appears in both pages", m.ID)
		}
		seen[m.ID] = true
	}
	if len(seen) != 10 {
		t.Fatalf("pages cover %d of 10 messages", len(seen))
	}
	if second[len(second)-1].ID >= first[0].ID {
		t.Fatal("second page not older than first")
	}
}

func TestBroadcastAndDMFilters(t *testing.T) {
	s := newTestStore(t)
	// Broadcast, DM to us, DM from the node, and the node's own broadcast.
	records := []*packet.Record{
		textRecord(1, "!aaaaaaaa", "^all", 0, "bcast"),
		textRecord(2, "!aaaaaaaa", "!00000001", 0, "dm in"),
		textRecord(3, "!00000001", "!aaaaaaaa", 0, "dm out"),
		textRecord(4, "!aaaaaaaa", "!ffffffff", 0, "bcast hex"),
	}
	for i, r := range records {
		if _, err := s.InsertPacket(r, float64(i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	bcasts, err := s.TextMessages(nil, 100, 0, true)
	if err != nil {
		t.Fatalf("broadcasts: %v", err)
	}
	if len(bcasts) != 2 {
		t.Fatalf("broadcast count = %d, want 2", len(bcasts))
	}

	ch := 0
	dms, err := s.MessagesForNode("!aaaaaaaa", &ch, 100, 0, true)
	if err != nil {
		t.Fatalf("dms: %v", err)
	}
	if len(dms) != 2 {
		t.Fatalf("dm count = %d, want 2", len(dms))
	}
	for _, m := range dms {
		if m.Payload["text"] == "bcast" || m.Payload["text"] == "bcast hex" {
			t.Errorf("broadcast leaked into DM query: %v", m.Payload["text"])
		}
	}

	all, err := s.MessagesForNode("!aaaaaaaa", &ch, 100, 0, false)
	if err != nil {
		t.Fatalf("all for node: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("all-for-node count = %d, want 4", len(all))
	}
}

func TestReactionToggle(t *testing.T) {
	s := newTestStore(t)
	id, err := s.InsertPacket(textRecord(10, "!00000001", "^all", 0, "hi"), 1)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	added, err := s.ToggleReaction(id, 10, "!00000002", "👍", 2)
	if err != nil || !added {
		t.Fatalf("first toggle = %v, %v", added, err)
	}
	added, err = s.ToggleReaction(id, 10, "!00000002", "👍", 3)
	if err != nil || added {
		t.Fatalf("second toggle = %v, %v", added, err)
	}
	rs, err := s.ReactionsFor(id)
	if err != nil {
		t.Fatalf("reactions: %v", err)
	}
	if len(rs) != 0 {
		t.Fatalf("reactions after pairwise toggle = %d, want 0", len(rs))
	}

	if _, err := s.ToggleReaction(id, 10, "!00000002", "👍", 4); err != nil {
		t.Fatalf("third toggle: %v", err)
	}
	rs, _ = s.ReactionsFor(id)
	if len(rs) != 1 {
		t.Fatalf("reactions after three toggles = %d, want 1", len(rs))
	}

	// Different reactor keeps its own row.
	if _, err := s.ToggleReaction(id, 10, "!00000003", "👍", 5); err != nil {
		t.Fatalf("other reactor: %v", err)
	}
	many, err := s.ReactionsForAll([]int64{id, 9999})
	if err != nil {
		t.Fatalf("reactions for all: %v", err)
	}
	if len(many[id]) != 2 {
		t.Fatalf("batched reactions = %d, want 2", len(many[id]))
	}
	if _, ok := many[9999]; !ok {
		t.Fatal("requested id missing from batched result")
	}
}

func TestReplyResolvedOutOfOrder(t *testing.T) {
	s := newTestStore(t)

	replyID, err := s.InsertPacket(textRecord(200, "!00000002", "!00000001", 0, "late reply"), 1)
	if err != nil {
		t.Fatalf("insert reply: %v", err)
	}
	parentID, err := s.InsertReplyRef(replyID, 100, 1)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if parentID != nil {
		t.Fatal("parent resolved before it was stored")
	}

	ref, err := s.ReplyRefFor(replyID)
	if err != nil || ref == nil {
		t.Fatalf("reply ref: %v, %v", ref, err)
	}
	if ref.ParentID != nil || ref.ParentPacketID != 100 {
		t.Fatalf("unexpected ref %+v", ref)
	}

	// Parent arrives later.
	if _, err := s.InsertPacket(textRecord(100, "!00000001", "^all", 0, "original"), 2); err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	parent, err := s.ParentMessage(replyID)
	if err != nil {
		t.Fatalf("parent: %v", err)
	}
	if parent == nil || parent.Payload["text"] != "original" {
		t.Fatalf("parent not resolved after late arrival: %+v", parent)
	}
}

func TestReplyResolvedAtLinkTime(t *testing.T) {
	s := newTestStore(t)
	pID, err := s.InsertPacket(textRecord(300, "!00000001", "^all", 0, "parent"), 1)
	if err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	rID, err := s.InsertPacket(textRecord(301, "!00000002", "!00000001", 0, "reply"), 2)
	if err != nil {
		t.Fatalf("insert reply: %v", err)
	}
	resolved, err := s.InsertReplyRef(rID, 300, 2)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if resolved == nil || *resolved != pID {
		t.Fatalf("resolved = %v, want %d", resolved, pID)
	}
}

func TestSearchHumanReadableOnly(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.InsertPacket(textRecord(1, "!00000001", "^all", 0, "Hello world"), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.InsertPacket(textRecord(2, "!00000002", "^all", 0, "goodbye"), 2); err != nil {
		t.Fatal(err)
	}
	// A telemetry packet from a node named "Hello Node".
	tele := &packet.Record{
		From:    "!00000003",
		To:      "^all",
		ID:      3,
		Decoded: packet.Decoded{PortKind: packet.PortTelemetry, Telemetry: map[string]any{"deviceMetrics": map[string]any{"batteryLevel": 80}}},
	}
	if _, err := s.InsertPacket(tele, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertNode("!00000003", map[string]any{
		"user": map[string]any{"shortName": "HN", "longName": "Hello Node"},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Search("hello", 100, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("search(hello) = %d results, want 2", len(got))
	}
	// Newest first.
	if got[0].ID < got[1].ID {
		t.Fatal("search results not newest-first")
	}

	n, err := s.CountSearch("HELLO")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count(HELLO) = %d, want 2 (case-insensitive)", n)
	}

	// The port kind literal must never match.
	n, err = s.CountSearch("TELEMETRY_APP")
	if err != nil {
		t.Fatalf("count kind: %v", err)
	}
	if n != 0 {
		t.Fatalf("port kind literal matched %d packets, want 0", n)
	}
}

func TestClearMessagesLeavesNodes(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.InsertPacket(textRecord(int64(i+1), "!00000001", "^all", 0, "m"), float64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.UpsertNode("!00000001", map[string]any{"num": 1}); err != nil {
		t.Fatal(err)
	}

	n, err := s.ClearMessages()
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 3 {
		t.Fatalf("cleared %d, want 3", n)
	}
	st, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Messages != 0 || st.Nodes != 1 {
		t.Fatalf("stats after clear = %+v", st)
	}
}

func TestDeleteNodesOlderThan(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertNode("!00000001", map[string]any{"num": 1}); err != nil {
		t.Fatal(err)
	}
	// Backdate the row past the cutoff.
	old := float64(time.Now().AddDate(0, 0, -40).UnixNano()) / 1e9
	if _, err := s.DB().Exec("UPDATE nodes SET last_updated = ? WHERE node_id = ?", old, "!00000001"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertNode("!00000002", map[string]any{"num": 2}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteNodesOlderThan(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	nodes, _ := s.AllNodes()
	if _, ok := nodes["!00000002"]; !ok || len(nodes) != 1 {
		t.Fatalf("surviving nodes = %v", nodes)
	}
}
