// Package store provides durable SQLite-backed storage for packets, nodes,
// reactions and reply links. It owns the schema and all durability
// guarantees; everything above it treats a missing row as a valid state,
// not an error.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meshlog/meshlog/internal/packet"
)

// Store is the persistent packet database. A single Store expects one
// logical writer; sql.DB serializes individual statements.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the packet database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open packet db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migrations for databases created before these columns
	// existed (no-op when the column is already there).
	_, _ = db.Exec(`ALTER TABLE packets ADD COLUMN error_reason TEXT`)
	_, _ = db.Exec(`ALTER TABLE reactions ADD COLUMN packet_id INTEGER`)
	return &Store{db: db, path: path}, nil
}

// DB exposes the underlying handle for integration layers.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

const messageCols = "id, timestamp, packet_id, from_node, to_node, channel, port_kind, payload, raw, snr, rssi, hops, is_tx, delivered, error_reason"

// Both predicates below are protocol conventions, not tunables: text packets
// may report their kind as either the textual or numeric port form, and
// channel 0 mixes broadcasts with direct messages distinguishable only by
// these two destination literals.
const (
	textKindSQL  = "port_kind IN ('TEXT_MESSAGE_APP', '1')"
	broadcastSQL = "('^all', '!ffffffff')"
)

// InsertPacket stores a packet record and returns its database id.
func (s *Store) InsertPacket(rec *packet.Record, ts float64) (int64, error) {
	var pktID any
	if rec.ID != 0 {
		pktID = rec.ID
	}
	res, err := s.db.Exec(`
		INSERT INTO packets (
			timestamp, packet_id, from_node, to_node, channel, port_kind,
			payload, raw, snr, rssi, hops, is_tx, delivered
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts,
		pktID,
		rec.FromID(),
		rec.ToID(),
		rec.Channel,
		rec.Decoded.PortKind,
		safeJSON(decodedMap(rec.Decoded)),
		safeJSON(rawMap(rec)),
		nullFloat(rec.SNR),
		nullInt(rec.RSSI),
		nullInt(rec.Hops()),
		rec.Outbound,
		nullBool(rec.Delivered),
	)
	if err != nil {
		return 0, fmt.Errorf("insert packet: %w", err)
	}
	return res.LastInsertId()
}

// UpdateDeliveryStatus records the acknowledgment outcome for an outbound
// packet, keyed by its protocol packet id. Only outbound rows are touched;
// this is the single mutation path for the delivered/error_reason columns.
func (s *Store) UpdateDeliveryStatus(packetID int64, delivered bool, errorReason string) error {
	var reason any
	if errorReason != "" {
		reason = errorReason
	}
	_, err := s.db.Exec(
		"UPDATE packets SET delivered = ?, error_reason = ? WHERE packet_id = ? AND is_tx = 1",
		delivered, reason, packetID,
	)
	return err
}

// FindByPacketID returns the message with the given protocol packet id, or
// nil if none is stored. Protocol ids are not unique long-term; the first
// (oldest) match wins, as the radio reuses ids only after long intervals.
func (s *Store) FindByPacketID(packetID int64) (*Message, error) {
	row := s.db.QueryRow(
		"SELECT "+messageCols+" FROM packets WHERE packet_id = ? ORDER BY id LIMIT 1", packetID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// TextMessages returns text-kind messages, oldest first, optionally filtered
// by channel. beforeID is an exclusive upper bound on the database id for
// paging older history; 0 means no bound. With broadcastOnly set, direct
// messages are excluded.
func (s *Store) TextMessages(channel *int, limit int, beforeID int64, broadcastOnly bool) ([]Message, error) {
	query := "SELECT " + messageCols + " FROM packets WHERE " + textKindSQL
	args := []any{}

	if channel != nil {
		query += " AND channel = ?"
		args = append(args, *channel)
	}
	if broadcastOnly {
		query += " AND to_node IN " + broadcastSQL
	}
	if beforeID > 0 {
		query += " AND id < ?"
		args = append(args, beforeID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	msgs, err := s.queryMessages(query, args...)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// MessagesForNode returns text-kind messages involving a node, oldest first.
// With dmOnly set (the default for conversation views) broadcasts from the
// node are excluded: a DM is anything sent to the node, or sent by the node
// to a non-broadcast address. channel defaults to 0 for DM threads; pass nil
// for all channels.
func (s *Store) MessagesForNode(nodeID string, channel *int, limit int, beforeID int64, dmOnly bool) ([]Message, error) {
	var query string
	args := []any{}

	if dmOnly {
		query = "SELECT " + messageCols + " FROM packets WHERE " + textKindSQL +
			" AND (to_node = ? OR (from_node = ? AND to_node NOT IN " + broadcastSQL + "))"
		args = append(args, nodeID, nodeID)
	} else {
		query = "SELECT " + messageCols + " FROM packets WHERE " + textKindSQL +
			" AND (from_node = ? OR to_node = ?)"
		args = append(args, nodeID, nodeID)
	}
	if channel != nil {
		query += " AND channel = ?"
		args = append(args, *channel)
	}
	if beforeID > 0 {
		query += " AND id < ?"
		args = append(args, beforeID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	msgs, err := s.queryMessages(query, args...)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// AllPackets returns packets of any kind, oldest first, optionally filtered
// to a set of port kinds.
func (s *Store) AllPackets(limit int, beforeID int64, kinds []string) ([]Message, error) {
	query := "SELECT " + messageCols + " FROM packets WHERE 1=1"
	args := []any{}

	if len(kinds) > 0 {
		query += " AND port_kind IN (" + placeholders(len(kinds)) + ")"
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	if beforeID > 0 {
		query += " AND id < ?"
		args = append(args, beforeID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	msgs, err := s.queryMessages(query, args...)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// OldestID returns the smallest message id in the database, or 0 when empty.
func (s *Store) OldestID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow("SELECT MIN(id) FROM packets").Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// nodesMatchingName returns ids of nodes whose short or long display name
// contains term, case-insensitively. Only these two fields are searched,
// never the whole attribute blob.
func (s *Store) nodesMatchingName(term string) ([]string, error) {
	pattern := "%" + term + "%"
	rows, err := s.db.Query(`
		SELECT node_id FROM nodes
		WHERE json_extract(data, '$.user.shortName') LIKE ? COLLATE NOCASE
		   OR json_extract(data, '$.user.longName') LIKE ? COLLATE NOCASE`,
		pattern, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// searchPredicate builds the shared WHERE clause for Search and CountSearch.
// Matching is restricted to human-readable fields: the text content of
// text-kind messages, and packets from/to nodes whose display names match.
// Protocol fields, numeric codes and the port kind itself never match.
func (s *Store) searchPredicate(term string) (string, []any, error) {
	pattern := "%" + term + "%"
	clause := "((" + textKindSQL + " AND json_extract(payload, '$.text') LIKE ? COLLATE NOCASE)"
	args := []any{pattern}

	nodeIDs, err := s.nodesMatchingName(term)
	if err != nil {
		return "", nil, err
	}
	if len(nodeIDs) > 0 {
		ph := placeholders(len(nodeIDs))
		clause += " OR from_node IN (" + ph + ") OR to_node IN (" + ph + ")"
		for _, id := range nodeIDs {
			args = append(args, id)
		}
		for _, id := range nodeIDs {
			args = append(args, id)
		}
	}
	clause += ")"
	return clause, args, nil
}

// Search returns packets matching term, newest first. beforeID pages older
// results.
func (s *Store) Search(term string, limit int, beforeID int64) ([]Message, error) {
	clause, args, err := s.searchPredicate(term)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + messageCols + " FROM packets WHERE " + clause
	if beforeID > 0 {
		query += " AND id < ?"
		args = append(args, beforeID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)
	return s.queryMessages(query, args...)
}

// CountSearch returns the total number of packets matching term.
func (s *Store) CountSearch(term string) (int64, error) {
	clause, args, err := s.searchPredicate(term)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRow("SELECT COUNT(*) FROM packets WHERE "+clause, args...).Scan(&n)
	return n, err
}

// UpsertNode stores or replaces a node's merged attribute map.
func (s *Store) UpsertNode(nodeID string, data map[string]any) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO nodes (node_id, data, last_updated) VALUES (?, ?, ?)",
		nodeID, safeJSON(data), float64(time.Now().UnixNano())/1e9,
	)
	return err
}

// AllNodes loads every stored node. Rows whose data blob fails to parse are
// skipped.
func (s *Store) AllNodes() (map[string]map[string]any, error) {
	rows, err := s.db.Query("SELECT node_id, data FROM nodes")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := make(map[string]map[string]any)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var attrs map[string]any
		if err := json.Unmarshal([]byte(data), &attrs); err != nil {
			continue
		}
		nodes[id] = attrs
	}
	return nodes, rows.Err()
}

// DeleteNodesOlderThan removes nodes not updated within maxAge and returns
// how many were deleted.
func (s *Store) DeleteNodesOlderThan(maxAge time.Duration) (int64, error) {
	cutoff := float64(time.Now().Add(-maxAge).UnixNano()) / 1e9
	res, err := s.db.Exec("DELETE FROM nodes WHERE last_updated < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ToggleReaction inserts the (message, reactor, emoji) reaction, or removes
// it when already present. Returns true when the reaction was added, false
// when toggled off.
func (s *Store) ToggleReaction(messageID, packetID int64, reactorNode, emoji string, ts float64) (bool, error) {
	var existing int64
	err := s.db.QueryRow(
		"SELECT id FROM reactions WHERE message_id = ? AND reactor_node = ? AND emoji = ?",
		messageID, reactorNode, emoji,
	).Scan(&existing)
	switch {
	case err == nil:
		if _, err := s.db.Exec("DELETE FROM reactions WHERE id = ?", existing); err != nil {
			return false, err
		}
		return false, nil
	case err == sql.ErrNoRows:
		var pktID any
		if packetID != 0 {
			pktID = packetID
		}
		_, err := s.db.Exec(
			"INSERT INTO reactions (message_id, packet_id, reactor_node, emoji, timestamp) VALUES (?, ?, ?, ?, ?)",
			messageID, pktID, reactorNode, emoji, ts,
		)
		if err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, err
	}
}

// ReactionsFor returns the reactions on one message in time order.
func (s *Store) ReactionsFor(messageID int64) ([]Reaction, error) {
	rows, err := s.db.Query(
		"SELECT emoji, reactor_node, timestamp FROM reactions WHERE message_id = ? ORDER BY timestamp",
		messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.Emoji, &r.ReactorNode, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReactionsForAll returns reactions for a page of messages in one query,
// keyed by message id. Every requested id has an entry, possibly empty.
func (s *Store) ReactionsForAll(messageIDs []int64) (map[int64][]Reaction, error) {
	result := make(map[int64][]Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		result[id] = nil
		args[i] = id
	}
	rows, err := s.db.Query(
		"SELECT message_id, emoji, reactor_node, timestamp FROM reactions WHERE message_id IN ("+
			placeholders(len(messageIDs))+") ORDER BY message_id, timestamp",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var r Reaction
		if err := rows.Scan(&id, &r.Emoji, &r.ReactorNode, &r.Timestamp); err != nil {
			return nil, err
		}
		result[id] = append(result[id], r)
	}
	return result, rows.Err()
}

// InsertReplyRef stores a reply link. The parent is resolved by protocol
// packet id at link time when already stored; otherwise the link keeps a
// null parent id for later resolution (mesh delivery is not ordered).
// Returns the parent's database id when resolved, nil otherwise.
func (s *Store) InsertReplyRef(replyID, parentPacketID int64, ts float64) (*int64, error) {
	parent, err := s.FindByPacketID(parentPacketID)
	if err != nil {
		return nil, err
	}
	var parentID any
	var resolved *int64
	if parent != nil {
		parentID = parent.ID
		resolved = &parent.ID
	}
	_, err = s.db.Exec(
		"INSERT INTO reply_refs (reply_id, parent_id, parent_packet_id, timestamp) VALUES (?, ?, ?, ?)",
		replyID, parentID, parentPacketID, ts,
	)
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// ReplyRefFor returns the reply link for a message, or nil if the message is
// not a reply.
func (s *Store) ReplyRefFor(replyID int64) (*ReplyRef, error) {
	var ref ReplyRef
	var parentID sql.NullInt64
	err := s.db.QueryRow(
		"SELECT parent_id, parent_packet_id, timestamp FROM reply_refs WHERE reply_id = ?",
		replyID,
	).Scan(&parentID, &ref.ParentPacketID, &ref.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ref.ReplyID = replyID
	if parentID.Valid {
		ref.ParentID = &parentID.Int64
	}
	return &ref, nil
}

// ReplyRefsForAll returns reply links for a page of messages in one query.
func (s *Store) ReplyRefsForAll(messageIDs []int64) (map[int64]ReplyRef, error) {
	result := make(map[int64]ReplyRef)
	if len(messageIDs) == 0 {
		return result, nil
	}
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	rows, err := s.db.Query(
		"SELECT reply_id, parent_id, parent_packet_id, timestamp FROM reply_refs WHERE reply_id IN ("+
			placeholders(len(messageIDs))+")",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ref ReplyRef
		var parentID sql.NullInt64
		if err := rows.Scan(&ref.ReplyID, &parentID, &ref.ParentPacketID, &ref.Timestamp); err != nil {
			return nil, err
		}
		if parentID.Valid {
			ref.ParentID = &parentID.Int64
		}
		result[ref.ReplyID] = ref
	}
	return result, rows.Err()
}

// ParentMessage returns the parent of a reply. The resolved parent id is
// preferred; when the link is unresolved the protocol id is retried, which
// covers parents that arrived after the link was created.
func (s *Store) ParentMessage(replyID int64) (*Message, error) {
	ref, err := s.ReplyRefFor(replyID)
	if err != nil || ref == nil {
		return nil, err
	}
	if ref.ParentID != nil {
		row := s.db.QueryRow("SELECT "+messageCols+" FROM packets WHERE id = ?", *ref.ParentID)
		m, err := scanMessage(row)
		if err == nil {
			return m, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
	}
	return s.FindByPacketID(ref.ParentPacketID)
}

// ClearMessages deletes all packets along with their reactions and reply
// links, returning the number of packets removed. Nodes are untouched.
func (s *Store) ClearMessages() (int64, error) {
	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM packets").Scan(&count); err != nil {
		return 0, err
	}
	for _, stmt := range []string{
		"DELETE FROM reply_refs",
		"DELETE FROM reactions",
		"DELETE FROM packets",
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// ClearNodes deletes all stored nodes, returning how many were removed.
func (s *Store) ClearNodes() (int64, error) {
	var count int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&count); err != nil {
		return 0, err
	}
	if _, err := s.db.Exec("DELETE FROM nodes"); err != nil {
		return 0, err
	}
	return count, nil
}

// ClearAll wipes messages and nodes and compacts the database file.
func (s *Store) ClearAll() (ClearCounts, error) {
	msgs, err := s.ClearMessages()
	if err != nil {
		return ClearCounts{}, err
	}
	nodes, err := s.ClearNodes()
	if err != nil {
		return ClearCounts{}, err
	}
	_, _ = s.db.Exec("VACUUM")
	return ClearCounts{Messages: msgs, Nodes: nodes}, nil
}

// Stats reports row counts and the database file size.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	for _, q := range []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM packets", &st.Messages},
		{"SELECT COUNT(*) FROM nodes", &st.Nodes},
		{"SELECT COUNT(*) FROM reactions", &st.Reactions},
	} {
		if err := s.db.QueryRow(q.query).Scan(q.dst); err != nil {
			return st, err
		}
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.SizeBytes = fi.Size()
	}
	return st, nil
}

// --- row plumbing ---

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var packetID, rssi, hops sql.NullInt64
	var payload, raw, errorReason sql.NullString
	var snr sql.NullFloat64
	var delivered sql.NullBool

	err := row.Scan(
		&m.ID, &m.Timestamp, &packetID, &m.FromNode, &m.ToNode, &m.Channel,
		&m.PortKind, &payload, &raw, &snr, &rssi, &hops, &m.Outbound,
		&delivered, &errorReason,
	)
	if err != nil {
		return nil, err
	}

	m.PacketID = packetID.Int64
	if snr.Valid {
		m.SNR = &snr.Float64
	}
	if rssi.Valid {
		v := int(rssi.Int64)
		m.RSSI = &v
	}
	if hops.Valid {
		v := int(hops.Int64)
		m.Hops = &v
	}
	if delivered.Valid {
		m.Delivered = &delivered.Bool
	}
	if payload.Valid && payload.String != "" {
		_ = json.Unmarshal([]byte(payload.String), &m.Payload)
	}
	if raw.Valid && raw.String != "" {
		var rec packet.Record
		if err := json.Unmarshal([]byte(raw.String), &rec); err == nil {
			m.Raw = &rec
		}
	}
	// Delivery state is restored onto the raw record for rendering, and
	// error_reason surfaces only for failed outbound sends.
	if m.Outbound && m.Raw != nil {
		m.Raw.Outbound = true
		m.Raw.Delivered = m.Delivered
	}
	if m.Outbound && delivered.Valid && !delivered.Bool && errorReason.Valid {
		m.ErrorReason = errorReason.String
		if m.Raw != nil {
			m.Raw.ErrorReason = errorReason.String
		}
	}
	return &m, nil
}

func (s *Store) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// rawMap renders a record as a primitive map for the raw column, with node
// ids already canonicalized so a reloaded record matches the stored keys.
func rawMap(rec *packet.Record) map[string]any {
	m := map[string]any{
		"from":    rec.FromID(),
		"to":      rec.ToID(),
		"channel": rec.Channel,
		"decoded": decodedMap(rec.Decoded),
	}
	if rec.ID != 0 {
		m["id"] = rec.ID
	}
	if rec.HopStart != nil {
		m["hopStart"] = *rec.HopStart
	}
	if rec.HopLimit != nil {
		m["hopLimit"] = *rec.HopLimit
	}
	if rec.SNR != nil {
		m["rxSnr"] = *rec.SNR
	}
	if rec.RSSI != nil {
		m["rxRssi"] = *rec.RSSI
	}
	if rec.Outbound {
		m["tx"] = true
	}
	if rec.Delivered != nil {
		m["delivered"] = *rec.Delivered
	}
	if rec.ErrorReason != "" {
		m["errorReason"] = rec.ErrorReason
	}
	if rec.ReplyTo != 0 {
		m["replyTo"] = rec.ReplyTo
	}
	return m
}

func decodedMap(d packet.Decoded) map[string]any {
	m := map[string]any{"portnum": d.PortKind}
	if d.Text != "" {
		m["text"] = d.Text
	}
	if len(d.Position) > 0 {
		m["position"] = d.Position
	}
	if len(d.Telemetry) > 0 {
		m["telemetry"] = d.Telemetry
	}
	if len(d.User) > 0 {
		m["user"] = d.User
	}
	if len(d.Routing) > 0 {
		m["routing"] = d.Routing
	}
	if d.RequestID != 0 {
		m["requestId"] = d.RequestID
	}
	if len(d.Extra) > 0 {
		m["extra"] = d.Extra
	}
	return m
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
