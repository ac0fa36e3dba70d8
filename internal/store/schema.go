package store

import "github.com/meshlog/meshlog/internal/packet"

// Message is a packet retrieved from storage.
type Message struct {
	ID          int64          `json:"id"`
	Timestamp   float64        `json:"timestamp"`
	PacketID    int64          `json:"packet_id,omitempty"` // protocol packet id; 0 = unset
	FromNode    string         `json:"from_node"`
	ToNode      string         `json:"to_node"`
	Channel     int            `json:"channel"`
	PortKind    string         `json:"port_kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	Raw         *packet.Record `json:"raw,omitempty"`
	SNR         *float64       `json:"snr,omitempty"`
	RSSI        *int           `json:"rssi,omitempty"`
	Hops        *int           `json:"hops,omitempty"`
	Outbound    bool           `json:"is_tx"`
	Delivered   *bool          `json:"delivered,omitempty"`
	ErrorReason string         `json:"error_reason,omitempty"`
}

// IsText reports whether the message is a text-kind packet.
func (m *Message) IsText() bool {
	return packet.KindMatches(m.PortKind, packet.PortText)
}

// Reaction is one emoji reaction on a message.
type Reaction struct {
	Emoji       string  `json:"emoji"`
	ReactorNode string  `json:"reactor_node"`
	Timestamp   float64 `json:"timestamp"`
}

// ReplyRef links a reply message to its parent. ParentID is nil until the
// parent packet has been seen.
type ReplyRef struct {
	ReplyID        int64   `json:"reply_id"`
	ParentID       *int64  `json:"parent_id,omitempty"`
	ParentPacketID int64   `json:"parent_packet_id"`
	Timestamp      float64 `json:"timestamp"`
}

// Stats summarizes what the database holds.
type Stats struct {
	Messages  int64 `json:"messages"`
	Nodes     int64 `json:"nodes"`
	Reactions int64 `json:"reactions"`
	SizeBytes int64 `json:"size_bytes"`
}

// ClearCounts reports how many rows a bulk clear removed.
type ClearCounts struct {
	Messages int64 `json:"messages"`
	Nodes    int64 `json:"nodes"`
}

const schema = `
CREATE TABLE IF NOT EXISTS packets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp REAL NOT NULL,
	packet_id INTEGER,
	from_node TEXT NOT NULL,
	to_node TEXT NOT NULL,
	channel INTEGER DEFAULT 0,
	port_kind TEXT NOT NULL,
	payload TEXT,
	raw TEXT NOT NULL,
	snr REAL,
	rssi INTEGER,
	hops INTEGER,
	is_tx BOOLEAN DEFAULT 0,
	delivered BOOLEAN,
	error_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_packets_timestamp ON packets(timestamp);
CREATE INDEX IF NOT EXISTS idx_packets_channel ON packets(channel);
CREATE INDEX IF NOT EXISTS idx_packets_from_node ON packets(from_node);
CREATE INDEX IF NOT EXISTS idx_packets_to_node ON packets(to_node);
CREATE INDEX IF NOT EXISTS idx_packets_port_kind ON packets(port_kind);
CREATE INDEX IF NOT EXISTS idx_packets_packet_id ON packets(packet_id);

CREATE TABLE IF NOT EXISTS nodes (
	node_id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	last_updated REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_last_updated ON nodes(last_updated);

CREATE TABLE IF NOT EXISTS reactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL,
	packet_id INTEGER,
	reactor_node TEXT NOT NULL,
	emoji TEXT NOT NULL,
	timestamp REAL NOT NULL,
	UNIQUE(message_id, reactor_node, emoji)
);
CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id);

CREATE TABLE IF NOT EXISTS reply_refs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reply_id INTEGER NOT NULL,
	parent_id INTEGER,
	parent_packet_id INTEGER NOT NULL,
	timestamp REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reply_refs_reply ON reply_refs(reply_id);
CREATE INDEX IF NOT EXISTS idx_reply_refs_parent ON reply_refs(parent_id);
`
