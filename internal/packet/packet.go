// Package packet defines the decoded packet records handed to meshlog by the
// radio decode layer. Decoding itself happens upstream; these types are the
// ingest contract.
package packet

import "github.com/meshlog/meshlog/internal/meshid"

// Port kinds: the application-level message category carried in the decoded
// block. Stored as text. The radio protocol also reports these as numeric
// port strings, so every predicate that filters on kind must accept both
// forms (see Aliases).
const (
	PortText      = "TEXT_MESSAGE_APP"
	PortPosition  = "POSITION_APP"
	PortNodeInfo  = "NODEINFO_APP"
	PortRouting   = "ROUTING_APP"
	PortTelemetry = "TELEMETRY_APP"
	PortAdmin     = "ADMIN_APP"
	PortNeighbor  = "NEIGHBORINFO_APP"
	PortOther     = "UNKNOWN_APP"
)

// Aliases maps a canonical port kind to its numeric wire form.
var Aliases = map[string]string{
	PortText:      "1",
	PortPosition:  "3",
	PortNodeInfo:  "4",
	PortRouting:   "65",
	PortTelemetry: "67",
	PortNeighbor:  "71",
	PortAdmin:     "6",
}

// KindMatches reports whether got names the canonical kind want, in either
// textual or numeric form.
func KindMatches(got, want string) bool {
	return got == want || got == Aliases[want]
}

// Decoded is the kind-specific body of a packet. Exactly the fields for the
// packet's port kind are populated; everything the decoder produced that has
// no typed field lands in Extra so the original record survives re-rendering.
type Decoded struct {
	PortKind  string         `json:"portnum"`
	Text      string         `json:"text,omitempty"`
	Position  map[string]any `json:"position,omitempty"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
	User      map[string]any `json:"user,omitempty"`
	Routing   map[string]any `json:"routing,omitempty"`
	RequestID int64          `json:"requestId,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Record is one packet as received from (or queued for) the radio.
// From/To hold whatever identifier form the decoder produced; use FromID and
// ToID for the canonical form.
type Record struct {
	From        any      `json:"from,omitempty"`
	To          any      `json:"to,omitempty"`
	ID          int64    `json:"id,omitempty"` // protocol packet id; 0 = unset
	Channel     int      `json:"channel"`
	HopStart    *int     `json:"hopStart,omitempty"`
	HopLimit    *int     `json:"hopLimit,omitempty"`
	SNR         *float64 `json:"rxSnr,omitempty"`
	RSSI        *int     `json:"rxRssi,omitempty"`
	Outbound    bool     `json:"tx,omitempty"`
	Delivered   *bool    `json:"delivered,omitempty"`
	ErrorReason string   `json:"errorReason,omitempty"`
	ReplyTo     int64    `json:"replyTo,omitempty"` // parent protocol packet id, set by ingest
	Decoded     Decoded  `json:"decoded"`
}

// FromID returns the canonical sender id.
func (r *Record) FromID() string { return meshid.Normalize(r.From) }

// ToID returns the canonical destination id.
func (r *Record) ToID() string { return meshid.Normalize(r.To) }

// IsText reports whether this is a text-kind packet.
func (r *Record) IsText() bool { return KindMatches(r.Decoded.PortKind, PortText) }

// IsBroadcast reports whether the packet is addressed to the broadcast
// address rather than a specific node.
func (r *Record) IsBroadcast() bool { return meshid.IsBroadcast(r.ToID()) }

// Hops returns hop_start - hop_limit when both are present.
func (r *Record) Hops() *int {
	if r.HopStart == nil || r.HopLimit == nil {
		return nil
	}
	h := *r.HopStart - *r.HopLimit
	return &h
}
