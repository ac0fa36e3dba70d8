// Package meshid canonicalizes mesh node identifiers.
//
// Every layer of meshlog keys nodes by the textual form produced here, so
// numeric addresses from the radio and string ids from stored rows always
// collapse to the same key.
package meshid

import (
	"fmt"
	"strconv"
)

// Broadcast is the textual broadcast address used by the radio firmware.
const Broadcast = "^all"

// BroadcastHex is the all-ones node number in canonical form. Some firmware
// versions report broadcasts with this address instead of Broadcast.
const BroadcastHex = "!ffffffff"

// Normalize converts a node identifier into its canonical textual form.
// Numeric ids format as "!%08x"; strings pass through unchanged.
func Normalize(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case uint32:
		return fmt.Sprintf("!%08x", v)
	case int:
		return fromInt64(int64(v))
	case int64:
		return fromInt64(v)
	case uint64:
		return fmt.Sprintf("!%08x", uint32(v))
	case float64:
		// JSON-decoded numbers arrive as float64.
		return fromInt64(int64(v))
	default:
		return fmt.Sprint(v)
	}
}

func fromInt64(n int64) string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// IsBroadcast reports whether addr is one of the two broadcast address
// literals. Channel 0 carries both broadcasts and direct messages; this
// predicate is the protocol convention that tells them apart, so DM queries
// exclude exactly these two addresses and nothing else.
func IsBroadcast(addr string) bool {
	return addr == Broadcast || addr == BroadcastHex
}

// ParseNum extracts the numeric node number from a canonical "!%08x" id.
// Returns false for broadcast and non-hex forms.
func ParseNum(id string) (uint32, bool) {
	if len(id) != 9 || id[0] != '!' || id == BroadcastHex {
		return 0, false
	}
	n, err := strconv.ParseUint(id[1:], 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}
