// Package stats tracks live traffic statistics over a short sliding window.
package stats

import (
	"sync"
	"time"

	"github.com/meshlog/meshlog/internal/packet"
)

// windowSize bounds how many packet arrival times are kept. With the rate
// computed over one minute, 100 samples is plenty for mesh traffic levels.
const windowSize = 100

// rateWindow is the span MsgsPerMin counts over.
const rateWindow = time.Minute

// Tracker records packet arrivals and the most recent channel utilization
// reported by device telemetry. Safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	arrivals    []time.Time
	channelUtil map[int]float64
	now         func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		channelUtil: make(map[int]float64),
		now:         time.Now,
	}
}

// RecordPacket notes one packet arrival. Telemetry packets carrying a
// channelUtilization metric also refresh the utilization reading for the
// channel they arrived on.
func (t *Tracker) RecordPacket(rec *packet.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.arrivals = append(t.arrivals, t.now())
	if len(t.arrivals) > windowSize {
		t.arrivals = t.arrivals[len(t.arrivals)-windowSize:]
	}

	if rec == nil || !packet.KindMatches(rec.Decoded.PortKind, packet.PortTelemetry) {
		return
	}
	device, ok := rec.Decoded.Telemetry["deviceMetrics"].(map[string]any)
	if !ok {
		return
	}
	if util, ok := asFloat(device["channelUtilization"]); ok {
		t.channelUtil[rec.Channel] = util
	}
}

// MsgsPerMin returns how many packets arrived in the last minute. The
// sample window caps the answer at its size; on a saturated mesh that is the
// honest reading anyway.
func (t *Tracker) MsgsPerMin() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-rateWindow)
	count := 0
	for _, at := range t.arrivals {
		if at.After(cutoff) {
			count++
		}
	}
	return count
}

// ChannelUtil returns the last reported utilization percentage for a
// channel, or false when no telemetry has mentioned it yet.
func (t *Tracker) ChannelUtil(channel int) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	util, ok := t.channelUtil[channel]
	return util, ok
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}
