// Package ingest routes decoded packets from the radio into the buffer,
// store, node registry and companion trackers. One packet in, every derived
// state update out.
package ingest

import (
	"regexp"
	"strconv"
	"time"

	"github.com/meshlog/meshlog/internal/bus"
	"github.com/meshlog/meshlog/internal/conversation"
	"github.com/meshlog/meshlog/internal/meshid"
	"github.com/meshlog/meshlog/internal/nodes"
	"github.com/meshlog/meshlog/internal/packet"
	"github.com/meshlog/meshlog/internal/reactions"
	"github.com/meshlog/meshlog/internal/replies"
)

// Reaction and reply envelopes ride inside ordinary text messages:
//
//	[R:<packet_id>:<emoji>]          reaction
//	[>:<packet_id>] <message text>   reply
var (
	reactionPattern = regexp.MustCompile(`^\[R:(\d+):([^\]]+)\]$`)
	replyPattern    = regexp.MustCompile(`(?s)^\[>:(\d+)\]\s*(.*)$`)
)

// dmPreviewRunes caps the text carried in a dm_received notification.
const dmPreviewRunes = 50

// PacketLogger appends packets to the plain-text audit log.
type PacketLogger interface {
	LogPacket(rec *packet.Record, ts float64)
}

// StatsRecorder observes every ingested packet for traffic statistics.
type StatsRecorder interface {
	RecordPacket(rec *packet.Record)
}

// DM is the payload of a dm_received event.
type DM struct {
	FromID   string
	FromName string
	Preview  string
	Record   *packet.Record
}

// Pipeline applies one received packet to all interested subsystems. The
// logger and stats hooks are optional.
type Pipeline struct {
	buffer    *conversation.Buffer
	reactions *reactions.Engine
	replies   *replies.Resolver
	nodes     *nodes.Registry
	logger    PacketLogger
	stats     StatsRecorder
	events    *bus.Bus
	myNodeID  string
	now       func() time.Time
}

// NewPipeline wires a pipeline. myNodeID is the local node's canonical id,
// used to recognize incoming direct messages; empty disables DM detection.
func NewPipeline(buffer *conversation.Buffer, reactionEngine *reactions.Engine, replyResolver *replies.Resolver, registry *nodes.Registry, events *bus.Bus) *Pipeline {
	return &Pipeline{
		buffer:    buffer,
		reactions: reactionEngine,
		replies:   replyResolver,
		nodes:     registry,
		events:    events,
		now:       time.Now,
	}
}

// SetLogger attaches the plain-text packet logger.
func (p *Pipeline) SetLogger(l PacketLogger) { p.logger = l }

// SetStats attaches the traffic stats recorder.
func (p *Pipeline) SetStats(s StatsRecorder) { p.stats = s }

// SetMyNodeID records the local node id once the radio reports it.
func (p *Pipeline) SetMyNodeID(id any) { p.myNodeID = meshid.Normalize(id) }

// HandlePacket ingests one received packet. Reaction envelopes are consumed
// without entering the message log; everything else is buffered, persisted,
// logged and counted, then drives delivery resolution, DM notification and
// node registry updates as its kind dictates.
func (p *Pipeline) HandlePacket(rec *packet.Record) {
	ts := float64(p.now().UnixNano()) / 1e9

	if rec.IsText() {
		if m := reactionPattern.FindStringSubmatch(rec.Decoded.Text); m != nil {
			p.handleReaction(rec, m, ts)
			return
		}
		if m := replyPattern.FindStringSubmatch(rec.Decoded.Text); m != nil {
			parentID, err := strconv.ParseInt(m[1], 10, 64)
			if err == nil {
				if rec.Decoded.Extra == nil {
					rec.Decoded.Extra = make(map[string]any)
				}
				rec.Decoded.Extra["originalText"] = rec.Decoded.Text
				rec.Decoded.Text = m[2]
				rec.ReplyTo = parentID
			}
		}
	}

	dbID := p.buffer.Add(rec)

	if rec.ReplyTo != 0 && dbID != 0 && p.replies != nil {
		// Resolution may stay open; the parent can still arrive later.
		_, _ = p.replies.Link(dbID, rec.ReplyTo, ts)
	}

	if p.logger != nil {
		p.logger.LogPacket(rec, ts)
	}
	if p.stats != nil {
		p.stats.RecordPacket(rec)
	}

	if rec.IsText() {
		p.detectIncomingDM(rec)
	}

	if packet.KindMatches(rec.Decoded.PortKind, packet.PortRouting) && rec.Decoded.RequestID != 0 {
		p.resolveDelivery(rec)
	}

	p.updateNode(rec)
}

// handleReaction applies a reaction envelope. Unsupported emoji and unknown
// targets are dropped: remote senders are not under our control.
func (p *Pipeline) handleReaction(rec *packet.Record, m []string, ts float64) {
	if p.reactions == nil {
		return
	}
	targetID, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return
	}
	emoji := m[2]
	if !reactions.IsSupported(emoji) {
		return
	}
	_, _, _ = p.reactions.ToggleForPacket(targetID, rec.From, emoji, ts)
}

// detectIncomingDM publishes dm_received for channel-0 text addressed to the
// local node by someone else.
func (p *Pipeline) detectIncomingDM(rec *packet.Record) {
	if p.myNodeID == "" || rec.Channel != 0 {
		return
	}
	fromID, toID := rec.FromID(), rec.ToID()
	if toID != p.myNodeID || fromID == p.myNodeID {
		return
	}

	name := fromID
	if p.nodes != nil {
		name = p.nodes.DisplayName(fromID)
	}
	preview := rec.Decoded.Text
	if runes := []rune(preview); len(runes) > dmPreviewRunes {
		preview = string(runes[:dmPreviewRunes]) + "..."
	}
	if p.events != nil {
		p.events.Publish(bus.EventDMReceived, DM{
			FromID:   fromID,
			FromName: name,
			Preview:  preview,
			Record:   rec,
		})
	}
}

// resolveDelivery turns a routing acknowledgment into a delivery outcome for
// the tracked send it answers. An empty or NONE error reason means the
// message was delivered.
func (p *Pipeline) resolveDelivery(rec *packet.Record) {
	reason := ""
	if rec.Decoded.Routing != nil {
		reason, _ = rec.Decoded.Routing["errorReason"].(string)
	}
	success := reason == "" || reason == "NONE"
	if success {
		reason = ""
	}
	p.buffer.ResolvePending(rec.Decoded.RequestID, success, reason)
}

// updateNode derives node registry attributes from the packet: link quality
// from the radio header, then identity, position or device metrics from the
// decoded body.
func (p *Pipeline) updateNode(rec *packet.Record) {
	if p.nodes == nil || rec.From == nil {
		return
	}

	update := make(map[string]any)
	if rec.SNR != nil {
		update["snr"] = *rec.SNR
	}
	if rec.RSSI != nil {
		update["rssi"] = *rec.RSSI
	}
	if hops := rec.Hops(); hops != nil {
		update["hops"] = *hops
	}

	switch {
	case packet.KindMatches(rec.Decoded.PortKind, packet.PortNodeInfo):
		if len(rec.Decoded.User) > 0 {
			update["user"] = rec.Decoded.User
		}
	case packet.KindMatches(rec.Decoded.PortKind, packet.PortPosition):
		if len(rec.Decoded.Position) > 0 {
			update["position"] = rec.Decoded.Position
		}
	case packet.KindMatches(rec.Decoded.PortKind, packet.PortTelemetry):
		if device, ok := rec.Decoded.Telemetry["deviceMetrics"].(map[string]any); ok && len(device) > 0 {
			update["deviceMetrics"] = device
		}
	}

	if len(update) > 0 {
		p.nodes.Merge(rec.From, update)
	}
}
