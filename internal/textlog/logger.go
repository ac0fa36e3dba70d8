// Package textlog writes a rotating plain-text packet log for external tools
// to tail, separate from the structured store.
package textlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/meshlog/meshlog/internal/packet"
)

const (
	// FileName is the active log file under the log directory.
	FileName = "meshlog.log"

	// DefaultMaxSizeMB and DefaultBackups bound the log on disk: one active
	// file plus rotated backups.
	DefaultMaxSizeMB = 10
	DefaultBackups   = 7
)

// Logger appends one formatted line per packet to a size-rotated log file.
// Safe for concurrent use.
type Logger struct {
	mu  sync.Mutex
	dir string
	out *lumberjack.Logger
}

// New creates a logger writing under dir. maxSizeMB and backups fall back to
// the defaults when zero.
func New(dir string, maxSizeMB, backups int) *Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	if backups <= 0 {
		backups = DefaultBackups
	}
	return &Logger{
		dir: dir,
		out: &lumberjack.Logger{
			Filename:   filepath.Join(dir, FileName),
			MaxSize:    maxSizeMB,
			MaxBackups: backups,
		},
	}
}

// LogPacket appends the packet as one pipe-separated line. Write failures
// are dropped: the log is an auxiliary artifact and must never block ingest.
func (l *Logger) LogPacket(rec *packet.Record, ts float64) {
	line := FormatLine(rec, ts)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write([]byte(line + "\n"))
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// ClearLogs deletes the active log and all rotated backups, returning how
// many files were removed. Logging continues into a fresh file afterwards.
func (l *Logger) ClearLogs() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.out.Close()
	count := 0
	for _, path := range l.logFiles() {
		if err := os.Remove(path); err == nil {
			count++
		}
	}
	return count
}

// SizeBytes returns the combined size of the active log and its backups.
func (l *Logger) SizeBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total int64
	for _, path := range l.logFiles() {
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
	}
	return total
}

// logFiles matches the active file and the timestamped backups rotation
// produces alongside it.
func (l *Logger) logFiles() []string {
	ext := filepath.Ext(FileName)
	base := strings.TrimSuffix(FileName, ext)
	matches, _ := filepath.Glob(filepath.Join(l.dir, base+"*"+ext))
	return matches
}

// FormatLine renders one packet as the log line, without the trailing
// newline. Fields are pipe-separated; the tail varies with the packet kind.
func FormatLine(rec *packet.Record, ts float64) string {
	when := time.Unix(int64(ts), 0).Format("2006-01-02 15:04:05")
	parts := []string{
		when,
		rec.Decoded.PortKind,
		"from=" + rec.FromID(),
		"to=" + rec.ToID(),
		fmt.Sprintf("ch=%d", rec.Channel),
	}

	switch {
	case rec.IsText():
		parts = append(parts, fmt.Sprintf("text=%q", rec.Decoded.Text))
	case packet.KindMatches(rec.Decoded.PortKind, packet.PortPosition):
		lat, lon := coordinates(rec.Decoded.Position)
		parts = append(parts, fmt.Sprintf("lat=%.6f lon=%.6f", lat, lon))
	case packet.KindMatches(rec.Decoded.PortKind, packet.PortTelemetry):
		if device, ok := rec.Decoded.Telemetry["deviceMetrics"].(map[string]any); ok {
			if battery, ok := numeric(device["batteryLevel"]); ok {
				parts = append(parts, fmt.Sprintf("battery=%.0f%%", battery))
			}
			if util, ok := numeric(device["channelUtilization"]); ok {
				parts = append(parts, fmt.Sprintf("chUtil=%.1f%%", util))
			}
		}
	}

	if rec.SNR != nil {
		parts = append(parts, fmt.Sprintf("snr=%.1f", *rec.SNR))
	}
	if rec.RSSI != nil {
		parts = append(parts, fmt.Sprintf("rssi=%d", *rec.RSSI))
	}
	return strings.Join(parts, " | ")
}

// coordinates pulls latitude/longitude from a position block, scaling the
// integer 1e7 wire form when that is what the decoder produced.
func coordinates(pos map[string]any) (lat, lon float64) {
	lat, _ = numeric(pos["latitude"])
	lon, _ = numeric(pos["longitude"])
	if lat == 0 && lon == 0 {
		lat, _ = numeric(pos["latitudeI"])
		lon, _ = numeric(pos["longitudeI"])
	}
	if lat > 1000 || lat < -1000 {
		lat /= 1e7
		lon /= 1e7
	}
	return lat, lon
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	default:
		return 0, false
	}
}
