package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meshlog/meshlog/internal/config"
	"github.com/meshlog/meshlog/internal/store"
)

// openStore opens the configured database, creating its directory on first
// run.
func openStore() (*store.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	path, err := config.ExpandHome(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return s, cfg, nil
}

func formatTimestamp(ts float64) string {
	return time.Unix(int64(ts), 0).Format("2006-01-02 15:04:05")
}

func formatSize(bytes int64) string {
	const mb = 1024 * 1024
	if bytes >= mb {
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	}
	return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
}

// messageLine renders one stored message for terminal output.
func messageLine(m store.Message) string {
	text, _ := m.Payload["text"].(string)
	status := ""
	if m.Outbound {
		status = " [tx]"
		if m.Delivered != nil {
			if *m.Delivered {
				status = " [delivered]"
			} else {
				status = " [failed: " + m.ErrorReason + "]"
			}
		}
	}
	return fmt.Sprintf("%s  ch%d  %s -> %s%s  %s",
		formatTimestamp(m.Timestamp), m.Channel, m.FromNode, m.ToNode, status, text)
}
