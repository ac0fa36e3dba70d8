// Package config provides configuration types and loading for meshlog.
package config

// Config is the root configuration struct.
// Top-level groups: Storage, Buffer, TextLog, Export, Notify.
type Config struct {
	Storage StorageConfig `json:"storage"`
	Buffer  BufferConfig  `json:"buffer"`
	TextLog TextLogConfig `json:"textLog"`
	Export  ExportConfig  `json:"export"`
	Notify  NotifyConfig  `json:"notify"`
}

// ---------------------------------------------------------------------------
// Storage – SQLite persistence
// ---------------------------------------------------------------------------

// StorageConfig groups persistent store settings.
type StorageConfig struct {
	DBPath         string `json:"dbPath" envconfig:"DB_PATH"`
	NodeMaxAgeDays int    `json:"nodeMaxAgeDays" envconfig:"NODE_MAX_AGE_DAYS"`
}

// ---------------------------------------------------------------------------
// Buffer – in-memory message mirror
// ---------------------------------------------------------------------------

// BufferConfig groups the live message buffer settings.
type BufferConfig struct {
	Capacity int `json:"capacity" envconfig:"CAPACITY"`
}

// ---------------------------------------------------------------------------
// TextLog – rotating plain-text packet log
// ---------------------------------------------------------------------------

// TextLogConfig groups the plain-text packet log settings.
type TextLogConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"ENABLED"`
	Dir       string `json:"dir" envconfig:"DIR"`
	MaxSizeMB int    `json:"maxSizeMb" envconfig:"MAX_SIZE_MB"`
	Backups   int    `json:"backups" envconfig:"BACKUPS"`
}

// ---------------------------------------------------------------------------
// Export – Kafka event bridge
// ---------------------------------------------------------------------------

// ExportConfig groups the Kafka export bridge settings.
type ExportConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers string `json:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic   string `json:"topic" envconfig:"KAFKA_TOPIC"`
}

// ---------------------------------------------------------------------------
// Notify – Slack direct-message forwarding
// ---------------------------------------------------------------------------

// NotifyConfig groups the Slack notification settings.
type NotifyConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Token   string `json:"token" envconfig:"SLACK_TOKEN"`
	Channel string `json:"channel" envconfig:"SLACK_CHANNEL"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath:         "~/.meshlog/messages.db",
			NodeMaxAgeDays: 30,
		},
		Buffer: BufferConfig{
			Capacity: 1000,
		},
		TextLog: TextLogConfig{
			Enabled:   true,
			Dir:       "~/.meshlog/logs",
			MaxSizeMB: 10,
			Backups:   7,
		},
		Export: ExportConfig{
			Enabled: false,
			Brokers: "localhost:9092",
			Topic:   "meshlog.events",
		},
		Notify: NotifyConfig{
			Enabled: false,
		},
	}
}
