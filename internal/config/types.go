package config

// Config is the root of the tickbot config file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls the durable one-shot job scheduler.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Stores controls the named persisted key/value stores.
	Stores StoresConfig `json:"stores"`

	// Storage controls the optional run-audit backend.
	Storage *StorageConfig `json:"storage,omitempty"`

	Notifier NotifierConfig `json:"notifier"`

	Janitor *JanitorConfig `json:"janitor,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file"`
}

// SchedulerConfig controls job persistence and restore behavior.
//
// Defaults (when fields are omitted/zero):
//   - path: "./data/jobs.json"
//   - flush_debounce: "1s"
//   - restore_grace: "5s"
//   - history_size: 100
type SchedulerConfig struct {
	Path          string `json:"path,omitempty"`
	FlushDebounce string `json:"flush_debounce,omitempty"`
	RestoreGrace  string `json:"restore_grace,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

type StoresConfig struct {
	Dir           string `json:"dir,omitempty"`            // default "./data/stores"
	FlushDebounce string `json:"flush_debounce,omitempty"` // default "1s"
}

// StorageConfig controls the optional run-audit layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/runs.jsonl" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type NotifierConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type JanitorConfig struct {
	Enabled        bool   `json:"enabled"`
	AuditRetention string `json:"audit_retention,omitempty"` // default "720h"
	PruneSpec      string `json:"prune_spec,omitempty"`      // default "@daily"
	FlushSpec      string `json:"flush_spec,omitempty"`      // default "@every 5m"
}
