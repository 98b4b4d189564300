package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines append backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord captures the outcome of one job or reminder fire.
// Keep it compact and schema-stable.
type RunRecord struct {
	At        time.Time `json:"at"`
	JobID     string    `json:"jobId"`
	Action    string    `json:"action"`
	GuildID   string    `json:"guildId,omitempty"`
	ChannelID string    `json:"channelId,omitempty"`
	Reminder  bool      `json:"reminder,omitempty"`
	TookMS    int64     `json:"tookMs"`
	Error     string    `json:"error,omitempty"`
}
