package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// Config controls the scheduler.
type Config struct {
	// Path is the flat file holding the persisted job set.
	Path string

	// FlushDebounce is the window in which schedule/cancel bursts coalesce
	// into a single disk write (default 1s).
	FlushDebounce time.Duration

	// RestoreGrace delays the primary fire of jobs found overdue at restore
	// so the rest of startup can settle first (default 5s).
	RestoreGrace time.Duration

	// HistorySize bounds the in-memory execution history ring (default 100).
	HistorySize int

	// OnResult, when set, receives the outcome of every primary and
	// reminder fire. Called outside the scheduler lock.
	OnResult func(Result)
}

func (c Config) withDefaults() Config {
	if c.FlushDebounce <= 0 {
		c.FlushDebounce = time.Second
	}
	if c.RestoreGrace <= 0 {
		c.RestoreGrace = 5 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

// Reminder is a secondary notification tied to a job's primary fire time,
// expressed as a backward offset from it.
type Reminder struct {
	Offset  time.Duration
	Message string
}

type reminderRecord struct {
	OffsetMS int64  `json:"offsetMs"`
	Message  string `json:"message"`
}

// MarshalJSON persists the offset as whole milliseconds ("offsetMs") to keep
// the job file readable by external tooling.
func (r Reminder) MarshalJSON() ([]byte, error) {
	return json.Marshal(reminderRecord{OffsetMS: r.Offset.Milliseconds(), Message: r.Message})
}

func (r *Reminder) UnmarshalJSON(b []byte) error {
	var rec reminderRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	r.Offset = time.Duration(rec.OffsetMS) * time.Millisecond
	r.Message = rec.Message
	return nil
}

// Job is the persisted record of one scheduled future execution.
// ExecuteAt and CreatedAt are epoch milliseconds; this matches the on-disk
// format, which admin tooling may read (but must never write).
//
// Timer handles are deliberately not part of this type; they live in a side
// table keyed by job id so serialization never has to strip anything.
type Job struct {
	ID             string          `json:"id"`
	Action         string          `json:"action"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	GuildID        string          `json:"guildId,omitempty"`
	ChannelID      string          `json:"channelId,omitempty"`
	ExecuteAt      int64           `json:"executeAt"`
	Reminders      []Reminder      `json:"reminders,omitempty"`
	ReminderAction string          `json:"reminderAction,omitempty"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      int64           `json:"createdAt"`
}

func cloneJob(j Job) Job {
	if j.Payload != nil {
		j.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Reminders != nil {
		j.Reminders = append([]Reminder(nil), j.Reminders...)
	}
	return j
}

// Options configures a Schedule call.
type Options struct {
	// Delay is the primary fire offset from now. Must be >= 0.
	Delay time.Duration

	// GuildID and ChannelID are indexing metadata; the scheduler stores and
	// filters on them but never interprets them.
	GuildID   string
	ChannelID string

	// Reminders fire Offset before the primary time, each through the
	// handler registered under ReminderAction. Offsets larger than the
	// remaining delay are legal; such reminders simply never fire.
	Reminders      []Reminder
	ReminderAction string

	Description string
}

// Filter selects jobs for Jobs(). Zero fields match everything.
type Filter struct {
	GuildID string
	Action  string
}

// Invocation is what a handler receives when a job or reminder fires.
type Invocation struct {
	// Job is a snapshot of the firing job.
	Job Job

	// Payload is the data passed to Schedule, verbatim.
	Payload json.RawMessage

	// Message is the reminder text; empty on the primary fire.
	Message string

	// Host is whatever was passed to Init (e.g. the notify service).
	Host any
}

// Handler is a registered named action.
type Handler func(ctx context.Context, inv Invocation) error

// Result records the outcome of one fire, for the history ring and the
// OnResult hook.
type Result struct {
	JobID     string
	Action    string
	GuildID   string
	ChannelID string
	Reminder  bool
	Message   string
	Started   time.Time
	Duration  time.Duration
	Error     string
}

// Snapshot is a point-in-time view for status surfaces.
type Snapshot struct {
	Pending []Job
	History []Result
}

// jobTimers holds the live timer handles for one job. Runtime only; the
// persisted Job record never sees these.
type jobTimers struct {
	primary   *time.Timer
	reminders []*time.Timer
}

func (t *jobTimers) stop() {
	if t == nil {
		return
	}
	if t.primary != nil {
		t.primary.Stop()
	}
	for _, r := range t.reminders {
		if r != nil {
			r.Stop()
		}
	}
}
