package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "tickbot/pkg/logx"
)

func TestDebouncedWriteCoalescing(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := New(Config{Path: path, FlushDebounce: 50 * time.Millisecond}, logx.Nop())
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 10; i++ {
		if _, err := s.Schedule("a", nil, Options{Delay: time.Hour}); err != nil {
			t.Fatalf("Schedule error: %v", err)
		}
	}

	time.Sleep(200 * time.Millisecond)
	if got := s.writes.Load(); got != 1 {
		t.Fatalf("writes = %d, want 1 (debounce should coalesce the burst)", got)
	}

	var records []Job
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if err := json.Unmarshal(b, &records); err != nil {
		t.Fatalf("persisted file is not a job array: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("persisted %d jobs, want 10", len(records))
	}
}

func TestRoundTripPersistence(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")

	s1 := New(Config{Path: path}, logx.Nop())
	id, err := s1.Schedule("notify", map[string]any{"x": 1, "s": "hi"}, Options{
		Delay:     time.Hour,
		GuildID:   "g1",
		ChannelID: "c1",
		Reminders: []Reminder{
			{Offset: 30 * time.Minute, Message: "soon"},
			{Offset: 5 * time.Minute, Message: "very soon"},
		},
		ReminderAction: "remind",
		Description:    "round trip",
	})
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	s2 := New(Config{Path: path}, logx.Nop())
	t.Cleanup(func() { _ = s2.Close() })
	s2.RegisterAction("notify", func(ctx context.Context, inv Invocation) error { return nil })
	if err := s2.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	jobs := s2.Jobs(Filter{})
	if len(jobs) != 1 {
		t.Fatalf("restored %d jobs, want 1", len(jobs))
	}
	got := jobs[0]
	if got.ID != id || got.Action != "notify" || got.GuildID != "g1" || got.ChannelID != "c1" {
		t.Fatalf("restored job fields differ: %+v", got)
	}
	if string(got.Payload) == "" {
		t.Fatal("payload lost")
	}
	var p map[string]any
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if p["x"] != float64(1) || p["s"] != "hi" {
		t.Fatalf("payload = %v", p)
	}
	if len(got.Reminders) != 2 ||
		got.Reminders[0] != (Reminder{Offset: 30 * time.Minute, Message: "soon"}) ||
		got.Reminders[1] != (Reminder{Offset: 5 * time.Minute, Message: "very soon"}) {
		t.Fatalf("reminders differ: %+v", got.Reminders)
	}
}

func TestAtMostOneFireAcrossRestores(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")

	fired := make(chan string, 4)
	s1 := New(Config{Path: path, FlushDebounce: 10 * time.Millisecond}, logx.Nop())
	s1.RegisterAction("once", func(ctx context.Context, inv Invocation) error {
		fired <- "s1"
		return nil
	})
	if _, err := s1.Schedule("once", nil, Options{Delay: 20 * time.Millisecond}); err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("job never fired")
	}
	// Close flushes the post-fire state: the retired job must be gone from disk.
	if err := s1.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	s2 := New(Config{Path: path, RestoreGrace: 10 * time.Millisecond}, logx.Nop())
	t.Cleanup(func() { _ = s2.Close() })
	s2.RegisterAction("once", func(ctx context.Context, inv Invocation) error {
		fired <- "s2"
		return nil
	})
	if err := s2.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	// Restoring again with the same state must not duplicate anything either.
	if err := s2.Restore(); err != nil {
		t.Fatalf("second Restore error: %v", err)
	}

	select {
	case who := <-fired:
		t.Fatalf("fired job refired after restore (%s)", who)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMalformedFileLoadsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")
	if err := os.WriteFile(path, []byte(`[{"id":"x", truncated`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s := New(Config{Path: path}, logx.Nop())
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if n := len(s.Jobs(Filter{})); n != 0 {
		t.Fatalf("jobs = %d, want 0 after corrupt load", n)
	}

	// The scheduler must still be usable afterwards.
	if _, err := s.Schedule("a", nil, Options{Delay: time.Hour}); err != nil {
		t.Fatalf("Schedule after corrupt load: %v", err)
	}
}

func TestMissingFileLoadsEmpty(t *testing.T) {
	t.Parallel()
	s := New(Config{Path: filepath.Join(t.TempDir(), "nope", "jobs.json")}, logx.Nop())
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}
	if n := len(s.Jobs(Filter{})); n != 0 {
		t.Fatalf("jobs = %d, want 0", n)
	}
}
