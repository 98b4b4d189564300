package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	logx "tickbot/pkg/logx"
)

func writeJobFile(t *testing.T, path string, jobs []Job) {
	t.Helper()
	b, err := json.Marshal(jobs)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestOverdueJobFiresOnceAfterGrace(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")
	now := time.Now()
	writeJobFile(t, path, []Job{{
		ID:        "overdue-1",
		Action:    "noop",
		ExecuteAt: now.Add(-time.Hour).UnixMilli(),
		CreatedAt: now.Add(-2 * time.Hour).UnixMilli(),
	}})

	s := New(Config{Path: path, RestoreGrace: 30 * time.Millisecond}, logx.Nop())
	t.Cleanup(func() { _ = s.Close() })

	var count atomic.Int32
	fired := make(chan struct{}, 2)
	s.RegisterAction("noop", func(ctx context.Context, inv Invocation) error {
		count.Add(1)
		fired <- struct{}{}
		return nil
	})

	start := time.Now()
	if err := s.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("overdue job never fired")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("fired after %v, want the grace delay to apply first", elapsed)
	}

	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Fatalf("fire count = %d, want exactly 1", got)
	}
}

func TestElapsedRemindersNeverFireLate(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")
	now := time.Now()
	writeJobFile(t, path, []Job{{
		ID:        "j1",
		Action:    "noop",
		ExecuteAt: now.Add(400 * time.Millisecond).UnixMilli(),
		Reminders: []Reminder{
			// Computed fire time is far in the past: must be dropped.
			{Offset: 10 * time.Minute, Message: "stale"},
			// Still in the future: must fire.
			{Offset: 250 * time.Millisecond, Message: "fresh"},
		},
		ReminderAction: "rem",
		CreatedAt:      now.UnixMilli(),
	}})

	s := New(Config{Path: path}, logx.Nop())
	t.Cleanup(func() { _ = s.Close() })

	primary := make(chan struct{})
	reminders := make(chan string, 4)
	s.RegisterAction("noop", func(ctx context.Context, inv Invocation) error {
		close(primary)
		return nil
	})
	s.RegisterAction("rem", func(ctx context.Context, inv Invocation) error {
		reminders <- inv.Message
		return nil
	})

	if err := s.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	select {
	case <-primary:
	case <-time.After(2 * time.Second):
		t.Fatal("primary never fired")
	}

	select {
	case msg := <-reminders:
		if msg != "fresh" {
			t.Fatalf("reminder %q fired, want only \"fresh\"", msg)
		}
	default:
		t.Fatal("future reminder did not fire")
	}
	select {
	case msg := <-reminders:
		t.Fatalf("extra reminder %q fired", msg)
	default:
	}
}

func TestOrphanedJobKeptUnarmed(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.json")
	now := time.Now()
	writeJobFile(t, path, []Job{
		{
			ID:        "ghost-1",
			Action:    "ghost",
			ExecuteAt: now.Add(-time.Minute).UnixMilli(),
			CreatedAt: now.UnixMilli(),
		},
		{
			ID:        "ok-1",
			Action:    "noop",
			ExecuteAt: now.Add(20 * time.Millisecond).UnixMilli(),
			CreatedAt: now.UnixMilli(),
		},
	})

	s := New(Config{Path: path, RestoreGrace: 20 * time.Millisecond}, logx.Nop())
	t.Cleanup(func() { _ = s.Close() })

	fired := make(chan string, 2)
	s.RegisterAction("noop", func(ctx context.Context, inv Invocation) error {
		fired <- inv.Job.ID
		return nil
	})

	if err := s.Restore(); err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	// One bad record must not block the rest.
	select {
	case id := <-fired:
		if id != "ok-1" {
			t.Fatalf("fired %s, want ok-1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("healthy job never fired")
	}

	// The orphan stays queryable and never fires.
	time.Sleep(100 * time.Millisecond)
	jobs := s.Jobs(Filter{Action: "ghost"})
	if len(jobs) != 1 || jobs[0].ID != "ghost-1" {
		t.Fatalf("orphan not queryable: %+v", jobs)
	}
	select {
	case id := <-fired:
		t.Fatalf("unexpected fire %s", id)
	default:
	}
}
