package janitor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickbot/internal/kvstore"
	"tickbot/internal/storage"
	logx "tickbot/pkg/logx"
)

func TestPruneSweepRemovesOldRuns(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	old := storage.RunRecord{At: time.Now().Add(-2 * time.Hour), JobID: "old", Action: "notify"}
	if err := st.AppendRun(ctx, old); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}

	j := New(Config{
		Enabled:        true,
		AuditRetention: time.Hour,
		PruneSpec:      "@every 100ms",
		FlushSpec:      "@every 1h",
	}, st, nil, logx.Nop())
	j.Start(ctx)
	t.Cleanup(j.Stop)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(bytes.TrimSpace(data)) == 0 {
			return // the sweep rewrote the file without the stale record
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("janitor never pruned the old record")
}

func TestFlushSweepWritesStores(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	reg := kvstore.NewRegistry(kvstore.Config{Dir: dir, FlushDebounce: time.Hour}, logx.Nop())
	s, err := reg.Open("state")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	j := New(Config{
		Enabled:   true,
		PruneSpec: "@every 1h",
		FlushSpec: "@every 100ms",
	}, nil, reg, logx.Nop())
	j.Start(context.Background())
	t.Cleanup(j.Stop)

	// The debounce window is an hour; only the janitor sweep can have
	// written the file.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r2 := kvstore.NewRegistry(kvstore.Config{Dir: dir}, logx.Nop())
		s2, err := r2.Open("state")
		if err == nil {
			var got string
			if ok, _ := s2.Get("k", &got); ok && got == "v" {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("janitor never flushed the store")
}

func TestDisabledJanitorIsInert(t *testing.T) {
	t.Parallel()
	j := New(Config{Enabled: false}, nil, nil, logx.Nop())
	j.Start(context.Background())
	j.Stop() // must not panic
}
