package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	kit "tickbot/internal/transport"
	logx "tickbot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error { return nil }

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestSendDelivers(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	s := New(Config{Workers: 1, QueueSize: 8, RatePerSec: 100}, fa, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	if err := s.Send(kit.ChatTarget{ChatID: 42}, "hello"); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fa.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fa.count() != 1 {
		t.Fatalf("delivered = %d, want 1", fa.count())
	}
}

func TestSendBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeAdapter{}, logx.Nop())
	if err := s.Send(kit.ChatTarget{ChatID: 1}, "x"); err != ErrStopped {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()
	// Rate 1/sec with burst 1: the worker drains one message then blocks,
	// so a burst larger than queue+inflight must hit ErrQueueFull.
	fa := &fakeAdapter{}
	s := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 1}, fa, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(s.Stop)

	var full bool
	for i := 0; i < 16; i++ {
		if err := s.Send(kit.ChatTarget{ChatID: 1}, "spam"); err == ErrQueueFull {
			full = true
			break
		}
	}
	if !full {
		t.Fatal("never saw ErrQueueFull under burst")
	}
}
