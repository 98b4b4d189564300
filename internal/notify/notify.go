// Package notify is the async outbound message pipeline: bounded queue,
// worker pool, and a token-bucket rate limit so job bursts cannot trip the
// chat platform's flood control. Enqueueing never blocks the firing path;
// when the queue is full the message is dropped with a log line.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "tickbot/internal/transport"
	logx "tickbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notify: queue full")
	ErrStopped   = errors.New("notify: not running")
)

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	return c
}

type item struct {
	to   kit.ChatTarget
	text string
}

// Service delivers text messages through the adapter, rate limited.
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter

	cfg     Config
	limiter *rate.Limiter

	queue     chan item
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log}
	s.applyLocked(cfg)
	return s
}

// Apply updates the rate limit at runtime (config hot reload).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan item, s.cfg.QueueSize)
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop()
		}()
	}
	s.log.Info("notify started", logx.Int("workers", workers))
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.queue = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.workerWG.Wait()
		s.log.Info("notify stopped")
	}
}

// Send enqueues one message. It never blocks; a full queue drops the
// message and returns ErrQueueFull.
func (s *Service) Send(to kit.ChatTarget, text string) error {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return ErrStopped
	}
	select {
	case q <- item{to: to, text: text}:
		return nil
	default:
		s.log.Warn("notify queue full, dropping message", logx.Int64("chat", to.ChatID))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop() {
	for {
		s.mu.Lock()
		ctx := s.runCtx
		q := s.queue
		lim := s.limiter
		s.mu.Unlock()
		if ctx == nil || q == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case it := <-q:
			if err := lim.Wait(ctx); err != nil {
				return
			}
			sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			_, err := s.adapter.SendText(sctx, it.to, it.text, &kit.SendOptions{DisablePreview: true})
			cancel()
			if err != nil {
				s.log.Warn("message delivery failed",
					logx.Int64("chat", it.to.ChatID),
					logx.Err(err))
			}
		}
	}
}
