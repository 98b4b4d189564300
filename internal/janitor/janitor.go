// Package janitor runs recurring in-process housekeeping: audit retention
// pruning and a periodic safety flush of the kv stores. It is internal
// maintenance only; user-facing scheduling stays one-shot.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tickbot/internal/kvstore"
	"tickbot/internal/storage"
	logx "tickbot/pkg/logx"
)

type Config struct {
	Enabled bool

	// AuditRetention drops run records older than this (default 30 days;
	// 0 keeps everything).
	AuditRetention time.Duration

	// PruneSpec is the cron spec for the retention sweep (default "@daily").
	PruneSpec string

	// FlushSpec is the cron spec for the store safety flush (default
	// "@every 5m").
	FlushSpec string
}

func (c Config) withDefaults() Config {
	if c.AuditRetention < 0 {
		c.AuditRetention = 0
	}
	if c.PruneSpec == "" {
		c.PruneSpec = "@daily"
	}
	if c.FlushSpec == "" {
		c.FlushSpec = "@every 5m"
	}
	return c
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	audit  storage.Store
	stores *kvstore.Registry

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, audit storage.Store, stores *kvstore.Registry, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		audit:  audit,
		stores: stores,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser))

	if s.audit != nil && s.cfg.AuditRetention > 0 {
		retention := s.cfg.AuditRetention
		if _, err := s.c.AddFunc(s.cfg.PruneSpec, func() { s.pruneAudit(ctx, retention) }); err != nil {
			s.log.Error("janitor prune register failed", logx.String("spec", s.cfg.PruneSpec), logx.Err(err))
		}
	}
	if s.stores != nil {
		if _, err := s.c.AddFunc(s.cfg.FlushSpec, s.flushStores); err != nil {
			s.log.Error("janitor flush register failed", logx.String("spec", s.cfg.FlushSpec), logx.Err(err))
		}
	}

	s.c.Start()
	s.log.Info("janitor started",
		logx.String("prune", s.cfg.PruneSpec),
		logx.String("flush", s.cfg.FlushSpec))
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("janitor stopped")
}

func (s *Service) pruneAudit(ctx context.Context, retention time.Duration) {
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-retention)
	removed, err := s.audit.PruneBefore(pctx, cutoff)
	if err != nil {
		s.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		s.log.Info("audit pruned", logx.Int("removed", removed), logx.Time("cutoff", cutoff))
	}
}

func (s *Service) flushStores() {
	if err := s.stores.FlushAll(); err != nil {
		s.log.Warn("store flush sweep failed", logx.Err(err))
	}
}
