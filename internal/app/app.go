// Package app wires tickbot together: config, logging, audit storage, kv
// stores, the chat adapter, the notify pipeline, the scheduler, and the
// janitor. Action registration happens between New and Start, before the
// scheduler restores persisted jobs.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tickbot/internal/config"
	"tickbot/internal/janitor"
	"tickbot/internal/kvstore"
	"tickbot/internal/notify"
	"tickbot/internal/scheduler"
	"tickbot/internal/storage"
	"tickbot/internal/transport/telegram"
	logx "tickbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter *telegram.Adapter
	notify  *notify.Service
	sched   *scheduler.Scheduler
	stores  *kvstore.Registry
	audit   storage.Store
	jan     *janitor.Service

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(loggingConfig(cfg))
	mgr.SetLogger(log)

	audit, err := storage.Open(storageConfig(cfg), log.With(logx.String("svc", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	storesCfg, err := kvstoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	stores := kvstore.NewRegistry(storesCfg, log.With(logx.String("svc", "kvstore")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("svc", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	nsvc := notify.New(notifyConfig(cfg), adapter, log.With(logx.String("svc", "notify")))

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if audit != nil {
		schedCfg.OnResult = func(r scheduler.Result) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			rec := storage.RunRecord{
				At:        r.Started,
				JobID:     r.JobID,
				Action:    r.Action,
				GuildID:   r.GuildID,
				ChannelID: r.ChannelID,
				Reminder:  r.Reminder,
				TookMS:    r.Duration.Milliseconds(),
				Error:     r.Error,
			}
			if err := audit.AppendRun(ctx, rec); err != nil {
				log.Warn("audit append failed", logx.String("job", r.JobID), logx.Err(err))
			}
		}
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("svc", "scheduler")))
	// Handlers reach the chat platform through the notify pipeline.
	sched.Init(nsvc)

	jan := janitor.New(janitorConfig(cfg), audit, stores, log.With(logx.String("svc", "janitor")))

	return &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		adapter: adapter,
		notify:  nsvc,
		sched:   sched,
		stores:  stores,
		audit:   audit,
		jan:     jan,
	}, nil
}

// Scheduler exposes the job scheduler so main can register actions before
// Start restores persisted jobs.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Stores exposes the kv store registry for subsystems needing durable state.
func (a *App) Stores() *kvstore.Registry { return a.stores }

// Notify exposes the outbound message pipeline.
func (a *App) Notify() *notify.Service { return a.notify }

func (a *App) Start(ctx context.Context) error {
	a.notify.Start(ctx)

	// Every action must be registered by now; restore arms the timers.
	if err := a.sched.Restore(); err != nil {
		return fmt.Errorf("restore schedule: %w", err)
	}

	a.jan.Start(ctx)
	a.startConfigWatch(ctx)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("tickbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.watchCancel != nil {
		a.watchCancel()
		a.watchWG.Wait()
		a.watchCancel = nil
	}

	a.jan.Stop()

	if err := a.sched.Close(); err != nil {
		a.log.Error("scheduler close failed", logx.Err(err))
	}
	if err := a.stores.FlushAll(); err != nil {
		a.log.Error("store flush failed", logx.Err(err))
	}

	a.notify.Stop()
	_ = a.adapter.Stop(ctx)
	if a.audit != nil {
		_ = a.audit.Close()
	}

	a.log.Info("tickbot stopped")
	return a.logSvc.Close()
}

// startConfigWatch hot-reloads the settings that are safe to change at
// runtime (log level/sinks, notifier rate). Scheduler and store paths are
// start-time only.
func (a *App) startConfigWatch(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel

	sub := a.cfgMgr.Subscribe(1)

	a.watchWG.Add(2)
	go func() {
		defer a.watchWG.Done()
		if err := a.cfgMgr.Watch(wctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.watchWG.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok || cfg == nil {
					return
				}
				a.logSvc.Apply(loggingConfig(cfg))
				a.notify.Apply(notifyConfig(cfg))
				a.log.Info("runtime config applied")
			}
		}
	}()
}

// ---- config mapping ----

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		busy = 0
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func kvstoreConfig(cfg *config.Config) (kvstore.Config, error) {
	debounce, err := config.ParseDurationOrDefault("stores.flush_debounce", cfg.Stores.FlushDebounce, time.Second)
	if err != nil {
		return kvstore.Config{}, err
	}
	dir := cfg.Stores.Dir
	if dir == "" {
		dir = "./data/stores"
	}
	return kvstore.Config{Dir: dir, FlushDebounce: debounce}, nil
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	debounce, err := config.ParseDurationOrDefault("scheduler.flush_debounce", cfg.Scheduler.FlushDebounce, time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("scheduler.restore_grace", cfg.Scheduler.RestoreGrace, 5*time.Second)
	if err != nil {
		return scheduler.Config{}, err
	}
	path := cfg.Scheduler.Path
	if path == "" {
		path = "./data/jobs.json"
	}
	return scheduler.Config{
		Path:          path,
		FlushDebounce: debounce,
		RestoreGrace:  grace,
		HistorySize:   cfg.Scheduler.HistorySize,
	}, nil
}

func notifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Workers:    cfg.Notifier.Workers,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func janitorConfig(cfg *config.Config) janitor.Config {
	if cfg.Janitor == nil {
		return janitor.Config{}
	}
	retention, err := config.ParseDurationOrDefault("janitor.audit_retention", cfg.Janitor.AuditRetention, 720*time.Hour)
	if err != nil {
		retention = 720 * time.Hour
	}
	return janitor.Config{
		Enabled:        cfg.Janitor.Enabled,
		AuditRetention: retention,
		PruneSpec:      cfg.Janitor.PruneSpec,
		FlushSpec:      cfg.Janitor.FlushSpec,
	}
}
