package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "tickbot/pkg/logx"
)

var (
	ErrNegativeDelay = errors.New("scheduler: negative delay")
	ErrClosed        = errors.New("scheduler: closed")
)

// Scheduler owns the full lifecycle of timed jobs: registration of named
// actions, creation, persistence, restoration, firing, and cancellation.
// One instance per process; all dependency injection goes through it.
type Scheduler struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	host    any
	actions map[string]Handler
	jobs    map[string]*Job
	order   []string // insertion order, so Jobs() stays stable
	timers  map[string]*jobTimers
	closed  bool

	// persistence state, guarded by mu
	dirty      bool
	flushTimer *time.Timer
	writes     atomic.Uint64

	hmu     sync.Mutex
	history []Result

	runCtx    context.Context
	runCancel context.CancelFunc

	now func() time.Time // test seam
}

func New(cfg Config, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		log:       log,
		actions:   map[string]Handler{},
		jobs:      map[string]*Job{},
		timers:    map[string]*jobTimers{},
		runCtx:    ctx,
		runCancel: cancel,
		now:       time.Now,
	}
}

// RegisterAction associates name with handler. Re-registering the same name
// overwrites, which lets a long-running process upgrade behavior without
// re-persisting jobs: handlers are looked up by name at fire time.
func (s *Scheduler) RegisterAction(name string, h Handler) {
	s.mu.Lock()
	s.actions[name] = h
	s.mu.Unlock()
}

// Init stores the host context forwarded to every handler invocation.
// Must precede Restore and Schedule.
func (s *Scheduler) Init(host any) {
	s.mu.Lock()
	s.host = host
	s.mu.Unlock()
}

// Schedule creates and persists a new job and returns its id. The id is
// valid synchronously; durability happens within the debounce window.
// The action is deliberately not resolved here — resolution happens at fire
// time, so scheduling under a not-yet-registered name is legal.
func (s *Scheduler) Schedule(action string, payload any, opts Options) (string, error) {
	if opts.Delay < 0 {
		return "", ErrNegativeDelay
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("scheduler: payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	now := s.now()
	j := &Job{
		ID:             newJobID(now),
		Action:         action,
		Payload:        raw,
		GuildID:        opts.GuildID,
		ChannelID:      opts.ChannelID,
		ExecuteAt:      now.Add(opts.Delay).UnixMilli(),
		Reminders:      append([]Reminder(nil), opts.Reminders...),
		ReminderAction: opts.ReminderAction,
		Description:    opts.Description,
		CreatedAt:      now.UnixMilli(),
	}
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	s.armLocked(j)
	s.markDirtyLocked()

	s.log.Debug("job scheduled",
		logx.String("id", j.ID),
		logx.String("action", action),
		logx.Duration("delay", opts.Delay),
		logx.Int("reminders", len(j.Reminders)))
	return j.ID, nil
}

// Cancel removes the job and stops all of its timers (primary and
// reminders). It reports whether a job was found; canceling twice, or
// canceling an id that already fired, returns false. A handler that is
// already running is not interrupted.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	_, ok := s.jobs[id]
	if ok {
		s.removeLocked(id)
		s.markDirtyLocked()
	}
	s.mu.Unlock()
	if ok {
		s.log.Debug("job canceled", logx.String("id", id))
	}
	return ok
}

// Jobs returns copies of pending jobs matching filter, in insertion order.
func (s *Scheduler) Jobs(f Filter) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		j, ok := s.jobs[id]
		if !ok {
			continue
		}
		if f.GuildID != "" && j.GuildID != f.GuildID {
			continue
		}
		if f.Action != "" && j.Action != f.Action {
			continue
		}
		out = append(out, cloneJob(*j))
	}
	return out
}

// Snapshot returns pending jobs plus the recent execution history.
func (s *Scheduler) Snapshot() Snapshot {
	pending := s.Jobs(Filter{})
	s.hmu.Lock()
	hist := append([]Result(nil), s.history...)
	s.hmu.Unlock()
	return Snapshot{Pending: pending, History: hist}
}

// Close stops every timer, flushes pending state to disk, and releases the
// run context handed to handlers. The scheduler is unusable afterwards.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, t := range s.timers {
		t.stop()
	}
	s.timers = map[string]*jobTimers{}
	s.mu.Unlock()

	s.runCancel()
	return s.Flush()
}

// armLocked arms the primary timer and every still-future reminder timer
// for j, recording the handles in the side table. Callers hold s.mu.
func (s *Scheduler) armLocked(j *Job) {
	now := s.now()
	id := j.ID

	delay := time.UnixMilli(j.ExecuteAt).Sub(now)
	if delay < 0 {
		// Overdue (restore path): fire after a short grace so the rest of
		// startup settles first.
		delay = s.cfg.RestoreGrace
	}
	jt := &jobTimers{primary: time.AfterFunc(delay, func() { s.firePrimary(id) })}

	for _, r := range j.Reminders {
		d := time.UnixMilli(j.ExecuteAt).Add(-r.Offset).Sub(now)
		if d <= 0 {
			// A late reminder is misleading; never fire it retroactively.
			continue
		}
		msg := r.Message
		jt.reminders = append(jt.reminders, time.AfterFunc(d, func() { s.fireReminder(id, msg) }))
	}
	s.timers[id] = jt
}

// removeLocked retires a job: drops it from the set and stops its timers.
func (s *Scheduler) removeLocked(id string) {
	delete(s.jobs, id)
	if t, ok := s.timers[id]; ok {
		t.stop()
		delete(s.timers, id)
	}
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// firePrimary runs when a job's primary timer elapses. The job is retired
// regardless of handler outcome; a handler wanting retry semantics must
// re-schedule itself.
func (s *Scheduler) firePrimary(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || s.closed {
		// Lost the race against Cancel or Close.
		s.mu.Unlock()
		return
	}
	snap := cloneJob(*j)
	h := s.actions[snap.Action]
	host := s.host
	ctx := s.runCtx
	s.mu.Unlock()

	started := time.Now()
	var err error
	if h == nil {
		err = fmt.Errorf("action %q not registered", snap.Action)
	} else {
		err = s.invoke(ctx, h, Invocation{Job: snap, Payload: snap.Payload, Host: host})
	}

	s.mu.Lock()
	s.removeLocked(id)
	s.markDirtyLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed",
			logx.String("id", id),
			logx.String("action", snap.Action),
			logx.Err(err))
	} else {
		s.log.Info("job fired", logx.String("id", id), logx.String("action", snap.Action))
	}
	s.record(Result{
		JobID:     id,
		Action:    snap.Action,
		GuildID:   snap.GuildID,
		ChannelID: snap.ChannelID,
		Started:   started,
		Duration:  time.Since(started),
		Error:     errString(err),
	})
}

// fireReminder runs when one reminder timer elapses. Reminders never retire
// the job; only the primary fire does.
func (s *Scheduler) fireReminder(id, message string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	snap := cloneJob(*j)
	h := s.actions[snap.ReminderAction]
	host := s.host
	ctx := s.runCtx
	s.mu.Unlock()

	started := time.Now()
	var err error
	if h == nil {
		err = fmt.Errorf("reminder action %q not registered", snap.ReminderAction)
	} else {
		err = s.invoke(ctx, h, Invocation{Job: snap, Payload: snap.Payload, Message: message, Host: host})
	}

	if err != nil {
		s.log.Error("reminder failed",
			logx.String("id", id),
			logx.String("action", snap.ReminderAction),
			logx.Err(err))
	}
	s.record(Result{
		JobID:     id,
		Action:    snap.ReminderAction,
		GuildID:   snap.GuildID,
		ChannelID: snap.ChannelID,
		Reminder:  true,
		Message:   message,
		Started:   started,
		Duration:  time.Since(started),
		Error:     errString(err),
	})
}

// invoke runs a handler, converting panics into errors so one misbehaving
// action cannot take the process down.
func (s *Scheduler) invoke(ctx context.Context, h Handler, inv Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			s.log.Error("panic in job handler",
				logx.String("id", inv.Job.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return h(ctx, inv)
}

func (s *Scheduler) record(r Result) {
	s.hmu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()

	if s.cfg.OnResult != nil {
		s.cfg.OnResult(r)
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return append(json.RawMessage(nil), p...), nil
	case []byte:
		return append(json.RawMessage(nil), p...), nil
	default:
		return json.Marshal(v)
	}
}

// newJobID builds "<unix-milli>-<random>"; uniqueness is the only
// requirement, ordering by prefix is a readability bonus.
func newJobID(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(b[:]))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
