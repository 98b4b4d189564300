package scheduler

import (
	logx "tickbot/pkg/logx"
)

// Restore reads the persisted job list and reconstructs in-memory timers.
// Call it once at startup, after every RegisterAction call and Init.
//
// Overdue jobs are armed to fire after the configured grace delay rather
// than instantly. Reminders whose computed time has already passed are
// dropped silently. A record whose action has no registered handler is kept
// in the job set unarmed and logged as a configuration error, so it stays
// visible to Jobs() for operator remediation; one bad record never blocks
// restoration of the rest.
func (s *Scheduler) Restore() error {
	records, err := s.loadRecords()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	restored, orphaned := 0, 0
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if _, dup := s.jobs[rec.ID]; dup {
			continue
		}
		j := rec
		s.jobs[j.ID] = &j
		s.order = append(s.order, j.ID)

		if _, ok := s.actions[j.Action]; !ok {
			orphaned++
			s.log.Error("persisted job references unregistered action; leaving unarmed",
				logx.String("id", j.ID),
				logx.String("action", j.Action))
			continue
		}
		s.armLocked(&j)
		restored++
	}

	s.log.Info("schedule restored",
		logx.Int("jobs", restored),
		logx.Int("orphaned", orphaned))
	return nil
}
