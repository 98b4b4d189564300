package scheduler

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"tickbot/internal/storage"
	logx "tickbot/pkg/logx"
)

// markDirtyLocked flags the job set as needing a write and starts the
// debounce timer if one is not already pending. Callers hold s.mu.
func (s *Scheduler) markDirtyLocked() {
	s.dirty = true
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(s.cfg.FlushDebounce, s.flushTimerFired)
}

func (s *Scheduler) flushTimerFired() {
	s.mu.Lock()
	s.flushTimer = nil
	if !s.dirty || s.closed {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	data, err := s.encodeLocked()
	path := s.cfg.Path
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job encode failed", logx.Err(err))
		return
	}
	if err := storage.WriteFileAtomic(path, data); err != nil {
		// In-memory state stays authoritative; the next successful flush
		// catches up.
		s.log.Error("job persist failed", logx.String("path", path), logx.Err(err))
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.writes.Add(1)
}

// Flush forces an immediate write, bypassing the debounce window. Intended
// for graceful shutdown so no recent mutation is lost.
func (s *Scheduler) Flush() error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.dirty = false
	data, err := s.encodeLocked()
	path := s.cfg.Path
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return err
	}
	s.writes.Add(1)
	return nil
}

// encodeLocked serializes the job set as a JSON array in insertion order.
func (s *Scheduler) encodeLocked() ([]byte, error) {
	records := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		if j, ok := s.jobs[id]; ok {
			records = append(records, *j)
		}
	}
	return json.Marshal(records)
}

// loadRecords reads the persisted job list. A missing file is an empty
// schedule; a corrupt file is logged and treated as empty rather than
// taking the whole schedule hostage over one bad byte.
func (s *Scheduler) loadRecords() ([]Job, error) {
	b, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var records []Job
	if err := json.Unmarshal(b, &records); err != nil {
		s.log.Warn("persisted job file is malformed; starting with empty schedule",
			logx.String("path", s.cfg.Path),
			logx.Err(err))
		return nil, nil
	}
	return records, nil
}
