package kvstore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tickbot/internal/storage"
	logx "tickbot/pkg/logx"
)

// Store is one named, disk-backed associative store. Values are opaque JSON.
type Store struct {
	name     string
	path     string
	log      logx.Logger
	debounce time.Duration

	mu         sync.RWMutex
	m          map[string]json.RawMessage
	dirty      bool
	flushTimer *time.Timer

	writes atomic.Uint64
}

// load reads the backing file into memory. A missing file initializes an
// empty store without error; a corrupt file is logged and treated as empty.
func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("store file is malformed; starting empty",
			logx.String("store", s.name),
			logx.String("path", s.path),
			logx.Err(err))
		return nil
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	s.mu.Lock()
	s.m = m
	s.mu.Unlock()
	return nil
}

// Set marshals value under key and schedules a debounced write.
func (s *Store) Set(key string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.m[key] = raw
	s.markDirtyLocked()
	s.mu.Unlock()
	return nil
}

// Get unmarshals the value under key into out (ignored when out is nil).
// The boolean reports presence.
func (s *Store) Get(key string, out any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal(raw, out)
}

// Raw returns the stored JSON for key, verbatim.
func (s *Store) Raw(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	raw, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), raw...), true
}

func (s *Store) Has(key string) bool {
	s.mu.RLock()
	_, ok := s.m[key]
	s.mu.RUnlock()
	return ok
}

// Delete removes key and schedules a debounced write. It reports whether
// the key was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	_, ok := s.m[key]
	if ok {
		delete(s.m, key)
		s.markDirtyLocked()
	}
	s.mu.Unlock()
	return ok
}

// Keys returns all keys, sorted for deterministic iteration.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Values returns copies of all values, ordered by sorted key.
func (s *Store) Values() []json.RawMessage {
	s.mu.RLock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		out = append(out, append(json.RawMessage(nil), s.m[k]...))
	}
	s.mu.RUnlock()
	return out
}

// Entries returns a copy of the full key/value map.
func (s *Store) Entries() map[string]json.RawMessage {
	s.mu.RLock()
	out := make(map[string]json.RawMessage, len(s.m))
	for k, v := range s.m {
		out[k] = append(json.RawMessage(nil), v...)
	}
	s.mu.RUnlock()
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.m)
	s.mu.RUnlock()
	return n
}

// Flush forces an immediate write, bypassing the debounce window.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.dirty = false
	data, err := json.Marshal(s.m)
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(s.path, data); err != nil {
		return err
	}
	s.writes.Add(1)
	return nil
}

func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(s.debounce, s.flushTimerFired)
}

func (s *Store) flushTimerFired() {
	s.mu.Lock()
	s.flushTimer = nil
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	data, err := json.Marshal(s.m)
	s.mu.Unlock()

	if err != nil {
		s.log.Error("store encode failed", logx.String("store", s.name), logx.Err(err))
		return
	}
	if err := storage.WriteFileAtomic(s.path, data); err != nil {
		// In-memory state stays authoritative; the next flush catches up.
		s.log.Error("store persist failed",
			logx.String("store", s.name),
			logx.String("path", s.path),
			logx.Err(err))
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.writes.Add(1)
}

func marshalValue(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case json.RawMessage:
		return append(json.RawMessage(nil), p...), nil
	default:
		return json.Marshal(v)
	}
}
