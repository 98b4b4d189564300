package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tickbot/pkg/logx"
)

// Config controls the registry and the stores it creates.
type Config struct {
	// Dir holds one "<name>.json" backing file per store.
	Dir string

	// FlushDebounce is the mutation-coalescing window (default 1s).
	FlushDebounce time.Duration
}

// Registry hands out singleton stores by name. One registry per process,
// owned by the app; there are no package-level singletons.
type Registry struct {
	cfg Config
	log logx.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

func NewRegistry(cfg Config, log logx.Logger) *Registry {
	if cfg.FlushDebounce <= 0 {
		cfg.FlushDebounce = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{cfg: cfg, log: log, stores: map[string]*Store{}}
}

// Open returns the store registered under name, creating and loading it on
// first use. Repeated calls with the same name return the same instance.
func (r *Registry) Open(name string) (*Store, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[name]; ok {
		return s, nil
	}

	s := &Store{
		name:     name,
		path:     filepath.Join(r.cfg.Dir, name+".json"),
		log:      r.log,
		debounce: r.cfg.FlushDebounce,
		m:        map[string]json.RawMessage{},
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("kvstore %q: %w", name, err)
	}
	r.stores[name] = s
	return s, nil
}

// FlushAll force-writes every open store. Used during graceful shutdown.
func (r *Registry) FlushAll() error {
	r.mu.Lock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.Unlock()

	var firstErr error
	for _, s := range stores {
		if err := s.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func validName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("kvstore: name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("kvstore: invalid store name %q", name)
	}
	return nil
}
