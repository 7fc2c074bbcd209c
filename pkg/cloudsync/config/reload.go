package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/gostratum/core/logx"
)

// Store holds the currently active Config behind an atomic pointer, so
// concurrent readers (the per-profile sync goroutines, the shunt's request
// handlers) never observe a half-applied reload. Replaces the mutable
// global config dict the original daemons kept (spec §9 "process-scoped
// state with atomic swap on config reload instead of globals").
type Store struct {
	path    string
	current atomic.Pointer[Config]
	logger  logx.Logger
	watcher *fsnotify.Watcher
}

// Load reads and validates path once, populating the Store's initial value.
func Load(path string, logger logx.Logger) (*Store, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, logger: logger}
	s.current.Store(cfg)
	return s, nil
}

func loadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Get returns the currently active config. Safe for concurrent use.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// Watch starts an fsnotify watch on the config file and atomically swaps in
// each new valid version as it's written. A version that fails validation
// is logged and discarded, leaving the previous valid config in place
// (spec §6 "a config reload that fails validation must not disturb the
// running daemon").
func (s *Store) Watch(stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	s.watcher = w
	if err := w.Add(s.path); err != nil {
		w.Close()
		return fmt.Errorf("config: watch %s: %w", s.path, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if s.logger != nil {
					s.logger.Warn("config watch error", "error", err)
				}
			}
		}
	}()
	return nil
}

func (s *Store) reload() {
	cfg, err := loadFile(s.path)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("config reload rejected", "path", s.path, "error", err)
		}
		return
	}
	s.current.Store(cfg)
	if s.logger != nil {
		s.logger.Info("config reloaded", "path", s.path, "profiles", len(cfg.Profiles))
	}
}

// Close stops the watch goroutine, if one was started.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
