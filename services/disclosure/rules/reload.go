// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EngineSource yields the engine to use for the next execution.
//
// Callers fetch the engine once per execution so a reload never changes
// rules mid-run.
type EngineSource interface {
	Engine() *Engine
}

// StaticSource always returns the same engine.
type StaticSource struct {
	engine *Engine
}

// NewStaticSource wraps an engine.
func NewStaticSource(e *Engine) *StaticSource {
	return &StaticSource{engine: e}
}

// Engine returns the wrapped engine.
func (s *StaticSource) Engine() *Engine {
	return s.engine
}

// DefaultReloadDebounce is how long the reloader waits for writes to settle.
const DefaultReloadDebounce = 250 * time.Millisecond

// Reloader rebuilds the engine when its rule file changes.
//
// # Description
//
// The rule file's directory is watched so editors that replace the file by
// rename are handled. Events are debounced, the file is parsed into a new
// registry, and a new engine sharing the outcome cache and statistics is
// swapped in atomically. A file that fails to parse leaves the current
// engine in place. Cached outcomes of the old rules are never read again
// because the registry version is part of every cache key.
//
// # Thread Safety
//
// Safe for concurrent use.
type Reloader struct {
	path     string
	config   EngineConfig
	base     *slog.Logger
	logger   *slog.Logger
	opts     []EngineOption
	debounce time.Duration

	current atomic.Pointer[Engine]
	cache   *OutcomeCache
	stats   *Stats

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReloader loads the rule file and builds the first engine.
//
// # Inputs
//
//   - path: Rule file path.
//   - cfg: Engine configuration used for every rebuilt engine.
//   - logger: Logger. If nil, uses slog.Default().
//   - opts: Engine options applied to every rebuilt engine.
//
// # Outputs
//
//   - *Reloader: Ready to serve engines. Call Start to watch for changes.
//   - error: Non-nil if the initial load fails.
func NewReloader(path string, cfg EngineConfig, logger *slog.Logger, opts ...EngineOption) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()

	r := &Reloader{
		path:     path,
		config:   cfg,
		base:     logger,
		logger:   logger.With(slog.String("component", "rule_reloader"), slog.String("path", path)),
		opts:     opts,
		debounce: DefaultReloadDebounce,
		stats:    &Stats{},
		done:     make(chan struct{}),
	}
	if cfg.EnableCache {
		r.cache = NewOutcomeCache(cfg.CacheEntries)
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Engine returns the current engine.
func (r *Reloader) Engine() *Engine {
	return r.current.Load()
}

// Reload parses the rule file and swaps in a new engine.
func (r *Reloader) Reload() error {
	reg, err := LoadRegistry(r.path)
	if err != nil {
		registryReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("reload rules: %w", err)
	}

	opts := append([]EngineOption{WithStats(r.stats), WithOutcomeCache(r.cache)}, r.opts...)
	engine, err := NewEngine(reg, r.config, r.base, opts...)
	if err != nil {
		registryReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("reload rules: %w", err)
	}

	prev := r.current.Swap(engine)
	registryReloads.WithLabelValues("success").Inc()
	if prev != nil {
		r.logger.Info("rules reloaded",
			slog.String("previous_version", prev.Registry().Version()),
			slog.String("version", reg.Version()),
			slog.Int("rules", reg.Len()),
		)
	}
	return nil
}

// Start begins watching the rule file until ctx is done or Close is called.
func (r *Reloader) Start(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	if r.watcher != nil {
		return errors.New("reloader already started")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	r.watcher = w

	r.wg.Add(1)
	go r.watchLoop(ctx)
	return nil
}

// Close stops watching. Safe to call more than once.
func (r *Reloader) Close() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.done)
		if r.watcher != nil {
			err = r.watcher.Close()
		}
		r.wg.Wait()
	})
	return err
}

// watchLoop handles fsnotify events with debouncing.
func (r *Reloader) watchLoop(ctx context.Context) {
	defer r.wg.Done()

	target := filepath.Clean(r.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Reset(r.debounce)
			}
			fire = timer.C
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("rule watcher error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			if err := r.Reload(); err != nil {
				r.logger.Error("rule reload failed, keeping current rules", slog.String("error", err.Error()))
			}
		}
	}
}
