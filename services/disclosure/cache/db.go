// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides a BadgerDB-backed pipeline result cache.
//
// Results are stored as JSON under their pipeline cache key with a TTL, so
// identical documents analyzed under the same tier and version tag are
// served without re-running the pipeline, across process restarts.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the result cache.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string `yaml:"path" json:"path"`

	// InMemory keeps everything in RAM. Useful for tests and one-shot runs.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// SyncWrites enables synchronous writes.
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`

	// TTL is how long a cached result stays valid. 0 means no expiry.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// GCInterval is how often to run value log garbage collection. 0 disables it.
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval"`

	// GCDiscardRatio is the minimum discardable fraction before GC rewrites a file.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio" validate:"gte=0,lte=1"`

	// Logger receives BadgerDB's internal logs. If nil, they are discarded.
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultConfig returns production defaults: synchronous writes, a 24h TTL
// and GC every 5 minutes at a 0.5 discard ratio.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		TTL:            24 * time.Hour,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: in memory, async, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
		TTL:      time.Hour,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// openDB opens a BadgerDB instance for cfg, creating the directory if needed.
func openDB(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With(slog.String("component", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// gcRunner runs periodic value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*gcRunner, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func (r *gcRunner) start() {
	go r.run()
}

// stop halts the runner and waits for it. Safe to call more than once.
func (r *gcRunner) stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	// ErrNoRewrite means nothing was worth collecting.
	err := r.db.RunValueLogGC(r.ratio)
	switch {
	case err == nil:
		r.logger.Debug("badger value log GC completed")
	case !errors.Is(err, badger.ErrNoRewrite):
		r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
	}
}
