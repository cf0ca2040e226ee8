// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vnexus/disclosure/services/disclosure/pipeline"
)

// keyPrefix namespaces result entries inside the database.
const keyPrefix = "result/"

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("result cache is closed")

// ResultCache stores pipeline results in BadgerDB.
//
// Description:
//
//	Implements pipeline.Cache. Values are JSON-encoded pipeline.Result
//	values written with the configured TTL; expired entries read as misses.
//	The fact bag of a result is not persisted.
//
// Thread Safety:
//
//	Safe for concurrent use.
type ResultCache struct {
	db     *badger.DB
	gc     *gcRunner
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Open opens a result cache.
//
// Inputs:
//
//	cfg - Cache configuration. Path is required unless InMemory is true.
//	logger - Logger. If nil, uses slog.Default().
//
// Outputs:
//
//	*ResultCache - The cache. Call Close when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config, logger *slog.Logger) (*ResultCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "result_cache"))

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	c := &ResultCache{db: db, ttl: cfg.TTL, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		c.gc = runner
		runner.start()
	}

	logger.Info("result cache opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Duration("ttl", cfg.TTL),
	)
	return c, nil
}

// Get implements pipeline.Cache.
func (c *ResultCache) Get(ctx context.Context, key string) (*pipeline.Result, bool, error) {
	if err := c.check(ctx); err != nil {
		return nil, false, err
	}

	var res pipeline.Result
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &res)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached result: %w", err)
	}
	c.hits.Add(1)
	return &res, true, nil
}

// Set implements pipeline.Cache.
func (c *ResultCache) Set(ctx context.Context, key string, result *pipeline.Result) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if result == nil {
		return errors.New("result must not be nil")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), data)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes one entry. Deleting a missing key is not an error.
func (c *ResultCache) Delete(ctx context.Context, key string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

// Purge removes every cached result.
func (c *ResultCache) Purge() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.db.DropPrefix([]byte(keyPrefix))
}

// Stats returns the hit and miss counters.
func (c *ResultCache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close stops GC and closes the database. Safe to call more than once.
func (c *ResultCache) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.gc != nil {
			c.gc.stop()
		}
		c.closeErr = c.db.Close()
	})
	return c.closeErr
}

func (c *ResultCache) check(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

var _ pipeline.Cache = (*ResultCache)(nil)
