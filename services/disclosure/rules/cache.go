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
	"container/list"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
)

// DefaultCacheEntries bounds the outcome cache when no size is configured.
const DefaultCacheEntries = 4096

// OutcomeCache memoizes rule outcomes keyed by rule, facts and registry version.
//
// Description:
//
//	Only successful and skipped outcomes are stored. Concurrent evaluations
//	of the same key share one computation via singleflight. Least recently
//	used entries are evicted once the cache is full.
//
// Thread Safety:
//
//	Safe for concurrent use.
type OutcomeCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	max     int
	flight  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key     string
	outcome Outcome
}

// NewOutcomeCache creates a cache holding at most maxEntries outcomes.
//
// maxEntries <= 0 uses DefaultCacheEntries.
func NewOutcomeCache(maxEntries int) *OutcomeCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &OutcomeCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		max:     maxEntries,
	}
}

// CacheKey builds the cache key for one rule over one set of facts.
func CacheKey(ruleID string, facts Facts, registryVersion string) string {
	return ruleID + "|" + factbag.Hash(facts.Timeline) + "|" + factbag.Hash(facts.Entities) + "|" + registryVersion
}

// Get returns a cached outcome.
func (c *OutcomeCache) Get(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return Outcome{}, false
	}
	c.lru.MoveToFront(el)
	c.hits.Add(1)
	return el.Value.(*cacheEntry).outcome, true
}

// Put stores an outcome. Failed outcomes are ignored.
func (c *OutcomeCache) Put(key string, o Outcome) {
	if o.Status == StatusFailed {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).outcome = o
		c.lru.MoveToFront(el)
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, outcome: o})
	for c.lru.Len() > c.max {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// GetOrCompute returns the cached outcome for key or computes it once.
//
// Outputs:
//
//	Outcome - The cached or computed outcome.
//	bool - True when the outcome came from the cache.
func (c *OutcomeCache) GetOrCompute(key string, compute func() Outcome) (Outcome, bool) {
	if o, ok := c.Get(key); ok {
		return o, true
	}
	v, _, _ := c.flight.Do(key, func() (interface{}, error) {
		if o, ok := c.Get(key); ok {
			return o, nil
		}
		o := compute()
		c.Put(key, o)
		return o, nil
	})
	return v.(Outcome), false
}

// Len returns the number of cached outcomes.
func (c *OutcomeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops every entry and resets the hit counters.
func (c *OutcomeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.hits.Store(0)
	c.misses.Store(0)
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (c *OutcomeCache) HitRate() float64 {
	h := c.hits.Load()
	total := h + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(h) / float64(total)
}
