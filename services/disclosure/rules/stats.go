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
	"sync"
	"time"
)

// Stats accumulates engine counters across ExecuteRules calls.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	executions  int64
	evaluated   int64
	succeeded   int64
	skipped     int64
	failed      int64
	cacheHits   int64
	chainPasses int64
	avgDuration time.Duration
	lastRun     time.Time
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Executions      int64         `json:"executions"`
	RulesEvaluated  int64         `json:"rules_evaluated"`
	Succeeded       int64         `json:"succeeded"`
	Skipped         int64         `json:"skipped"`
	Failed          int64         `json:"failed"`
	CacheHits       int64         `json:"cache_hits"`
	ChainPasses     int64         `json:"chain_passes"`
	AverageDuration time.Duration `json:"average_duration"`
	LastRun         time.Time     `json:"last_run,omitempty"`
}

// record folds one execution summary into the running totals.
func (s *Stats) record(sum Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions++
	s.evaluated += int64(sum.Evaluated)
	s.succeeded += int64(sum.Succeeded)
	s.skipped += int64(sum.Skipped)
	s.failed += int64(sum.Failed)
	s.cacheHits += int64(sum.CacheHits)
	s.chainPasses += int64(sum.ChainPasses)

	// Incremental mean avoids keeping every duration.
	s.avgDuration += (sum.Duration - s.avgDuration) / time.Duration(s.executions)
	s.lastRun = time.Now()
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Executions:      s.executions,
		RulesEvaluated:  s.evaluated,
		Succeeded:       s.succeeded,
		Skipped:         s.skipped,
		Failed:          s.failed,
		CacheHits:       s.cacheHits,
		ChainPasses:     s.chainPasses,
		AverageDuration: s.avgDuration,
		LastRun:         s.lastRun,
	}
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions, s.evaluated, s.succeeded, s.skipped = 0, 0, 0, 0
	s.failed, s.cacheHits, s.chainPasses = 0, 0, 0
	s.avgDuration = 0
	s.lastRun = time.Time{}
}
