// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// executionContext is the mutable record of one Execute call.
//
// It is created fresh per call and never shared between calls. Stage
// goroutines of one parallel group touch it concurrently, hence the mutex.
type executionContext struct {
	mu sync.Mutex

	id        string
	tier      Tier
	state     string
	startedAt time.Time
	endedAt   time.Time
	retries   int
	errors    []string
	history   []StateRecord
	stages    map[Stage]StageMetadata
	cacheKey  string
	fallback  bool

	// Set before the first group runs; read-only afterwards.
	deadline   time.Duration
	complexity float64
	pressure   bool
}

func newExecutionContext(tier Tier) *executionContext {
	return &executionContext{
		id:        uuid.NewString(),
		tier:      tier,
		state:     StateIdle,
		startedAt: time.Now(),
		stages:    make(map[Stage]StageMetadata),
	}
}

func (ec *executionContext) setState(state string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.state = state
}

func (ec *executionContext) addError(err error) {
	if err == nil {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errors = append(ec.errors, err.Error())
}

// reserveRetry takes one retry from the execution-wide budget.
//
// Outputs:
//
//	int - The retry count after reservation.
//	bool - False when the budget is exhausted.
func (ec *executionContext) reserveRetry(limit int) (int, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.retries >= limit {
		return ec.retries, false
	}
	ec.retries++
	return ec.retries, true
}

func (ec *executionContext) record(rec StateRecord, meta *StageMetadata) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.history = append(ec.history, rec)
	if meta != nil {
		ec.stages[rec.Stage] = *meta
	}
}

// finish stamps the end time and returns the metadata snapshot.
func (ec *executionContext) finish(state string) ExecutionMetadata {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.state = state
	ec.endedAt = time.Now()

	stages := make(map[Stage]StageMetadata, len(ec.stages))
	for k, v := range ec.stages {
		stages[k] = v
	}
	history := make([]StateRecord, len(ec.history))
	copy(history, ec.history)

	return ExecutionMetadata{
		ExecutionID:     ec.id,
		Tier:            ec.tier,
		State:           ec.state,
		StartedAt:       ec.startedAt,
		EndedAt:         ec.endedAt,
		Duration:        ec.endedAt.Sub(ec.startedAt),
		Deadline:        ec.deadline,
		ComplexityScore: ec.complexity,
		Retries:         ec.retries,
		Errors:          append([]string(nil), ec.errors...),
		StateHistory:    history,
		Stages:          stages,
		CacheKey:        ec.cacheKey,
		FallbackUsed:    ec.fallback,
	}
}
