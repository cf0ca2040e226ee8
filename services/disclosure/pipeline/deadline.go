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
	"context"
	"errors"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"
)

// Complexity weights and normalizers.
const (
	weightText     = 0.30
	weightEntities = 0.25
	weightTimeline = 0.20
	weightRules    = 0.15
	weightEvidence = 0.10

	normText     = 10_000.0
	normEntities = 50.0
	normTimeline = 30.0
	normEvidence = 20.0

	// ruleComplexity is the constant rule term; rule cost is not known up front.
	ruleComplexity = 0.5

	maxRetryExponent = 64
)

// errDeadlineExceeded is the cancellation cause set by the deadline timer.
var errDeadlineExceeded = errors.New("adaptive deadline exceeded")

// ComplexityInputs are the sizes the complexity score is computed from.
type ComplexityInputs struct {
	TextChars      int
	Entities       int
	TimelineEvents int
	Evidence       int
}

// ComplexityScore returns a weighted score in [0, 1].
//
// Each term is normalized and capped at 1 before weighting.
func ComplexityScore(in ComplexityInputs) float64 {
	term := func(n int, norm float64) float64 {
		if n <= 0 {
			return 0
		}
		return math.Min(float64(n)/norm, 1)
	}
	score := weightText*term(in.TextChars, normText) +
		weightEntities*term(in.Entities, normEntities) +
		weightTimeline*term(in.TimelineEvents, normTimeline) +
		weightRules*ruleComplexity +
		weightEvidence*term(in.Evidence, normEvidence)
	return clampScore(score)
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}

// complexityOf measures an input.
func complexityOf(in Input) ComplexityInputs {
	chars := utf8.RuneCountInString(in.Text)
	for _, s := range in.Segments {
		chars += utf8.RuneCountInString(s)
	}
	timeline := 0
	for _, e := range in.Entities {
		if e.Date != "" {
			timeline++
		}
	}
	return ComplexityInputs{
		TextChars:      chars,
		Entities:       len(in.Entities),
		TimelineEvents: timeline,
	}
}

// ComputeDeadline returns the adaptive deadline.
//
// Description:
//
//	Starts from BaseTimeout. When score exceeds ComplexityThreshold the
//	deadline grows by (score - threshold) * ComplexityScale. Memory pressure
//	multiplies by PressureMultiplier. Each retry multiplies by RetryDecay.
//	The result is clamped to [MinTimeout, MaxTimeout].
//
// Inputs:
//
//	score - Complexity score. Clamped to [0, 1]; NaN counts as 0.
//	pressure - Whether the process is under memory pressure.
//	retries - Retries so far. Negative counts as 0.
//
// Outputs:
//
//	time.Duration - The deadline, always within [MinTimeout, MaxTimeout].
func (c Config) ComputeDeadline(score float64, pressure bool, retries int) time.Duration {
	score = clampScore(score)

	mult := 1.0
	if score > c.ComplexityThreshold {
		mult += (score - c.ComplexityThreshold) * c.ComplexityScale
	}
	if pressure {
		mult *= c.PressureMultiplier
	}

	if retries < 0 {
		retries = 0
	}
	if retries > maxRetryExponent {
		retries = maxRetryExponent
	}
	mult *= math.Pow(c.RetryDecay, float64(retries))

	d := float64(c.BaseTimeout) * mult
	if math.IsNaN(d) || d < float64(c.MinTimeout) {
		return c.MinTimeout
	}
	if d > float64(c.MaxTimeout) {
		return c.MaxTimeout
	}
	return time.Duration(d)
}

// PressureProbe reports whether the process is under memory pressure.
type PressureProbe func() bool

// MemoryPressure returns a probe that compares heap usage to the memory limit.
//
// The limit is the runtime soft memory limit when one is set, otherwise the
// memory obtained from the OS.
func MemoryPressure(ratio float64) PressureProbe {
	return func() bool {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		limit := debug.SetMemoryLimit(-1)
		if limit <= 0 || limit == math.MaxInt64 {
			limit = int64(ms.Sys)
		}
		if limit <= 0 {
			return false
		}
		return float64(ms.HeapAlloc) >= ratio*float64(limit)
	}
}

// deadlineTimer cancels a context when the deadline passes.
//
// The deadline can only be tightened.
type deadlineTimer struct {
	mu        sync.Mutex
	start     time.Time
	expiresAt time.Time
	timer     *time.Timer
	cancel    context.CancelCauseFunc
}

// startDeadline derives a context canceled with errDeadlineExceeded after d.
func startDeadline(parent context.Context, d time.Duration) (context.Context, *deadlineTimer) {
	ctx, cancel := context.WithCancelCause(parent)
	now := time.Now()
	t := &deadlineTimer{
		start:     now,
		expiresAt: now.Add(d),
		cancel:    cancel,
	}
	t.timer = time.AfterFunc(d, func() { cancel(errDeadlineExceeded) })
	return ctx, t
}

// tighten moves the deadline to start+d when that is earlier than the current one.
func (t *deadlineTimer) tighten(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.start.Add(d)
	if !next.Before(t.expiresAt) {
		return
	}
	t.expiresAt = next

	remaining := time.Until(next)
	if remaining <= 0 {
		t.timer.Stop()
		t.cancel(errDeadlineExceeded)
		return
	}
	t.timer.Reset(remaining)
}

// stop releases the timer and the derived context.
func (t *deadlineTimer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer.Stop()
	t.cancel(context.Canceled)
}

// deadlineHit reports whether ctx was canceled by the deadline timer.
func deadlineHit(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errDeadlineExceeded)
}
