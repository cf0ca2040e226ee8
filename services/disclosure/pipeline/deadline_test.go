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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
)

func TestComplexityScore(t *testing.T) {
	t.Run("empty input keeps rule term", func(t *testing.T) {
		assert.InDelta(t, weightRules*ruleComplexity, ComplexityScore(ComplexityInputs{}), 1e-9)
	})

	t.Run("saturated input is one", func(t *testing.T) {
		score := ComplexityScore(ComplexityInputs{
			TextChars:      1_000_000,
			Entities:       1000,
			TimelineEvents: 1000,
			Evidence:       1000,
		})
		assert.InDelta(t, weightText+weightEntities+weightTimeline+weightRules*ruleComplexity+weightEvidence, score, 1e-9)
		assert.LessOrEqual(t, score, 1.0)
	})

	t.Run("monotonic in every input", func(t *testing.T) {
		base := ComplexityInputs{TextChars: 100, Entities: 2, TimelineEvents: 1, Evidence: 1}
		s0 := ComplexityScore(base)

		more := base
		more.TextChars = 5000
		assert.Greater(t, ComplexityScore(more), s0)

		more = base
		more.Entities = 20
		assert.Greater(t, ComplexityScore(more), s0)

		more = base
		more.TimelineEvents = 20
		assert.Greater(t, ComplexityScore(more), s0)
	})
}

func TestComplexityOf(t *testing.T) {
	in := Input{
		Text:     "héllo",
		Segments: []string{"ab", "c"},
		Entities: []factbag.Entity{
			{Type: "diagnosis", Value: "a", Date: "2020"},
			{Type: "diagnosis", Value: "b"},
		},
	}
	got := complexityOf(in)
	assert.Equal(t, 8, got.TextChars, "counts runes, not bytes")
	assert.Equal(t, 2, got.Entities)
	assert.Equal(t, 1, got.TimelineEvents)
}

func TestComputeDeadline(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("low complexity is base", func(t *testing.T) {
		assert.Equal(t, cfg.BaseTimeout, cfg.ComputeDeadline(0.2, false, 0))
	})

	t.Run("non-decreasing in complexity", func(t *testing.T) {
		prev := time.Duration(0)
		for s := 0.0; s <= 1.0; s += 0.05 {
			d := cfg.ComputeDeadline(s, false, 0)
			assert.GreaterOrEqual(t, d, prev, "score %.2f", s)
			prev = d
		}
		assert.Greater(t, cfg.ComputeDeadline(1, false, 0), cfg.ComputeDeadline(0, false, 0))
	})

	t.Run("pressure increases", func(t *testing.T) {
		assert.Greater(t, cfg.ComputeDeadline(0.5, true, 0), cfg.ComputeDeadline(0.5, false, 0))
	})

	t.Run("retries decrease", func(t *testing.T) {
		d0 := cfg.ComputeDeadline(0.5, false, 0)
		d1 := cfg.ComputeDeadline(0.5, false, 1)
		d2 := cfg.ComputeDeadline(0.5, false, 2)
		assert.Less(t, d1, d0)
		assert.Less(t, d2, d1)
	})

	t.Run("clamped", func(t *testing.T) {
		assert.Equal(t, cfg.MinTimeout, cfg.ComputeDeadline(0, false, 1000))
		assert.Equal(t, cfg.MinTimeout, cfg.ComputeDeadline(0, false, math.MaxInt))

		c := cfg
		c.BaseTimeout = 100 * time.Second
		assert.Equal(t, c.MaxTimeout, c.ComputeDeadline(1, true, 0))
	})

	t.Run("odd scores", func(t *testing.T) {
		for _, s := range []float64{math.NaN(), -1, 2, math.Inf(1), math.Inf(-1)} {
			d := cfg.ComputeDeadline(s, false, -5)
			assert.GreaterOrEqual(t, d, cfg.MinTimeout)
			assert.LessOrEqual(t, d, cfg.MaxTimeout)
		}
	})
}

func TestDeadlineTimer(t *testing.T) {
	t.Run("fires with cause", func(t *testing.T) {
		ctx, timer := startDeadline(context.Background(), 10*time.Millisecond)
		defer timer.stop()

		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("deadline never fired")
		}
		assert.True(t, deadlineHit(ctx))
	})

	t.Run("tighten moves earlier only", func(t *testing.T) {
		ctx, timer := startDeadline(context.Background(), time.Hour)
		defer timer.stop()

		timer.tighten(2 * time.Hour)
		assert.NoError(t, ctx.Err())

		timer.tighten(10 * time.Millisecond)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("tightened deadline never fired")
		}
		assert.True(t, deadlineHit(ctx))
	})

	t.Run("stop is not a deadline hit", func(t *testing.T) {
		ctx, timer := startDeadline(context.Background(), time.Hour)
		timer.stop()
		require.Error(t, ctx.Err())
		assert.False(t, deadlineHit(ctx))
	})

	t.Run("parent cancel is not a deadline hit", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		ctx, timer := startDeadline(parent, time.Hour)
		defer timer.stop()
		cancel()
		<-ctx.Done()
		assert.False(t, deadlineHit(ctx))
	})
}
