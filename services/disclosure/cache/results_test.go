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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
)

func openInMemory(t *testing.T) *ResultCache {
	t.Helper()
	c, err := Open(InMemoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleResult() *pipeline.Result {
	return &pipeline.Result{
		Report: factbag.Report{Items: []factbag.ReportItem{
			{Kind: factbag.ItemHistory, Title: "diagnosis: asthma", Date: "2010", Confidence: 0.9},
		}},
		Confidence:        0.9,
		QualityGatePassed: true,
		Metadata: pipeline.ExecutionMetadata{
			ExecutionID: "exec-1",
			Tier:        pipeline.TierStandard,
			Retries:     1,
			StateHistory: []pipeline.StateRecord{
				{Stage: pipeline.StageIngest, Duration: time.Millisecond, Success: true, Attempts: 1},
			},
		},
		Facts: factbag.Bag{factbag.KeyInputText: "not persisted"},
	}
}

func TestResultCache_GetSet(t *testing.T) {
	c := openInMemory(t)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "k1", sampleResult()))

	got, found, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0.9, got.Confidence)
	assert.True(t, got.QualityGatePassed)
	assert.Equal(t, "exec-1", got.Metadata.ExecutionID)
	assert.Equal(t, pipeline.StageIngest, got.Metadata.StateHistory[0].Stage)
	assert.Equal(t, time.Millisecond, got.Metadata.StateHistory[0].Duration)
	require.Len(t, got.Report.Items, 1)
	assert.Equal(t, "diagnosis: asthma", got.Report.Items[0].Title)
	assert.Nil(t, got.Facts, "fact bag is not persisted")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestResultCache_DeleteAndPurge(t *testing.T) {
	c := openInMemory(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", sampleResult()))
	require.NoError(t, c.Set(ctx, "b", sampleResult()))

	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "never-set"))
	_, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Purge())
	_, found, err = c.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResultCache_TTL(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for expiry")
	}
	cfg := InMemoryConfig()
	cfg.TTL = time.Second
	c, err := Open(cfg, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "short", sampleResult()))

	require.Eventually(t, func() bool {
		_, found, err := c.Get(ctx, "short")
		return err == nil && !found
	}, 5*time.Second, 100*time.Millisecond)
}

func TestResultCache_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = time.Hour

	c, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "persist", sampleResult()))
	require.NoError(t, c.Close())

	c2, err := Open(cfg, nil)
	require.NoError(t, err)
	defer c2.Close()

	got, found, err := c2.Get(context.Background(), "persist")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "exec-1", got.Metadata.ExecutionID)
}

func TestResultCache_Errors(t *testing.T) {
	t.Run("persistent requires path", func(t *testing.T) {
		_, err := Open(Config{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "path is required")
	})

	t.Run("bad GC ratio", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Path = t.TempDir()
		cfg.GCDiscardRatio = 2
		_, err := Open(cfg, nil)
		require.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		c := openInMemory(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := c.Get(ctx, "k")
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("nil result", func(t *testing.T) {
		c := openInMemory(t)
		require.Error(t, c.Set(context.Background(), "k", nil))
	})

	t.Run("closed", func(t *testing.T) {
		c, err := Open(InMemoryConfig(), nil)
		require.NoError(t, err)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close(), "second close is a no-op")

		_, _, err = c.Get(context.Background(), "k")
		require.ErrorIs(t, err, ErrClosed)
		require.ErrorIs(t, c.Set(context.Background(), "k", sampleResult()), ErrClosed)
		require.ErrorIs(t, c.Purge(), ErrClosed)
	})
}

func TestResultCache_WithOrchestrator(t *testing.T) {
	c := openInMemory(t)

	var calls int
	execs := map[pipeline.Stage]pipeline.StageExecutor{}
	for _, s := range pipeline.AllStages {
		execs[s] = pipeline.StageFunc(func(ctx context.Context, stage pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
			calls++
			if stage == pipeline.StageSynthesize {
				return factbag.Bag{factbag.KeyReport: &factbag.Report{Items: []factbag.ReportItem{{Kind: factbag.ItemSummary, Title: "s"}}}}, nil
			}
			return factbag.New(), nil
		})
	}

	cfg := pipeline.DefaultConfig()
	cfg.Tier = pipeline.TierDraft
	o, err := pipeline.New(cfg, execs, nil, pipeline.WithCache(c))
	require.NoError(t, err)

	in := pipeline.Input{Text: "history of asthma"}
	first, err := o.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first.Metadata.CacheHit)
	n := calls

	second, err := o.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, n, calls)
	assert.Equal(t, first.Report, second.Report)
}
