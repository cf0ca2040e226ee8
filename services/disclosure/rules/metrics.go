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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("disclosure.rules")

// =============================================================================
// Prometheus Metrics for Rule Evaluation
// =============================================================================

var (
	// ruleOutcomes counts rule evaluations.
	// Labels: category, status (success, skipped, failed)
	ruleOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "disclosure",
		Subsystem: "rules",
		Name:      "outcomes_total",
		Help:      "Total rule evaluations by category and status",
	}, []string{"category", "status"})

	// ruleCacheHits counts outcomes served from the outcome cache.
	ruleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "disclosure",
		Subsystem: "rules",
		Name:      "cache_hits_total",
		Help:      "Total rule outcomes served from cache",
	})

	// executeDuration measures ExecuteRules latency.
	executeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "disclosure",
		Subsystem: "rules",
		Name:      "execute_duration_seconds",
		Help:      "Rule engine execution latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// aggregateConfidence tracks the distribution of aggregate confidence.
	aggregateConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "disclosure",
		Subsystem: "rules",
		Name:      "aggregate_confidence",
		Help:      "Distribution of aggregate rule confidence per execution",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// registryReloads counts hot reloads of the rule registry.
	// Labels: result (success, error)
	registryReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "disclosure",
		Subsystem: "rules",
		Name:      "registry_reloads_total",
		Help:      "Total rule registry reloads by result",
	}, []string{"result"})
)

// startExecuteSpan creates a span for one ExecuteRules call.
func startExecuteSpan(ctx context.Context, entities, events int, version string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "rules.Engine.ExecuteRules",
		trace.WithAttributes(
			attribute.Int("rules.entities", entities),
			attribute.Int("rules.timeline_events", events),
			attribute.String("rules.registry_version", version),
		),
	)
}

// setExecuteSpanResult sets summary attributes on an execution span.
func setExecuteSpanResult(span trace.Span, sum Summary) {
	span.SetAttributes(
		attribute.Int("rules.candidates", sum.Candidates),
		attribute.Int("rules.succeeded", sum.Succeeded),
		attribute.Int("rules.failed", sum.Failed),
		attribute.Int("rules.cache_hits", sum.CacheHits),
		attribute.Int("rules.chain_passes", sum.ChainPasses),
		attribute.Float64("rules.aggregate_confidence", sum.AggregateConfidence),
	)
}

// recordSummaryMetrics records Prometheus metrics for one execution.
func recordSummaryMetrics(outcomes []Outcome, sum Summary) {
	for _, o := range outcomes {
		ruleOutcomes.WithLabelValues(string(o.Category), string(o.Status)).Inc()
	}
	ruleCacheHits.Add(float64(sum.CacheHits))
	executeDuration.Observe(sum.Duration.Seconds())
	aggregateConfidence.Observe(sum.AggregateConfidence)
}
