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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("disclosure.pipeline")
	meter  = otel.Meter("disclosure.pipeline")
)

// initMetrics lazily initializes the orchestrator's instruments.
// Failures are logged and execution continues without them.
func (o *Orchestrator) initMetrics() {
	o.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		o.execLatency, err = meter.Float64Histogram("disclosure_pipeline_duration_seconds",
			metric.WithDescription("Total pipeline execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "exec_latency: "+err.Error())
		}

		o.execTotal, err = meter.Int64Counter("disclosure_pipeline_executions_total",
			metric.WithDescription("Pipeline executions by tier and outcome"),
		)
		if err != nil {
			initErrors = append(initErrors, "exec_total: "+err.Error())
		}

		o.stageLatency, err = meter.Float64Histogram("disclosure_stage_duration_seconds",
			metric.WithDescription("Time spent executing each stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		o.retryTotal, err = meter.Int64Counter("disclosure_stage_retries_total",
			metric.WithDescription("Stage retries by stage"),
		)
		if err != nil {
			initErrors = append(initErrors, "retry_total: "+err.Error())
		}

		o.fallbackTotal, err = meter.Int64Counter("disclosure_pipeline_fallbacks_total",
			metric.WithDescription("Fallback runs by result"),
		)
		if err != nil {
			initErrors = append(initErrors, "fallback_total: "+err.Error())
		}

		if len(initErrors) > 0 {
			o.logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func (o *Orchestrator) recordExecution(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tier", string(o.config.Tier)),
		attribute.String("outcome", outcome),
	)
	if o.execTotal != nil {
		o.execTotal.Add(ctx, 1, attrs)
	}
	if o.execLatency != nil {
		o.execLatency.Record(ctx, d.Seconds(), attrs)
	}
}

func (o *Orchestrator) recordStage(ctx context.Context, stage Stage, d time.Duration, success bool) {
	if o.stageLatency != nil {
		o.stageLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.Bool("success", success),
		))
	}
}

func (o *Orchestrator) recordRetry(ctx context.Context, stage Stage) {
	if o.retryTotal != nil {
		o.retryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
	}
}

func (o *Orchestrator) recordFallback(ctx context.Context, result string) {
	if o.fallbackTotal != nil {
		o.fallbackTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}
