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
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
)

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

// WithCache sets the result cache. Used only when Config.EnableCache is set.
func WithCache(c Cache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// WithCacheVersion adds a live component to the cache key version, such as
// the rule registry version stamp. Results cached under an earlier version
// are never returned once it changes.
func WithCacheVersion(fn func() string) Option {
	return func(o *Orchestrator) {
		o.cacheVersion = fn
	}
}

// WithPressureProbe replaces the memory pressure probe.
func WithPressureProbe(p PressureProbe) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.pressure = p
		}
	}
}

// Orchestrator runs the disclosure pipeline.
//
// Description:
//
//	Execute validates the input, runs the tier's stage groups in order
//	against an adaptive deadline, validates quality, and recovers failures
//	through retry, a draft fallback run, and finally a minimal result.
//
// Thread Safety:
//
//	Safe for concurrent use. Every Execute call owns its fact bag and
//	execution context; only the running totals are shared.
type Orchestrator struct {
	config    Config
	gate      QualityGate
	groups    []Group
	executors map[Stage]StageExecutor
	cache     Cache
	pressure  PressureProbe
	base      *slog.Logger

	cacheVersion func() string
	logger    *slog.Logger

	executions atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	fallbacks  atomic.Int64
	degraded   atomic.Int64
	cacheHits  atomic.Int64
	timeouts   atomic.Int64
	lastRun    atomic.Int64

	// Metrics (initialized lazily)
	metricsOnce   sync.Once
	execLatency   metric.Float64Histogram
	execTotal     metric.Int64Counter
	stageLatency  metric.Float64Histogram
	retryTotal    metric.Int64Counter
	fallbackTotal metric.Int64Counter
}

// Status is a synchronous snapshot of an orchestrator.
type Status struct {
	Name          string      `json:"name"`
	Config        Config      `json:"config"`
	Gate          QualityGate `json:"gate"`
	Groups        []Group     `json:"groups"`
	Executions    int64       `json:"executions"`
	Succeeded     int64       `json:"succeeded"`
	Failed        int64       `json:"failed"`
	Fallbacks     int64       `json:"fallbacks"`
	Degraded      int64       `json:"degraded"`
	CacheHits     int64       `json:"cache_hits"`
	Timeouts      int64       `json:"timeouts"`
	LastExecution time.Time   `json:"last_execution,omitempty"`
}

// New creates an orchestrator.
//
// Inputs:
//
//	cfg - Configuration. Zero values get defaults.
//	executors - Stage executors keyed by stage. Core stages are mandatory;
//	            other required stages may be absent only when the tier
//	            allows skipping optional stages.
//	logger - Logger. If nil, uses slog.Default().
//	opts - Optional collaborators.
//
// Outputs:
//
//	*Orchestrator - The orchestrator.
//	error - Non-nil on invalid configuration or missing executors.
func New(cfg Config, executors map[Stage]StageExecutor, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	gate, err := GateFor(cfg.Tier)
	if err != nil {
		return nil, err
	}
	for _, stage := range gate.RequiredStages {
		if _, ok := executors[stage]; ok {
			continue
		}
		if coreStages[stage] || !gate.AllowSkipOptional {
			return nil, fmt.Errorf("%w: %s", ErrMissingExecutor, stage)
		}
	}

	groups, err := PlanGroups(gate, cfg.DisclosureAfterRules)
	if err != nil {
		return nil, err
	}

	execs := make(map[Stage]StageExecutor, len(executors))
	for k, v := range executors {
		execs[k] = v
	}

	o := &Orchestrator{
		config:    cfg,
		gate:      gate,
		groups:    groups,
		executors: execs,
		pressure:  MemoryPressure(cfg.PressureRatio),
		base:      logger,
		logger:    logger.With(slog.String("component", "pipeline"), slog.String("tier", string(cfg.Tier))),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Groups returns the planned stage groups.
func (o *Orchestrator) Groups() []Group {
	out := make([]Group, len(o.groups))
	for i, g := range o.groups {
		out[i] = append(Group(nil), g...)
	}
	return out
}

// Status returns a snapshot of the orchestrator's configuration and totals.
func (o *Orchestrator) Status() Status {
	st := Status{
		Name:       "disclosure-pipeline",
		Config:     o.config,
		Gate:       o.gate,
		Groups:     o.Groups(),
		Executions: o.executions.Load(),
		Succeeded:  o.succeeded.Load(),
		Failed:     o.failed.Load(),
		Fallbacks:  o.fallbacks.Load(),
		Degraded:   o.degraded.Load(),
		CacheHits:  o.cacheHits.Load(),
		Timeouts:   o.timeouts.Load(),
	}
	if ns := o.lastRun.Load(); ns != 0 {
		st.LastExecution = time.Unix(0, ns)
	}
	return st
}

// Execute runs the pipeline on one input.
//
// Description:
//
//	Invalid input fails fast with ErrInvalidInput before any stage runs.
//	Other failures are recovered by the fallback pipeline when
//	EnableFallback is set; in that case the call only returns an error for
//	invalid input or a canceled ctx. Without fallback, stage failures,
//	timeouts and rigorous-tier quality failures are returned as
//	*PipelineError.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	in - The document to analyze.
//
// Outputs:
//
//	*Result - The result with execution metadata.
//	error - Non-nil on failure; see Description.
func (o *Orchestrator) Execute(ctx context.Context, in Input) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	o.initMetrics()
	o.executions.Add(1)
	o.lastRun.Store(time.Now().UnixNano())

	ec := newExecutionContext(o.config.Tier)

	ctx, span := tracer.Start(ctx, "pipeline.Orchestrator.Execute",
		trace.WithAttributes(
			attribute.String("pipeline.execution_id", ec.id),
			attribute.String("pipeline.tier", string(o.config.Tier)),
		),
	)
	defer span.End()

	ec.setState(StateValidating)
	if err := o.validateInput(in); err != nil {
		ec.addError(err)
		ec.finish(StateFailed)
		o.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid input")
		o.recordExecution(ctx, "invalid_input", time.Since(ec.startedAt))
		return nil, err
	}

	result, err := o.run(ctx, ec, in)
	if err == nil {
		o.succeeded.Add(1)
		span.SetStatus(codes.Ok, "")
		o.recordExecution(ctx, "success", result.Metadata.Duration)
		return result, nil
	}

	ec.addError(err)
	span.RecordError(err)
	if errors.Is(err, ErrTimeout) {
		o.timeouts.Add(1)
	}

	if ctx.Err() != nil || !o.config.EnableFallback {
		ec.finish(StateFailed)
		o.failed.Add(1)
		span.SetStatus(codes.Error, err.Error())
		o.recordExecution(ctx, "failed", time.Since(ec.startedAt))
		o.logger.Error("pipeline failed",
			slog.String("execution_id", ec.id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result = o.runFallback(ctx, ec, in, err)
	span.SetAttributes(attribute.Bool("pipeline.fallback_used", true))
	span.SetStatus(codes.Error, "recovered by fallback")
	o.recordExecution(ctx, "fallback", result.Metadata.Duration)
	return result, nil
}

// validateInput enforces presence, the size ceiling and non-empty text.
func (o *Orchestrator) validateInput(in Input) error {
	if in.Text == "" && len(in.Segments) == 0 {
		return newError(ErrInvalidInput, "", errors.New("neither text nor segments provided"))
	}

	chars := utf8.RuneCountInString(in.Text)
	blank := strings.TrimSpace(in.Text) == ""
	for _, s := range in.Segments {
		chars += utf8.RuneCountInString(s)
		if strings.TrimSpace(s) != "" {
			blank = false
		}
	}
	if chars > o.config.MaxInputChars {
		return newError(ErrInvalidInput, "", fmt.Errorf("input is %d characters, limit is %d", chars, o.config.MaxInputChars))
	}
	if blank {
		return newError(ErrInvalidInput, "", errors.New("input is empty"))
	}
	if err := configValidate.Struct(in); err != nil {
		return newError(ErrInvalidInput, "", err)
	}
	return nil
}

// seedBag builds the initial fact bag from the input.
func seedBag(in Input) factbag.Bag {
	bag := factbag.New()
	if in.Text != "" {
		bag[factbag.KeyInputText] = in.Text
	}
	if len(in.Segments) > 0 {
		bag[factbag.KeyInputSegments] = append([]string(nil), in.Segments...)
	}
	if len(in.Entities) > 0 {
		bag[factbag.KeyInputEntities] = append([]factbag.Entity(nil), in.Entities...)
	}
	return bag
}

// run is one primary attempt: cache lookup, groups, quality validation.
func (o *Orchestrator) run(ctx context.Context, ec *executionContext, in Input) (*Result, error) {
	if o.cacheEnabled() {
		ec.cacheKey = CacheKey(in, o.config.Tier, o.keyVersion())
		if hit, ok := o.lookupCache(ctx, ec.cacheKey); ok {
			md := ec.finish(StateCompleted)
			// Stamp a copy; the cache may hand out shared values.
			cached := *hit
			cached.Metadata.ExecutionID = md.ExecutionID
			cached.Metadata.StartedAt = md.StartedAt
			cached.Metadata.EndedAt = md.EndedAt
			cached.Metadata.Duration = md.Duration
			cached.Metadata.CacheKey = md.CacheKey
			cached.Metadata.CacheHit = true
			o.cacheHits.Add(1)
			return &cached, nil
		}
	}

	ec.complexity = ComplexityScore(complexityOf(in))
	ec.pressure = o.pressure()
	ec.deadline = o.config.ComputeDeadline(ec.complexity, ec.pressure, 0)

	runCtx, timer := startDeadline(ctx, ec.deadline)
	defer timer.stop()

	o.logger.Debug("pipeline starting",
		slog.String("execution_id", ec.id),
		slog.Duration("deadline", ec.deadline),
		slog.Float64("complexity", ec.complexity),
		slog.Bool("memory_pressure", ec.pressure),
		slog.Int("groups", len(o.groups)),
	)

	ec.setState(StateRunning)
	bag := seedBag(in)
	for _, group := range o.groups {
		if runCtx.Err() != nil {
			return nil, o.interruption(runCtx, ec, group[0])
		}
		next, err := o.runGroup(runCtx, ec, timer, group, bag)
		if err != nil {
			return nil, err
		}
		bag = next
	}

	ec.setState(StateChecking)
	result := o.buildResult(bag)
	if err := o.validateQuality(ec, result); err != nil {
		return nil, err
	}
	result.Metadata = ec.finish(StateCompleted)

	if o.cacheEnabled() {
		if err := o.cache.Set(ctx, ec.cacheKey, result); err != nil {
			o.logger.Warn("cache store failed", slog.String("key", ec.cacheKey), slog.String("error", err.Error()))
		}
	}

	o.logger.Info("pipeline completed",
		slog.String("execution_id", ec.id),
		slog.Duration("duration", result.Metadata.Duration),
		slog.Float64("confidence", result.Confidence),
		slog.Bool("quality_gate_passed", result.QualityGatePassed),
		slog.Int("retries", result.Metadata.Retries),
	)
	return result, nil
}

func (o *Orchestrator) cacheEnabled() bool {
	return o.config.EnableCache && o.cache != nil
}

// keyVersion combines the configured cache version with the live one.
func (o *Orchestrator) keyVersion() string {
	if o.cacheVersion == nil {
		return o.config.CacheVersion
	}
	return o.config.CacheVersion + "." + o.cacheVersion()
}

func (o *Orchestrator) lookupCache(ctx context.Context, key string) (*Result, bool) {
	cached, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("cache lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !ok || cached == nil {
		return nil, false
	}
	return cached, true
}

// stageOutcome is what one stage goroutine reports back.
type stageOutcome struct {
	partial factbag.Bag
	record  StateRecord
	meta    *StageMetadata
	err     error
}

// runGroup runs the group's stages concurrently on one snapshot and merges
// their partial results in group order once every member has settled.
func (o *Orchestrator) runGroup(ctx context.Context, ec *executionContext, timer *deadlineTimer, group Group, bag factbag.Bag) (factbag.Bag, error) {
	ctx, span := tracer.Start(ctx, "pipeline.group",
		trace.WithAttributes(attribute.String("pipeline.group", groupName(group))),
	)
	defer span.End()

	snapshot := bag.Clone()
	results := make([]stageOutcome, len(group))
	start := time.Now()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i, stage := range group {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = o.runStage(ctx, ec, timer, stage, snapshot)
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		default:
			for _, stage := range group {
				ec.record(StateRecord{
					Stage:    stage,
					Duration: time.Since(start),
					Error:    context.Cause(ctx).Error(),
				}, nil)
			}
			err := o.interruption(ctx, ec, group[0])
			span.RecordError(err)
			span.SetStatus(codes.Error, "interrupted")
			return nil, err
		}
	}

	var firstErr error
	for i := range group {
		r := results[i]
		ec.record(r.record, r.meta)
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	if ctx.Err() != nil {
		err := o.interruption(ctx, ec, group[0])
		span.RecordError(err)
		span.SetStatus(codes.Error, "interrupted")
		return nil, err
	}
	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
		return nil, firstErr
	}

	merged := bag
	for i, stage := range group {
		next, err := merged.Merge(results[i].partial)
		if err != nil {
			perr := newError(ErrStageFailure, stage, err)
			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Error())
			return nil, perr
		}
		merged = next
	}
	span.SetStatus(codes.Ok, "")
	return merged, nil
}

// runStage executes one stage with iterative retry and exponential backoff.
//
// Retries draw from the execution-wide budget, and each retry tightens the
// deadline.
func (o *Orchestrator) runStage(ctx context.Context, ec *executionContext, timer *deadlineTimer, stage Stage, snapshot factbag.Bag) stageOutcome {
	exec, ok := o.executors[stage]
	if !ok {
		o.logger.Debug("optional stage skipped", slog.String("stage", string(stage)))
		return stageOutcome{record: StateRecord{Stage: stage, Success: true, Skipped: true}}
	}

	ctx, span := tracer.Start(ctx, "pipeline.stage."+string(stage),
		trace.WithAttributes(attribute.String("pipeline.stage", string(stage))),
	)
	defer span.End()

	start := time.Now()
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.config.RetryInitialInterval
	bo.MaxInterval = o.config.RetryMaxInterval

	partial, err := backoff.Retry(ctx, func() (factbag.Bag, error) {
		attempts++
		out, err := invoke(ctx, exec, stage, snapshot.Clone())
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		n, ok := ec.reserveRetry(o.config.MaxRetries)
		if !ok {
			return nil, backoff.Permanent(err)
		}
		timer.tighten(o.config.ComputeDeadline(ec.complexity, ec.pressure, n))
		o.recordRetry(ctx, stage)
		o.logger.Warn("stage failed, retrying",
			slog.String("execution_id", ec.id),
			slog.String("stage", string(stage)),
			slog.Int("attempt", attempts),
			slog.Int("retries", n),
			slog.String("error", err.Error()),
		)
		return nil, err
	}, backoff.WithBackOff(bo))

	duration := time.Since(start)
	o.recordStage(ctx, stage, duration, err == nil)

	rec := StateRecord{Stage: stage, Duration: duration, Success: err == nil, Attempts: attempts}
	if err != nil {
		rec.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("stage failed",
			slog.String("execution_id", ec.id),
			slog.String("stage", string(stage)),
			slog.Int("attempts", attempts),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return stageOutcome{record: rec, err: newError(ErrStageFailure, stage, err)}
	}

	span.SetStatus(codes.Ok, "")
	return stageOutcome{
		partial: partial,
		record:  rec,
		meta:    &StageMetadata{Keys: partial.Keys(), Attempts: attempts, Duration: duration},
	}
}

// invoke calls an executor, turning a panic into an error.
func invoke(ctx context.Context, exec StageExecutor, stage Stage, bag factbag.Bag) (out factbag.Bag, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("stage %s panicked: %v", stage, r)
		}
	}()
	return exec.Execute(ctx, stage, bag)
}

// interruption classifies a done run context.
func (o *Orchestrator) interruption(ctx context.Context, ec *executionContext, stage Stage) error {
	if deadlineHit(ctx) {
		return newError(ErrTimeout, stage, fmt.Errorf("deadline of %s exceeded", ec.deadline))
	}
	return newError(ErrStageFailure, stage, context.Cause(ctx))
}

// buildResult derives the result from the final fact bag.
func (o *Orchestrator) buildResult(bag factbag.Bag) *Result {
	res := &Result{
		Confidence: factbag.MeanConfidence(bag.Entities()),
		Disclosure: bag.Disclosure(),
		Facts:      bag,
	}
	if report := bag.Report(); report != nil {
		res.Report = factbag.Report{Items: append([]factbag.ReportItem(nil), report.Items...)}
	}
	return res
}

// validateQuality checks the result against the gate.
//
// Only the rigorous tier turns a failed check into an error.
func (o *Orchestrator) validateQuality(ec *executionContext, res *Result) error {
	var issues []string
	if res.Confidence < o.gate.MinConfidence {
		issues = append(issues, fmt.Sprintf("confidence %.2f below minimum %.2f", res.Confidence, o.gate.MinConfidence))
	}
	if elapsed := time.Since(ec.startedAt); elapsed > o.gate.MaxDuration {
		issues = append(issues, fmt.Sprintf("elapsed %s exceeds %s", elapsed.Round(time.Millisecond), o.gate.MaxDuration))
	}
	if len(res.Report.Items) < 1 {
		issues = append(issues, "report has no items")
	}

	res.QualityGatePassed = len(issues) == 0
	res.QualityIssues = issues
	if res.QualityGatePassed {
		return nil
	}

	if o.gate.Tier == TierRigorous {
		return newError(ErrQualityGateFailure, "", errors.New(strings.Join(issues, "; ")))
	}
	o.logger.Warn("quality gate not met",
		slog.String("execution_id", ec.id),
		slog.Any("issues", issues),
	)
	return nil
}

// runFallback runs a draft pipeline once and annotates its result. When it
// fails too, a minimal degraded result is returned.
func (o *Orchestrator) runFallback(ctx context.Context, ec *executionContext, in Input, cause error) *Result {
	ec.setState(StateFallback)
	ec.fallback = true
	o.fallbacks.Add(1)

	o.logger.Warn("primary pipeline failed, running fallback",
		slog.String("execution_id", ec.id),
		slog.String("error", cause.Error()),
	)

	fb, err := New(o.config.fallbackConfig(), o.executors, o.base, WithPressureProbe(o.pressure))
	if err == nil {
		var res *Result
		res, err = fb.Execute(ctx, in)
		if err == nil {
			primary := ec.finish(StateFallback)
			res.Metadata.FallbackUsed = true
			res.Metadata.OriginalError = cause.Error()
			res.Metadata.Retries += primary.Retries
			res.Metadata.Errors = append(primary.Errors, res.Metadata.Errors...)
			res.Metadata.StartedAt = primary.StartedAt
			res.Metadata.Duration = res.Metadata.EndedAt.Sub(primary.StartedAt)
			o.succeeded.Add(1)
			o.recordFallback(ctx, "success")
			return res
		}
	}

	ec.addError(err)
	o.degraded.Add(1)
	o.recordFallback(ctx, "failed")
	o.logger.Error("fallback pipeline failed, returning minimal result",
		slog.String("execution_id", ec.id),
		slog.String("error", err.Error()),
	)
	return minimalResult(ec, cause)
}

// minimalResult is the degraded result used when the fallback fails.
func minimalResult(ec *executionContext, cause error) *Result {
	md := ec.finish(StateDegraded)
	md.FallbackUsed = true
	md.OriginalError = cause.Error()
	md.Degraded = true

	detail := cause.Error()
	return &Result{
		Report: factbag.Report{Items: []factbag.ReportItem{{
			Kind:       factbag.ItemErrorReport,
			Title:      "Analysis could not be completed",
			Detail:     detail,
			Confidence: 0,
		}}},
		Confidence:        0,
		QualityGatePassed: false,
		QualityIssues:     []string{"degraded result"},
		Metadata:          md,
		Facts:             factbag.New(),
	}
}

func groupName(g Group) string {
	names := make([]string, len(g))
	for i, s := range g {
		names[i] = string(s)
	}
	return strings.Join(names, "+")
}
