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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/vnexus/disclosure/services/disclosure/dag"
	"github.com/vnexus/disclosure/services/disclosure/factbag"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// EngineConfig configures an Engine.
type EngineConfig struct {
	// MaxConcurrency bounds rules evaluated at once inside a plan level.
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=0"`

	// MaxChainDepth bounds chaining passes after the first pass. 0 disables chaining.
	MaxChainDepth int `yaml:"max_chain_depth" validate:"gte=0,lte=16"`

	// EnableCache turns the outcome cache on.
	EnableCache bool `yaml:"enable_cache"`

	// CacheEntries bounds the outcome cache.
	CacheEntries int `yaml:"cache_entries" validate:"gte=0"`
}

// DefaultEngineConfig returns the standard engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrency: 8,
		MaxChainDepth:  3,
		EnableCache:    true,
		CacheEntries:   DefaultCacheEntries,
	}
}

// ApplyDefaults fills zero sizes. MaxChainDepth is left alone since 0 is meaningful.
func (c *EngineConfig) ApplyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.CacheEntries <= 0 {
		c.CacheEntries = DefaultCacheEntries
	}
}

// Validate checks the configuration.
func (c *EngineConfig) Validate() error {
	if c.MaxChainDepth < 0 {
		return fmt.Errorf("max chain depth must be >= 0, got %d", c.MaxChainDepth)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must be >= 0, got %d", c.MaxConcurrency)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// PatternSource proposes rule ids from timeline patterns.
type PatternSource interface {
	CandidateRules(timeline []factbag.TimelineEvent) []string
}

type noPatterns struct{}

func (noPatterns) CandidateRules([]factbag.TimelineEvent) []string { return nil }

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithActionHandler replaces or adds the handler for one action type.
func WithActionHandler(t ActionType, h ActionHandler) EngineOption {
	return func(e *Engine) {
		e.handlers[t] = h
	}
}

// WithPatternSource sets the timeline-pattern candidate source.
func WithPatternSource(p PatternSource) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.patterns = p
		}
	}
}

// WithOutcomeCache shares an outcome cache between engines.
func WithOutcomeCache(c *OutcomeCache) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithStats shares a statistics structure between engines.
func WithStats(s *Stats) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.stats = s
		}
	}
}

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// Engine evaluates registered rules against a timeline and entity set.
//
// Description:
//
//	ExecuteRules selects candidate rules by trigger, plans them into levels
//	by declared dependencies, and evaluates each level concurrently. Findings
//	become derived entities which can trigger further rules in bounded
//	chaining passes. A single rule's failure never fails the call.
//
// Thread Safety:
//
//	Safe for concurrent use. The outcome cache and statistics are the only
//	state shared between calls.
type Engine struct {
	registry *Registry
	config   EngineConfig
	logger   *slog.Logger
	handlers map[ActionType]ActionHandler
	patterns PatternSource
	cache    *OutcomeCache
	stats    *Stats
}

// EngineStatus reports the engine's registry and counters.
type EngineStatus struct {
	RegistryVersion string           `json:"registry_version"`
	RuleCount       int              `json:"rule_count"`
	Categories      map[Category]int `json:"categories"`
	CacheEnabled    bool             `json:"cache_enabled"`
	CacheEntries    int              `json:"cache_entries"`
	CacheHitRate    float64          `json:"cache_hit_rate"`
	Stats           StatsSnapshot    `json:"stats"`
}

// NewEngine creates an engine over a registry and seals the registry.
//
// Inputs:
//
//	reg - The rule registry. Must not be nil.
//	cfg - Engine configuration. Zero sizes get defaults.
//	logger - Logger for engine events. If nil, uses slog.Default().
//	opts - Optional collaborators.
//
// Outputs:
//
//	*Engine - The engine.
//	error - Non-nil if reg is nil or cfg is invalid.
func NewEngine(reg *Registry, cfg EngineConfig, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("rule registry must not be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg.Seal()

	e := &Engine{
		registry: reg,
		config:   cfg,
		logger:   logger.With(slog.String("component", "rule_engine")),
		handlers: defaultActionHandlers(),
		patterns: noPatterns{},
		stats:    &Stats{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil && cfg.EnableCache {
		e.cache = NewOutcomeCache(cfg.CacheEntries)
	}
	if !cfg.EnableCache {
		e.cache = nil
	}

	e.logger.Info("rule engine ready",
		slog.Int("rules", reg.Len()),
		slog.String("registry_version", reg.Version()),
		slog.Int("max_chain_depth", cfg.MaxChainDepth),
	)
	return e, nil
}

// Registry returns the engine's sealed registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Stats returns the engine's statistics.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Cache returns the outcome cache, or nil when caching is disabled.
func (e *Engine) Cache() *OutcomeCache {
	return e.cache
}

// Status returns a snapshot of the engine's state.
func (e *Engine) Status() EngineStatus {
	st := EngineStatus{
		RegistryVersion: e.registry.Version(),
		RuleCount:       e.registry.Len(),
		Categories:      e.registry.CategoryCounts(),
		CacheEnabled:    e.cache != nil,
		Stats:           e.stats.Snapshot(),
	}
	if e.cache != nil {
		st.CacheEntries = e.cache.Len()
		st.CacheHitRate = e.cache.HitRate()
	}
	return st
}

// ExecuteRules evaluates every triggered rule against the facts.
//
// Description:
//
//	Candidates are rules triggered by diagnosis, procedure or medication
//	entities, plus any proposed by the pattern source, ordered by category
//	priority. After the first pass, findings are turned into derived
//	entities and rules they newly trigger run in further passes, up to
//	MaxChainDepth passes.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	timeline - Timeline events. May be empty.
//	entities - Normalized entities. May be empty.
//
// Outputs:
//
//	*ExecutionResult - Outcomes in plan order, summary, findings.
//	error - ErrNilContext, or the context's cause if canceled. Rule failures
//	        are recorded on outcomes and never returned here.
func (e *Engine) ExecuteRules(ctx context.Context, timeline []factbag.TimelineEvent, entities []factbag.Entity) (*ExecutionResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	start := time.Now()
	version := e.registry.Version()

	ctx, span := startExecuteSpan(ctx, len(entities), len(timeline), version)
	defer span.End()

	facts := Facts{Timeline: timeline, Entities: entities}
	seen := make(map[string]bool)

	candidates := e.initialCandidates(timeline, entities)
	for _, r := range candidates {
		seen[r.ID] = true
	}

	summary := Summary{RegistryVersion: version, Candidates: len(candidates)}
	outcomes := e.runPass(ctx, candidates, facts, version, 0)

	derived := derivedEntities(outcomes)
	for depth := 1; depth <= e.config.MaxChainDepth && len(derived) > 0; depth++ {
		if ctx.Err() != nil {
			break
		}

		var next []*Rule
		for _, r := range e.registry.triggered(derived) {
			if !seen[r.ID] {
				seen[r.ID] = true
				next = append(next, r)
			}
		}
		if len(next) == 0 {
			break
		}
		sortByPriority(next)

		facts.Entities = append(append([]factbag.Entity(nil), facts.Entities...), derived...)
		e.logger.Debug("chaining pass",
			slog.Int("depth", depth),
			slog.Int("rules", len(next)),
			slog.Int("derived_entities", len(derived)),
		)

		passOutcomes := e.runPass(ctx, next, facts, version, depth)
		outcomes = append(outcomes, passOutcomes...)
		summary.Candidates += len(next)
		summary.ChainPasses++
		derived = derivedEntities(passOutcomes)
	}

	if err := ctx.Err(); err != nil {
		cause := context.Cause(ctx)
		span.RecordError(cause)
		span.SetStatus(codes.Error, "rule execution canceled")
		return nil, fmt.Errorf("rule execution canceled: %w", cause)
	}

	result := buildResult(outcomes, summary)
	result.Summary.Duration = time.Since(start)

	e.stats.record(result.Summary)
	recordSummaryMetrics(result.Outcomes, result.Summary)
	setExecuteSpanResult(span, result.Summary)

	e.logger.Debug("rules executed",
		slog.Int("candidates", result.Summary.Candidates),
		slog.Int("succeeded", result.Summary.Succeeded),
		slog.Int("skipped", result.Summary.Skipped),
		slog.Int("failed", result.Summary.Failed),
		slog.Duration("duration", result.Summary.Duration),
	)
	return result, nil
}

// initialCandidates returns the first-pass candidates in priority order.
func (e *Engine) initialCandidates(timeline []factbag.TimelineEvent, entities []factbag.Entity) []*Rule {
	var triggering []factbag.Entity
	for _, ent := range entities {
		switch strings.ToLower(strings.TrimSpace(ent.Type)) {
		case factbag.EntityDiagnosis, factbag.EntityProcedure, factbag.EntityMedication:
			triggering = append(triggering, ent)
		}
	}

	candidates := e.registry.triggered(triggering)
	seen := make(map[string]bool, len(candidates))
	for _, r := range candidates {
		seen[r.ID] = true
	}
	for _, id := range e.patterns.CandidateRules(timeline) {
		if seen[id] {
			continue
		}
		if r, ok := e.registry.lookup(id); ok {
			seen[id] = true
			candidates = append(candidates, r)
		}
	}

	sortByPriority(candidates)
	return candidates
}

// ruleNode adapts a rule to dag.Node.
type ruleNode struct {
	rule *Rule
	deps []string
}

func (n *ruleNode) Name() string           { return n.rule.ID }
func (n *ruleNode) Dependencies() []string { return n.deps }

// plan partitions candidates into levels by DependsOn.
//
// Dependencies outside the candidate set are ignored. A cyclic declaration
// falls back to a single level.
func (e *Engine) plan(candidates []*Rule) [][]*Rule {
	if len(candidates) == 0 {
		return nil
	}

	inSet := make(map[string]bool, len(candidates))
	for _, r := range candidates {
		inSet[r.ID] = true
	}

	b := dag.NewBuilder("rules")
	for _, r := range candidates {
		var deps []string
		for _, d := range r.DependsOn {
			if inSet[d] {
				deps = append(deps, d)
			}
		}
		b.AddNode(&ruleNode{rule: r, deps: deps})
	}

	g, err := b.Build()
	if err != nil {
		e.logger.Warn("rule plan invalid, evaluating as one level", slog.String("error", err.Error()))
		return [][]*Rule{candidates}
	}

	levels := g.Levels()
	out := make([][]*Rule, 0, len(levels))
	for _, level := range levels {
		rs := make([]*Rule, 0, len(level))
		for _, n := range level {
			rs = append(rs, n.(*ruleNode).rule)
		}
		out = append(out, rs)
	}
	return out
}

// runPass evaluates candidates level by level and returns outcomes in plan order.
func (e *Engine) runPass(ctx context.Context, candidates []*Rule, facts Facts, version string, depth int) []Outcome {
	var outcomes []Outcome
	for _, level := range e.plan(candidates) {
		results := make([]Outcome, len(level))

		g := new(errgroup.Group)
		g.SetLimit(e.config.MaxConcurrency)
		for i, rule := range level {
			g.Go(func() error {
				results[i] = e.evaluateCached(ctx, rule, facts, version, depth)
				return nil
			})
		}
		_ = g.Wait()

		outcomes = append(outcomes, results...)
	}
	return outcomes
}

// evaluateCached consults the outcome cache before evaluating a rule.
func (e *Engine) evaluateCached(ctx context.Context, rule *Rule, facts Facts, version string, depth int) Outcome {
	if e.cache == nil {
		return e.evaluate(ctx, rule, facts, depth)
	}

	key := CacheKey(rule.ID, facts, version)
	o, hit := e.cache.GetOrCompute(key, func() Outcome {
		return e.evaluate(ctx, rule, facts, depth)
	})
	if hit {
		o.cacheHit = true
	}
	return o
}

// evaluate runs one rule. Errors and panics become a failed outcome.
func (e *Engine) evaluate(ctx context.Context, rule *Rule, facts Facts, depth int) (out Outcome) {
	start := time.Now()
	out = Outcome{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Category:   rule.Category,
		ChainDepth: depth,
	}

	defer func() {
		if r := recover(); r != nil {
			out = failedOutcome(out, fmt.Errorf("%w: panic: %v", ErrRuleEvaluation, r))
		}
		out.Duration = time.Since(start)
		if out.Status == StatusFailed {
			e.logger.Warn("rule failed",
				slog.String("rule_id", rule.ID),
				slog.String("error", out.Error),
			)
		}
	}()

	if err := ctx.Err(); err != nil {
		return failedOutcome(out, fmt.Errorf("%w: %v", ErrRuleEvaluation, context.Cause(ctx)))
	}

	satisfied, results, err := evaluateConditions(rule, facts)
	out.Conditions = results
	if err != nil {
		return failedOutcome(out, fmt.Errorf("%w: %s: %v", ErrRuleEvaluation, rule.ID, err))
	}
	if !satisfied {
		out.Status = StatusSkipped
		return out
	}

	var sum float64
	for _, action := range rule.Actions {
		handler, ok := e.handlers[action.Type]
		if !ok {
			return failedOutcome(out, fmt.Errorf("%w: %s: no handler for action %q", ErrRuleEvaluation, rule.ID, action.Type))
		}
		finding, conf, err := handler(ctx, rule, action, facts)
		if err != nil {
			return failedOutcome(out, fmt.Errorf("%w: %s: action %s: %v", ErrRuleEvaluation, rule.ID, action.Type, err))
		}
		c := DefaultActionConfidence
		if conf != nil {
			c = factbag.ClampUnit(*conf)
		}
		out.Actions = append(out.Actions, ActionResult{Type: action.Type, Finding: finding, Confidence: c})
		sum += c
	}

	out.Status = StatusSuccess
	out.Confidence = sum / float64(len(rule.Actions))
	return out
}

func failedOutcome(o Outcome, err error) Outcome {
	o.Status = StatusFailed
	o.Confidence = 0
	o.Actions = nil
	o.Error = err.Error()
	return o
}

// evaluateConditions applies AND/OR logic with short-circuit evaluation.
//
// A rule without conditions is satisfied.
func evaluateConditions(rule *Rule, facts Facts) (bool, []ConditionResult, error) {
	if len(rule.Conditions) == 0 {
		return true, nil, nil
	}

	results := make([]ConditionResult, 0, len(rule.Conditions))
	for _, cond := range rule.Conditions {
		res, err := evaluateCondition(cond, facts)
		results = append(results, res)
		if err != nil {
			return false, results, err
		}
		if rule.Logic == LogicOr && res.Satisfied {
			return true, results, nil
		}
		if rule.Logic != LogicOr && !res.Satisfied {
			return false, results, nil
		}
	}
	return rule.Logic != LogicOr, results, nil
}

// derivedEntities turns successful findings into entities for chaining.
func derivedEntities(outcomes []Outcome) []factbag.Entity {
	var out []factbag.Entity
	for _, o := range outcomes {
		if o.Status != StatusSuccess {
			continue
		}
		for _, a := range o.Actions {
			out = append(out, factbag.Entity{
				Type:       string(a.Finding.Type),
				Value:      a.Finding.Label,
				Confidence: a.Confidence,
			})
		}
	}
	return out
}

// buildResult assembles findings and the summary from outcomes.
func buildResult(outcomes []Outcome, summary Summary) *ExecutionResult {
	res := &ExecutionResult{
		Outcomes:        outcomes,
		Findings:        []Finding{},
		Recommendations: []string{},
	}
	if res.Outcomes == nil {
		res.Outcomes = []Outcome{}
	}

	var confSum float64
	for i := range res.Outcomes {
		o := &res.Outcomes[i]
		if o.cacheHit {
			summary.CacheHits++
			o.cacheHit = false
		}
		switch o.Status {
		case StatusSuccess:
			summary.Succeeded++
			confSum += o.Confidence
			for _, a := range o.Actions {
				res.Findings = append(res.Findings, a.Finding)
				if a.Finding.Type == FindingRecommendation && a.Finding.Message != "" {
					res.Recommendations = append(res.Recommendations, a.Finding.Message)
				}
			}
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
		}
	}
	summary.Evaluated = len(res.Outcomes)
	if summary.Succeeded > 0 {
		summary.AggregateConfidence = confSum / float64(summary.Succeeded)
	}
	res.Summary = summary
	return res
}
