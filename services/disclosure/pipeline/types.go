// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline sequences disclosure analysis stages under a quality gate.
//
// The Orchestrator validates input, plans stage groups from the selected
// tier, races execution against an adaptive deadline, retries failing
// stages with backoff, and degrades to a draft fallback run or a minimal
// result when the primary run fails.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
)

// -----------------------------------------------------------------------------
// Stages
// -----------------------------------------------------------------------------

// Stage names one unit of pipeline work.
type Stage string

const (
	StageIngest     Stage = "INGEST"
	StageAnchor     Stage = "ANCHOR"
	StageNormalize  Stage = "NORMALIZE"
	StageTimeline   Stage = "TIMELINE"
	StageRules      Stage = "RULES"
	StageDisclosure Stage = "DISCLOSURE"
	StageScore      Stage = "SCORE"
	StageEvidence   Stage = "EVIDENCE"
	StageSynthesize Stage = "SYNTHESIZE"
)

// AllStages lists every stage in documented order.
var AllStages = []Stage{
	StageIngest, StageAnchor, StageNormalize,
	StageTimeline, StageRules, StageDisclosure,
	StageScore, StageEvidence, StageSynthesize,
}

// coreStages must always have an executor.
var coreStages = map[Stage]bool{
	StageIngest:     true,
	StageAnchor:     true,
	StageNormalize:  true,
	StageSynthesize: true,
}

// StageExecutor runs one stage against a snapshot of the fact bag.
//
// Executors return a partial bag that is merged on top of the running bag.
// They must be safe to retry, return empty results for "no data", and stop
// promptly when ctx is done.
type StageExecutor interface {
	Execute(ctx context.Context, stage Stage, bag factbag.Bag) (factbag.Bag, error)
}

// StageFunc adapts a function to StageExecutor.
type StageFunc func(ctx context.Context, stage Stage, bag factbag.Bag) (factbag.Bag, error)

// Execute calls f.
func (f StageFunc) Execute(ctx context.Context, stage Stage, bag factbag.Bag) (factbag.Bag, error) {
	return f(ctx, stage, bag)
}

// -----------------------------------------------------------------------------
// Quality gates
// -----------------------------------------------------------------------------

// Tier names a quality-gate profile.
type Tier string

const (
	TierDraft    Tier = "draft"
	TierStandard Tier = "standard"
	TierRigorous Tier = "rigorous"
)

// QualityGate bounds confidence, time and the stages a run must execute.
//
// Gates are values; GateFor returns a fresh copy each call.
type QualityGate struct {
	Tier              Tier          `json:"tier"`
	MinConfidence     float64       `json:"min_confidence"`
	MaxDuration       time.Duration `json:"max_duration"`
	RequiredStages    []Stage       `json:"required_stages"`
	AllowSkipOptional bool          `json:"allow_skip_optional"`
}

// Requires reports whether the gate requires stage.
func (g QualityGate) Requires(stage Stage) bool {
	for _, s := range g.RequiredStages {
		if s == stage {
			return true
		}
	}
	return false
}

// GateFor returns the quality gate for a tier.
func GateFor(tier Tier) (QualityGate, error) {
	switch tier {
	case TierDraft:
		return QualityGate{
			Tier:              TierDraft,
			MinConfidence:     0.5,
			MaxDuration:       10 * time.Second,
			RequiredStages:    []Stage{StageIngest, StageAnchor, StageNormalize, StageScore, StageSynthesize},
			AllowSkipOptional: true,
		}, nil
	case TierStandard:
		return QualityGate{
			Tier:          TierStandard,
			MinConfidence: 0.7,
			MaxDuration:   30 * time.Second,
			RequiredStages: []Stage{
				StageIngest, StageAnchor, StageNormalize,
				StageTimeline, StageRules,
				StageScore, StageSynthesize,
			},
			AllowSkipOptional: true,
		}, nil
	case TierRigorous:
		return QualityGate{
			Tier:              TierRigorous,
			MinConfidence:     0.85,
			MaxDuration:       60 * time.Second,
			RequiredStages:    append([]Stage(nil), AllStages...),
			AllowSkipOptional: false,
		}, nil
	default:
		return QualityGate{}, fmt.Errorf("unknown quality tier %q", tier)
	}
}

// -----------------------------------------------------------------------------
// Input and result
// -----------------------------------------------------------------------------

// Input is one document to analyze.
type Input struct {
	// Text is raw free text. Optional when Segments is set.
	Text string `json:"text,omitempty"`

	// Segments is pre-segmented input. Optional when Text is set.
	Segments []string `json:"segments,omitempty"`

	// Entities are pre-extracted facts. Optional.
	Entities []factbag.Entity `json:"entities,omitempty" validate:"omitempty,dive"`
}

// StateRecord is one entry of the state history.
type StateRecord struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Attempts int           `json:"attempts"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// StageMetadata is the intermediate metadata recorded per stage.
type StageMetadata struct {
	Keys     []string      `json:"keys"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// ExecutionMetadata describes how a result was produced.
type ExecutionMetadata struct {
	ExecutionID     string                  `json:"execution_id"`
	Tier            Tier                    `json:"tier"`
	State           string                  `json:"state"`
	StartedAt       time.Time               `json:"started_at"`
	EndedAt         time.Time               `json:"ended_at"`
	Duration        time.Duration           `json:"duration"`
	Deadline        time.Duration           `json:"deadline"`
	ComplexityScore float64                 `json:"complexity_score"`
	Retries         int                     `json:"retries"`
	Errors          []string                `json:"errors,omitempty"`
	StateHistory    []StateRecord           `json:"state_history"`
	Stages          map[Stage]StageMetadata `json:"stages,omitempty"`
	CacheKey        string                  `json:"cache_key,omitempty"`
	CacheHit        bool                    `json:"cache_hit"`
	FallbackUsed    bool                    `json:"fallback_used"`
	OriginalError   string                  `json:"original_error,omitempty"`
	Degraded        bool                    `json:"degraded,omitempty"`
}

// Result is the outcome of one Execute call.
type Result struct {
	Report            factbag.Report              `json:"report"`
	Confidence        float64                     `json:"confidence"`
	QualityGatePassed bool                        `json:"quality_gate_passed"`
	QualityIssues     []string                    `json:"quality_issues,omitempty"`
	Disclosure        *factbag.DisclosureAnalysis `json:"disclosure,omitempty"`
	Metadata          ExecutionMetadata           `json:"execution_metadata"`

	// Facts is the final fact bag. Not serialized or cached.
	Facts factbag.Bag `json:"-"`
}

// Execution states.
const (
	StateIdle       = "idle"
	StateValidating = "validating"
	StateRunning    = "running"
	StateChecking   = "checking_quality"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateFallback   = "fallback"
	StateDegraded   = "degraded"
)
