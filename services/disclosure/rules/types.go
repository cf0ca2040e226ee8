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
	"errors"
	"strings"
	"time"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrRuleEvaluation marks a failure while evaluating a single rule.
	// It is recorded on the rule's outcome and never escalated.
	ErrRuleEvaluation = errors.New("rule evaluation failed")

	// ErrInvalidRule is returned when a rule definition fails validation.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrDuplicateRule is returned when a rule id is registered twice.
	ErrDuplicateRule = errors.New("duplicate rule id")

	// ErrRegistrySealed is returned when registering after engine construction.
	ErrRegistrySealed = errors.New("rule registry is sealed")

	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// Category groups rules and fixes their execution priority.
type Category string

const (
	CategoryDisclosure        Category = "disclosure"
	CategoryTreatmentPattern  Category = "treatment_pattern"
	CategoryProcedureAnalysis Category = "procedure_analysis"
)

// Priority returns the sort priority of the category. Lower runs first.
func (c Category) Priority() int {
	switch c {
	case CategoryDisclosure:
		return 0
	case CategoryTreatmentPattern:
		return 1
	case CategoryProcedureAnalysis:
		return 2
	default:
		return 3
	}
}

// Logic combines a rule's conditions.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// ConditionType tags a condition.
type ConditionType string

const (
	ConditionEntityExists         ConditionType = "entity_exists"
	ConditionEntityCount          ConditionType = "entity_count"
	ConditionConfidenceThreshold  ConditionType = "confidence_threshold"
	ConditionTimelinePattern      ConditionType = "timeline_pattern"
	ConditionTemporalRelationship ConditionType = "temporal_relationship"
)

// ActionType tags an action.
type ActionType string

const (
	ActionFlagDisclosureRisk      ActionType = "flag_disclosure_risk"
	ActionSuggestAdditionalReview ActionType = "suggest_additional_review"
	ActionCalculateRiskScore      ActionType = "calculate_risk_score"
	ActionGenerateAlert           ActionType = "generate_alert"
	ActionRecommendAction         ActionType = "recommend_action"
)

// FindingType is the kind of output an action produces.
//
// Findings re-enter the engine as derived entities whose entity type is the
// finding type, which is how one rule's output can trigger another rule.
type FindingType string

const (
	FindingRiskFlag       FindingType = "risk_flag"
	FindingRiskScore      FindingType = "risk_score"
	FindingRecommendation FindingType = "recommendation"
	FindingAlert          FindingType = "alert"
)

// Status is the result status of one rule evaluation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// -----------------------------------------------------------------------------
// Rule Definition Types
// -----------------------------------------------------------------------------

// Trigger declares which facts make a rule a candidate.
type Trigger struct {
	// EntityType must equal the fact's type, ignoring case.
	EntityType string `yaml:"entity_type" json:"entity_type" validate:"required"`

	// Value is matched as a case-insensitive substring in either direction.
	// Empty matches every value of EntityType.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
}

// Matches reports whether the trigger matches an entity.
func (t Trigger) Matches(e factbag.Entity) bool {
	if !strings.EqualFold(strings.TrimSpace(t.EntityType), strings.TrimSpace(e.Type)) {
		return false
	}
	return valueMatches(t.Value, e.Value)
}

// valueMatches is the case-insensitive, either-direction substring match.
func valueMatches(want, got string) bool {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return true
	}
	got = strings.ToLower(strings.TrimSpace(got))
	if got == "" {
		return false
	}
	return strings.Contains(got, want) || strings.Contains(want, got)
}

// Condition is one declarative check over the facts.
type Condition struct {
	Type ConditionType `yaml:"type" json:"type" validate:"required,oneof=entity_exists entity_count confidence_threshold timeline_pattern temporal_relationship"`

	// EntityType filters entities by type. Used by all entity conditions.
	EntityType string `yaml:"entity_type,omitempty" json:"entity_type,omitempty"`

	// Value filters entities by value (substring match). Optional.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`

	// MinConfidence is the per-entity floor for entity_exists.
	MinConfidence float64 `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty" validate:"gte=0,lte=1"`

	// Operator compares the entity count: gt, gte, lt, lte, eq, ne.
	Operator string `yaml:"operator,omitempty" json:"operator,omitempty" validate:"omitempty,oneof=gt gte lt lte eq ne"`

	// Count is the right-hand side for entity_count.
	Count int `yaml:"count,omitempty" json:"count,omitempty" validate:"gte=0"`

	// Threshold is the mean-confidence floor for confidence_threshold.
	Threshold float64 `yaml:"threshold,omitempty" json:"threshold,omitempty" validate:"gte=0,lte=1"`

	// Pattern and Window parameterize the timeline conditions.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Window  string `yaml:"window,omitempty" json:"window,omitempty"`
}

// Action is executed when a rule's conditions are satisfied.
type Action struct {
	Type ActionType `yaml:"type" json:"type" validate:"required,oneof=flag_disclosure_risk suggest_additional_review calculate_risk_score generate_alert recommend_action"`

	// Label names the finding. Defaults to the rule name.
	Label string `yaml:"label,omitempty" json:"label,omitempty"`

	Message  string `yaml:"message,omitempty" json:"message,omitempty"`
	Severity string `yaml:"severity,omitempty" json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`

	// Risk score parameters: BaseScore + EntityWeight*entities + TimelineWeight*events.
	BaseScore      float64 `yaml:"base_score,omitempty" json:"base_score,omitempty" validate:"gte=0"`
	EntityWeight   float64 `yaml:"entity_weight,omitempty" json:"entity_weight,omitempty" validate:"gte=0"`
	TimelineWeight float64 `yaml:"timeline_weight,omitempty" json:"timeline_weight,omitempty" validate:"gte=0"`

	// Confidence is the action's reported confidence. Nil means "not reported".
	Confidence *float64 `yaml:"confidence,omitempty" json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Rule is a declarative condition/action rule.
//
// Rules are immutable once registered.
type Rule struct {
	ID       string   `yaml:"id" json:"id" validate:"required"`
	Name     string   `yaml:"name" json:"name" validate:"required"`
	Category Category `yaml:"category" json:"category" validate:"required,oneof=disclosure treatment_pattern procedure_analysis"`
	Version  string   `yaml:"version" json:"version"`

	Triggers   []Trigger   `yaml:"triggers" json:"triggers" validate:"required,min=1,dive"`
	Logic      Logic       `yaml:"logic" json:"logic" validate:"omitempty,oneof=AND OR"`
	Conditions []Condition `yaml:"conditions" json:"conditions" validate:"dive"`
	Actions    []Action    `yaml:"actions" json:"actions" validate:"required,min=1,dive"`

	// DependsOn lists rule ids that must be evaluated in an earlier level.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// clone returns a deep copy so registered rules cannot be mutated by callers.
func (r Rule) clone() Rule {
	out := r
	out.Triggers = append([]Trigger(nil), r.Triggers...)
	out.Conditions = append([]Condition(nil), r.Conditions...)
	out.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		out.Actions[i] = a
		if a.Confidence != nil {
			c := *a.Confidence
			out.Actions[i].Confidence = &c
		}
	}
	out.DependsOn = append([]string(nil), r.DependsOn...)
	return out
}

// -----------------------------------------------------------------------------
// Result Types
// -----------------------------------------------------------------------------

// Facts is the slice of the fact bag a rule is evaluated against.
type Facts struct {
	Timeline []factbag.TimelineEvent
	Entities []factbag.Entity
}

// ConditionResult explains one condition evaluation.
type ConditionResult struct {
	Type        ConditionType    `json:"type"`
	Satisfied   bool             `json:"satisfied"`
	Explanation string           `json:"explanation"`
	Matched     []factbag.Entity `json:"matched,omitempty"`
}

// Finding is the typed output of an action.
type Finding struct {
	RuleID   string      `json:"rule_id"`
	Type     FindingType `json:"type"`
	Label    string      `json:"label"`
	Message  string      `json:"message,omitempty"`
	Severity string      `json:"severity,omitempty"`
	Score    float64     `json:"score,omitempty"`
}

// ActionResult is the result of one executed action.
type ActionResult struct {
	Type       ActionType `json:"type"`
	Finding    Finding    `json:"finding"`
	Confidence float64    `json:"confidence"`
}

// Outcome is the result of evaluating one rule.
type Outcome struct {
	RuleID     string            `json:"rule_id"`
	RuleName   string            `json:"rule_name"`
	Category   Category          `json:"category"`
	Status     Status            `json:"status"`
	Conditions []ConditionResult `json:"conditions"`
	Actions    []ActionResult    `json:"actions,omitempty"`
	Confidence float64           `json:"confidence"`
	Duration   time.Duration     `json:"duration"`
	Error      string            `json:"error,omitempty"`

	// ChainDepth is 0 for the first pass and n for the n-th chaining pass.
	ChainDepth int `json:"chain_depth"`

	cacheHit bool
}

// Summary aggregates one ExecuteRules call.
type Summary struct {
	Candidates          int           `json:"candidates"`
	Evaluated           int           `json:"evaluated"`
	Succeeded           int           `json:"succeeded"`
	Skipped             int           `json:"skipped"`
	Failed              int           `json:"failed"`
	CacheHits           int           `json:"cache_hits"`
	ChainPasses         int           `json:"chain_passes"`
	AggregateConfidence float64       `json:"aggregate_confidence"`
	Duration            time.Duration `json:"duration"`
	RegistryVersion     string        `json:"registry_version"`
}

// ExecutionResult is returned by Engine.ExecuteRules.
type ExecutionResult struct {
	Outcomes        []Outcome `json:"outcomes"`
	Summary         Summary   `json:"summary"`
	Findings        []Finding `json:"findings"`
	Recommendations []string  `json:"recommendations"`
}

// FromBag returns the rule results stored in a fact bag.
func FromBag(b factbag.Bag) (*ExecutionResult, bool) {
	return factbag.Get[*ExecutionResult](b, factbag.KeyRuleResults)
}
