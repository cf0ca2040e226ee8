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
	"fmt"
	"math"
)

// DefaultActionConfidence is used when an action reports no confidence.
const DefaultActionConfidence = 0.8

// ActionHandler executes one action type.
//
// A handler returns the finding and the confidence it reports, or nil when
// it has no opinion. Returning an error fails the whole rule.
type ActionHandler func(ctx context.Context, rule *Rule, action Action, facts Facts) (Finding, *float64, error)

// defaultActionHandlers returns the built-in handlers keyed by action type.
func defaultActionHandlers() map[ActionType]ActionHandler {
	return map[ActionType]ActionHandler{
		ActionFlagDisclosureRisk:      flagDisclosureRisk,
		ActionSuggestAdditionalReview: suggestAdditionalReview,
		ActionCalculateRiskScore:      calculateRiskScore,
		ActionGenerateAlert:           generateAlert,
		ActionRecommendAction:         recommendAction,
	}
}

func baseFinding(rule *Rule, action Action, kind FindingType) Finding {
	label := action.Label
	if label == "" {
		label = rule.Name
	}
	return Finding{
		RuleID:   rule.ID,
		Type:     kind,
		Label:    label,
		Message:  action.Message,
		Severity: action.Severity,
	}
}

func flagDisclosureRisk(_ context.Context, rule *Rule, action Action, _ Facts) (Finding, *float64, error) {
	f := baseFinding(rule, action, FindingRiskFlag)
	if f.Severity == "" {
		f.Severity = "medium"
	}
	if f.Message == "" {
		f.Message = fmt.Sprintf("%s requires disclosure", rule.Name)
	}
	return f, action.Confidence, nil
}

func suggestAdditionalReview(_ context.Context, rule *Rule, action Action, _ Facts) (Finding, *float64, error) {
	f := baseFinding(rule, action, FindingRecommendation)
	if f.Message == "" {
		f.Message = fmt.Sprintf("Additional review suggested by %s", rule.Name)
	}
	return f, action.Confidence, nil
}

// calculateRiskScore computes base + entityWeight*entities + timelineWeight*events,
// capped to [0, 1].
func calculateRiskScore(_ context.Context, rule *Rule, action Action, facts Facts) (Finding, *float64, error) {
	score := action.BaseScore +
		action.EntityWeight*float64(len(facts.Entities)) +
		action.TimelineWeight*float64(len(facts.Timeline))
	if math.IsNaN(score) || score < 0 {
		score = 0
	}
	score = math.Min(score, 1.0)

	f := baseFinding(rule, action, FindingRiskScore)
	f.Score = score
	if f.Message == "" {
		f.Message = fmt.Sprintf("%s risk score %.2f", f.Label, score)
	}
	return f, action.Confidence, nil
}

func generateAlert(_ context.Context, rule *Rule, action Action, _ Facts) (Finding, *float64, error) {
	f := baseFinding(rule, action, FindingAlert)
	if f.Severity == "" {
		f.Severity = "high"
	}
	if f.Message == "" {
		f.Message = fmt.Sprintf("Alert raised by %s", rule.Name)
	}
	return f, action.Confidence, nil
}

func recommendAction(_ context.Context, rule *Rule, action Action, _ Facts) (Finding, *float64, error) {
	f := baseFinding(rule, action, FindingRecommendation)
	if f.Message == "" {
		f.Message = fmt.Sprintf("Follow-up recommended by %s", rule.Name)
	}
	return f, action.Confidence, nil
}
