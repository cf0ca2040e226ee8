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
	"fmt"
	"strings"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
)

// evaluateCondition evaluates one condition against the facts.
//
// Unknown condition types are an evaluation error; the two timeline stubs
// always report unsatisfied.
func evaluateCondition(cond Condition, facts Facts) (ConditionResult, error) {
	switch cond.Type {
	case ConditionEntityExists:
		return entityExists(cond, facts.Entities), nil
	case ConditionEntityCount:
		return entityCount(cond, facts.Entities)
	case ConditionConfidenceThreshold:
		return confidenceThreshold(cond, facts.Entities), nil
	case ConditionTimelinePattern, ConditionTemporalRelationship:
		return ConditionResult{
			Type:        cond.Type,
			Satisfied:   false,
			Explanation: fmt.Sprintf("%s conditions are not evaluated", cond.Type),
		}, nil
	default:
		return ConditionResult{Type: cond.Type}, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}

// filterEntities returns entities matching the condition's type and value.
func filterEntities(cond Condition, entities []factbag.Entity) []factbag.Entity {
	var out []factbag.Entity
	for _, e := range entities {
		if cond.EntityType != "" && !strings.EqualFold(cond.EntityType, e.Type) {
			continue
		}
		if !valueMatches(cond.Value, e.Value) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func describe(cond Condition) string {
	kind := cond.EntityType
	if kind == "" {
		kind = "entity"
	}
	if cond.Value != "" {
		return fmt.Sprintf("%s %q", kind, cond.Value)
	}
	return kind
}

func entityExists(cond Condition, entities []factbag.Entity) ConditionResult {
	var matched []factbag.Entity
	for _, e := range filterEntities(cond, entities) {
		if e.Confidence >= cond.MinConfidence {
			matched = append(matched, e)
		}
	}

	res := ConditionResult{
		Type:      ConditionEntityExists,
		Satisfied: len(matched) > 0,
		Matched:   matched,
	}
	if res.Satisfied {
		res.Explanation = fmt.Sprintf("%d %s fact(s) with confidence >= %.2f", len(matched), describe(cond), cond.MinConfidence)
	} else {
		res.Explanation = fmt.Sprintf("no %s fact with confidence >= %.2f", describe(cond), cond.MinConfidence)
	}
	return res
}

func entityCount(cond Condition, entities []factbag.Entity) (ConditionResult, error) {
	matched := filterEntities(cond, entities)
	n := len(matched)

	op := cond.Operator
	if op == "" {
		op = "gte"
	}

	var ok bool
	switch op {
	case "gt":
		ok = n > cond.Count
	case "gte":
		ok = n >= cond.Count
	case "lt":
		ok = n < cond.Count
	case "lte":
		ok = n <= cond.Count
	case "eq":
		ok = n == cond.Count
	case "ne":
		ok = n != cond.Count
	default:
		return ConditionResult{Type: ConditionEntityCount}, fmt.Errorf("unknown operator %q", cond.Operator)
	}

	return ConditionResult{
		Type:        ConditionEntityCount,
		Satisfied:   ok,
		Explanation: fmt.Sprintf("%s count %d %s %d", describe(cond), n, op, cond.Count),
		Matched:     matched,
	}, nil
}

func confidenceThreshold(cond Condition, entities []factbag.Entity) ConditionResult {
	matched := filterEntities(cond, entities)
	if len(matched) == 0 {
		return ConditionResult{
			Type:        ConditionConfidenceThreshold,
			Satisfied:   false,
			Explanation: fmt.Sprintf("no %s facts to score", describe(cond)),
		}
	}

	mean := factbag.MeanConfidence(matched)
	return ConditionResult{
		Type:        ConditionConfidenceThreshold,
		Satisfied:   mean >= cond.Threshold,
		Explanation: fmt.Sprintf("%s mean confidence %.2f vs threshold %.2f", describe(cond), mean, cond.Threshold),
		Matched:     matched,
	}
}
