// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stages

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/rules"
)

// Disclosure decides whether the facts require disclosure.
//
// Description:
//
//	With rule results in the snapshot, every risk flag and alert becomes a
//	disclosure item. Without them, each diagnosis entity is listed instead
//	and RuleResultsObserved is false.
//
// Outputs:
//
//	"disclosureAnalysis" (*factbag.DisclosureAnalysis)
type Disclosure struct{}

// Execute implements pipeline.StageExecutor.
func (Disclosure) Execute(ctx context.Context, _ pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}

	analysis := &factbag.DisclosureAnalysis{Items: []factbag.DisclosureItem{}}
	if res, ok := rules.FromBag(bag); ok && res != nil {
		analysis.RuleResultsObserved = true
		for _, f := range res.Findings {
			if f.Type != rules.FindingRiskFlag && f.Type != rules.FindingAlert {
				continue
			}
			msg := f.Message
			if msg == "" {
				msg = f.Label
			}
			analysis.Items = append(analysis.Items, factbag.DisclosureItem{
				RuleID:   f.RuleID,
				Message:  msg,
				Severity: f.Severity,
			})
		}
	} else {
		for _, e := range bag.Entities() {
			if e.Type != factbag.EntityDiagnosis {
				continue
			}
			analysis.Items = append(analysis.Items, factbag.DisclosureItem{
				Message:  "diagnosis: " + e.Value,
				Severity: "medium",
			})
		}
	}
	analysis.RequiresDisclosure = len(analysis.Items) > 0
	return factbag.Bag{factbag.KeyDisclosure: analysis}, nil
}

// Score records the aggregate confidence.
//
// Outputs:
//
//	"confidenceScore" (float64): Mean entity confidence, 0 for none.
type Score struct{}

// Execute implements pipeline.StageExecutor.
func (Score) Execute(ctx context.Context, _ pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	return factbag.Bag{factbag.KeyConfidenceScore: factbag.MeanConfidence(bag.Entities())}, nil
}

// DefaultExcerptRadius is the excerpt context on each side of a match, in bytes.
const DefaultExcerptRadius = 60

// Evidence binds each entity to an excerpt of its source segment.
//
// Entities with an unknown or out-of-range segment are not bound.
//
// Outputs:
//
//	"evidence" ([]factbag.EvidenceBinding)
type Evidence struct {
	// Radius overrides DefaultExcerptRadius when positive.
	Radius int
}

// Execute implements pipeline.StageExecutor.
func (ev Evidence) Execute(ctx context.Context, _ pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	radius := ev.Radius
	if radius <= 0 {
		radius = DefaultExcerptRadius
	}

	segments := make(map[int]string)
	for _, s := range bag.Segments() {
		segments[s.Index] = s.Text
	}

	bindings := []factbag.EvidenceBinding{}
	for _, e := range bag.Entities() {
		text, ok := segments[e.Segment]
		if !ok {
			continue
		}
		bindings = append(bindings, factbag.EvidenceBinding{
			EntityType: e.Type,
			Value:      e.Value,
			Segment:    e.Segment,
			Excerpt:    excerpt(text, e.Value, radius),
		})
	}
	return factbag.Bag{factbag.KeyEvidence: bindings}, nil
}

// excerpt returns the text around the first case-insensitive match of value,
// or the start of text when there is none. Cuts land on rune boundaries.
func excerpt(text, value string, radius int) string {
	start, end := 0, 2*radius
	// Offsets come from text itself; case folding may change byte lengths.
	if loc := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(value)).FindStringIndex(text); loc != nil {
		start = loc[0] - radius
		end = loc[1] + radius
	}
	end = min(max(end, 0), len(text))
	start = min(max(start, 0), end)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return strings.TrimSpace(text[start:end])
}
