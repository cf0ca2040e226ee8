// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package factbag

import (
	"math"
	"strings"
)

// Entity types recognised by the rule engine's candidate lookup.
const (
	EntityDiagnosis  = "diagnosis"
	EntityProcedure  = "procedure"
	EntityMedication = "medication"
)

// Entity is one extracted medical-history fact.
type Entity struct {
	// Type is the entity category, e.g. "diagnosis". Lowercase after NORMALIZE.
	Type string `json:"type" yaml:"type" validate:"required"`

	// Value is the surface form of the fact, e.g. "type 2 diabetes".
	Value string `json:"value" yaml:"value" validate:"required"`

	// Confidence is the extractor confidence in [0, 1].
	Confidence float64 `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`

	// Date is an ISO-like date string (YYYY, YYYY-MM or YYYY-MM-DD). Optional.
	Date string `json:"date,omitempty" yaml:"date,omitempty"`

	// Segment is the index of the source segment, or -1 when unknown.
	Segment int `json:"segment" yaml:"segment"`
}

// Segment is one unit of ingested text.
type Segment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Anchor is a date detected inside a segment.
type Anchor struct {
	Segment int    `json:"segment"`
	Date    string `json:"date"`
	Offset  int    `json:"offset"`
}

// TimelineEvent is a dated entity placed on the medical timeline.
type TimelineEvent struct {
	Date       string  `json:"date"`
	EntityType string  `json:"entity_type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// DisclosureItem is one fact that must be disclosed to the underwriter.
type DisclosureItem struct {
	RuleID   string `json:"rule_id"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// DisclosureAnalysis is produced by the DISCLOSURE stage.
type DisclosureAnalysis struct {
	RequiresDisclosure bool             `json:"requires_disclosure"`
	Items              []DisclosureItem `json:"items"`

	// RuleResultsObserved is false when the stage ran without rule results in
	// its snapshot, which happens when it shares a parallel group with RULES.
	RuleResultsObserved bool `json:"rule_results_observed"`
}

// EvidenceBinding ties an entity to the text that supports it.
type EvidenceBinding struct {
	EntityType string `json:"entity_type"`
	Value      string `json:"value"`
	Segment    int    `json:"segment"`
	Excerpt    string `json:"excerpt"`
}

// Report item kinds.
const (
	ItemHistory        = "history"
	ItemDisclosure     = "disclosure"
	ItemRecommendation = "recommendation"
	ItemSummary        = "summary"
	ItemErrorReport    = "error_report"
)

// ReportItem is one line of the final underwriting-disclosure report.
type ReportItem struct {
	Kind       string  `json:"kind"`
	Title      string  `json:"title"`
	Detail     string  `json:"detail,omitempty"`
	Date       string  `json:"date,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Report is the document produced by the SYNTHESIZE stage.
type Report struct {
	Items []ReportItem `json:"items"`
}

// MeanConfidence returns the mean entity confidence, or 0 when there are none.
//
// The result is clamped to [0, 1]; NaN confidences count as 0.
func MeanConfidence(entities []Entity) float64 {
	if len(entities) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entities {
		sum += ClampUnit(e.Confidence)
	}
	return ClampUnit(sum / float64(len(entities)))
}

// ClampUnit clamps v to [0, 1]. NaN maps to 0.
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Entities returns the normalized entities, falling back to input entities.
func (b Bag) Entities() []Entity {
	if v, ok := Get[[]Entity](b, KeyEntities); ok {
		return v
	}
	v, _ := Get[[]Entity](b, KeyInputEntities)
	return v
}

// Timeline returns the assembled timeline, or nil.
func (b Bag) Timeline() []TimelineEvent {
	v, _ := Get[[]TimelineEvent](b, KeyTimeline)
	return v
}

// Segments returns the ingested segments, or nil.
func (b Bag) Segments() []Segment {
	v, _ := Get[[]Segment](b, KeySegments)
	return v
}

// Anchors returns the detected date anchors, or nil.
func (b Bag) Anchors() []Anchor {
	v, _ := Get[[]Anchor](b, KeyAnchors)
	return v
}

// Evidence returns the evidence bindings, or nil.
func (b Bag) Evidence() []EvidenceBinding {
	v, _ := Get[[]EvidenceBinding](b, KeyEvidence)
	return v
}

// Report returns the synthesized report, or nil.
func (b Bag) Report() *Report {
	v, _ := Get[*Report](b, KeyReport)
	return v
}

// Disclosure returns the disclosure analysis, or nil.
func (b Bag) Disclosure() *DisclosureAnalysis {
	v, _ := Get[*DisclosureAnalysis](b, KeyDisclosure)
	return v
}

// InputText returns the raw input text joined with any pre-segmented input.
func (b Bag) InputText() string {
	text, _ := Get[string](b, KeyInputText)
	segs, _ := Get[[]string](b, KeyInputSegments)
	if len(segs) == 0 {
		return text
	}
	parts := make([]string, 0, len(segs)+1)
	if text != "" {
		parts = append(parts, text)
	}
	parts = append(parts, segs...)
	return strings.Join(parts, "\n")
}
