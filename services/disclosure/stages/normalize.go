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
	"fmt"
	"sort"
	"strings"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
)

// Extractor produces entities from segments.
//
// Implementations must be safe for concurrent use and stop when ctx is done.
type Extractor interface {
	Extract(ctx context.Context, segments []factbag.Segment) ([]factbag.Entity, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, segments []factbag.Segment) ([]factbag.Entity, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, segments []factbag.Segment) ([]factbag.Entity, error) {
	return f(ctx, segments)
}

// DefaultKeywordConfidence is the confidence assigned to keyword matches.
const DefaultKeywordConfidence = 0.6

// DefaultKeywords is a small keyword → entity type table.
var DefaultKeywords = map[string]string{
	"asthma":        factbag.EntityDiagnosis,
	"cancer":        factbag.EntityDiagnosis,
	"copd":          factbag.EntityDiagnosis,
	"depression":    factbag.EntityDiagnosis,
	"diabetes":      factbag.EntityDiagnosis,
	"hypertension":  factbag.EntityDiagnosis,
	"myocardial":    factbag.EntityDiagnosis,
	"stroke":        factbag.EntityDiagnosis,
	"angioplasty":   factbag.EntityProcedure,
	"appendectomy":  factbag.EntityProcedure,
	"biopsy":        factbag.EntityProcedure,
	"bypass":        factbag.EntityProcedure,
	"chemotherapy":  factbag.EntityProcedure,
	"colonoscopy":   factbag.EntityProcedure,
	"surgery":       factbag.EntityProcedure,
	"atorvastatin":  factbag.EntityMedication,
	"insulin":       factbag.EntityMedication,
	"lisinopril":    factbag.EntityMedication,
	"metformin":     factbag.EntityMedication,
	"sertraline":    factbag.EntityMedication,
	"warfarin":      factbag.EntityMedication,
	"amlodipine":    factbag.EntityMedication,
	"levothyroxine": factbag.EntityMedication,
}

// KeywordExtractor matches a keyword table against lowercased segment text.
type KeywordExtractor struct {
	keywords   []string
	types      map[string]string
	confidence float64
}

// NewKeywordExtractor creates a keyword extractor.
//
// Inputs:
//
//	table - Keyword to entity type. Keywords are matched case-insensitively.
//	confidence - Confidence of every match. Clamped to [0, 1].
func NewKeywordExtractor(table map[string]string, confidence float64) *KeywordExtractor {
	types := make(map[string]string, len(table))
	keywords := make([]string, 0, len(table))
	for k, v := range table {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		types[k] = v
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)
	return &KeywordExtractor{keywords: keywords, types: types, confidence: factbag.ClampUnit(confidence)}
}

// DefaultExtractor returns a KeywordExtractor over DefaultKeywords.
func DefaultExtractor() *KeywordExtractor {
	return NewKeywordExtractor(DefaultKeywords, DefaultKeywordConfidence)
}

// Extract implements Extractor.
func (k *KeywordExtractor) Extract(ctx context.Context, segments []factbag.Segment) ([]factbag.Entity, error) {
	var out []factbag.Entity
	for _, seg := range segments {
		if err := canceled(ctx); err != nil {
			return nil, err
		}
		lower := strings.ToLower(seg.Text)
		for _, kw := range k.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			out = append(out, factbag.Entity{
				Type:       k.types[kw],
				Value:      kw,
				Confidence: k.confidence,
				Segment:    seg.Index,
			})
		}
	}
	return out, nil
}

// Normalize produces the canonical entity list.
//
// Description:
//
//	Uses caller-supplied entities when present, otherwise runs the
//	Extractor over the segments. Every entity is trimmed, its type
//	lowercased and its confidence clamped to [0, 1]. Undated entities
//	inherit the first date anchor of their segment. Duplicates (same type,
//	value and date) collapse to the most confident one.
//
// Outputs:
//
//	"entities" ([]factbag.Entity)
type Normalize struct {
	Extractor Extractor
}

// Execute implements pipeline.StageExecutor.
func (n *Normalize) Execute(ctx context.Context, _ pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}

	raw, _ := factbag.Get[[]factbag.Entity](bag, factbag.KeyInputEntities)
	if len(raw) == 0 {
		if n.Extractor == nil {
			return nil, fmt.Errorf("%w: extractor", ErrNilDependency)
		}
		var err error
		raw, err = n.Extractor.Extract(ctx, bag.Segments())
		if err != nil {
			return nil, fmt.Errorf("extract entities: %w", err)
		}
	}

	segmentDates := make(map[int]string)
	for _, a := range bag.Anchors() {
		if _, ok := segmentDates[a.Segment]; !ok {
			segmentDates[a.Segment] = a.Date
		}
	}

	return factbag.Bag{factbag.KeyEntities: normalizeEntities(raw, segmentDates)}, nil
}

func normalizeEntities(raw []factbag.Entity, segmentDates map[int]string) []factbag.Entity {
	out := make([]factbag.Entity, 0, len(raw))
	index := make(map[string]int, len(raw))

	for _, e := range raw {
		e.Type = strings.ToLower(strings.TrimSpace(e.Type))
		e.Value = strings.TrimSpace(e.Value)
		e.Date = strings.TrimSpace(e.Date)
		if e.Type == "" || e.Value == "" {
			continue
		}
		e.Confidence = factbag.ClampUnit(e.Confidence)
		if e.Date == "" && e.Segment >= 0 {
			e.Date = segmentDates[e.Segment]
		}

		key := e.Type + "|" + strings.ToLower(e.Value) + "|" + e.Date
		if i, ok := index[key]; ok {
			if e.Confidence > out[i].Confidence {
				out[i] = e
			}
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}
