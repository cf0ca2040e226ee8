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

	"github.com/vnexus/disclosure/services/disclosure/factbag"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/rules"
)

// Synthesize assembles the report.
//
// Description:
//
//	Emits one history item per entity (dated ones in chronological order
//	first), one item per disclosure item, one per rule recommendation, and
//	a closing summary. The report therefore always has at least one item.
//
// Outputs:
//
//	"report" (*factbag.Report)
type Synthesize struct{}

// Execute implements pipeline.StageExecutor.
func (Synthesize) Execute(ctx context.Context, _ pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}

	entities := bag.Entities()
	var items []factbag.ReportItem

	timeline := bag.Timeline()
	if len(timeline) == 0 {
		timeline = BuildTimeline(entities)
	}
	for _, ev := range timeline {
		items = append(items, factbag.ReportItem{
			Kind:       factbag.ItemHistory,
			Title:      fmt.Sprintf("%s: %s", ev.EntityType, ev.Value),
			Date:       ev.Date,
			Confidence: ev.Confidence,
		})
	}
	for _, e := range entities {
		if e.Date != "" {
			continue
		}
		items = append(items, factbag.ReportItem{
			Kind:       factbag.ItemHistory,
			Title:      fmt.Sprintf("%s: %s", e.Type, e.Value),
			Confidence: e.Confidence,
		})
	}

	disclosure := bag.Disclosure()
	if disclosure != nil {
		for _, d := range disclosure.Items {
			items = append(items, factbag.ReportItem{
				Kind:   factbag.ItemDisclosure,
				Title:  d.Message,
				Detail: d.Severity,
			})
		}
	}

	if res, ok := rules.FromBag(bag); ok && res != nil {
		for _, r := range res.Recommendations {
			items = append(items, factbag.ReportItem{Kind: factbag.ItemRecommendation, Title: r})
		}
	}

	score, ok := factbag.Get[float64](bag, factbag.KeyConfidenceScore)
	if !ok {
		score = factbag.MeanConfidence(entities)
	}
	items = append(items, factbag.ReportItem{
		Kind:       factbag.ItemSummary,
		Title:      "Medical history summary",
		Detail:     summaryDetail(len(entities), len(timeline), disclosure),
		Confidence: score,
	})

	return factbag.Bag{factbag.KeyReport: &factbag.Report{Items: items}}, nil
}

func summaryDetail(entities, events int, d *factbag.DisclosureAnalysis) string {
	detail := fmt.Sprintf("%d facts, %d dated events", entities, events)
	if d == nil {
		return detail
	}
	return fmt.Sprintf("%s, disclosure required: %t", detail, d.RequiresDisclosure)
}
