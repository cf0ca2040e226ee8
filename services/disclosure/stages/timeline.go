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
	"sort"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
)

// Timeline orders dated entities chronologically.
//
// Outputs:
//
//	"timeline" ([]factbag.TimelineEvent)
type Timeline struct{}

// Execute implements pipeline.StageExecutor.
func (Timeline) Execute(ctx context.Context, _ pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	return factbag.Bag{factbag.KeyTimeline: BuildTimeline(bag.Entities())}, nil
}

// BuildTimeline returns one event per dated entity, sorted by date. Entities
// sharing a date keep their input order.
func BuildTimeline(entities []factbag.Entity) []factbag.TimelineEvent {
	events := make([]factbag.TimelineEvent, 0, len(entities))
	for _, e := range entities {
		if e.Date == "" {
			continue
		}
		events = append(events, factbag.TimelineEvent{
			Date:       e.Date,
			EntityType: e.Type,
			Value:      e.Value,
			Confidence: e.Confidence,
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date < events[j].Date
	})
	return events
}
