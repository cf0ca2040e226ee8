// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"

	"github.com/vnexus/disclosure/services/disclosure/dag"
)

// layers is the documented stage order. Stages in one layer share a snapshot.
var layers = [][]Stage{
	{StageIngest},
	{StageAnchor},
	{StageNormalize},
	{StageTimeline, StageRules, StageDisclosure},
	{StageScore},
	{StageEvidence},
	{StageSynthesize},
}

// Group is a set of stages that run concurrently on one snapshot.
type Group []Stage

// PlanGroups partitions the gate's required stages into execution groups.
//
// Description:
//
//	Every required stage depends on all required stages of the nearest
//	earlier layer. With disclosureAfterRules, DISCLOSURE additionally
//	depends on RULES and moves to the following group. Groups are the DAG
//	levels; members keep documented order.
//
// Outputs:
//
//	[]Group - Groups in execution order.
//	error - Non-nil if the gate requires no stages.
func PlanGroups(gate QualityGate, disclosureAfterRules bool) ([]Group, error) {
	b := dag.NewBuilder("pipeline." + string(gate.Tier))

	var prev []string
	for _, layer := range layers {
		var current []string
		for _, stage := range layer {
			if !gate.Requires(stage) {
				continue
			}
			deps := append([]string(nil), prev...)
			if stage == StageDisclosure && disclosureAfterRules && gate.Requires(StageRules) {
				deps = append(deps, string(StageRules))
			}
			b.AddNode(&dag.BaseNode{NodeName: string(stage), NodeDependencies: deps})
			current = append(current, string(stage))
		}
		if len(current) > 0 {
			prev = current
		}
	}

	g, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("plan stage groups: %w", err)
	}

	levels := g.Levels()
	groups := make([]Group, 0, len(levels))
	for _, level := range levels {
		group := make(Group, 0, len(level))
		for _, n := range level {
			group = append(group, Stage(n.Name()))
		}
		groups = append(groups, group)
	}
	return groups, nil
}
