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
	"log/slog"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/rules"
)

// Rules runs the rule engine over the normalized facts.
//
// Description:
//
//	The engine is fetched from the source on every call, so a hot-reloaded
//	rule set takes effect on the next execution. When the snapshot carries
//	no timeline (RULES shares a group with TIMELINE), the timeline is built
//	from the dated entities.
//
// Outputs:
//
//	"ruleResults" (*rules.ExecutionResult)
//
// Thread Safety:
//
//	Safe for concurrent use.
type Rules struct {
	source rules.EngineSource
	logger *slog.Logger
}

// NewRules creates the RULES executor.
func NewRules(source rules.EngineSource, logger *slog.Logger) *Rules {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rules{source: source, logger: logger.With(slog.String("component", "stages.rules"))}
}

// Execute implements pipeline.StageExecutor.
func (r *Rules) Execute(ctx context.Context, _ pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	if r.source == nil {
		return nil, fmt.Errorf("%w: engine source", ErrNilDependency)
	}
	engine := r.source.Engine()
	if engine == nil {
		return nil, fmt.Errorf("%w: engine", ErrNilDependency)
	}

	entities := bag.Entities()
	timeline := bag.Timeline()
	if len(timeline) == 0 {
		timeline = BuildTimeline(entities)
	}

	result, err := engine.ExecuteRules(ctx, timeline, entities)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("rules executed",
		slog.Int("outcomes", len(result.Outcomes)),
		slog.Int("findings", len(result.Findings)),
		slog.String("registry_version", result.Summary.RegistryVersion),
	)
	return factbag.Bag{factbag.KeyRuleResults: result}, nil
}
