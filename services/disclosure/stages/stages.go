// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stages provides reference stage executors for the disclosure
// pipeline.
//
// Each executor reads what it needs from a fact bag snapshot and returns a
// partial bag containing only the keys it produces. Executors hold no
// per-call state and are safe for concurrent use.
package stages

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/rules"
)

// Sentinel errors for stage operations.
var (
	// ErrMissingInput is returned when a required fact is not in the bag.
	ErrMissingInput = errors.New("missing required input")

	// ErrNilDependency is returned when a required collaborator is nil.
	ErrNilDependency = errors.New("required dependency is nil")
)

// Default returns the full executor set.
//
// Inputs:
//
//	source - Rule engine source. If nil, no RULES executor is returned and
//	         tiers that allow skipping run without it.
//	extractor - Entity extractor for NORMALIZE. If nil, DefaultExtractor().
//	logger - Logger. If nil, uses slog.Default().
//
// Outputs:
//
//	map[pipeline.Stage]pipeline.StageExecutor - Executors keyed by stage.
func Default(source rules.EngineSource, extractor Extractor, logger *slog.Logger) map[pipeline.Stage]pipeline.StageExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = DefaultExtractor()
	}

	execs := map[pipeline.Stage]pipeline.StageExecutor{
		pipeline.StageIngest:     Ingest{},
		pipeline.StageAnchor:     Anchor{},
		pipeline.StageNormalize:  &Normalize{Extractor: extractor},
		pipeline.StageTimeline:   Timeline{},
		pipeline.StageDisclosure: Disclosure{},
		pipeline.StageScore:      Score{},
		pipeline.StageEvidence:   Evidence{},
		pipeline.StageSynthesize: Synthesize{},
	}
	if source != nil {
		execs[pipeline.StageRules] = NewRules(source, logger)
	}
	return execs
}

// canceled returns ctx's error, if any. Every executor checks it on entry.
func canceled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
