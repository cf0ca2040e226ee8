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
	"context"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
)

// Cache stores pipeline results by key.
//
// Implementations must be safe for concurrent use. Errors are logged by the
// orchestrator and never fail an execution.
type Cache interface {
	// Get returns the cached result for key. Found is false on a miss.
	Get(ctx context.Context, key string) (result *Result, found bool, err error)

	// Set stores a result under key.
	Set(ctx context.Context, key string, result *Result) error
}

// CacheKey derives a deterministic key from the input content, tier and version tag.
func CacheKey(in Input, tier Tier, version string) string {
	return "pipeline:" + string(tier) + ":" + version + ":" + factbag.Hash(struct {
		Text     string           `json:"text"`
		Segments []string         `json:"segments"`
		Entities []factbag.Entity `json:"entities"`
	}{in.Text, in.Segments, in.Entities})
}
