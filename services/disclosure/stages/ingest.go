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
	"regexp"
	"strings"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
)

var blankLines = regexp.MustCompile(`\n\s*\n`)

// Ingest segments the input.
//
// Description:
//
//	Pre-segmented input is used as is. Raw text is split on blank lines; a
//	single paragraph spanning several lines is split per line instead.
//	Blank segments are dropped and indices are dense.
//
// Inputs (from the bag):
//
//	"input.segments" ([]string): Pre-segmented input. Optional.
//	"input.text" (string): Raw text. Used when no segments are given.
//
// Outputs:
//
//	"segments" ([]factbag.Segment)
type Ingest struct{}

// Execute implements pipeline.StageExecutor.
func (Ingest) Execute(ctx context.Context, _ pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}

	parts, _ := factbag.Get[[]string](bag, factbag.KeyInputSegments)
	if len(parts) == 0 {
		text, _ := factbag.Get[string](bag, factbag.KeyInputText)
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: input.text or input.segments", ErrMissingInput)
		}
		parts = splitText(text)
	}

	segments := make([]factbag.Segment, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		segments = append(segments, factbag.Segment{Index: len(segments), Text: p})
	}
	return factbag.Bag{factbag.KeySegments: segments}, nil
}

func splitText(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	paragraphs := blankLines.Split(text, -1)
	if len(paragraphs) == 1 {
		return strings.Split(paragraphs[0], "\n")
	}
	return paragraphs
}
