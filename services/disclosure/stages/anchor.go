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
	"strconv"

	"github.com/vnexus/disclosure/services/disclosure/factbag"
	"github.com/vnexus/disclosure/services/disclosure/pipeline"
)

// dateRe matches YYYY-MM[-DD], MM/DD/YYYY and bare years 1900-2099.
var dateRe = regexp.MustCompile(`\b(?:((?:19|20)\d{2})-(\d{1,2})(?:-(\d{1,2}))?|(\d{1,2})/(\d{1,2})/((?:19|20)\d{2})|((?:19|20)\d{2}))\b`)

// Anchor finds date anchors in every segment.
//
// Outputs:
//
//	"anchors" ([]factbag.Anchor): In segment order, then offset order.
//	Dates are normalized to YYYY, YYYY-MM or YYYY-MM-DD.
type Anchor struct{}

// Execute implements pipeline.StageExecutor.
func (Anchor) Execute(ctx context.Context, _ pipeline.Stage, bag factbag.Bag) (factbag.Bag, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}

	var anchors []factbag.Anchor
	for _, seg := range bag.Segments() {
		for _, a := range FindDates(seg.Text) {
			a.Segment = seg.Index
			anchors = append(anchors, a)
		}
	}
	if anchors == nil {
		anchors = []factbag.Anchor{}
	}
	return factbag.Bag{factbag.KeyAnchors: anchors}, nil
}

// FindDates returns the normalized dates in text with their byte offsets.
// Matches with an out-of-range month or day are ignored.
func FindDates(text string) []factbag.Anchor {
	var out []factbag.Anchor
	for _, m := range dateRe.FindAllStringSubmatchIndex(text, -1) {
		group := func(i int) string {
			if m[2*i] < 0 {
				return ""
			}
			return text[m[2*i]:m[2*i+1]]
		}

		var date string
		switch {
		case group(1) != "":
			date = formatDate(group(1), group(2), group(3))
		case group(6) != "":
			date = formatDate(group(6), group(4), group(5))
		default:
			date = group(7)
		}
		if date == "" {
			continue
		}
		out = append(out, factbag.Anchor{Date: date, Offset: m[0]})
	}
	return out
}

func formatDate(year, month, day string) string {
	mo, err := strconv.Atoi(month)
	if err != nil || mo < 1 || mo > 12 {
		return ""
	}
	if day == "" {
		return fmt.Sprintf("%s-%02d", year, mo)
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return ""
	}
	return fmt.Sprintf("%s-%02d-%02d", year, mo, d)
}
