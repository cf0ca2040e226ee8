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
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_AddsNewKeys(t *testing.T) {
	base := Bag{KeyInputText: "hello"}

	merged, err := base.Merge(Bag{KeySegments: []Segment{{Index: 0, Text: "hello"}}})
	require.NoError(t, err)

	assert.Equal(t, "hello", merged[KeyInputText])
	assert.Len(t, merged.Segments(), 1)
	_, inBase := base[KeySegments]
	assert.False(t, inBase, "merge must not mutate the receiver")
}

func TestMerge_ExtendsSlices(t *testing.T) {
	base := Bag{KeyEntities: []Entity{{Type: "diagnosis", Value: "asthma"}}}

	merged, err := base.Merge(Bag{KeyEntities: []Entity{{Type: "medication", Value: "salbutamol"}}})
	require.NoError(t, err)

	got := merged.Entities()
	require.Len(t, got, 2)
	assert.Equal(t, "asthma", got[0].Value)
	assert.Equal(t, "salbutamol", got[1].Value)
	assert.Len(t, base.Entities(), 1)
}

func TestMerge_RejectsRewrites(t *testing.T) {
	testCases := []struct {
		name    string
		base    Bag
		partial Bag
	}{
		{"scalar overwrite", Bag{KeyConfidenceScore: 0.4}, Bag{KeyConfidenceScore: 0.9}},
		{"slice type mismatch", Bag{KeyEntities: []Entity{}}, Bag{KeyEntities: []Segment{}}},
		{"pointer overwrite", Bag{KeyReport: &Report{}}, Bag{KeyReport: &Report{}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.base.Merge(tc.partial)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrKeyConflict))
		})
	}
}

func TestMerge_IgnoresNilValues(t *testing.T) {
	base := Bag{KeyConfidenceScore: 0.5}
	merged, err := base.Merge(Bag{KeyConfidenceScore: nil})
	require.NoError(t, err)
	assert.Equal(t, 0.5, merged[KeyConfidenceScore])
}

func TestHash_StableForEqualContent(t *testing.T) {
	a := []Entity{{Type: "diagnosis", Value: "asthma", Confidence: 0.9}}
	b := []Entity{{Type: "diagnosis", Value: "asthma", Confidence: 0.9}}
	c := []Entity{{Type: "diagnosis", Value: "asthma", Confidence: 0.8}}

	assert.Equal(t, Hash(a), Hash(b))
	assert.NotEqual(t, Hash(a), Hash(c))
	assert.Len(t, Hash(a), 64)
}

func TestMeanConfidence(t *testing.T) {
	assert.Equal(t, 0.0, MeanConfidence(nil))
	assert.InDelta(t, 0.6, MeanConfidence([]Entity{{Confidence: 0.4}, {Confidence: 0.8}}), 1e-9)
	assert.Equal(t, 1.0, MeanConfidence([]Entity{{Confidence: 7}}))
	assert.Equal(t, 0.0, MeanConfidence([]Entity{{Confidence: math.NaN()}}))
}

func TestInputText_JoinsSegments(t *testing.T) {
	b := Bag{KeyInputText: "a", KeyInputSegments: []string{"b", "c"}}
	assert.Equal(t, "a\nb\nc", b.InputText())

	onlySegs := Bag{KeyInputSegments: []string{"x"}}
	assert.Equal(t, "x", onlySegs.InputText())
}
