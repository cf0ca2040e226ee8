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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanGroups(t *testing.T) {
	tests := []struct {
		name                 string
		tier                 Tier
		disclosureAfterRules bool
		want                 []Group
	}{
		{
			name: "draft",
			tier: TierDraft,
			want: []Group{
				{StageIngest}, {StageAnchor}, {StageNormalize}, {StageScore}, {StageSynthesize},
			},
		},
		{
			name: "standard",
			tier: TierStandard,
			want: []Group{
				{StageIngest}, {StageAnchor}, {StageNormalize},
				{StageTimeline, StageRules},
				{StageScore}, {StageSynthesize},
			},
		},
		{
			name: "rigorous",
			tier: TierRigorous,
			want: []Group{
				{StageIngest}, {StageAnchor}, {StageNormalize},
				{StageTimeline, StageRules, StageDisclosure},
				{StageScore}, {StageEvidence}, {StageSynthesize},
			},
		},
		{
			name:                 "rigorous with disclosure after rules",
			tier:                 TierRigorous,
			disclosureAfterRules: true,
			want: []Group{
				{StageIngest}, {StageAnchor}, {StageNormalize},
				{StageTimeline, StageRules},
				{StageDisclosure},
				{StageScore}, {StageEvidence}, {StageSynthesize},
			},
		},
		{
			name:                 "standard ignores disclosure ordering",
			tier:                 TierStandard,
			disclosureAfterRules: true,
			want: []Group{
				{StageIngest}, {StageAnchor}, {StageNormalize},
				{StageTimeline, StageRules},
				{StageScore}, {StageSynthesize},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, err := GateFor(tt.tier)
			require.NoError(t, err)
			groups, err := PlanGroups(gate, tt.disclosureAfterRules)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, groups); diff != "" {
				t.Errorf("PlanGroups mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanGroups_EmptyGate(t *testing.T) {
	_, err := PlanGroups(QualityGate{Tier: "empty"}, false)
	require.Error(t, err)
}

func TestGateFor(t *testing.T) {
	draft, err := GateFor(TierDraft)
	require.NoError(t, err)
	standard, err := GateFor(TierStandard)
	require.NoError(t, err)
	rigorous, err := GateFor(TierRigorous)
	require.NoError(t, err)

	assert.Less(t, draft.MinConfidence, standard.MinConfidence)
	assert.Less(t, standard.MinConfidence, rigorous.MinConfidence)
	assert.Less(t, draft.MaxDuration, standard.MaxDuration)
	assert.Less(t, standard.MaxDuration, rigorous.MaxDuration)
	assert.False(t, rigorous.AllowSkipOptional)

	for _, s := range draft.RequiredStages {
		assert.True(t, standard.Requires(s), "standard is a superset of draft: %s", s)
	}
	for _, s := range standard.RequiredStages {
		assert.True(t, rigorous.Requires(s), "rigorous is a superset of standard: %s", s)
	}

	rigorous.RequiredStages[0] = "MUTATED"
	again, _ := GateFor(TierRigorous)
	assert.Equal(t, StageIngest, again.RequiredStages[0])

	_, err = GateFor("gold")
	require.Error(t, err)
}

func TestPipelineError(t *testing.T) {
	cause := errors.New("disk on fire")
	err := error(newError(ErrStageFailure, StageScore, cause))

	assert.ErrorIs(t, err, ErrStageFailure)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "stage SCORE: stage failure: disk on fire", err.Error())

	stage, ok := StageOf(err)
	require.True(t, ok)
	assert.Equal(t, StageScore, stage)

	_, ok = StageOf(newError(ErrInvalidInput, "", nil))
	assert.False(t, ok)
	assert.Equal(t, "invalid input", newError(ErrInvalidInput, "", nil).Error())
}
