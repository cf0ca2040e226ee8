// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(name string, deps ...string) *BaseNode {
	return &BaseNode{NodeName: name, NodeDependencies: deps}
}

func levelNames(levels [][]Node) [][]string {
	out := make([][]string, len(levels))
	for i, level := range levels {
		for _, n := range level {
			out[i] = append(out[i], n.Name())
		}
	}
	return out
}

func TestLevels_Chain(t *testing.T) {
	g, err := NewBuilder("chain").
		AddNode(node("A")).
		AddNode(node("B", "A")).
		AddNode(node("C", "B")).
		Build()
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"A"}, {"B"}, {"C"}}, levelNames(g.Levels()))
}

func TestLevels_FanOutFanIn(t *testing.T) {
	g, err := NewBuilder("diamond").
		AddNode(node("N")).
		AddNode(node("T", "N")).
		AddNode(node("R", "N")).
		AddNode(node("D", "N")).
		AddNode(node("S", "T", "R", "D")).
		Build()
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"N"}, {"T", "R", "D"}, {"S"}}, levelNames(g.Levels()))
}

func TestLevels_LongestPathWins(t *testing.T) {
	g, err := NewBuilder("edge").
		AddNode(node("N")).
		AddNode(node("T", "N")).
		AddNode(node("R", "N")).
		AddNode(node("D", "N", "R")).
		AddNode(node("S", "T", "R", "D")).
		Build()
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"N"}, {"T", "R"}, {"D"}, {"S"}}, levelNames(g.Levels()))
}

func TestLevels_IndependentNodesShareOneLevel(t *testing.T) {
	g, err := NewBuilder("flat").
		AddNode(node("r1")).
		AddNode(node("r2")).
		AddNode(node("r3")).
		Build()
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"r1", "r2", "r3"}}, levelNames(g.Levels()))
}

func TestBuild_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := NewBuilder("empty").Build()
		assert.True(t, errors.Is(err, ErrEmptyGraph))
	})

	t.Run("nil node", func(t *testing.T) {
		_, err := NewBuilder("nil").AddNode(nil).Build()
		assert.True(t, errors.Is(err, ErrNilNode))
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := NewBuilder("dup").AddNode(node("A")).AddNode(node("A")).Build()
		assert.True(t, errors.Is(err, ErrDuplicateNode))
	})

	t.Run("missing dependency", func(t *testing.T) {
		_, err := NewBuilder("missing").AddNode(node("B", "A")).Build()
		assert.True(t, errors.Is(err, ErrNodeNotFound))
		var nodeErr *NodeError
		require.True(t, errors.As(err, &nodeErr))
		assert.Equal(t, "B", nodeErr.NodeName)
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := NewBuilder("cycle").
			AddNode(node("A", "C")).
			AddNode(node("B", "A")).
			AddNode(node("C", "B")).
			Build()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCycleDetected))
		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
	})
}
