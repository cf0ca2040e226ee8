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

// DAG is a validated, immutable dependency graph.
//
// Thread Safety: Safe for concurrent reads after Build.
type DAG struct {
	name    string
	nodes   map[string]Node
	order   []string
	edges   []Edge
	adjList map[string][]string
}

// Name returns the DAG name.
func (d *DAG) Name() string {
	return d.name
}

// NodeCount returns the number of nodes.
func (d *DAG) NodeCount() int {
	return len(d.nodes)
}

// NodeNames returns node names in insertion order.
func (d *DAG) NodeNames() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// GetNode returns the node with the given name.
func (d *DAG) GetNode(name string) (Node, bool) {
	n, ok := d.nodes[name]
	return n, ok
}

// GetDependencies returns the dependencies of a node.
func (d *DAG) GetDependencies(name string) []string {
	return d.adjList[name]
}

// Edges returns a copy of the dependency edges.
func (d *DAG) Edges() []Edge {
	out := make([]Edge, len(d.edges))
	copy(out, d.edges)
	return out
}

// Levels partitions the graph into groups that may run concurrently.
//
// Description:
//
//	A node's level is the length of the longest dependency chain leading to
//	it, so every node runs strictly after all of its dependencies and as
//	early as possible. Nodes inside a level keep insertion order, which makes
//	the plan deterministic for identical inputs.
//
// Outputs:
//
//	[][]Node - Levels in execution order. Never empty for a built DAG.
func (d *DAG) Levels() [][]Node {
	depth := make(map[string]int, len(d.nodes))

	var depthOf func(name string) int
	depthOf = func(name string) int {
		if v, ok := depth[name]; ok {
			return v
		}
		level := 0
		for _, dep := range d.adjList[name] {
			if l := depthOf(dep) + 1; l > level {
				level = l
			}
		}
		depth[name] = level
		return level
	}

	maxLevel := 0
	for _, name := range d.order {
		if l := depthOf(name); l > maxLevel {
			maxLevel = l
		}
	}

	levels := make([][]Node, maxLevel+1)
	for _, name := range d.order {
		l := depth[name]
		levels[l] = append(levels[l], d.nodes[name])
	}
	return levels
}
