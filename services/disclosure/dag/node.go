// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag builds validated dependency graphs and partitions them into
// groups that may run concurrently.
//
// The pipeline uses it to plan stage groups and the rule engine uses it to
// plan rule execution levels. Execution itself belongs to the callers; this
// package only answers "what may run together, and in which order".
package dag

// Node is a unit of work with named dependencies.
type Node interface {
	// Name returns the node's unique identifier.
	Name() string

	// Dependencies returns the names of nodes that must complete first.
	Dependencies() []string
}

// BaseNode provides a plain Node implementation.
//
// Example:
//
//	node := &dag.BaseNode{NodeName: "RULES", NodeDependencies: []string{"NORMALIZE"}}
type BaseNode struct {
	NodeName         string
	NodeDependencies []string
}

// Name returns the node's unique identifier.
func (n *BaseNode) Name() string {
	return n.NodeName
}

// Dependencies returns the names of nodes that must complete first.
func (n *BaseNode) Dependencies() []string {
	if n.NodeDependencies == nil {
		return []string{}
	}
	return n.NodeDependencies
}

// Edge is a dependency edge: From must complete before To.
type Edge struct {
	From string
	To   string
}

// Builder constructs a DAG with validation.
//
// Description:
//
//	Builder provides a fluent API for constructing DAGs. It validates that
//	all dependencies exist and that no cycles are present. Insertion order is
//	remembered and used to order nodes inside a level.
//
// Thread Safety:
//
//	Builder is NOT safe for concurrent use. Build the DAG in a single goroutine.
//
// Example:
//
//	g, err := dag.NewBuilder("pipeline").
//	    AddNode(ingest).
//	    AddNode(anchor).
//	    Build()
type Builder struct {
	name   string
	nodes  map[string]Node
	order  []string
	edges  []Edge
	errors []error
}

// NewBuilder creates a new DAG builder.
//
// Inputs:
//
//	name - The name for the DAG (used in logging and errors).
//
// Outputs:
//
//	*Builder - The builder instance.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		nodes:  make(map[string]Node),
		order:  make([]string, 0),
		edges:  make([]Edge, 0),
		errors: make([]error, 0),
	}
}

// AddNode adds a node to the DAG.
//
// Description:
//
//	Adds a node and creates edges from its declared dependencies. If a node
//	with the same name already exists, an error is recorded and surfaced by
//	Build.
//
// Inputs:
//
//	node - The node to add. Must not be nil.
//
// Outputs:
//
//	*Builder - The builder for chaining.
func (b *Builder) AddNode(node Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, ErrNilNode)
		return b
	}

	name := node.Name()
	if _, exists := b.nodes[name]; exists {
		b.errors = append(b.errors, &NodeError{NodeName: name, Err: ErrDuplicateNode})
		return b
	}

	b.nodes[name] = node
	b.order = append(b.order, name)

	for _, dep := range node.Dependencies() {
		b.edges = append(b.edges, Edge{From: dep, To: name})
	}

	return b
}

// Build validates and constructs the DAG.
//
// Outputs:
//
//	*DAG - The constructed DAG.
//	error - Non-nil if the graph is empty, references an unknown
//	        dependency, or contains a cycle.
func (b *Builder) Build() (*DAG, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	if len(b.nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	for _, edge := range b.edges {
		if _, exists := b.nodes[edge.From]; !exists {
			return nil, &NodeError{NodeName: edge.To, Err: ErrNodeNotFound}
		}
	}

	adjList := make(map[string][]string, len(b.nodes))
	for name, node := range b.nodes {
		adjList[name] = node.Dependencies()
	}

	if err := b.detectCycles(adjList); err != nil {
		return nil, err
	}

	order := make([]string, len(b.order))
	copy(order, b.order)

	return &DAG{
		name:    b.name,
		nodes:   b.nodes,
		order:   order,
		edges:   b.edges,
		adjList: adjList,
	}, nil
}

// detectCycles uses DFS to detect cycles in the graph.
func (b *Builder) detectCycles(adjList map[string][]string) error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	var dfs func(node string) error
	dfs = func(node string) error {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		for _, dep := range adjList[node] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if recStack[dep] {
				cycleStart := 0
				for i, n := range path {
					if n == dep {
						cycleStart = i
						break
					}
				}
				cyclePath := append(append([]string{}, path[cycleStart:]...), dep)
				return NewCycleError(cyclePath)
			}
		}

		path = path[:len(path)-1]
		recStack[node] = false
		return nil
	}

	// Walk in insertion order so the reported cycle is deterministic.
	for _, name := range b.order {
		if !visited[name] {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}

	return nil
}
