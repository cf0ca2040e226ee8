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
	"fmt"
	"strings"
)

var (
	// ErrNilNode is returned when a nil node is added.
	ErrNilNode = errors.New("node must not be nil")

	// ErrDuplicateNode is returned when two nodes share a name.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrNodeNotFound is returned when a dependency names an unknown node.
	ErrNodeNotFound = errors.New("dependency not found")

	// ErrEmptyGraph is returned when Build is called without nodes.
	ErrEmptyGraph = errors.New("graph has no nodes")

	// ErrCycleDetected is returned when the graph contains a cycle.
	ErrCycleDetected = errors.New("cycle detected")
)

// NodeError attaches a node name to an error.
type NodeError struct {
	NodeName string
	Err      error
}

// NewNodeError creates a NodeError.
func NewNodeError(name string, err error) *NodeError {
	return &NodeError{NodeName: name, Err: err}
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeName, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// CycleError reports the nodes forming a cycle.
type CycleError struct {
	Path []string
}

// NewCycleError creates a CycleError for the given path.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}
