// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the directed graph type shared by the process tree
// and the workflow graph, plus the structural metrics computed over it.
//
// # Node identity
//
// Node IDs are tagged with their kind: "process:<pid>" and "file:<fid>".
// The tag is part of the ID so a process and a file with the same number
// never collide. NodeCounts classifies nodes by this tag.
//
// # Edges
//
// The graph is simple: at most one edge per ordered node pair. Adding an
// existing edge again merges the new relation into the edge's relation set
// instead of creating a parallel edge.
//
// # Thread Safety
//
// Graph is NOT safe for concurrent use during building. After Freeze() it
// is read-only and can be read from multiple goroutines.
//
// # Lifecycle
//
//  1. Create with NewGraph(name)
//  2. Build with EnsureNode() and AddEdge() calls
//  3. Call Freeze() to finalize
//  4. Query with NodeCounts(), DegreeStats(), TopologicalOrder(), etc.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when attempting to modify a frozen graph.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrNodeNotFound is returned when an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a node with an ID that
	// already exists in the graph.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrMaxNodesExceeded is returned when the graph has reached its
	// configured maximum node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the graph has reached its
	// configured maximum edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")

	// ErrInvalidNodeID is returned when a node ID does not carry a known
	// kind tag.
	ErrInvalidNodeID = errors.New("invalid node ID")

	// ErrNotADag is returned by TopologicalOrder when the graph has a cycle.
	// The wrapping error names the nodes left on cycles.
	ErrNotADag = errors.New("graph is not a DAG")
)
