// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"iter"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Size limits of a graph unless overridden.
const (
	DefaultMaxNodes = 1_000_000
	DefaultMaxEdges = 10_000_000
)

// Node ID tags.
const (
	ProcessTag = "process"
	FileTag    = "file"
)

// NodeKind is the kind of entity a node stands for.
type NodeKind int

const (
	// NodeKindProcess is a traced process, keyed by pid.
	NodeKindProcess NodeKind = iota

	// NodeKindFile is a traced file, keyed by file id.
	NodeKindFile
)

// String returns the ID tag of the kind.
func (k NodeKind) String() string {
	switch k {
	case NodeKindProcess:
		return ProcessTag
	case NodeKindFile:
		return FileTag
	default:
		return "unknown"
	}
}

// ProcessNodeID returns the node ID of a process.
func ProcessNodeID(pid int64) string {
	return ProcessTag + ":" + strconv.FormatInt(pid, 10)
}

// FileNodeID returns the node ID of a file.
func FileNodeID(fid int64) string {
	return FileTag + ":" + strconv.FormatInt(fid, 10)
}

// ParseNodeID splits a node ID into its kind and numeric key.
func ParseNodeID(id string) (NodeKind, int64, error) {
	tag, num, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
	}
	key, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
	}
	switch tag {
	case ProcessTag:
		return NodeKindProcess, key, nil
	case FileTag:
		return NodeKindFile, key, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
	}
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	// FromID is the ID of the source node.
	FromID string

	// ToID is the ID of the target node.
	ToID string

	// Relations lists what produced the edge (syscall names or "fork"),
	// in order of first occurrence and without duplicates.
	Relations []string
}

// HasRelation reports whether rel produced this edge.
func (e *Edge) HasRelation(rel string) bool {
	for _, r := range e.Relations {
		if r == rel {
			return true
		}
	}
	return false
}

// Node is a process or file with its relationships.
type Node struct {
	// ID is the tagged unique identifier.
	ID string

	// Kind is the entity kind, matching the ID tag.
	Kind NodeKind

	// Key is the pid or file id.
	Key int64

	// Label is an optional display label.
	Label string

	// Outgoing contains edges where this node is the source.
	Outgoing []*Edge

	// Incoming contains edges where this node is the target.
	Incoming []*Edge
}

// Degree returns in-degree plus out-degree.
func (n *Node) Degree() int {
	return len(n.Outgoing) + len(n.Incoming)
}

// Limits caps the size of a Graph. A trace large enough to hit them is
// rejected instead of exhausting memory.
type Limits struct {
	MaxNodes int
	MaxEdges int
}

// Option adjusts the limits of a new Graph.
type Option func(*Limits)

// WithMaxNodes caps the node count.
func WithMaxNodes(n int) Option {
	return func(l *Limits) { l.MaxNodes = n }
}

// WithMaxEdges caps the edge count.
func WithMaxEdges(n int) Option {
	return func(l *Limits) { l.MaxEdges = n }
}

type edgeKey struct {
	from, to string
}

// Graph is a simple directed graph over process and file nodes.
//
// Thread Safety:
//
//	Graph is NOT safe for concurrent use during building. After Freeze()
//	it can be safely read from multiple goroutines.
type Graph struct {
	// Name identifies the graph in exports and telemetry ("proctree", "workflow").
	Name string

	nodes     map[string]*Node
	nodeOrder []string
	edges     []*Edge
	edgeIndex map[edgeKey]*Edge

	limits Limits

	// FrozenAt is when Freeze was called; zero while building.
	FrozenAt time.Time
}

// NewGraph creates an empty graph that accepts nodes and edges until Freeze.
//
// Example:
//
//	g := NewGraph("workflow", WithMaxNodes(100_000))
func NewGraph(name string, opts ...Option) *Graph {
	limits := Limits{MaxNodes: DefaultMaxNodes, MaxEdges: DefaultMaxEdges}
	for _, opt := range opts {
		opt(&limits)
	}
	return &Graph{
		Name:      name,
		nodes:     make(map[string]*Node),
		edgeIndex: make(map[edgeKey]*Edge),
		limits:    limits,
	}
}

// IsFrozen reports whether Freeze was called.
func (g *Graph) IsFrozen() bool {
	return !g.FrozenAt.IsZero()
}

// Freeze makes the graph read-only. Calling it again has no effect.
func (g *Graph) Freeze() {
	if !g.IsFrozen() {
		g.FrozenAt = time.Now()
	}
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// AddNode adds a node with the given tagged ID.
//
// Description:
//
//	Parses the kind and key from id and adds a new node.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrInvalidNodeID - id has no known kind tag
//	ErrDuplicateNode - Node with same ID already exists
//	ErrMaxNodesExceeded - Graph is at node capacity
func (g *Graph) AddNode(id, label string) (*Node, error) {
	if g.IsFrozen() {
		return nil, ErrGraphFrozen
	}
	kind, key, err := ParseNodeID(id)
	if err != nil {
		return nil, err
	}
	if _, exists := g.nodes[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	if len(g.nodes) >= g.limits.MaxNodes {
		return nil, fmt.Errorf("%w: limit %d", ErrMaxNodesExceeded, g.limits.MaxNodes)
	}

	node := &Node{ID: id, Kind: kind, Key: key, Label: label}
	g.nodes[id] = node
	g.nodeOrder = append(g.nodeOrder, id)
	return node, nil
}

// EnsureNode returns the node with id, adding it (unlabeled) if absent.
func (g *Graph) EnsureNode(id string) (*Node, error) {
	if n, ok := g.nodes[id]; ok {
		return n, nil
	}
	return g.AddNode(id, "")
}

// GetNode returns the node with id.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// AddEdge adds the edge from -> to produced by relation.
//
// Description:
//
//	Both nodes must already exist. If the edge exists, relation is merged
//	into its relation set and no new edge is created.
//
// Outputs:
//
//	*Edge - The new or existing edge.
//	bool - True if a new edge was created.
//	error - ErrGraphFrozen, ErrNodeNotFound or ErrMaxEdgesExceeded.
func (g *Graph) AddEdge(fromID, toID, relation string) (*Edge, bool, error) {
	if g.IsFrozen() {
		return nil, false, ErrGraphFrozen
	}

	if e, ok := g.edgeIndex[edgeKey{fromID, toID}]; ok {
		if relation != "" && !e.HasRelation(relation) {
			e.Relations = append(e.Relations, relation)
		}
		return e, false, nil
	}

	src, ok := g.nodes[fromID]
	if !ok {
		return nil, false, fmt.Errorf("%w: source %s", ErrNodeNotFound, fromID)
	}
	dst, ok := g.nodes[toID]
	if !ok {
		return nil, false, fmt.Errorf("%w: target %s", ErrNodeNotFound, toID)
	}
	if len(g.edges) >= g.limits.MaxEdges {
		return nil, false, fmt.Errorf("%w: limit %d", ErrMaxEdgesExceeded, g.limits.MaxEdges)
	}

	edge := &Edge{FromID: fromID, ToID: toID}
	if relation != "" {
		edge.Relations = []string{relation}
	}
	g.edges = append(g.edges, edge)
	g.edgeIndex[edgeKey{fromID, toID}] = edge
	src.Outgoing = append(src.Outgoing, edge)
	dst.Incoming = append(dst.Incoming, edge)
	return edge, true, nil
}

// Connect ensures both nodes exist and adds the edge between them.
func (g *Graph) Connect(fromID, toID, relation string) (*Edge, error) {
	if _, err := g.EnsureNode(fromID); err != nil {
		return nil, err
	}
	if _, err := g.EnsureNode(toID); err != nil {
		return nil, err
	}
	e, _, err := g.AddEdge(fromID, toID, relation)
	return e, err
}

// GetEdge returns the edge from -> to, if present.
func (g *Graph) GetEdge(fromID, toID string) (*Edge, bool) {
	e, ok := g.edgeIndex[edgeKey{fromID, toID}]
	return e, ok
}

// HasEdge reports whether the edge from -> to exists.
func (g *Graph) HasEdge(fromID, toID string) bool {
	_, ok := g.edgeIndex[edgeKey{fromID, toID}]
	return ok
}

// Nodes iterates over all nodes in insertion order.
func (g *Graph) Nodes() iter.Seq2[string, *Node] {
	return func(yield func(string, *Node) bool) {
		for _, id := range g.nodeOrder {
			if !yield(id, g.nodes[id]) {
				return
			}
		}
	}
}

// NodeIDs returns all node IDs sorted lexically.
func (g *Graph) NodeIDs() []string {
	ids := append([]string(nil), g.nodeOrder...)
	sort.Strings(ids)
	return ids
}

// Edges returns all edges in insertion order. Callers should NOT modify
// the returned slice.
func (g *Graph) Edges() []*Edge {
	return g.edges
}
