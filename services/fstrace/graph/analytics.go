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
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NodeCounts returns the number of file and process nodes, classified by
// their ID tag.
func (g *Graph) NodeCounts() (files, processes int) {
	for _, n := range g.nodes {
		switch n.Kind {
		case NodeKindFile:
			files++
		case NodeKindProcess:
			processes++
		}
	}
	return files, processes
}

// DegreeStats are graph-wide means of per-node structural metrics.
type DegreeStats struct {
	// AvgDegree is the mean of in-degree + out-degree.
	AvgDegree float64 `json:"avg_degree"`

	// AvgDegreeCentrality is the mean of degree / (n-1).
	AvgDegreeCentrality float64 `json:"avg_degree_centrality"`

	// AvgBetweenness is the mean normalized betweenness centrality.
	AvgBetweenness float64 `json:"avg_betweenness"`

	// AvgCloseness is the mean closeness centrality (incoming distances).
	AvgCloseness float64 `json:"avg_closeness"`
}

// DegreeStats computes the mean degree and centralities over all nodes.
// An empty graph yields all zeros.
func (g *Graph) DegreeStats() DegreeStats {
	n := len(g.nodeOrder)
	if n == 0 {
		return DegreeStats{}
	}
	var deg float64
	for _, id := range g.nodeOrder {
		deg += float64(g.nodes[id].Degree())
	}
	return DegreeStats{
		AvgDegree:           deg / float64(n),
		AvgDegreeCentrality: g.mean(g.DegreeCentrality()),
		AvgBetweenness:      g.mean(g.Betweenness()),
		AvgCloseness:        g.mean(g.Closeness()),
	}
}

// DegreeCentrality returns degree / (n-1) per node. A single-node graph
// gives that node centrality 1.
func (g *Graph) DegreeCentrality() map[string]float64 {
	out := make(map[string]float64, len(g.nodes))
	n := len(g.nodes)
	for id, node := range g.nodes {
		if n <= 1 {
			out[id] = 1
			continue
		}
		out[id] = float64(node.Degree()) / float64(n-1)
	}
	return out
}

// Betweenness returns the betweenness centrality of every node, computed
// with Brandes' algorithm over directed shortest paths and normalized by
// 1/((n-1)(n-2)) when n > 2.
func (g *Graph) Betweenness() map[string]float64 {
	ids, adj := g.adjacency(false)
	n := len(ids)
	cb := make([]float64, n)

	for s := 0; s < n; s++ {
		stack := make([]int, 0, n)
		pred := make([][]int, n)
		sigma := make([]float64, n)
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		sigma[s] = 1
		dist[s] = 0

		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make([]float64, n)
		for len(stack) > 0 {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, v := range pred[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}

	scale := 1.0
	if n > 2 {
		scale = 1 / float64((n-1)*(n-2))
	}
	out := make(map[string]float64, n)
	for i, id := range ids {
		out[id] = cb[i] * scale
	}
	return out
}

// Closeness returns the closeness centrality of every node.
//
// Distances are measured towards the node (over incoming edges). With r the
// number of nodes that reach u and d their total distance, closeness is
// (r/d) * (r/(n-1)), the Wasserman-Faust correction for graphs that are not
// strongly connected. Nodes reached by nobody score 0.
func (g *Graph) Closeness() map[string]float64 {
	ids, radj := g.adjacency(true)
	n := len(ids)
	out := make(map[string]float64, n)

	dist := make([]int, n)
	for u := 0; u < n; u++ {
		for i := range dist {
			dist[i] = -1
		}
		dist[u] = 0
		queue := []int{u}
		reached, total := 0, 0
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for _, w := range radj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					reached++
					total += dist[w]
					queue = append(queue, w)
				}
			}
		}
		c := 0.0
		if total > 0 && n > 1 {
			r := float64(reached)
			c = (r / float64(total)) * (r / float64(n-1))
		}
		out[ids[u]] = c
	}
	return out
}

// CycleError reports the nodes that lie on directed cycles.
type CycleError struct {
	// Nodes are the IDs of nodes on cycles, sorted.
	Nodes []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: cycle through %s", ErrNotADag, strings.Join(e.Nodes, ", "))
}

// Unwrap returns ErrNotADag.
func (e *CycleError) Unwrap() error {
	return ErrNotADag
}

// TopologicalOrder returns the node IDs in a causal order.
//
// Description:
//
//	Runs Kahn's algorithm. Among nodes that are ready at the same time the
//	smallest ID goes first, so the order is deterministic.
//
// Outputs:
//
//	[]string - Every node ID, each after all of its predecessors.
//	error - *CycleError (wrapping ErrNotADag) if the graph has a cycle.
func (g *Graph) TopologicalOrder() ([]string, error) {
	indeg := make(map[string]int, len(g.nodes))
	ready := &stringHeap{}
	for id, n := range g.nodes {
		indeg[id] = len(n.Incoming)
		if indeg[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, e := range g.nodes[id].Outgoing {
			indeg[e.ToID]--
			if indeg[e.ToID] == 0 {
				heap.Push(ready, e.ToID)
			}
		}
	}

	if len(order) < len(g.nodes) {
		return nil, &CycleError{Nodes: g.cycleNodes(indeg)}
	}
	return order, nil
}

// IsDAG reports whether the graph has no directed cycle.
func (g *Graph) IsDAG() bool {
	_, err := g.TopologicalOrder()
	return !errors.Is(err, ErrNotADag)
}

// cycleNodes returns the nodes, among those Kahn could not order, that sit in
// a strongly connected component with a cycle. Nodes merely downstream of a
// cycle are excluded.
func (g *Graph) cycleNodes(indeg map[string]int) []string {
	var left []string
	for id, d := range indeg {
		if d > 0 {
			left = append(left, id)
		}
	}
	sort.Strings(left)

	var (
		index   = make(map[string]int)
		low     = make(map[string]int)
		onStack = make(map[string]bool)
		stack   []string
		next    int
		out     []string
	)
	var strongConnect func(v string)
	strongConnect = func(v string) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, e := range g.nodes[v].Outgoing {
			w := e.ToID
			if indeg[w] == 0 {
				continue
			}
			if _, seen := index[w]; !seen {
				strongConnect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var comp []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		if len(comp) > 1 || g.HasEdge(v, v) {
			out = append(out, comp...)
		}
	}
	for _, v := range left {
		if _, seen := index[v]; !seen {
			strongConnect(v)
		}
	}
	sort.Strings(out)
	return out
}

// Analysis bundles the structural metrics of a graph.
type Analysis struct {
	Files     int         `json:"files"`
	Processes int         `json:"processes"`
	Edges     int         `json:"edges"`
	Degree    DegreeStats `json:"degree"`

	// Order is the topological order, empty when the graph is cyclic.
	Order []string `json:"order,omitempty"`

	// Cycle lists the nodes on cycles when the graph is not a DAG.
	Cycle []string `json:"cycle,omitempty"`
}

// IsDAG reports whether the analysis found a topological order.
func (a Analysis) IsDAG() bool {
	return len(a.Cycle) == 0
}

// Analyze computes node counts, degree statistics and the topological order.
//
// A cycle is not an error here: it is reported in Analysis.Cycle so callers
// can continue with the rest of their pipeline.
func (g *Graph) Analyze(ctx context.Context) Analysis {
	ctx, span := tracer.Start(ctx, g.Name+".Analyze", trace.WithAttributes(
		attribute.String("graph", g.Name),
		attribute.Int("graph.nodes", len(g.nodes)),
		attribute.Int("graph.edges", len(g.edges)),
	))
	defer span.End()
	start := time.Now()

	a := Analysis{Edges: len(g.edges), Degree: g.DegreeStats()}
	a.Files, a.Processes = g.NodeCounts()

	order, err := g.TopologicalOrder()
	var cycle *CycleError
	if errors.As(err, &cycle) {
		a.Cycle = cycle.Nodes
	} else {
		a.Order = order
	}

	span.SetAttributes(attribute.Bool("graph.dag", a.IsDAG()))
	recordAnalysis(ctx, g.Name, time.Since(start), a.IsDAG())
	return a
}

// adjacency returns node IDs in insertion order and index-based adjacency
// lists (outgoing, or incoming when reverse is set).
func (g *Graph) adjacency(reverse bool) ([]string, [][]int) {
	ids := g.nodeOrder
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	adj := make([][]int, len(ids))
	for _, e := range g.edges {
		from, to := pos[e.FromID], pos[e.ToID]
		if reverse {
			from, to = to, from
		}
		adj[from] = append(adj[from], to)
	}
	return ids, adj
}

// mean averages per-node values in insertion order, so repeated runs sum
// in the same order.
func (g *Graph) mean(m map[string]float64) float64 {
	if len(g.nodeOrder) == 0 {
		return 0
	}
	var sum float64
	for _, id := range g.nodeOrder {
		sum += m[id]
	}
	return sum / float64(len(g.nodeOrder))
}

// stringHeap is a min-heap of node IDs.
type stringHeap []string

func (h stringHeap) Len() int           { return len(h) }
func (h stringHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stringHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stringHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *stringHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
