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
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("fstrace.graph")
	meter  = otel.Meter("fstrace.graph")
)

// instruments are the graph metrics, created on first use.
type instruments struct {
	buildSeconds   metric.Float64Histogram
	builds         metric.Int64Counter
	nodes          metric.Int64Histogram
	edges          metric.Int64Histogram
	analyzeSeconds metric.Float64Histogram
	cycles         metric.Int64Counter
}

var (
	inst     *instruments
	instOnce sync.Once
)

// loadInstruments returns nil when any instrument could not be created.
func loadInstruments() *instruments {
	instOnce.Do(func() {
		var (
			i    instruments
			errs [6]error
		)
		i.buildSeconds, errs[0] = meter.Float64Histogram("fstrace_graph_build_seconds",
			metric.WithDescription("Time to build a process tree or workflow graph"),
			metric.WithUnit("s"))
		i.builds, errs[1] = meter.Int64Counter("fstrace_graph_builds_total",
			metric.WithDescription("Graph builds by graph and outcome"))
		i.nodes, errs[2] = meter.Int64Histogram("fstrace_graph_nodes",
			metric.WithDescription("Nodes in a built graph"))
		i.edges, errs[3] = meter.Int64Histogram("fstrace_graph_edges",
			metric.WithDescription("Edges in a built graph"))
		i.analyzeSeconds, errs[4] = meter.Float64Histogram("fstrace_graph_analyze_seconds",
			metric.WithDescription("Time to compute counts, centralities and order"),
			metric.WithUnit("s"))
		i.cycles, errs[5] = meter.Int64Counter("fstrace_graph_cycles_total",
			metric.WithDescription("Analyses that found a graph is not a DAG"))
		if errors.Join(errs[:]...) == nil {
			inst = &i
		}
	})
	return inst
}

// RecordBuild records a finished build of the named graph. Node and edge
// counts are recorded for successful builds only.
func RecordBuild(ctx context.Context, graphName string, took time.Duration, nodeCount, edgeCount int, success bool) {
	i := loadInstruments()
	if i == nil {
		return
	}
	named := attribute.String("graph", graphName)
	i.buildSeconds.Record(ctx, took.Seconds(), metric.WithAttributes(named))
	i.builds.Add(ctx, 1, metric.WithAttributes(named, attribute.Bool("success", success)))
	if success {
		i.nodes.Record(ctx, int64(nodeCount), metric.WithAttributes(named))
		i.edges.Record(ctx, int64(edgeCount), metric.WithAttributes(named))
	}
}

func recordAnalysis(ctx context.Context, graphName string, took time.Duration, dag bool) {
	i := loadInstruments()
	if i == nil {
		return
	}
	named := metric.WithAttributes(attribute.String("graph", graphName))
	i.analyzeSeconds.Record(ctx, took.Seconds(), named)
	if !dag {
		i.cycles.Add(ctx, 1, named)
	}
}

// StartBuildSpan starts the span of a graph build. End it with EndBuildSpan.
func StartBuildSpan(ctx context.Context, graphName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, graphName+".Build", trace.WithAttributes(attribute.String("graph", graphName)))
}

// EndBuildSpan annotates span with the size of g and the build error, then
// ends it. g may be nil.
func EndBuildSpan(span trace.Span, g *Graph, err error) {
	if g != nil {
		span.SetAttributes(
			attribute.Int("graph.nodes", g.NodeCount()),
			attribute.Int("graph.edges", g.EdgeCount()),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
