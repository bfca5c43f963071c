// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proctree builds the process ancestry forest of a trace.
//
// Every process record becomes a node and every record except the sentinel
// root contributes one parent -> child edge. Nodes carry display labels
// derived from the command line; dead processes also show their lifetime.
package proctree

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/AleutianAI/fstrace/services/fstrace/graph"
	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/units"
)

// GraphName names process tree graphs in exports and telemetry.
const GraphName = "proctree"

// ForkRelation is the relation recorded on parent -> child edges.
const ForkRelation = "fork"

// Verbosity selects how much of a command line a label shows.
type Verbosity int

const (
	// VerbosityBase shows the base name of argv[0].
	VerbosityBase Verbosity = iota

	// VerbosityCommand shows argv[0] as written.
	VerbosityCommand

	// VerbosityFull shows the whole command line.
	VerbosityFull
)

// ShortCmdline shortens a command line for display.
func ShortCmdline(cmdline string, v Verbosity) string {
	switch {
	case v >= VerbosityFull:
		return cmdline
	case v == VerbosityCommand:
		argv0, _, _ := strings.Cut(cmdline, " ")
		return argv0
	default:
		argv0, _, _ := strings.Cut(cmdline, " ")
		return path.Base(argv0)
	}
}

// Options configures Build.
type Options struct {
	Verbosity Verbosity
}

// Option is a functional option for Build.
type Option func(*Options)

// WithVerbosity sets the label verbosity.
func WithVerbosity(v Verbosity) Option {
	return func(o *Options) {
		o.Verbosity = v
	}
}

// Tree is a built process forest.
type Tree struct {
	// Graph holds process nodes and fork edges. Frozen.
	Graph *graph.Graph

	// Unit is the display unit chosen for dead process lifetimes.
	Unit units.TimeUnit

	// Processes are the records the tree was built from, in store order.
	Processes []store.ProcessRecord
}

// Label returns the display label of pid, or "" if pid has no record.
func (t *Tree) Label(pid int64) string {
	if n, ok := t.Graph.GetNode(graph.ProcessNodeID(pid)); ok {
		return n.Label
	}
	return ""
}

// Build constructs the process tree from the store's process records.
//
// Description:
//
//	Adds a node per process record, then an edge ppid -> pid for every
//	record except the sentinel (pid == ppid == 1). A parent without its own
//	record still gets a node, with no label. The lifetime unit is chosen
//	once from the mean lifetime of dead processes and applied to all of them.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	idx - The trace index.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Tree - The frozen tree.
//	error - Non-nil if the store query or graph construction fails.
func Build(ctx context.Context, idx store.Index, opts ...Option) (_ *Tree, err error) {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := graph.StartBuildSpan(ctx, GraphName)
	start := time.Now()
	g := graph.NewGraph(GraphName)
	defer func() {
		graph.EndBuildSpan(span, g, err)
		graph.RecordBuild(ctx, GraphName, time.Since(start), g.NodeCount(), g.EdgeCount(), err == nil)
	}()

	procs, err := idx.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	unit := lifetimeUnit(procs)
	for _, p := range procs {
		label := ShortCmdline(p.Cmdline, options.Verbosity)
		if !p.Alive {
			label = fmt.Sprintf("%s#%s", label, unit.Format(p.Elapsed))
		}
		if _, err := g.AddNode(graph.ProcessNodeID(p.PID), label); err != nil {
			return nil, fmt.Errorf("adding process %d: %w", p.PID, err)
		}
	}

	for _, p := range procs {
		if p.IsSentinel() {
			continue
		}
		if _, err := g.Connect(graph.ProcessNodeID(p.PPID), graph.ProcessNodeID(p.PID), ForkRelation); err != nil {
			return nil, fmt.Errorf("adding fork %d -> %d: %w", p.PPID, p.PID, err)
		}
	}

	g.Freeze()
	return &Tree{Graph: g, Unit: unit, Processes: procs}, nil
}

// lifetimeUnit picks the display unit from the mean lifetime of dead
// processes; seconds when none are dead.
func lifetimeUnit(procs []store.ProcessRecord) units.TimeUnit {
	var (
		sum  float64
		dead int
	)
	for _, p := range procs {
		if !p.Alive {
			sum += p.Elapsed
			dead++
		}
	}
	if dead == 0 {
		return units.Second
	}
	return units.ChooseTimeUnit(sum / float64(dead))
}
