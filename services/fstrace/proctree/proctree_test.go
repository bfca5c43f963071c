// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proctree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/services/fstrace/graph"
	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/store/memory"
	"github.com/AleutianAI/fstrace/services/fstrace/store/storetest"
	"github.com/AleutianAI/fstrace/services/fstrace/units"
)

func buildFrom(t *testing.T, procs []store.ProcessRecord, opts ...Option) *Tree {
	t.Helper()
	m := memory.New()
	storetest.Load(t, m, &store.Dataset{ID: "t", Processes: procs})
	tree, err := Build(context.Background(), m, opts...)
	require.NoError(t, err)
	return tree
}

func TestShortCmdline(t *testing.T) {
	const cmd = "/usr/bin/sort -o out.txt in.txt"
	assert.Equal(t, "sort", ShortCmdline(cmd, VerbosityBase))
	assert.Equal(t, "/usr/bin/sort", ShortCmdline(cmd, VerbosityCommand))
	assert.Equal(t, cmd, ShortCmdline(cmd, VerbosityFull))
	assert.Equal(t, "sort", ShortCmdline(cmd, Verbosity(-1)))
	assert.Equal(t, "make", ShortCmdline("make", VerbosityBase))
}

func TestBuild_OneInboundEdgePerNonSentinel(t *testing.T) {
	tree := buildFrom(t, storetest.Fixture().Processes)
	g := tree.Graph

	assert.True(t, g.IsFrozen())
	assert.Equal(t, 4, g.NodeCount())
	assert.Equal(t, 3, g.EdgeCount())

	for _, p := range tree.Processes {
		n, ok := g.GetNode(graph.ProcessNodeID(p.PID))
		require.True(t, ok)
		if p.IsSentinel() {
			assert.Empty(t, n.Incoming, "sentinel never becomes an edge")
			continue
		}
		require.Len(t, n.Incoming, 1, "pid %d", p.PID)
		assert.Equal(t, graph.ProcessNodeID(p.PPID), n.Incoming[0].FromID)
		assert.True(t, n.Incoming[0].HasRelation(ForkRelation))
	}
	assert.False(t, g.HasEdge(graph.ProcessNodeID(1), graph.ProcessNodeID(1)))
	assert.True(t, g.IsDAG())
}

func TestBuild_Labels(t *testing.T) {
	procs := storetest.Fixture().Processes // dead: 4ms and 2ms, mean 3ms

	t.Run("base names with dead lifetimes", func(t *testing.T) {
		tree := buildFrom(t, procs)
		assert.Equal(t, units.Millisecond, tree.Unit)
		assert.Equal(t, "tracer", tree.Label(1))
		assert.Equal(t, "cat#4.00ms", tree.Label(10))
		assert.Equal(t, "sort#2.00ms", tree.Label(11))
		assert.Equal(t, "rm", tree.Label(12))
	})

	t.Run("full command line", func(t *testing.T) {
		tree := buildFrom(t, procs, WithVerbosity(VerbosityFull))
		assert.Equal(t, "/usr/bin/sort -o out.txt#2.00ms", tree.Label(11))
	})

	t.Run("no dead processes uses seconds", func(t *testing.T) {
		tree := buildFrom(t, []store.ProcessRecord{{PID: 1, PPID: 1, Alive: true, Cmdline: "init"}})
		assert.Equal(t, units.Second, tree.Unit)
	})
}

func TestBuild_ParentWithoutRecord(t *testing.T) {
	tree := buildFrom(t, []store.ProcessRecord{
		{PID: 20, PPID: 7, Alive: true, Cmdline: "orphan"},
	})
	assert.True(t, tree.Graph.HasEdge(graph.ProcessNodeID(7), graph.ProcessNodeID(20)))
	assert.Empty(t, tree.Label(7))
	assert.Empty(t, tree.Label(99))
}
