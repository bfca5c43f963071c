// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/services/fstrace/graph"
	"github.com/AleutianAI/fstrace/services/fstrace/proctree"
	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/store/memory"
	"github.com/AleutianAI/fstrace/services/fstrace/store/storetest"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

var (
	p = graph.ProcessNodeID
	f = graph.FileNodeID
)

func buildFrom(t *testing.T, ds *store.Dataset, opts ...Option) *Workflow {
	t.Helper()
	m := memory.New()
	storetest.Load(t, m, ds)
	w, err := Build(context.Background(), m, opts...)
	require.NoError(t, err)
	return w
}

func TestBuild_Fixture(t *testing.T) {
	w := buildFrom(t, storetest.Fixture())
	g := w.Graph
	require.True(t, g.IsFrozen())

	files, procs := g.NodeCounts()
	assert.Equal(t, 3, files)
	assert.Equal(t, 4, procs)
	assert.Equal(t, 9, g.EdgeCount())

	assert.Equal(t, []Relation{
		{From: p(11), To: f(6), Name: "creat"},
		{From: f(7), To: p(12), Name: "unlink"},
		{From: f(6), To: p(11), Name: "rename"},
		{From: p(11), To: f(7), Name: "rename"},
		{From: f(5), To: p(11), Name: "read"},
		{From: p(10), To: f(5), Name: "write"},
		{From: p(11), To: f(6), Name: "write"},
		{From: p(1), To: p(10), Name: "fork"},
		{From: p(1), To: p(11), Name: "fork"},
		{From: p(11), To: p(12), Name: "fork"},
	}, w.Relations)

	e, ok := g.GetEdge(p(11), f(6))
	require.True(t, ok)
	assert.Equal(t, []string{"creat", "write"}, e.Relations)

	assert.Len(t, w.Processes, 4)
	assert.Len(t, w.Files, 3)
}

func TestBuild_ReadSuppressedByWrite(t *testing.T) {
	w := buildFrom(t, storetest.Fixture())

	// pid 10 reads f5 after writing it.
	assert.True(t, w.Graph.HasEdge(p(10), f(5)))
	assert.False(t, w.Graph.HasEdge(f(5), p(10)))
	_, ok := w.EdgeIO(f(5), p(10))
	assert.False(t, ok)

	assert.True(t, w.Graph.HasEdge(f(5), p(11)))
}

func TestBuild_ReadSuppressedRegardlessOfOrder(t *testing.T) {
	ds := &store.Dataset{
		ID:        "order",
		Files:     []store.FileRecord{{FileID: 1, Path: "/a"}},
		Processes: []store.ProcessRecord{{PID: 1, PPID: 1, Alive: true, Cmdline: "init"}, {PID: 2, PPID: 1, Alive: true, Cmdline: "cp"}},
		Events: []store.SyscallEvent{
			{Stamp: 1, PID: 2, Syscall: syscall.Read, FileID: 1, Elapsed: 0.1, Aux1: 10},
			{Stamp: 2, PID: 2, Syscall: syscall.Creat, FileID: 1, Elapsed: 0.1},
		},
	}
	w := buildFrom(t, ds)
	assert.True(t, w.Graph.HasEdge(p(2), f(1)))
	assert.False(t, w.Graph.HasEdge(f(1), p(2)))
	assert.True(t, w.Graph.IsDAG())
}

func TestBuild_IOAggregates(t *testing.T) {
	w := buildFrom(t, storetest.Fixture())

	write, ok := w.EdgeIO(p(10), f(5))
	require.True(t, ok)
	assert.Equal(t, "write", write.Relation)
	assert.Equal(t, 2, write.Calls)
	assert.Equal(t, 4096.0, write.Bytes)
	assert.InDelta(t, 2.0, write.Elapsed, 1e-12)
	require.True(t, write.Throughput.Defined)
	assert.InDelta(t, 2048.0, write.Throughput.BytesPerSec, 1e-9)

	read, ok := w.EdgeIO(f(5), p(11))
	require.True(t, ok)
	assert.Equal(t, 2048.0, read.Bytes)
	assert.InDelta(t, 4096.0, read.Throughput.BytesPerSec, 1e-9)

	zero, ok := w.EdgeIO(p(11), f(6))
	require.True(t, ok)
	assert.Equal(t, 10.0, zero.Bytes)
	assert.False(t, zero.Throughput.Defined)
	assert.Equal(t, "n/a", zero.Throughput.String())

	// reads are listed before writes
	require.Len(t, w.IO, 3)
	assert.Equal(t, "read", w.IO[0].Relation)
	assert.Equal(t, "write", w.IO[1].Relation)
	assert.Equal(t, "write", w.IO[2].Relation)
}

func TestBuild_Labels(t *testing.T) {
	w := buildFrom(t, storetest.Fixture(), WithVerbosity(proctree.VerbosityCommand))

	n, ok := w.Graph.GetNode(p(11))
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/sort", n.Label)

	n, ok = w.Graph.GetNode(f(7))
	require.True(t, ok)
	assert.Equal(t, "/data/out.txt", n.Label)
}

func TestBuild_OnlyParticipatingFiles(t *testing.T) {
	ds := storetest.Fixture()
	ds.Files = append(ds.Files, store.FileRecord{FileID: 99, Path: "/untouched"})
	w := buildFrom(t, ds)

	_, ok := w.Graph.GetNode(f(99))
	assert.False(t, ok)
	assert.Len(t, w.Files, 4, "inventory still lists every file")
}

func TestBuild_RenameCycle(t *testing.T) {
	// creat/rename of f6 by pid 11 closes f6 -> p11 -> f6
	w := buildFrom(t, storetest.Fixture())
	_, err := w.Graph.TopologicalOrder()
	assert.ErrorIs(t, err, graph.ErrNotADag)
}

func TestBuild_Cancelled(t *testing.T) {
	m := memory.New()
	storetest.Load(t, m, storetest.Fixture())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, m)
	assert.ErrorIs(t, err, context.Canceled)
}
