// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/services/fstrace/proctree"
	"github.com/AleutianAI/fstrace/services/fstrace/series"
	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/store/memory"
	"github.com/AleutianAI/fstrace/services/fstrace/store/storetest"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
	"github.com/AleutianAI/fstrace/services/fstrace/workflow"
)

type built struct {
	store *memory.Store
	tree  *proctree.Tree
	wf    *workflow.Workflow
}

func buildFixture(t *testing.T) built {
	t.Helper()
	m := memory.New()
	storetest.Load(t, m, storetest.Fixture())

	tree, err := proctree.Build(context.Background(), m)
	require.NoError(t, err)
	wf, err := workflow.Build(context.Background(), m)
	require.NoError(t, err)
	return built{store: m, tree: tree, wf: wf}
}

func render(t *testing.T, fn func(*bytes.Buffer) error) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, fn(&buf))
	return buf.String()
}

func TestProcTreeFormats(t *testing.T) {
	b := buildFixture(t)

	gv := render(t, func(w *bytes.Buffer) error { return WriteProcTreeGV(w, b.tree) })
	assert.Equal(t, "digraph proctree {\n\t1->10;\n\t1->11;\n\t11->12;\n}\n", gv)

	sif := render(t, func(w *bytes.Buffer) error { return WriteProcTreeSIF(w, b.tree) })
	assert.Equal(t, "1 call 10\n1 call 11\n11 call 12\n", sif)

	noa := render(t, func(w *bytes.Buffer) error { return WriteProcTreeNOA(w, b.tree) })
	assert.Equal(t, "1 = tracer\n10 = /bin/cat in.txt\n11 = /usr/bin/sort -o out.txt\n12 = rm out.txt\n", noa)
}

func TestWorkflowFormats(t *testing.T) {
	b := buildFixture(t)

	sif := render(t, func(w *bytes.Buffer) error { return WriteWorkflowSIF(w, b.wf) })
	assert.Equal(t, strings.Join([]string{
		"p11 creat f6",
		"f7 unlink p12",
		"f6 rename p11",
		"p11 rename f7",
		"f5 read p11",
		"p10 write f5",
		"p11 write f6",
		"p1 fork p10",
		"p1 fork p11",
		"p11 fork p12",
	}, "\n")+"\n", sif)

	nodes := render(t, func(w *bytes.Buffer) error { return WriteWorkflowNodes(w, b.wf) })
	assert.Equal(t, strings.Join([]string{
		"id,type,info",
		"p1,proc,tracer",
		"p10,proc,/bin/cat in.txt",
		"p11,proc,/usr/bin/sort -o out.txt",
		"p12,proc,rm out.txt",
		"f5,file,/data/in.txt",
		"f6,file,/data/tmp.txt",
		"f7,file,/data/out.txt",
	}, "\n")+"\n", nodes)

	edges := render(t, func(w *bytes.Buffer) error { return WriteWorkflowEdges(w, b.wf) })
	assert.Equal(t, "id,bytes\nf5 (read) p11,2048\np10 (write) f5,4096\np11 (write) f6,10\n", edges)
}

func TestWorkflowNodes_RawFields(t *testing.T) {
	wf := &workflow.Workflow{
		Processes: []store.ProcessRecord{{PID: 10, Cmdline: `awk -F, '{print "x"}' a.csv`}},
		Files:     []store.FileRecord{{FileID: 5, Path: "/data/a,b.csv"}},
	}
	nodes := render(t, func(w *bytes.Buffer) error { return WriteWorkflowNodes(w, wf) })
	assert.Equal(t, "id,type,info\n"+
		`p10,proc,awk -F, '{print "x"}' a.csv`+"\n"+
		"f5,file,/data/a,b.csv\n", nodes)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "p10", ShortID("process:10"))
	assert.Equal(t, "f5", ShortID("file:5"))
	assert.Equal(t, "socket:1", ShortID("socket:1"))
}

func TestWriteFiles(t *testing.T) {
	b := buildFixture(t)
	dir := filepath.Join(t.TempDir(), "out")

	paths, err := WriteProcTree(dir, b.tree)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	data, err := os.ReadFile(filepath.Join(dir, ProcTreeSIF))
	require.NoError(t, err)
	assert.Equal(t, "1 call 10\n1 call 11\n11 call 12\n", string(data))

	paths, err = WriteWorkflow(dir, b.wf)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, WorkflowEdges), paths[2])

	_, err = WriteWorkflow("", b.wf)
	assert.ErrorIs(t, err, ErrNoOutputDir)
}

func TestSeriesLineProtocol(t *testing.T) {
	b := buildFixture(t)
	set, err := series.Build(context.Background(), b.store, syscall.Write)
	require.NoError(t, err)

	points := SeriesPoints("fixture", set)
	// count, elapsed, elapsed_sum, length, bytes, offset; three writes each
	require.Len(t, points, 18)

	lp := render(t, func(w *bytes.Buffer) error { return WriteLineProtocol(w, points) })
	lines := strings.Split(strings.TrimSuffix(lp, "\n"), "\n")
	require.Len(t, lines, 18)

	first := lines[0]
	assert.True(t, strings.HasPrefix(first, SeriesMeasurement+","), first)
	assert.Contains(t, first, "syscall=write")
	assert.Contains(t, first, "kind=count")
	assert.Contains(t, first, "dataset=fixture")
	assert.True(t, strings.HasSuffix(first, " 1000000000000"), first)
}

type recordingWriter struct {
	api.WriteAPIBlocking
	batches [][]*write.Point
}

func (r *recordingWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	r.batches = append(r.batches, points)
	return nil
}

func TestPushSeries(t *testing.T) {
	b := buildFixture(t)
	set, err := series.Build(context.Background(), b.store, syscall.Read, syscall.Write)
	require.NoError(t, err)
	points := SeriesPoints("fixture", set)

	w := &recordingWriter{}
	require.NoError(t, PushSeries(context.Background(), w, points))
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], len(points))

	assert.Error(t, PushSeries(context.Background(), nil, points))
}

func TestReport(t *testing.T) {
	b := buildFixture(t)
	r, err := NewReport(context.Background(), b.store, "fixture", b.tree, b.wf)
	require.NoError(t, err)

	assert.Equal(t, 1000.0, r.FirstStamp)
	assert.Equal(t, "node01", r.Env["host"])
	assert.True(t, r.ProcTree.IsDAG())
	assert.True(t, r.Workflow.NotADag, "creat and rename of f6 by one process form a cycle")
	assert.Equal(t, []string{"file:6", "process:11"}, r.Workflow.Cycle)

	require.Len(t, r.Workflow.IO, 3)
	assert.Equal(t, "p10 (write) f5", r.Workflow.IO[1].Edge)
	assert.Equal(t, "4.00KB", r.Workflow.IO[1].Volume)
	assert.Equal(t, "2.00KB/sec", r.Workflow.IO[1].Throughput)
	assert.Equal(t, "n/a", r.Workflow.IO[2].Throughput)

	names := make([]string, 0, len(r.Syscalls))
	for _, s := range r.Syscalls {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"read", "write", "rename", "creat", "unlink"}, names)

	out := render(t, func(w *bytes.Buffer) error { return WriteReport(w, r) })
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "fixture", decoded["dataset_id"])
	wf := decoded["workflow"].(map[string]any)
	assert.Equal(t, true, wf["not_a_dag"])
	assert.EqualValues(t, 3, wf["files"])
}
