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
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/AleutianAI/fstrace/services/fstrace/graph"
	"github.com/AleutianAI/fstrace/services/fstrace/workflow"
)

// File names written by WriteWorkflow.
const (
	WorkflowSIF   = "workflow.sif"
	WorkflowNodes = "workflow-nodes.csv"
	WorkflowEdges = "workflow-edges.csv"
)

// ShortID converts a graph node id to the compact p<pid> / f<fid> form.
// Ids that do not parse are returned unchanged.
func ShortID(id string) string {
	kind, key, err := graph.ParseNodeID(id)
	if err != nil {
		return id
	}
	if kind == graph.NodeKindProcess {
		return "p" + strconv.FormatInt(key, 10)
	}
	return "f" + strconv.FormatInt(key, 10)
}

// WriteWorkflowSIF writes one "<src> <relation> <dst>" line per distinct
// relation, in category order.
func WriteWorkflowSIF(w io.Writer, wf *workflow.Workflow) error {
	bw := bufio.NewWriter(w)
	for _, r := range wf.Relations {
		fmt.Fprintf(bw, "%s %s %s\n", ShortID(r.From), r.Name, ShortID(r.To))
	}
	return bw.Flush()
}

// WriteWorkflowNodes writes the id,type,info table of every process and
// file record, participating or not. Rows are written raw: a command line or
// path containing a comma is not quoted.
func WriteWorkflowNodes(w io.Writer, wf *workflow.Workflow) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("id,type,info\n")
	for _, p := range wf.Processes {
		fmt.Fprintf(bw, "%s,proc,%s\n", ShortID(graph.ProcessNodeID(p.PID)), p.Cmdline)
	}
	for _, f := range wf.Files {
		fmt.Fprintf(bw, "%s,file,%s\n", ShortID(graph.FileNodeID(f.FileID)), f.Path)
	}
	return bw.Flush()
}

// WriteWorkflowEdges writes the id,bytes table of read and write edges,
// e.g. "f5 (read) p10,4096".
func WriteWorkflowEdges(w io.Writer, wf *workflow.Workflow) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("id,bytes\n")
	for _, e := range wf.IO {
		fmt.Fprintf(bw, "%s (%s) %s,%d\n", ShortID(e.From), e.Relation, ShortID(e.To), int64(e.Bytes))
	}
	return bw.Flush()
}

// WriteWorkflow writes the sif and both csv files into dir and returns their
// paths.
func WriteWorkflow(dir string, wf *workflow.Workflow) ([]string, error) {
	return writeFiles(dir, []fileWriter{
		{WorkflowSIF, func(w io.Writer) error { return WriteWorkflowSIF(w, wf) }},
		{WorkflowNodes, func(w io.Writer) error { return WriteWorkflowNodes(w, wf) }},
		{WorkflowEdges, func(w io.Writer) error { return WriteWorkflowEdges(w, wf) }},
	})
}
