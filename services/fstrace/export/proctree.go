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

	"github.com/AleutianAI/fstrace/services/fstrace/proctree"
)

// File names written by WriteProcTree.
const (
	ProcTreeGV  = "proctree.gv"
	ProcTreeSIF = "proctree.sif"
	ProcTreeNOA = "proctree.noa"
)

// WriteProcTreeGV writes the tree as a Graphviz digraph of pids.
// The sentinel root is omitted.
func WriteProcTreeGV(w io.Writer, t *proctree.Tree) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "digraph %s {\n", proctree.GraphName)
	for _, p := range t.Processes {
		if p.IsSentinel() {
			continue
		}
		fmt.Fprintf(bw, "\t%d->%d;\n", p.PPID, p.PID)
	}
	fmt.Fprint(bw, "}\n")
	return bw.Flush()
}

// WriteProcTreeSIF writes one "<ppid> call <pid>" line per fork edge.
func WriteProcTreeSIF(w io.Writer, t *proctree.Tree) error {
	bw := bufio.NewWriter(w)
	for _, p := range t.Processes {
		if p.IsSentinel() {
			continue
		}
		fmt.Fprintf(bw, "%d call %d\n", p.PPID, p.PID)
	}
	return bw.Flush()
}

// WriteProcTreeNOA writes "<pid> = <cmdline>" node attributes for every
// process record.
func WriteProcTreeNOA(w io.Writer, t *proctree.Tree) error {
	bw := bufio.NewWriter(w)
	for _, p := range t.Processes {
		fmt.Fprintf(bw, "%d = %s\n", p.PID, p.Cmdline)
	}
	return bw.Flush()
}

// WriteProcTree writes the gv, sif and noa files into dir and returns their
// paths.
func WriteProcTree(dir string, t *proctree.Tree) ([]string, error) {
	return writeFiles(dir, []fileWriter{
		{ProcTreeGV, func(w io.Writer) error { return WriteProcTreeGV(w, t) }},
		{ProcTreeSIF, func(w io.Writer) error { return WriteProcTreeSIF(w, t) }},
		{ProcTreeNOA, func(w io.Writer) error { return WriteProcTreeNOA(w, t) }},
	})
}
