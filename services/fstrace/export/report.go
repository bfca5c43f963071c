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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/fstrace/services/fstrace/graph"
	"github.com/AleutianAI/fstrace/services/fstrace/proctree"
	"github.com/AleutianAI/fstrace/services/fstrace/stats"
	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/units"
	"github.com/AleutianAI/fstrace/services/fstrace/workflow"
)

// ReportJSON is the file written by WriteReportFile.
const ReportJSON = "report.json"

// Report is the JSON summary of one trace.
type Report struct {
	DatasetID   string                 `json:"dataset_id,omitempty"`
	GeneratedAt time.Time              `json:"generated_at"`
	Env         map[string]string      `json:"env,omitempty"`
	FirstStamp  float64                `json:"first_timestamp"`
	Syscalls    []stats.SyscallSummary `json:"syscalls"`
	ProcTree    graph.Analysis         `json:"proctree"`
	Workflow    WorkflowReport         `json:"workflow"`
}

// WorkflowReport is the workflow graph section of a Report.
type WorkflowReport struct {
	graph.Analysis

	// NotADag is set when the workflow has a cycle; Cycle names its nodes.
	NotADag bool `json:"not_a_dag"`

	IO []IOReport `json:"io"`
}

// IOReport describes one read or write edge.
type IOReport struct {
	Edge       string  `json:"edge"`
	Calls      int     `json:"calls"`
	Bytes      float64 `json:"bytes"`
	Volume     string  `json:"volume"`
	Elapsed    float64 `json:"elapsed"`
	Throughput string  `json:"throughput"`
}

// NewReport assembles a report from a store and the graphs built from it.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	idx - The trace index.
//	datasetID - Ingestion id, may be empty.
//	tree - The built process tree.
//	wf - The built workflow.
//
// Outputs:
//
//	*Report - The report. A cyclic workflow is reported, not returned as error.
//	error - Non-nil if a store query fails.
func NewReport(ctx context.Context, idx store.Index, datasetID string, tree *proctree.Tree, wf *workflow.Workflow) (*Report, error) {
	summary, err := stats.New(idx).Summary(ctx)
	if err != nil {
		return nil, err
	}
	first, err := idx.FirstTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading first timestamp: %w", err)
	}
	env, err := idx.Env(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	r := &Report{
		DatasetID:   datasetID,
		GeneratedAt: time.Now().UTC(),
		FirstStamp:  first,
		Syscalls:    summary,
		ProcTree:    tree.Graph.Analyze(ctx),
	}
	if len(env) > 0 {
		r.Env = make(map[string]string, len(env))
		for _, e := range env {
			r.Env[e.Key] = e.Value
		}
	}

	r.Workflow.Analysis = wf.Graph.Analyze(ctx)
	r.Workflow.NotADag = !r.Workflow.IsDAG()
	r.Workflow.IO = make([]IOReport, 0, len(wf.IO))
	for _, e := range wf.IO {
		r.Workflow.IO = append(r.Workflow.IO, IOReport{
			Edge:       fmt.Sprintf("%s (%s) %s", ShortID(e.From), e.Relation, ShortID(e.To)),
			Calls:      e.Calls,
			Bytes:      e.Bytes,
			Volume:     units.FormatBytes(e.Bytes),
			Elapsed:    e.Elapsed,
			Throughput: e.Throughput.String(),
		})
	}
	return r, nil
}

// WriteReport writes r as indented JSON.
func WriteReport(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteReportFile writes report.json into dir and returns its path.
func WriteReportFile(dir string, r *Report) ([]string, error) {
	return writeFiles(dir, []fileWriter{
		{ReportJSON, func(w io.Writer) error { return WriteReport(w, r) }},
	})
}
