// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/fstrace/services/fstrace/config"
	"github.com/AleutianAI/fstrace/services/fstrace/export"
	"github.com/AleutianAI/fstrace/services/fstrace/graph"
	"github.com/AleutianAI/fstrace/services/fstrace/proctree"
	"github.com/AleutianAI/fstrace/services/fstrace/series"
	"github.com/AleutianAI/fstrace/services/fstrace/stats"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
	"github.com/AleutianAI/fstrace/services/fstrace/units"
	"github.com/AleutianAI/fstrace/services/fstrace/workflow"
)

func traceDirArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// withSession opens the session for args and runs fn against it.
func withSession(cmd *cobra.Command, args []string, fn func(context.Context, *session) error) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, current.cfg, current.logger.Slog(), traceDirArg(args))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			current.logger.Warn("closing store", "error", cerr)
		}
	}()
	if s.ingested != nil {
		printIngested(s)
	}
	return fn(ctx, s)
}

func printIngested(s *session) {
	ds := s.ingested
	current.out.Success(fmt.Sprintf("ingested %s events, %s files, %s processes",
		humanize.Comma(int64(len(ds.Events))),
		humanize.Comma(int64(len(ds.Files))),
		humanize.Comma(int64(len(ds.Processes))),
	))
	current.logger.Info("trace ingested",
		"dataset_id", ds.ID,
		"events", len(ds.Events),
		"backend", current.cfg.Store.Backend,
	)
}

// =============================================================================
// IMPORT
// =============================================================================

func runImport(cmd *cobra.Command, args []string) error {
	if current.cfg.Store.Backend == config.BackendMemory {
		return ErrNotPersistent
	}
	return withSession(cmd, args, func(_ context.Context, s *session) error {
		current.out.KeyValues([][2]string{
			{"dataset", s.datasetID},
			{"backend", current.cfg.Store.Backend},
			{"path", current.cfg.Store.Path},
		})
		return nil
	})
}

// =============================================================================
// STATS
// =============================================================================

func runStats(cmd *cobra.Command, args []string) error {
	var codes []syscall.Code
	if cmd.Flags().Changed("syscall") {
		var err error
		if codes, err = syscall.ParseList(flagSyscalls); err != nil {
			return err
		}
	}
	return withSession(cmd, args, func(ctx context.Context, s *session) error {
		summary, err := stats.New(s.backend).Summary(ctx, codes...)
		if err != nil {
			return err
		}
		current.out.Title("Syscalls")
		printSummary(summary)
		return nil
	})
}

func printSummary(summary []stats.SyscallSummary) {
	rows := make([][]string, 0, len(summary))
	for _, s := range summary {
		unit := units.ChooseTimeUnit(s.ElapsedMean)
		bytes := "-"
		if s.Bytes > 0 {
			bytes = units.FormatBytes(s.Bytes)
		}
		rows = append(rows, []string{
			s.Name,
			humanize.Comma(int64(s.Count)),
			units.ChooseTimeUnit(s.ElapsedSum).Format(s.ElapsedSum),
			unit.Format(s.ElapsedMean),
			unit.Format(s.ElapsedStdDev),
			bytes,
		})
	}
	current.out.Table([]string{"syscall", "count", "total", "mean", "stddev", "bytes"}, rows)
}

// =============================================================================
// PROCTREE
// =============================================================================

func runProcTree(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args, func(ctx context.Context, s *session) error {
		tree, err := proctree.Build(ctx, s.backend, proctree.WithVerbosity(current.cfg.Verbosity()))
		if err != nil {
			return err
		}
		paths, err := export.WriteProcTree(current.cfg.Render.OutputDir, tree)
		if err != nil {
			return err
		}
		current.out.Title("Process tree")
		printAnalysis(tree.Graph.Analyze(ctx))
		current.out.Paths(paths)
		return nil
	})
}

func printAnalysis(a graph.Analysis) {
	current.out.KeyValues([][2]string{
		{"files", humanize.Comma(int64(a.Files))},
		{"processes", humanize.Comma(int64(a.Processes))},
		{"edges", humanize.Comma(int64(a.Edges))},
		{"avg degree", fmt.Sprintf("%.3f", a.Degree.AvgDegree)},
		{"avg degree centrality", fmt.Sprintf("%.3f", a.Degree.AvgDegreeCentrality)},
		{"avg betweenness", fmt.Sprintf("%.3f", a.Degree.AvgBetweenness)},
		{"avg closeness", fmt.Sprintf("%.3f", a.Degree.AvgCloseness)},
	})
	if !a.IsDAG() {
		current.out.Warning("not a DAG, cycle through " + strings.Join(a.Cycle, ", "))
	}
}

// =============================================================================
// WORKFLOW
// =============================================================================

func runWorkflow(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args, func(ctx context.Context, s *session) error {
		wf, err := workflow.Build(ctx, s.backend, workflow.WithVerbosity(current.cfg.Verbosity()))
		if err != nil {
			return err
		}
		paths, err := export.WriteWorkflow(current.cfg.Render.OutputDir, wf)
		if err != nil {
			return err
		}
		current.out.Title("Workflow")
		printAnalysis(wf.Graph.Analyze(ctx))
		printIO(wf.IO)
		current.out.Paths(paths)
		return nil
	})
}

func printIO(edges []workflow.IOEdge) {
	if len(edges) == 0 {
		return
	}
	rows := make([][]string, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, []string{
			export.ShortID(e.From),
			e.Relation,
			export.ShortID(e.To),
			humanize.Comma(int64(e.Calls)),
			units.FormatBytes(e.Bytes),
			e.Throughput.String(),
		})
	}
	current.out.Table([]string{"from", "relation", "to", "calls", "volume", "throughput"}, rows)
}

// =============================================================================
// SERIES
// =============================================================================

func runSeries(cmd *cobra.Command, args []string) error {
	codes, err := current.cfg.SeriesSyscalls()
	if err != nil {
		return err
	}
	return withSession(cmd, args, func(ctx context.Context, s *session) error {
		set, err := series.Build(ctx, s.backend, codes...)
		if err != nil {
			return err
		}
		paths, err := export.WriteSeries(current.cfg.Render.OutputDir, s.datasetID, set)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(set.Series))
		for _, ser := range set.Series {
			rows = append(rows, []string{ser.Name, string(ser.Kind), humanize.Comma(int64(len(ser.Points)))})
		}
		current.out.Title("Series")
		current.out.Table([]string{"syscall", "kind", "points"}, rows)
		current.out.Paths(paths)

		if current.cfg.Influx.Enabled() {
			return pushSeries(ctx, s.datasetID, set)
		}
		return nil
	})
}

func pushSeries(ctx context.Context, datasetID string, set *series.Set) error {
	ic := current.cfg.Influx
	client := influxdb2.NewClient(ic.URL, ic.Token)
	defer client.Close()

	points := export.SeriesPoints(datasetID, set)
	if err := export.PushSeries(ctx, client.WriteAPIBlocking(ic.Org, ic.Bucket), points); err != nil {
		return fmt.Errorf("pushing series to %s: %w", ic.URL, err)
	}
	current.out.Success(fmt.Sprintf("pushed %s points to %s/%s",
		humanize.Comma(int64(len(points))), ic.Org, ic.Bucket))
	return nil
}

// =============================================================================
// REPORT
// =============================================================================

func runReport(cmd *cobra.Command, args []string) error {
	codes, err := current.cfg.SeriesSyscalls()
	if err != nil {
		return err
	}
	return withSession(cmd, args, func(ctx context.Context, s *session) error {
		verbosity := current.cfg.Verbosity()
		tree, err := proctree.Build(ctx, s.backend, proctree.WithVerbosity(verbosity))
		if err != nil {
			return err
		}
		wf, err := workflow.Build(ctx, s.backend, workflow.WithVerbosity(verbosity))
		if err != nil {
			return err
		}
		set, err := series.Build(ctx, s.backend, codes...)
		if err != nil {
			return err
		}
		report, err := export.NewReport(ctx, s.backend, s.datasetID, tree, wf)
		if err != nil {
			return err
		}

		dir := current.cfg.Render.OutputDir
		var paths []string
		for _, write := range []func() ([]string, error){
			func() ([]string, error) { return export.WriteProcTree(dir, tree) },
			func() ([]string, error) { return export.WriteWorkflow(dir, wf) },
			func() ([]string, error) { return export.WriteSeries(dir, s.datasetID, set) },
			func() ([]string, error) { return export.WriteReportFile(dir, report) },
		} {
			written, err := write()
			if err != nil {
				return err
			}
			paths = append(paths, written...)
		}

		if flagReportStdout {
			return export.WriteReport(cmd.OutOrStdout(), report)
		}
		current.out.Title("Syscalls")
		printSummary(report.Syscalls)
		if report.Workflow.NotADag {
			current.out.Warning("workflow is not a DAG, cycle through " + strings.Join(report.Workflow.Cycle, ", "))
		}
		current.out.Paths(paths)
		return nil
	})
}

// =============================================================================
// CONFIG
// =============================================================================

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultFileName
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
