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
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/fstrace/pkg/logging"
	"github.com/AleutianAI/fstrace/pkg/ux"
	"github.com/AleutianAI/fstrace/services/fstrace/config"
	"github.com/AleutianAI/fstrace/services/fstrace/telemetry"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	// Global flags
	cfgPath           string
	flagBackend       string
	flagDBPath        string
	flagOutDir        string
	flagLogLevel      string
	flagVerbosity     int
	flagAllowUnmapped bool
	flagPlain         bool

	// Stats and series
	flagSyscalls []string

	// Report
	flagReportStdout bool
)

// app is what setup prepares for the running command.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	out      *ux.Printer
	shutdown func(context.Context) error
}

var current *app

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "fstrace",
	Short: "Infer process trees and data workflows from filesystem syscall traces",
	Long: `fstrace reads a trace directory (env.log, trace.log, file.map, proc.map,
proc.info), stores it in a queryable backend and derives statistics, the
process tree, the file/process workflow graph and per-syscall time series.

Every analysis command takes an optional TRACE_DIR. Without it the trace
previously imported into the configured sqlite or badger store is used.

Examples:
  fstrace stats ./trace
  fstrace import ./trace --backend sqlite --db trace.db
  fstrace workflow --backend sqlite --db trace.db --out ./graphs
  fstrace report ./trace --out ./report`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var importCmd = &cobra.Command{
	Use:   "import TRACE_DIR",
	Short: "Parse a trace into a persistent store",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var statsCmd = &cobra.Command{
	Use:   "stats [TRACE_DIR]",
	Short: "Print per-syscall counts, durations and volumes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

var proctreeCmd = &cobra.Command{
	Use:   "proctree [TRACE_DIR]",
	Short: "Build the process tree and export proctree.gv/.sif/.noa",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProcTree,
}

var workflowCmd = &cobra.Command{
	Use:   "workflow [TRACE_DIR]",
	Short: "Build the workflow graph and export workflow.sif and csv tables",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWorkflow,
}

var seriesCmd = &cobra.Command{
	Use:   "series [TRACE_DIR]",
	Short: "Export per-syscall time series as InfluxDB line protocol",
	Long: `Exports count, duration, offset and volume series of the selected
syscalls to series.lp. When an influx url is configured the points are
also written to that bucket.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSeries,
}

var reportCmd = &cobra.Command{
	Use:   "report [TRACE_DIR]",
	Short: "Run every analysis and write all exports plus report.json",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReport,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage fstrace.yaml",
	// Config commands must work when the current file is invalid.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", config.DefaultFileName, "Config file")
	pf.StringVar(&flagBackend, "backend", "", "Store backend: memory, sqlite or badger")
	pf.StringVar(&flagDBPath, "db", "", "Store path (sqlite file or badger directory)")
	pf.StringVarP(&flagOutDir, "out", "o", "", "Output directory for exported files")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.IntVarP(&flagVerbosity, "verbosity", "v", 0, "Process labels: 0 base name, 1 argv[0], 2 full command line")
	pf.BoolVar(&flagAllowUnmapped, "allow-unmapped-pids", false, "Label processes missing from proc.map as <unknown>")
	pf.BoolVar(&flagPlain, "plain", false, "Plain tab-separated output even on a terminal")

	statsCmd.Flags().StringSliceVar(&flagSyscalls, "syscall", nil, "Limit to these syscalls (repeatable)")
	seriesCmd.Flags().StringSliceVar(&flagSyscalls, "syscall", nil, "Syscalls to export (default read,write)")
	reportCmd.Flags().BoolVar(&flagReportStdout, "stdout", false, "Also print report.json to stdout")

	rootCmd.AddCommand(importCmd, statsCmd, proctreeCmd, workflowCmd, seriesCmd, reportCmd, configCmd)
	configCmd.AddCommand(configInitCmd)
}

// =============================================================================
// SETUP
// =============================================================================

// setup loads the config, applies flag overrides and starts logging and
// telemetry. closeApp undoes it.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel(),
		LogDir:  cfg.Log.Dir,
		Service: "fstrace",
		JSON:    cfg.Log.JSON,
		Output:  cmd.ErrOrStderr(),
	})

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.Traces,
		MetricExporter: cfg.Telemetry.Metrics,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		TextfilePath:   cfg.Telemetry.TextfilePath,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		_ = logger.Close()
		return fmt.Errorf("init telemetry: %w", err)
	}

	out := ux.NewPrinter(cmd.OutOrStdout())
	if flagPlain {
		out = ux.NewPrinterWithMode(cmd.OutOrStdout(), ux.ModeMachine)
	}

	current = &app{cfg: cfg, logger: logger, out: out, shutdown: shutdown}
	logger.Debug("configuration loaded",
		"config", cfgPath,
		"backend", cfg.Store.Backend,
		"output_dir", cfg.Render.OutputDir,
	)
	return nil
}

// applyFlags copies explicitly set flags over the file configuration.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("backend") {
		cfg.Store.Backend = flagBackend
	}
	if flags.Changed("db") {
		cfg.Store.Path = flagDBPath
	}
	if flags.Changed("out") {
		cfg.Render.OutputDir = flagOutDir
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flags.Changed("verbosity") {
		cfg.Render.Verbosity = flagVerbosity
	}
	if flags.Changed("allow-unmapped-pids") {
		cfg.Ingest.AllowUnmappedPIDs = flagAllowUnmapped
	}
	if flags.Changed("syscall") {
		cfg.Render.Syscalls = flagSyscalls
	}
}

// closeApp flushes telemetry and closes the logger of the last setup.
func closeApp(ctx context.Context) error {
	if current == nil {
		return nil
	}
	a := current
	current = nil
	return errors.Join(a.shutdown(ctx), a.logger.Close())
}
