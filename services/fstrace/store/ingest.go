// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// UnknownCmdline is the command line given to processes missing from
// proc.map when AllowUnmappedPIDs is set.
const UnknownCmdline = "<unknown>"

// Sources are the five log streams of one trace.
type Sources struct {
	Env      io.Reader
	Trace    io.Reader
	FileMap  io.Reader
	ProcMap  io.Reader
	ProcInfo io.Reader
}

// OpenSources opens the five logs of a trace directory.
//
// Description:
//
//	Opens env.log, trace.log, file.map, proc.map and proc.info under dir.
//	The returned close function closes every file that was opened.
//
// Outputs:
//
//	Sources - Readers over the opened files.
//	func() error - Closes all files. Safe to call once.
//	error - Non-nil if any file cannot be opened; nothing is left open.
func OpenSources(dir string) (Sources, func() error, error) {
	var (
		files []*os.File
		src   Sources
	)
	closeAll := func() error {
		var errs []error
		for _, f := range files {
			errs = append(errs, f.Close())
		}
		return errors.Join(errs...)
	}

	targets := []struct {
		name string
		dst  *io.Reader
	}{
		{EnvLog, &src.Env},
		{TraceLog, &src.Trace},
		{FileMapLog, &src.FileMap},
		{ProcMapLog, &src.ProcMap},
		{ProcInfoLog, &src.ProcInfo},
	}
	for _, t := range targets {
		f, err := os.Open(filepath.Join(dir, t.name))
		if err != nil {
			_ = closeAll()
			return Sources{}, nil, fmt.Errorf("opening trace log: %w", err)
		}
		files = append(files, f)
		*t.dst = f
	}
	return src, closeAll, nil
}

// IngestOptions configures Ingest.
type IngestOptions struct {
	// AllowUnmappedPIDs gives processes missing from proc.map the command
	// line "<unknown>" instead of failing the ingestion.
	AllowUnmappedPIDs bool

	// Logger receives parse warnings. Default: slog.Default().
	Logger *slog.Logger
}

// IngestOption is a functional option for Ingest.
type IngestOption func(*IngestOptions)

// WithAllowUnmappedPIDs tolerates pids missing from proc.map.
func WithAllowUnmappedPIDs(allow bool) IngestOption {
	return func(o *IngestOptions) {
		o.AllowUnmappedPIDs = allow
	}
}

// WithLogger sets the logger for parse warnings.
func WithLogger(l *slog.Logger) IngestOption {
	return func(o *IngestOptions) {
		o.Logger = l
	}
}

// Ingest parses a trace and loads it into a backend in one pass.
//
// Description:
//
//	Parses the five streams concurrently, joins process info with command
//	lines, checks referential integrity and calls loader.Load exactly once.
//	Any error aborts before Load, so a backend never holds a partial trace.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	src - The five log streams. All must be non-nil.
//	loader - Backend receiving the dataset. Must not be nil.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Dataset - The loaded dataset, tagged with a fresh ingestion ID.
//	error - ErrMalformedHeader, ErrMalformedRecord (as *LineError),
//	        ErrMissingProcessMapping, ErrIntegrity, or a backend error.
func Ingest(ctx context.Context, src Sources, loader Loader, opts ...IngestOption) (*Dataset, error) {
	if loader == nil {
		return nil, ErrNilLoader
	}
	options := IngestOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	start := time.Now()
	ds := &Dataset{ID: uuid.NewString()}
	logger := options.Logger.With(slog.String("ingestion_id", ds.ID))

	var (
		procMap map[int64]string
		procs   []ProcessRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ds.Env, err = ParseEnv(gctx, src.Env)
		return err
	})
	g.Go(func() (err error) {
		ds.Events, err = ParseTrace(gctx, src.Trace)
		return err
	})
	g.Go(func() (err error) {
		ds.Files, err = ParseFileMap(gctx, src.FileMap)
		return err
	})
	g.Go(func() (err error) {
		procMap, err = ParseProcMap(gctx, src.ProcMap, logger)
		return err
	})
	g.Go(func() (err error) {
		procs, err = ParseProcInfo(gctx, src.ProcInfo)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range procs {
		cmdline, ok := procMap[procs[i].PID]
		if !ok {
			if !options.AllowUnmappedPIDs {
				return nil, fmt.Errorf("%w: pid %d", ErrMissingProcessMapping, procs[i].PID)
			}
			logger.Warn("process missing from process map",
				slog.Int64("pid", procs[i].PID),
			)
			cmdline = UnknownCmdline
		}
		procs[i].Cmdline = cmdline
	}
	ds.Processes = procs

	if err := CheckIntegrity(ds); err != nil {
		return nil, err
	}
	if err := loader.Load(ctx, ds); err != nil {
		return nil, fmt.Errorf("loading dataset: %w", err)
	}

	logger.Info("trace ingested",
		slog.Int("events", len(ds.Events)),
		slog.Int("files", len(ds.Files)),
		slog.Int("processes", len(ds.Processes)),
		slog.Duration("duration", time.Since(start)),
	)
	return ds, nil
}

// CheckIntegrity verifies that every reference in the dataset resolves.
//
// File ids and pids must be unique. Every event's file id and pid must be
// known, and so must the destination file id of transfer syscalls.
func CheckIntegrity(ds *Dataset) error {
	files := make(map[int64]struct{}, len(ds.Files))
	for _, f := range ds.Files {
		if _, dup := files[f.FileID]; dup {
			return fmt.Errorf("%w: duplicate file id %d", ErrIntegrity, f.FileID)
		}
		files[f.FileID] = struct{}{}
	}
	pids := make(map[int64]struct{}, len(ds.Processes))
	for _, p := range ds.Processes {
		if _, dup := pids[p.PID]; dup {
			return fmt.Errorf("%w: duplicate pid %d", ErrIntegrity, p.PID)
		}
		pids[p.PID] = struct{}{}
	}

	for i, e := range ds.Events {
		if _, ok := files[e.FileID]; !ok {
			return fmt.Errorf("%w: event %d (%s) references unknown file id %d", ErrIntegrity, i, e.Syscall, e.FileID)
		}
		if _, ok := pids[e.PID]; !ok {
			return fmt.Errorf("%w: event %d (%s) references unknown pid %d", ErrIntegrity, i, e.Syscall, e.PID)
		}
		if e.Syscall.Category() != syscall.CategoryTransfer {
			continue
		}
		if dst, ok := e.DestFileID(); ok {
			if _, known := files[dst]; !known {
				return fmt.Errorf("%w: event %d (%s) references unknown destination file id %d", ErrIntegrity, i, e.Syscall, dst)
			}
		}
	}
	return nil
}
