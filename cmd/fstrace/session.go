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
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/fstrace/services/fstrace/config"
	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/store/badger"
	"github.com/AleutianAI/fstrace/services/fstrace/store/memory"
	"github.com/AleutianAI/fstrace/services/fstrace/store/sqlite"
	"github.com/AleutianAI/fstrace/services/fstrace/telemetry"
)

var (
	// ErrNoTrace is returned when no trace directory is given and the
	// configured store holds no imported trace.
	ErrNoTrace = errors.New("no trace: pass a trace directory or import one into a persistent store")

	// ErrNotPersistent is returned by import for the memory backend.
	ErrNotPersistent = errors.New("import needs a persistent backend (sqlite or badger)")
)

// session is an open store with the ingestion it holds.
type session struct {
	backend   store.Backend
	datasetID string

	// ingested is set when the trace was parsed in this run.
	ingested *store.Dataset
}

func (s *session) Close() error {
	return s.backend.Close()
}

// identified is implemented by backends that persist the ingestion id.
type identified interface {
	IngestionID(ctx context.Context) (string, bool, error)
}

// openBackend opens the configured backend without loading anything.
func openBackend(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		return sqlite.Open(ctx, cfg.Path)
	case config.BackendBadger:
		bcfg := badger.DefaultConfig(cfg.Path)
		bcfg.Logger = logger
		return badger.Open(bcfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// openSession returns a loaded store.
//
// Description:
//
//	With a trace directory the trace is ingested into the configured
//	backend. Without one the backend must already hold an imported trace.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	cfg - Loaded configuration.
//	logger - Receives ingestion warnings.
//	traceDir - Trace directory, or "".
//
// Outputs:
//
//	*session - The open session. Caller must Close it.
//	error - Open, ingest or lookup failure.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, traceDir string) (_ *session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "fstrace.cli", "Session.Open",
		trace.WithAttributes(
			attribute.String("store.backend", cfg.Store.Backend),
			attribute.Bool("trace.ingest", traceDir != ""),
		),
	)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	backend, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}
	s := &session{backend: backend}
	defer func() {
		if err != nil {
			_ = backend.Close()
		}
	}()

	if traceDir == "" {
		id, ok, err := lookupIngestion(ctx, backend)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNoTrace
		}
		s.datasetID = id
		return s, nil
	}

	ds, err := ingestDir(ctx, cfg, logger, traceDir, backend)
	if err != nil {
		return nil, err
	}
	s.datasetID = ds.ID
	s.ingested = ds
	return s, nil
}

func lookupIngestion(ctx context.Context, backend store.Backend) (string, bool, error) {
	id, ok := backend.(identified)
	if !ok {
		return "", false, nil
	}
	return id.IngestionID(ctx)
}

func ingestDir(ctx context.Context, cfg *config.Config, logger *slog.Logger, dir string, loader store.Loader) (*store.Dataset, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a trace directory", dir)
	}

	src, closeSources, err := store.OpenSources(dir)
	if err != nil {
		return nil, err
	}
	defer closeSources()

	return store.Ingest(ctx, src, loader,
		store.WithAllowUnmappedPIDs(cfg.Ingest.AllowUnmappedPIDs),
		store.WithLogger(telemetry.LoggerWithTrace(ctx, logger).With("trace_dir", dir)),
	)
}
