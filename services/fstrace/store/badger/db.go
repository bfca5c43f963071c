// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger is the embedded key/value store backend.
//
// Events are stored once under a sequence key and indexed by syscall code and
// by file id through empty-valued prefix keys, so a query is a prefix scan
// followed by point reads. Record inventories are stored in ingestion order.
//
// Key layout (integers are big-endian so byte order equals numeric order):
//
//	meta/id              ingestion id
//	meta/min             minimum timestamp
//	e/<seq>              event (JSON)
//	s/<code>/<seq>       syscall index
//	f/<fid>/<seq>        file index
//	p/<seq>              process record (JSON)
//	m/<seq>              file record (JSON)
//	v/<seq>              env record (JSON)
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// ErrNoPath is returned by Open for a persistent store without a directory.
var ErrNoPath = errors.New("badger store needs a directory")

// Config holds configuration for a trace store.
type Config struct {
	// Path is the store directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the store in memory only. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit. Off by default: the trace is loaded
	// once and can be re-imported.
	SyncWrites bool

	// Logger receives badger's own log lines. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration of a persistent store in dir.
func DefaultConfig(dir string) Config {
	return Config{Path: dir}
}

// slogAdapter routes badger's printf-style logger into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) log(level slog.Level, format string, args []any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	a.logger.Log(context.Background(), level, msg, "component", "badger")
}

func (a slogAdapter) Errorf(format string, args ...any)   { a.log(slog.LevelError, format, args) }
func (a slogAdapter) Warningf(format string, args ...any) { a.log(slog.LevelWarn, format, args) }
func (a slogAdapter) Infof(format string, args ...any)    { a.log(slog.LevelDebug, format, args) }
func (a slogAdapter) Debugf(format string, args ...any)   { a.log(slog.LevelDebug, format, args) }

// kv is the badger handle behind a Store.
type kv struct {
	db  *badger.DB
	dir string
}

// openKV opens or creates the database described by cfg.
func openKV(cfg Config) (*kv, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
		cfg.Path = ""
	case cfg.Path == "":
		return nil, ErrNoPath
	default:
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	// Records are written once; older versions are never read.
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening trace store %q: %w", cfg.Path, err)
	}
	return &kv{db: db, dir: cfg.Path}, nil
}

// update runs fn in a read-write transaction committed when fn succeeds.
func (k *kv) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.db.Update(fn)
}

// view runs fn in a read-only transaction.
func (k *kv) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.db.View(fn)
}

func (k *kv) close() error {
	return k.db.Close()
}
