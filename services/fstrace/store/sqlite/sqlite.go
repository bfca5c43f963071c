// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite is the relational store backend.
//
// A trace is kept in four tables (env, syscall, file, proc) plus a meta
// table holding the ingestion id. Queries are assembled from the closed
// store.Field enumeration; every value is a bound parameter.
//
// A loaded trace.db can be reopened later and queried without ingesting
// again (see Store.IngestionID).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// DefaultFileName is the database file name inside a trace directory.
const DefaultFileName = "trace.db"

const metaIngestionID = "ingestion_id"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS env (item TEXT, value TEXT)`,
	`CREATE TABLE IF NOT EXISTS syscall (stamp DOUBLE, pid INTEGER, sysc INTEGER, fid INTEGER, res INTEGER, elapsed DOUBLE, aux1 INTEGER, aux2 INTEGER)`,
	`CREATE TABLE IF NOT EXISTS file (fid INTEGER, path TEXT)`,
	`CREATE TABLE IF NOT EXISTS proc (pid INTEGER, ppid INTEGER, live INTEGER, res INTEGER, btime FLOAT, elapsed FLOAT, cmdline TEXT)`,
	`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)`,
	`CREATE INDEX IF NOT EXISTS idx_syscall_sysc ON syscall (sysc)`,
	`CREATE INDEX IF NOT EXISTS idx_syscall_fid ON syscall (fid, sysc)`,
}

// Store is a SQLite-backed store.Backend.
//
// Thread Safety: safe for concurrent use; database/sql serializes access to
// the single underlying connection.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// One connection: the database is written once then read by a single
	// batch process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close implements store.Backend.
func (s *Store) Close() error {
	return s.db.Close()
}

// IngestionID returns the id of the dataset loaded into this database, and
// false when nothing has been loaded yet.
func (s *Store) IngestionID(ctx context.Context) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaIngestionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading ingestion id: %w", err)
	}
	return id, true, nil
}

// Load implements store.Loader. All rows are written in one transaction.
func (s *Store) Load(ctx context.Context, ds *store.Dataset) error {
	if _, loaded, err := s.IngestionID(ctx); err != nil {
		return err
	} else if loaded {
		return store.ErrAlreadyLoaded
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertAll(ctx, tx, `INSERT INTO env VALUES (?,?)`, len(ds.Env), func(i int) []any {
		return []any{ds.Env[i].Key, ds.Env[i].Value}
	}); err != nil {
		return fmt.Errorf("loading env: %w", err)
	}
	if err := insertAll(ctx, tx, `INSERT INTO syscall VALUES (?,?,?,?,?,?,?,?)`, len(ds.Events), func(i int) []any {
		e := ds.Events[i]
		return []any{e.Stamp, e.PID, int64(e.Syscall), e.FileID, e.Result, e.Elapsed, e.Aux1, e.Aux2}
	}); err != nil {
		return fmt.Errorf("loading syscalls: %w", err)
	}
	if err := insertAll(ctx, tx, `INSERT INTO file VALUES (?,?)`, len(ds.Files), func(i int) []any {
		return []any{ds.Files[i].FileID, ds.Files[i].Path}
	}); err != nil {
		return fmt.Errorf("loading files: %w", err)
	}
	if err := insertAll(ctx, tx, `INSERT INTO proc VALUES (?,?,?,?,?,?,?)`, len(ds.Processes), func(i int) []any {
		p := ds.Processes[i]
		live := 0
		if p.Alive {
			live = 1
		}
		return []any{p.PID, p.PPID, live, p.ExitResult, p.BirthTime, p.Elapsed, p.Cmdline}
	}); err != nil {
		return fmt.Errorf("loading processes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta VALUES (?,?)`, metaIngestionID, ds.ID); err != nil {
		return fmt.Errorf("writing ingestion id: %w", err)
	}
	return tx.Commit()
}

func insertAll(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

// ===== Queries =====

// EventsBySyscall implements store.Index.
func (s *Store) EventsBySyscall(ctx context.Context, code syscall.Code, sel ...store.Selector) ([]store.Row, error) {
	return s.query(ctx, "sysc = ?", []any{int64(code)}, false, sel)
}

// EventsByFile implements store.Index.
func (s *Store) EventsByFile(ctx context.Context, fileID int64, sel ...store.Selector) ([]store.Row, error) {
	return s.query(ctx, "fid = ?", []any{fileID}, false, sel)
}

// EventsByFileAndSyscall implements store.Index.
func (s *Store) EventsByFileAndSyscall(ctx context.Context, fileID int64, code syscall.Code, sel ...store.Selector) ([]store.Row, error) {
	return s.query(ctx, "fid = ? AND sysc = ?", []any{fileID, int64(code)}, false, sel)
}

// FirstEventByFileAndSyscall implements store.Index.
func (s *Store) FirstEventByFileAndSyscall(ctx context.Context, fileID int64, code syscall.Code, sel ...store.Selector) (store.Row, bool, error) {
	rows, err := s.EventsByFileAndSyscall(ctx, fileID, code, sel...)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// EventsGroupedByFile implements store.Index.
func (s *Store) EventsGroupedByFile(ctx context.Context, code syscall.Code, sel ...store.Selector) ([]store.Row, error) {
	return s.query(ctx, "sysc = ?", []any{int64(code)}, true, sel)
}

// FirstTimestamp implements store.Index.
func (s *Store) FirstTimestamp(ctx context.Context) (float64, error) {
	var ts float64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MIN(stamp), 0) FROM syscall`).Scan(&ts); err != nil {
		return 0, fmt.Errorf("first timestamp: %w", err)
	}
	return ts, nil
}

// Processes implements store.Index.
func (s *Store) Processes(ctx context.Context) ([]store.ProcessRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pid, ppid, live, res, btime, elapsed, cmdline FROM proc ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying processes: %w", err)
	}
	defer rows.Close()

	out := []store.ProcessRecord{}
	for rows.Next() {
		var (
			p    store.ProcessRecord
			live int64
		)
		if err := rows.Scan(&p.PID, &p.PPID, &live, &p.ExitResult, &p.BirthTime, &p.Elapsed, &p.Cmdline); err != nil {
			return nil, fmt.Errorf("scanning process: %w", err)
		}
		p.Alive = live != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// Files implements store.Index.
func (s *Store) Files(ctx context.Context) ([]store.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fid, path FROM file ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	out := []store.FileRecord{}
	for rows.Next() {
		var f store.FileRecord
		if err := rows.Scan(&f.FileID, &f.Path); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Env implements store.Index.
func (s *Store) Env(ctx context.Context) ([]store.EnvRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item, value FROM env ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying env: %w", err)
	}
	defer rows.Close()

	out := []store.EnvRecord{}
	for rows.Next() {
		var e store.EnvRecord
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scanning env: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) query(ctx context.Context, where string, args []any, grouped bool, sel []store.Selector) ([]store.Row, error) {
	q, err := buildQuery(where, grouped, sel)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying syscalls: %w", err)
	}
	defer rows.Close()

	out := []store.Row{}
	dest := make([]any, len(sel))
	for rows.Next() {
		row := make(store.Row, len(sel))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning syscall row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// buildQuery renders a selector list as SQL.
//
// Plain queries select columns directly in rowid order. Aggregated and
// grouped queries reduce in a subquery that also keeps the lowest rowid of
// each group, then join back to that row so plain selectors read the
// group's first event. An ungrouped aggregate over no rows yields a NULL
// first_row, which the join drops, so empty input gives zero rows.
func buildQuery(where string, grouped bool, sel []store.Selector) (string, error) {
	if err := store.ValidateSelectors(sel); err != nil {
		return "", err
	}

	if !grouped && !store.HasAggregate(sel) {
		cols := make([]string, len(sel))
		for i, s := range sel {
			cols[i] = s.Field.Column()
		}
		return fmt.Sprintf("SELECT %s FROM syscall WHERE %s ORDER BY rowid", strings.Join(cols, ", "), where), nil
	}

	inner := []string{"MIN(rowid) AS first_row"}
	outer := make([]string, len(sel))
	for i, s := range sel {
		if !s.IsAggregate() {
			outer[i] = "s." + s.Field.Column()
			continue
		}
		alias := fmt.Sprintf("a%d", i)
		expr := fmt.Sprintf("%s(%s)", s.Agg, s.Field.Column())
		if s.Agg == store.AggCount {
			expr = "COUNT(*)"
		}
		inner = append(inner, expr+" AS "+alias)
		outer[i] = "g." + alias
	}

	group := ""
	if grouped {
		group = " GROUP BY fid"
	}
	return fmt.Sprintf(
		"SELECT %s FROM (SELECT %s FROM syscall WHERE %s%s) AS g JOIN syscall AS s ON s.rowid = g.first_row ORDER BY g.first_row",
		strings.Join(outer, ", "), strings.Join(inner, ", "), where, group,
	), nil
}

var _ store.Backend = (*Store)(nil)
