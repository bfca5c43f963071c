// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storetest holds a shared fixture trace and the conformance suite
// every store backend must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// Fixture returns a small trace exercising every workflow category.
//
//	pid 1  sentinel
//	pid 10 cat: writes f5 twice, then reads it (read is suppressed)
//	pid 11 sort: reads f5, creates f6, renames f6 -> f7
//	pid 12 rm: unlinks f7
func Fixture() *store.Dataset {
	return &store.Dataset{
		ID: "fixture",
		Env: []store.EnvRecord{
			{Key: "host", Value: "node01"},
			{Key: "start", Value: "1000"},
		},
		Files: []store.FileRecord{
			{FileID: 5, Path: "/data/in.txt"},
			{FileID: 6, Path: "/data/tmp.txt"},
			{FileID: 7, Path: "/data/out.txt"},
		},
		Processes: []store.ProcessRecord{
			{PID: 1, PPID: 1, Alive: true, BirthTime: 999, Cmdline: "tracer"},
			{PID: 10, PPID: 1, Alive: false, BirthTime: 1000, Elapsed: 0.004, Cmdline: "/bin/cat in.txt"},
			{PID: 11, PPID: 1, Alive: false, BirthTime: 1001, Elapsed: 0.002, Cmdline: "/usr/bin/sort -o out.txt"},
			{PID: 12, PPID: 11, Alive: true, BirthTime: 1002, Cmdline: "rm out.txt"},
		},
		Events: []store.SyscallEvent{
			{Stamp: 1000.0, PID: 10, Syscall: syscall.Write, FileID: 5, Elapsed: 0.5, Aux1: 1024, Aux2: 0},
			{Stamp: 1000.5, PID: 10, Syscall: syscall.Write, FileID: 5, Elapsed: 1.5, Aux1: 3072, Aux2: 1024},
			{Stamp: 1001.0, PID: 10, Syscall: syscall.Read, FileID: 5, Elapsed: 0.25, Aux1: 4096, Aux2: 0},
			{Stamp: 1001.5, PID: 11, Syscall: syscall.Read, FileID: 5, Elapsed: 0.5, Aux1: 2048, Aux2: 0},
			{Stamp: 1002.0, PID: 11, Syscall: syscall.Creat, FileID: 6, Elapsed: 0.001},
			{Stamp: 1002.5, PID: 11, Syscall: syscall.Write, FileID: 6, Elapsed: 0, Aux1: 10, Aux2: 0},
			{Stamp: 1003.0, PID: 11, Syscall: syscall.Rename, FileID: 6, Elapsed: 0.002, Aux1: 7},
			{Stamp: 1004.0, PID: 12, Syscall: syscall.Unlink, FileID: 7, Elapsed: 0.003},
		},
	}
}

// Load loads the fixture into b, failing the test on error.
func Load(t testing.TB, b store.Loader, ds *store.Dataset) {
	t.Helper()
	require.NoError(t, b.Load(context.Background(), ds))
}

// RunIndexSuite runs the conformance tests against fresh backends from newBackend.
func RunIndexSuite(t *testing.T, newBackend func(t *testing.T) store.Backend) {
	ctx := context.Background()

	loaded := func(t *testing.T) store.Backend {
		b := newBackend(t)
		Load(t, b, Fixture())
		return b
	}

	t.Run("EventsBySyscall plain", func(t *testing.T) {
		b := loaded(t)
		rows, err := b.EventsBySyscall(ctx, syscall.Write, store.Col(store.FieldPID), store.Col(store.FieldFileID), store.Col(store.FieldAux1))
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, store.Row{10, 5, 1024}, rows[0])
		assert.Equal(t, store.Row{10, 5, 3072}, rows[1])
		assert.Equal(t, store.Row{11, 6, 10}, rows[2])
	})

	t.Run("EventsBySyscall aggregates", func(t *testing.T) {
		b := loaded(t)
		rows, err := b.EventsBySyscall(ctx, syscall.Write, store.Count(), store.Sum(store.FieldAux1), store.Avg(store.FieldElapsed), store.Min(store.FieldStamp), store.Max(store.FieldStamp))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0].Int(0))
		assert.Equal(t, 4106.0, rows[0].Float(1))
		assert.InDelta(t, 2.0/3.0, rows[0].Float(2), 1e-9)
		assert.Equal(t, 1000.0, rows[0].Float(3))
		assert.Equal(t, 1002.5, rows[0].Float(4))
	})

	t.Run("absent syscall yields empty results", func(t *testing.T) {
		b := loaded(t)
		rows, err := b.EventsBySyscall(ctx, syscall.Mkdir, store.Col(store.FieldPID))
		require.NoError(t, err)
		assert.Empty(t, rows)

		rows, err = b.EventsBySyscall(ctx, syscall.Mkdir, store.Count(), store.Sum(store.FieldElapsed))
		require.NoError(t, err)
		assert.Empty(t, rows)

		rows, err = b.EventsGroupedByFile(ctx, syscall.Mkdir, store.Col(store.FieldFileID))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("EventsByFile", func(t *testing.T) {
		b := loaded(t)
		rows, err := b.EventsByFile(ctx, 5, store.Col(store.FieldSyscall))
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.Equal(t, int64(syscall.Write), rows[0].Int(0))
		assert.Equal(t, int64(syscall.Read), rows[3].Int(0))

		rows, err = b.EventsByFile(ctx, 99, store.Col(store.FieldSyscall))
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("EventsByFileAndSyscall", func(t *testing.T) {
		b := loaded(t)
		rows, err := b.EventsByFileAndSyscall(ctx, 5, syscall.Read, store.Col(store.FieldPID), store.Col(store.FieldAux1))
		require.NoError(t, err)
		assert.Equal(t, []store.Row{{10, 4096}, {11, 2048}}, rows)

		row, ok, err := b.FirstEventByFileAndSyscall(ctx, 5, syscall.Read, store.Col(store.FieldPID))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(10), row.Int(0))

		_, ok, err = b.FirstEventByFileAndSyscall(ctx, 7, syscall.Read, store.Col(store.FieldPID))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("EventsGroupedByFile", func(t *testing.T) {
		b := loaded(t)
		rows, err := b.EventsGroupedByFile(ctx, syscall.Read,
			store.Col(store.FieldFileID), store.Col(store.FieldPID), store.Sum(store.FieldAux1), store.Count())
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, store.Row{5, 10, 6144, 2}, rows[0])

		rows, err = b.EventsGroupedByFile(ctx, syscall.Write, store.Col(store.FieldFileID), store.Sum(store.FieldAux1))
		require.NoError(t, err)
		assert.Equal(t, []store.Row{{5, 4096}, {6, 10}}, rows)
	})

	t.Run("FirstTimestamp", func(t *testing.T) {
		b := loaded(t)
		ts, err := b.FirstTimestamp(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1000.0, ts)
	})

	t.Run("FirstTimestamp empty trace", func(t *testing.T) {
		b := newBackend(t)
		Load(t, b, &store.Dataset{ID: "empty"})
		ts, err := b.FirstTimestamp(ctx)
		require.NoError(t, err)
		assert.Zero(t, ts)
	})

	t.Run("inventories", func(t *testing.T) {
		b := loaded(t)
		fx := Fixture()

		procs, err := b.Processes(ctx)
		require.NoError(t, err)
		assert.Equal(t, fx.Processes, procs)

		files, err := b.Files(ctx)
		require.NoError(t, err)
		assert.Equal(t, fx.Files, files)

		env, err := b.Env(ctx)
		require.NoError(t, err)
		assert.Equal(t, fx.Env, env)
	})

	t.Run("invalid selector", func(t *testing.T) {
		b := loaded(t)
		_, err := b.EventsBySyscall(ctx, syscall.Write)
		assert.ErrorIs(t, err, store.ErrInvalidSelector)
		_, err = b.EventsByFile(ctx, 5, store.Selector{Field: store.Field(99)})
		assert.ErrorIs(t, err, store.ErrInvalidSelector)
	})

	t.Run("second load is rejected", func(t *testing.T) {
		b := loaded(t)
		err := b.Load(ctx, Fixture())
		assert.ErrorIs(t, err, store.ErrAlreadyLoaded)
	})
}
