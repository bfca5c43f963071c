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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

type recordingLoader struct {
	calls int
	ds    *Dataset
	err   error
}

func (l *recordingLoader) Load(_ context.Context, ds *Dataset) error {
	l.calls++
	l.ds = ds
	return l.err
}

func validSources() Sources {
	return Sources{
		Env:      strings.NewReader("# env\nhost:node01\ncwd:/home/u:x\n"),
		Trace:    strings.NewReader("# stamp,pid,sysc,fid,res,elapsed,aux1,aux2\n100.5,10,1,5,0,0.002,4096,0\n101.0,10,0,5,0,0.001,4096,0\n102.0,11,82,5,0,0.0001,6,0\n"),
		FileMap:  strings.NewReader("# fid:path\n5:/tmp/a.txt\n6:/tmp/b.txt\n"),
		ProcMap:  strings.NewReader("# pid:cmdline\n1:tracer\n10:/bin/cat a.txt\n11:mv a b\n"),
		ProcInfo: strings.NewReader("# pid,ppid,live,res,btime,elapsed\n1,1,1,0,99.0,0\n10,1,0,0,100.0,1.5\n11,10,1,0,101.5,0\n"),
	}
}

func TestIngest_Valid(t *testing.T) {
	loader := &recordingLoader{}
	ds, err := Ingest(context.Background(), validSources(), loader)
	require.NoError(t, err)

	assert.Equal(t, 1, loader.calls)
	assert.Same(t, ds, loader.ds)
	assert.NotEmpty(t, ds.ID)

	require.Len(t, ds.Events, 3)
	assert.Equal(t, SyscallEvent{Stamp: 100.5, PID: 10, Syscall: syscall.Write, FileID: 5, Elapsed: 0.002, Aux1: 4096}, ds.Events[0])
	assert.Equal(t, syscall.Rename, ds.Events[2].Syscall)

	assert.Equal(t, []EnvRecord{{"host", "node01"}, {"cwd", "/home/u:x"}}, ds.Env)
	assert.Equal(t, []FileRecord{{5, "/tmp/a.txt"}, {6, "/tmp/b.txt"}}, ds.Files)

	require.Len(t, ds.Processes, 3)
	assert.True(t, ds.Processes[0].IsSentinel())
	assert.Equal(t, "/bin/cat a.txt", ds.Processes[1].Cmdline)
	assert.False(t, ds.Processes[1].Alive)
	assert.InDelta(t, 1.5, ds.Processes[1].Elapsed, 1e-9)
	assert.True(t, ds.Processes[2].Alive)
}

func TestIngest_MissingHeader(t *testing.T) {
	src := validSources()
	src.FileMap = strings.NewReader("5:/tmp/a.txt\n")

	loader := &recordingLoader{}
	_, err := Ingest(context.Background(), src, loader)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedHeader)
	assert.Contains(t, err.Error(), FileMapLog)
	assert.Zero(t, loader.calls)
}

func TestIngest_EmptyStreamHasNoHeader(t *testing.T) {
	src := validSources()
	src.Env = strings.NewReader("")
	_, err := Ingest(context.Background(), src, &recordingLoader{})
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestIngest_MalformedTraceLine(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "100.5,10,1,5,0,0.002,4096"},
		{"too many fields", "100.5,10,1,5,0,0.002,4096,0,9"},
		{"non numeric pid", "100.5,abc,1,5,0,0.002,4096,0"},
		{"non numeric stamp", "x,10,1,5,0,0.002,4096,0"},
		{"NaN stamp", "NaN,10,1,5,0,0.002,4096,0"},
		{"infinite elapsed", "100.5,10,1,5,0,+Inf,4096,0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := validSources()
			src.Trace = strings.NewReader("# header\n100.5,10,1,5,0,0.002,4096,0\n" + tt.line + "\n")

			loader := &recordingLoader{}
			_, err := Ingest(context.Background(), src, loader)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedRecord)

			var lineErr *LineError
			require.True(t, errors.As(err, &lineErr))
			assert.Equal(t, TraceLog, lineErr.Source)
			assert.Equal(t, 3, lineErr.Line)
			assert.Zero(t, loader.calls)
		})
	}
}

func TestIngest_ProcMapBadLineIsSkipped(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	src := validSources()
	src.ProcMap = strings.NewReader("# pid:cmdline\n1:tracer\nnot a mapping\n10:/bin/cat a.txt\n\n11:mv a b\n")

	ds, err := Ingest(context.Background(), src, &recordingLoader{}, WithLogger(logger))
	require.NoError(t, err)
	assert.Len(t, ds.Processes, 3)

	var warnings []string
	for _, l := range strings.Split(logs.String(), "\n") {
		if strings.Contains(l, "skipping unparseable process map line") {
			warnings = append(warnings, l)
		}
	}
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "record=2")
	assert.Contains(t, warnings[0], `text="not a mapping"`)
	assert.Contains(t, warnings[1], "record=4")
}

func TestIngest_NonFiniteProcInfo(t *testing.T) {
	src := validSources()
	src.ProcInfo = strings.NewReader("# pid,ppid,live,res,btime,elapsed\n1,1,1,0,99.0,0\n10,1,0,0,NaN,1.5\n11,10,1,0,101.5,0\n")

	loader := &recordingLoader{}
	_, err := Ingest(context.Background(), src, loader)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	var lineErr *LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, ProcInfoLog, lineErr.Source)
	assert.Equal(t, 3, lineErr.Line)
	assert.Zero(t, loader.calls)
}

func TestIngest_MissingProcessMapping(t *testing.T) {
	src := func() Sources {
		s := validSources()
		s.ProcMap = strings.NewReader("# pid:cmdline\n1:tracer\n10:/bin/cat a.txt\n")
		return s
	}

	t.Run("fatal by default", func(t *testing.T) {
		loader := &recordingLoader{}
		_, err := Ingest(context.Background(), src(), loader)
		assert.ErrorIs(t, err, ErrMissingProcessMapping)
		assert.Zero(t, loader.calls)
	})

	t.Run("tolerated when allowed", func(t *testing.T) {
		ds, err := Ingest(context.Background(), src(), &recordingLoader{}, WithAllowUnmappedPIDs(true))
		require.NoError(t, err)
		assert.Equal(t, UnknownCmdline, ds.Processes[2].Cmdline)
	})
}

func TestIngest_LoaderError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Ingest(context.Background(), validSources(), &recordingLoader{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestIngest_NilLoader(t *testing.T) {
	_, err := Ingest(context.Background(), validSources(), nil)
	assert.ErrorIs(t, err, ErrNilLoader)
}

func TestCheckIntegrity(t *testing.T) {
	base := func() *Dataset {
		return &Dataset{
			Files:     []FileRecord{{FileID: 5}, {FileID: 6}},
			Processes: []ProcessRecord{{PID: 1, PPID: 1}, {PID: 10, PPID: 1}},
			Events: []SyscallEvent{
				{PID: 10, Syscall: syscall.Write, FileID: 5},
				{PID: 10, Syscall: syscall.Rename, FileID: 5, Aux1: 6},
			},
		}
	}
	require.NoError(t, CheckIntegrity(base()))

	tests := []struct {
		name   string
		mutate func(*Dataset)
	}{
		{"unknown file", func(ds *Dataset) { ds.Events[0].FileID = 99 }},
		{"unknown pid", func(ds *Dataset) { ds.Events[0].PID = 99 }},
		{"unknown transfer destination", func(ds *Dataset) { ds.Events[1].Aux1 = 99 }},
		{"duplicate file id", func(ds *Dataset) { ds.Files = append(ds.Files, FileRecord{FileID: 5}) }},
		{"duplicate pid", func(ds *Dataset) { ds.Processes = append(ds.Processes, ProcessRecord{PID: 10}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := base()
			tt.mutate(ds)
			assert.ErrorIs(t, CheckIntegrity(ds), ErrIntegrity)
		})
	}

	t.Run("aux1 of a write is not a file reference", func(t *testing.T) {
		ds := base()
		ds.Events[0].Aux1 = 4096
		assert.NoError(t, CheckIntegrity(ds))
	})
}

func TestOpenSources(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		EnvLog:      "# env\n",
		TraceLog:    "# trace\n",
		FileMapLog:  "# files\n",
		ProcMapLog:  "# procs\n1:tracer\n",
		ProcInfoLog: "# info\n1,1,1,0,0,0\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	src, closeFn, err := OpenSources(dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()

	ds, err := Ingest(context.Background(), src, &recordingLoader{})
	require.NoError(t, err)
	assert.Empty(t, ds.Events)
	assert.Len(t, ds.Processes, 1)

	t.Run("missing file", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, ProcInfoLog)))
		_, _, err := OpenSources(dir)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
