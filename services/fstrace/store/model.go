// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store owns the trace schema and its bulk ingestion.
//
// A trace is five text logs written by the interception layer. Ingest parses
// them, joins process info with command lines, checks referential integrity,
// and hands the resulting Dataset to a backend in a single Load call. After
// that the backend is read-only and is queried through the Index port.
//
// # Backends
//
// Three backends implement Index and Loader:
//
//	memory  - indexed in-process structures (default)
//	sqlite  - relational tables in a trace.db file
//	badger  - embedded key/value store with prefix indexes
//
// Graph builders depend on Index only, never on a backend package.
//
// # Lifecycle
//
//  1. Create a backend
//  2. Ingest(ctx, sources, backend) - parses and loads once
//  3. Query through the Index methods
//  4. Close the backend
package store

import "github.com/AleutianAI/fstrace/services/fstrace/syscall"

// SentinelPID is the pid (and ppid) of the tracer's own root process.
// The record pid == ppid == SentinelPID never becomes a parent/child edge.
const SentinelPID = 1

// SyscallEvent is one traced syscall.
type SyscallEvent struct {
	// Stamp is the start time in seconds since the epoch.
	Stamp float64 `json:"stamp"`

	// PID is the calling process.
	PID int64 `json:"pid"`

	// Syscall is the traced call.
	Syscall syscall.Code `json:"sysc"`

	// FileID is the file the call operated on.
	FileID int64 `json:"fid"`

	// Result is 0 on success or a negative errno.
	Result int64 `json:"res"`

	// Elapsed is the call duration in seconds.
	Elapsed float64 `json:"elapsed"`

	// Aux1 and Aux2 are interpreted through Syscall.Schema().
	Aux1 int64 `json:"aux1"`
	Aux2 int64 `json:"aux2"`
}

// Length returns aux1 when the syscall's schema says it carries a length.
func (e SyscallEvent) Length() (int64, bool) {
	return e.auxOf(syscall.AuxLength)
}

// Offset returns the aux field the schema marks as a file offset.
func (e SyscallEvent) Offset() (int64, bool) {
	return e.auxOf(syscall.AuxOffset)
}

// DestFileID returns the transfer destination file id, if the syscall has one.
func (e SyscallEvent) DestFileID() (int64, bool) {
	return e.auxOf(syscall.AuxDestFile)
}

func (e SyscallEvent) auxOf(kind syscall.AuxKind) (int64, bool) {
	schema := e.Syscall.Schema()
	switch kind {
	case schema.Aux1:
		if kind != syscall.AuxUnused {
			return e.Aux1, true
		}
	case schema.Aux2:
		if kind != syscall.AuxUnused {
			return e.Aux2, true
		}
	}
	return 0, false
}

// FileRecord maps a file id to the path it was first observed at.
type FileRecord struct {
	FileID int64  `json:"fid"`
	Path   string `json:"path"`
}

// ProcessRecord describes one traced process.
type ProcessRecord struct {
	PID        int64   `json:"pid"`
	PPID       int64   `json:"ppid"`
	Alive      bool    `json:"live"`
	ExitResult int64   `json:"res"`
	BirthTime  float64 `json:"btime"`
	Elapsed    float64 `json:"elapsed"`
	Cmdline    string  `json:"cmdline"`
}

// IsSentinel reports whether this is the tracer's root record.
func (p ProcessRecord) IsSentinel() bool {
	return p.PID == SentinelPID && p.PPID == SentinelPID
}

// EnvRecord is a key/value pair describing the trace session.
type EnvRecord struct {
	Key   string `json:"item"`
	Value string `json:"value"`
}

// Dataset is a fully parsed and validated trace, ready to load.
type Dataset struct {
	// ID identifies this ingestion. Backends store it as metadata.
	ID string

	Env       []EnvRecord
	Events    []SyscallEvent
	Files     []FileRecord
	Processes []ProcessRecord
}
