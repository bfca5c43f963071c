// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory is the in-process store backend.
//
// Events are kept in ingestion order with two position indexes (by syscall
// code and by file id), so every query touches only the events it matches.
package memory

import (
	"context"
	"math"
	"sync"

	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// Store is an in-memory store.Backend.
//
// Thread Safety: safe for concurrent use. Queries take a read lock.
type Store struct {
	*store.ScanIndex

	mu        sync.RWMutex
	loaded    bool
	events    []store.SyscallEvent
	bySyscall map[syscall.Code][]int
	byFile    map[int64][]int
	minStamp  float64
	files     []store.FileRecord
	procs     []store.ProcessRecord
	env       []store.EnvRecord
}

// New creates an empty store.
func New() *Store {
	s := &Store{
		bySyscall: make(map[syscall.Code][]int),
		byFile:    make(map[int64][]int),
	}
	s.ScanIndex = store.NewScanIndex(s)
	return s
}

// Load implements store.Loader.
func (s *Store) Load(ctx context.Context, ds *store.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return store.ErrAlreadyLoaded
	}

	s.events = append([]store.SyscallEvent(nil), ds.Events...)
	s.minStamp = math.Inf(1)
	for i, e := range s.events {
		s.bySyscall[e.Syscall] = append(s.bySyscall[e.Syscall], i)
		s.byFile[e.FileID] = append(s.byFile[e.FileID], i)
		s.minStamp = math.Min(s.minStamp, e.Stamp)
	}
	if len(s.events) == 0 {
		s.minStamp = 0
	}
	s.files = append([]store.FileRecord(nil), ds.Files...)
	s.procs = append([]store.ProcessRecord(nil), ds.Processes...)
	s.env = append([]store.EnvRecord(nil), ds.Env...)
	s.loaded = true
	return nil
}

// Close implements store.Backend. It releases the indexed data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.bySyscall = make(map[syscall.Code][]int)
	s.byFile = make(map[int64][]int)
	return nil
}

// ScanSyscall implements store.EventScanner.
func (s *Store) ScanSyscall(ctx context.Context, code syscall.Code) ([]store.SyscallEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.bySyscall[code]), ctx.Err()
}

// ScanFile implements store.EventScanner.
func (s *Store) ScanFile(ctx context.Context, fileID int64) ([]store.SyscallEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byFile[fileID]), ctx.Err()
}

// MinTimestamp implements store.EventScanner.
func (s *Store) MinTimestamp(_ context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minStamp, nil
}

// Processes implements store.Index.
func (s *Store) Processes(_ context.Context) ([]store.ProcessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.ProcessRecord{}, s.procs...), nil
}

// Files implements store.Index.
func (s *Store) Files(_ context.Context) ([]store.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.FileRecord{}, s.files...), nil
}

// Env implements store.Index.
func (s *Store) Env(_ context.Context) ([]store.EnvRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.EnvRecord{}, s.env...), nil
}

func (s *Store) collect(positions []int) []store.SyscallEvent {
	out := make([]store.SyscallEvent, len(positions))
	for i, p := range positions {
		out[i] = s.events[p]
	}
	return out
}

var _ store.Backend = (*Store)(nil)
