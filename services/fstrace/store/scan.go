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
	"math"

	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// EventScanner is the minimal access a non-relational backend provides.
// ScanIndex turns it into a full Index by evaluating selectors in Go.
//
// Scan methods return events in ingestion order.
type EventScanner interface {
	ScanSyscall(ctx context.Context, code syscall.Code) ([]SyscallEvent, error)
	ScanFile(ctx context.Context, fileID int64) ([]SyscallEvent, error)
	MinTimestamp(ctx context.Context) (float64, error)
	Processes(ctx context.Context) ([]ProcessRecord, error)
	Files(ctx context.Context) ([]FileRecord, error)
	Env(ctx context.Context) ([]EnvRecord, error)
}

// ScanIndex implements the selector-driven Index methods on top of an
// EventScanner. Backends embed it.
type ScanIndex struct {
	scanner EventScanner
}

// NewScanIndex wraps a scanner.
func NewScanIndex(s EventScanner) *ScanIndex {
	return &ScanIndex{scanner: s}
}

// EventsBySyscall implements Index.
func (x *ScanIndex) EventsBySyscall(ctx context.Context, code syscall.Code, sel ...Selector) ([]Row, error) {
	if err := ValidateSelectors(sel); err != nil {
		return nil, err
	}
	events, err := x.scanner.ScanSyscall(ctx, code)
	if err != nil {
		return nil, err
	}
	return Project(events, sel), nil
}

// EventsByFile implements Index.
func (x *ScanIndex) EventsByFile(ctx context.Context, fileID int64, sel ...Selector) ([]Row, error) {
	if err := ValidateSelectors(sel); err != nil {
		return nil, err
	}
	events, err := x.scanner.ScanFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return Project(events, sel), nil
}

// EventsByFileAndSyscall implements Index.
func (x *ScanIndex) EventsByFileAndSyscall(ctx context.Context, fileID int64, code syscall.Code, sel ...Selector) ([]Row, error) {
	if err := ValidateSelectors(sel); err != nil {
		return nil, err
	}
	events, err := x.scanner.ScanFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	matched := events[:0:0]
	for _, e := range events {
		if e.Syscall == code {
			matched = append(matched, e)
		}
	}
	return Project(matched, sel), nil
}

// FirstEventByFileAndSyscall implements Index.
func (x *ScanIndex) FirstEventByFileAndSyscall(ctx context.Context, fileID int64, code syscall.Code, sel ...Selector) (Row, bool, error) {
	rows, err := x.EventsByFileAndSyscall(ctx, fileID, code, sel...)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// EventsGroupedByFile implements Index.
func (x *ScanIndex) EventsGroupedByFile(ctx context.Context, code syscall.Code, sel ...Selector) ([]Row, error) {
	if err := ValidateSelectors(sel); err != nil {
		return nil, err
	}
	events, err := x.scanner.ScanSyscall(ctx, code)
	if err != nil {
		return nil, err
	}
	return GroupByFile(events, sel), nil
}

// FirstTimestamp implements Index.
func (x *ScanIndex) FirstTimestamp(ctx context.Context) (float64, error) {
	return x.scanner.MinTimestamp(ctx)
}

// Processes implements Index.
func (x *ScanIndex) Processes(ctx context.Context) ([]ProcessRecord, error) {
	return x.scanner.Processes(ctx)
}

// Files implements Index.
func (x *ScanIndex) Files(ctx context.Context) ([]FileRecord, error) {
	return x.scanner.Files(ctx)
}

// Env implements Index.
func (x *ScanIndex) Env(ctx context.Context) ([]EnvRecord, error) {
	return x.scanner.Env(ctx)
}

// Project evaluates selectors over events.
//
// Without aggregates it returns one row per event. With any aggregate it
// returns a single row (plain selectors take the first event) or no rows
// when events is empty.
func Project(events []SyscallEvent, sel []Selector) []Row {
	if !HasAggregate(sel) {
		rows := make([]Row, 0, len(events))
		for _, e := range events {
			rows = append(rows, plainRow(e, sel))
		}
		return rows
	}
	if len(events) == 0 {
		return []Row{}
	}
	return []Row{reduce(events, sel)}
}

// GroupByFile evaluates selectors per distinct file id, groups ordered by
// first appearance.
func GroupByFile(events []SyscallEvent, sel []Selector) []Row {
	var order []int64
	groups := make(map[int64][]SyscallEvent)
	for _, e := range events {
		if _, seen := groups[e.FileID]; !seen {
			order = append(order, e.FileID)
		}
		groups[e.FileID] = append(groups[e.FileID], e)
	}
	rows := make([]Row, 0, len(order))
	for _, fid := range order {
		rows = append(rows, reduce(groups[fid], sel))
	}
	return rows
}

func plainRow(e SyscallEvent, sel []Selector) Row {
	row := make(Row, len(sel))
	for i, s := range sel {
		row[i] = s.Field.Value(e)
	}
	return row
}

// reduce collapses a non-empty event group to one row.
func reduce(events []SyscallEvent, sel []Selector) Row {
	row := make(Row, len(sel))
	for i, s := range sel {
		switch s.Agg {
		case AggNone:
			row[i] = s.Field.Value(events[0])
		case AggCount:
			row[i] = float64(len(events))
		case AggSum, AggAvg:
			var sum float64
			for _, e := range events {
				sum += s.Field.Value(e)
			}
			if s.Agg == AggAvg {
				sum /= float64(len(events))
			}
			row[i] = sum
		case AggMin:
			v := math.Inf(1)
			for _, e := range events {
				v = math.Min(v, s.Field.Value(e))
			}
			row[i] = v
		case AggMax:
			v := math.Inf(-1)
			for _, e := range events {
				v = math.Max(v, s.Field.Value(e))
			}
			row[i] = v
		}
	}
	return row
}
