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
	"fmt"

	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// Field is a selectable syscall event column.
//
// The enumeration is closed. Backends that render queries as text map each
// field to a fixed column name and never accept names from callers.
type Field int

const (
	FieldStamp Field = iota
	FieldPID
	FieldSyscall
	FieldFileID
	FieldResult
	FieldElapsed
	FieldAux1
	FieldAux2

	numFields
)

var fieldColumns = [numFields]string{
	FieldStamp:   "stamp",
	FieldPID:     "pid",
	FieldSyscall: "sysc",
	FieldFileID:  "fid",
	FieldResult:  "res",
	FieldElapsed: "elapsed",
	FieldAux1:    "aux1",
	FieldAux2:    "aux2",
}

// Valid reports whether f is in the enumeration.
func (f Field) Valid() bool {
	return f >= 0 && f < numFields
}

// Column returns the storage column name of the field.
func (f Field) Column() string {
	if !f.Valid() {
		return ""
	}
	return fieldColumns[f]
}

// String implements fmt.Stringer.
func (f Field) String() string {
	if !f.Valid() {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldColumns[f]
}

// Value extracts the field from an event as a float64.
func (f Field) Value(e SyscallEvent) float64 {
	switch f {
	case FieldStamp:
		return e.Stamp
	case FieldPID:
		return float64(e.PID)
	case FieldSyscall:
		return float64(e.Syscall)
	case FieldFileID:
		return float64(e.FileID)
	case FieldResult:
		return float64(e.Result)
	case FieldElapsed:
		return e.Elapsed
	case FieldAux1:
		return float64(e.Aux1)
	case FieldAux2:
		return float64(e.Aux2)
	default:
		return 0
	}
}

// Aggregate is an optional reduction applied to a selected field.
type Aggregate int

const (
	AggNone Aggregate = iota
	AggSum
	AggAvg
	AggCount
	AggMin
	AggMax

	numAggregates
)

// String returns the SQL-style name of the aggregate.
func (a Aggregate) String() string {
	switch a {
	case AggNone:
		return ""
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggCount:
		return "COUNT"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return fmt.Sprintf("agg(%d)", int(a))
	}
}

// Selector picks one output column of a query.
type Selector struct {
	Field Field
	Agg   Aggregate
}

// Col selects a plain field.
func Col(f Field) Selector { return Selector{Field: f} }

// Sum selects the sum of a field.
func Sum(f Field) Selector { return Selector{Field: f, Agg: AggSum} }

// Avg selects the mean of a field.
func Avg(f Field) Selector { return Selector{Field: f, Agg: AggAvg} }

// Min selects the minimum of a field.
func Min(f Field) Selector { return Selector{Field: f, Agg: AggMin} }

// Max selects the maximum of a field.
func Max(f Field) Selector { return Selector{Field: f, Agg: AggMax} }

// Count selects the number of matching events.
func Count() Selector { return Selector{Field: FieldStamp, Agg: AggCount} }

// IsAggregate reports whether the selector reduces its input.
func (s Selector) IsAggregate() bool {
	return s.Agg != AggNone
}

// String renders the selector, e.g. "SUM(aux1)".
func (s Selector) String() string {
	if !s.IsAggregate() {
		return s.Field.String()
	}
	return fmt.Sprintf("%s(%s)", s.Agg, s.Field)
}

// ValidateSelectors checks a selector list against the closed enumeration.
func ValidateSelectors(sel []Selector) error {
	if len(sel) == 0 {
		return fmt.Errorf("%w: no columns selected", ErrInvalidSelector)
	}
	for i, s := range sel {
		if !s.Field.Valid() {
			return fmt.Errorf("%w: selector %d has unknown field %d", ErrInvalidSelector, i, int(s.Field))
		}
		if s.Agg < AggNone || s.Agg >= numAggregates {
			return fmt.Errorf("%w: selector %d has unknown aggregate %d", ErrInvalidSelector, i, int(s.Agg))
		}
	}
	return nil
}

// HasAggregate reports whether any selector reduces its input.
func HasAggregate(sel []Selector) bool {
	for _, s := range sel {
		if s.IsAggregate() {
			return true
		}
	}
	return false
}

// Row is one result row, one value per selector in selector order.
//
// Integer fields are carried as float64 and are exact only up to 2^53
// (MaxExactInt). Larger pids, file ids, byte counts or sums come back
// rounded to the nearest representable value.
type Row []float64

// MaxExactInt is the largest integer a Row column holds without rounding.
const MaxExactInt = 1 << 53

// Int returns column i as an integer. See Row for the precision limit.
func (r Row) Int(i int) int64 {
	return int64(r[i])
}

// Float returns column i.
func (r Row) Float(i int) float64 {
	return r[i]
}

// Index is the read-only query surface over an ingested trace.
//
// Every method returns an empty slice (never an error) when nothing matches.
// A query whose selectors include an aggregate returns exactly one row when
// any event matched and zero rows otherwise. Grouped queries return one row
// per distinct file id in order of first appearance: plain selectors take the
// group's first event, aggregates reduce the whole group.
//
// Thread Safety: implementations are safe for concurrent reads after Load.
type Index interface {
	// EventsBySyscall selects from every event with the given syscall code.
	EventsBySyscall(ctx context.Context, code syscall.Code, sel ...Selector) ([]Row, error)

	// EventsByFile selects from every event on the given file id.
	EventsByFile(ctx context.Context, fileID int64, sel ...Selector) ([]Row, error)

	// EventsByFileAndSyscall selects from events matching both keys.
	EventsByFileAndSyscall(ctx context.Context, fileID int64, code syscall.Code, sel ...Selector) ([]Row, error)

	// FirstEventByFileAndSyscall returns only the first matching row.
	FirstEventByFileAndSyscall(ctx context.Context, fileID int64, code syscall.Code, sel ...Selector) (Row, bool, error)

	// EventsGroupedByFile selects per distinct file id among events of code.
	EventsGroupedByFile(ctx context.Context, code syscall.Code, sel ...Selector) ([]Row, error)

	// FirstTimestamp returns the minimum event timestamp, or 0 for an empty trace.
	FirstTimestamp(ctx context.Context) (float64, error)

	// Processes returns every process record in ingestion order.
	Processes(ctx context.Context) ([]ProcessRecord, error)

	// Files returns every file record in ingestion order.
	Files(ctx context.Context) ([]FileRecord, error)

	// Env returns the session environment records in ingestion order.
	Env(ctx context.Context) ([]EnvRecord, error)
}

// Loader accepts a validated dataset. It is called exactly once per store.
type Loader interface {
	Load(ctx context.Context, ds *Dataset) error
}

// Backend is a store that can be loaded, queried and closed.
type Backend interface {
	Index
	Loader
	Close() error
}
