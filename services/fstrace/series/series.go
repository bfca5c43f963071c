// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package series derives per-syscall time series from a trace.
//
// Times are normalized against the first event of the whole trace, so the
// earliest point of any series built from the same store is at t = 0.
package series

import (
	"context"
	"fmt"

	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// Kind names what a series measures.
type Kind string

const (
	// KindCount is the cumulative number of calls.
	KindCount Kind = "count"

	// KindElapsed is the duration of each call in seconds.
	KindElapsed Kind = "elapsed"

	// KindElapsedSum is the cumulative call duration in seconds.
	KindElapsedSum Kind = "elapsed_sum"

	// KindOffset is the file offset of each call.
	KindOffset Kind = "offset"

	// KindLength is the requested length of each call.
	KindLength Kind = "length"

	// KindBytes is the cumulative requested length.
	KindBytes Kind = "bytes"
)

// Point is one sample at a normalized time in seconds.
type Point struct {
	Time  float64 `json:"t"`
	Value float64 `json:"v"`
}

// Series is one measured quantity of one syscall.
type Series struct {
	Syscall syscall.Code `json:"-"`
	Name    string       `json:"syscall"`
	Kind    Kind         `json:"kind"`
	Points  []Point      `json:"points"`
}

// Set groups the series built from one store.
type Set struct {
	// Epoch is the absolute timestamp that maps to t = 0.
	Epoch  float64
	Series []Series
}

// Get returns the series of the given syscall and kind.
func (s *Set) Get(code syscall.Code, kind Kind) (Series, bool) {
	for _, ser := range s.Series {
		if ser.Syscall == code && ser.Kind == kind {
			return ser, true
		}
	}
	return Series{}, false
}

// Build derives the series of each requested syscall.
//
// Description:
//
//	Every syscall gets count, elapsed and elapsed-sum series. Syscalls whose
//	aux1 is a length also get length and cumulative byte series, and those
//	whose aux2 is an offset get an offset series. A syscall with no events
//	yields series with no points.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	idx - The trace index.
//	codes - Syscalls to build series for.
//
// Outputs:
//
//	*Set - The series in request order.
//	error - Non-nil if a store query fails.
func Build(ctx context.Context, idx store.Index, codes ...syscall.Code) (*Set, error) {
	epoch, err := idx.FirstTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading first timestamp: %w", err)
	}

	set := &Set{Epoch: epoch}
	for _, code := range codes {
		rows, err := idx.EventsBySyscall(ctx, code,
			store.Col(store.FieldStamp),
			store.Col(store.FieldElapsed),
			store.Col(store.FieldAux1),
			store.Col(store.FieldAux2),
		)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", code, err)
		}
		set.Series = append(set.Series, fromRows(code, epoch, rows)...)
	}
	return set, nil
}

func fromRows(code syscall.Code, epoch float64, rows []store.Row) []Series {
	schema := code.Schema()
	hasLength := schema.Aux1 == syscall.AuxLength
	hasOffset := schema.Aux2 == syscall.AuxOffset

	mk := func(kind Kind) Series {
		return Series{Syscall: code, Name: code.String(), Kind: kind, Points: make([]Point, 0, len(rows))}
	}
	count, elapsed, elapsedSum := mk(KindCount), mk(KindElapsed), mk(KindElapsedSum)
	length, bytes, offset := mk(KindLength), mk(KindBytes), mk(KindOffset)

	var cumElapsed, cumBytes float64
	for i, r := range rows {
		t := r.Float(0) - epoch
		cumElapsed += r.Float(1)

		count.Points = append(count.Points, Point{t, float64(i + 1)})
		elapsed.Points = append(elapsed.Points, Point{t, r.Float(1)})
		elapsedSum.Points = append(elapsedSum.Points, Point{t, cumElapsed})

		if hasLength {
			cumBytes += r.Float(2)
			length.Points = append(length.Points, Point{t, r.Float(2)})
			bytes.Points = append(bytes.Points, Point{t, cumBytes})
		}
		if hasOffset {
			offset.Points = append(offset.Points, Point{t, r.Float(3)})
		}
	}

	out := []Series{count, elapsed, elapsedSum}
	if hasLength {
		out = append(out, length, bytes)
	}
	if hasOffset {
		out = append(out, offset)
	}
	return out
}
