// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats computes per-syscall descriptive statistics over a trace.
//
// Every statistic is defined on an empty input: counts are 0, sums and
// means are 0, and the standard deviation of zero or one sample is 0.
package stats

import (
	"context"
	"fmt"
	"math"

	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// Aggregator answers statistics queries against an Index.
//
// Thread Safety: safe for concurrent use if the Index is.
type Aggregator struct {
	idx store.Index
}

// New creates an Aggregator over idx.
func New(idx store.Index) *Aggregator {
	return &Aggregator{idx: idx}
}

// Count returns the number of events with the given syscall.
func (a *Aggregator) Count(ctx context.Context, code syscall.Code) (int, error) {
	v, err := a.aggregate(ctx, code, store.Count())
	return int(v), err
}

// Sum returns the sum of field over events with the given syscall.
func (a *Aggregator) Sum(ctx context.Context, code syscall.Code, field store.Field) (float64, error) {
	return a.aggregate(ctx, code, store.Sum(field))
}

// Mean returns the arithmetic mean of field over events with the given syscall.
func (a *Aggregator) Mean(ctx context.Context, code syscall.Code, field store.Field) (float64, error) {
	return a.aggregate(ctx, code, store.Avg(field))
}

// StdDev returns the population standard deviation of field over the raw
// per-event values of the given syscall.
func (a *Aggregator) StdDev(ctx context.Context, code syscall.Code, field store.Field) (float64, error) {
	rows, err := a.idx.EventsBySyscall(ctx, code, store.Col(field))
	if err != nil {
		return 0, fmt.Errorf("stddev of %s %s: %w", code, field, err)
	}
	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = r.Float(0)
	}
	return PopulationStdDev(values), nil
}

func (a *Aggregator) aggregate(ctx context.Context, code syscall.Code, sel store.Selector) (float64, error) {
	rows, err := a.idx.EventsBySyscall(ctx, code, sel)
	if err != nil {
		return 0, fmt.Errorf("%s of %s: %w", sel, code, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Float(0), nil
}

// PopulationStdDev returns sqrt(mean((x - mean(x))^2)), or 0 for fewer
// than two values.
func PopulationStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// SyscallSummary is one row of a per-syscall summary table.
type SyscallSummary struct {
	Syscall       syscall.Code `json:"-"`
	Name          string       `json:"syscall"`
	Count         int          `json:"count"`
	ElapsedSum    float64      `json:"elapsed_sum"`
	ElapsedMean   float64      `json:"elapsed_mean"`
	ElapsedStdDev float64      `json:"elapsed_stddev"`

	// Bytes is the total requested length (aux1) for syscalls whose
	// schema carries one, otherwise 0.
	Bytes float64 `json:"bytes,omitempty"`
}

// Summary computes a summary row per syscall.
//
// With no codes, every known syscall that occurs in the trace is summarized
// in code order. Explicitly requested codes are always returned, even when
// their count is 0.
func (a *Aggregator) Summary(ctx context.Context, codes ...syscall.Code) ([]SyscallSummary, error) {
	explicit := len(codes) > 0
	if !explicit {
		codes = syscall.All()
	}

	out := make([]SyscallSummary, 0, len(codes))
	for _, code := range codes {
		rows, err := a.idx.EventsBySyscall(ctx, code,
			store.Count(), store.Sum(store.FieldElapsed), store.Avg(store.FieldElapsed), store.Sum(store.FieldAux1))
		if err != nil {
			return nil, fmt.Errorf("summarizing %s: %w", code, err)
		}
		s := SyscallSummary{Syscall: code, Name: code.String()}
		if len(rows) > 0 {
			s.Count = int(rows[0].Int(0))
			s.ElapsedSum = rows[0].Float(1)
			s.ElapsedMean = rows[0].Float(2)
			if code.Schema().Aux1 == syscall.AuxLength {
				s.Bytes = rows[0].Float(3)
			}
		}
		if s.Count == 0 && !explicit {
			continue
		}
		if s.ElapsedStdDev, err = a.StdDev(ctx, code, store.FieldElapsed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
