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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

func TestProject(t *testing.T) {
	events := []SyscallEvent{
		{Stamp: 1, PID: 10, Syscall: syscall.Write, FileID: 5, Elapsed: 0.5, Aux1: 100},
		{Stamp: 2, PID: 11, Syscall: syscall.Write, FileID: 6, Elapsed: 1.5, Aux1: 300},
	}

	t.Run("plain selectors return one row per event", func(t *testing.T) {
		rows := Project(events, []Selector{Col(FieldPID), Col(FieldAux1)})
		require.Len(t, rows, 2)
		assert.Equal(t, int64(11), rows[1].Int(0))
		assert.Equal(t, 300.0, rows[1].Float(1))
	})

	t.Run("aggregate collapses to one row", func(t *testing.T) {
		rows := Project(events, []Selector{Col(FieldPID), Sum(FieldAux1), Avg(FieldElapsed), Count(), Min(FieldStamp), Max(FieldStamp)})
		require.Len(t, rows, 1)
		assert.Equal(t, Row{10, 400, 1.0, 2, 1, 2}, rows[0])
	})

	t.Run("aggregate over nothing returns no rows", func(t *testing.T) {
		rows := Project(nil, []Selector{Sum(FieldAux1)})
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})
}

func TestRow_IntPrecision(t *testing.T) {
	events := []SyscallEvent{
		{PID: 10, Aux1: MaxExactInt},
		{PID: 10, Aux1: MaxExactInt + 1},
	}
	rows := Project(events, []Selector{Col(FieldAux1)})
	require.Len(t, rows, 2)
	assert.Equal(t, int64(MaxExactInt), rows[0].Int(0))
	// Past 2^53 the column rounds to the nearest float64.
	assert.Equal(t, int64(MaxExactInt), rows[1].Int(0))
}

func TestGroupByFile(t *testing.T) {
	events := []SyscallEvent{
		{PID: 10, FileID: 7, Aux1: 1},
		{PID: 11, FileID: 5, Aux1: 2},
		{PID: 12, FileID: 7, Aux1: 4},
	}
	rows := GroupByFile(events, []Selector{Col(FieldFileID), Col(FieldPID), Sum(FieldAux1), Count()})
	require.Len(t, rows, 2)
	assert.Equal(t, Row{7, 10, 5, 2}, rows[0], "first appearance order, first-match pid")
	assert.Equal(t, Row{5, 11, 2, 1}, rows[1])
}

func TestValidateSelectors(t *testing.T) {
	assert.NoError(t, ValidateSelectors([]Selector{Col(FieldAux2)}))
	assert.ErrorIs(t, ValidateSelectors(nil), ErrInvalidSelector)
	assert.ErrorIs(t, ValidateSelectors([]Selector{{Field: Field(42)}}), ErrInvalidSelector)
	assert.ErrorIs(t, ValidateSelectors([]Selector{{Field: FieldPID, Agg: Aggregate(9)}}), ErrInvalidSelector)
}

func TestSelector_String(t *testing.T) {
	assert.Equal(t, "SUM(aux1)", Sum(FieldAux1).String())
	assert.Equal(t, "COUNT(stamp)", Count().String())
	assert.Equal(t, "pid", Col(FieldPID).String())
}

func TestSyscallEvent_AuxAccessors(t *testing.T) {
	w := SyscallEvent{Syscall: syscall.Write, Aux1: 4096, Aux2: 512}
	n, ok := w.Length()
	assert.True(t, ok)
	assert.Equal(t, int64(4096), n)
	off, ok := w.Offset()
	assert.True(t, ok)
	assert.Equal(t, int64(512), off)
	_, ok = w.DestFileID()
	assert.False(t, ok)

	r := SyscallEvent{Syscall: syscall.Rename, Aux1: 8}
	dst, ok := r.DestFileID()
	assert.True(t, ok)
	assert.Equal(t, int64(8), dst)
	_, ok = r.Length()
	assert.False(t, ok)
}
