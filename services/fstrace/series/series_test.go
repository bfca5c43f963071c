// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package series

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/services/fstrace/store/memory"
	"github.com/AleutianAI/fstrace/services/fstrace/store/storetest"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

func fixtureSet(t *testing.T, codes ...syscall.Code) *Set {
	t.Helper()
	m := memory.New()
	storetest.Load(t, m, storetest.Fixture())
	set, err := Build(context.Background(), m, codes...)
	require.NoError(t, err)
	return set
}

func TestBuild_NormalizedMinimumIsZero(t *testing.T) {
	set := fixtureSet(t, syscall.All()...)
	assert.Equal(t, 1000.0, set.Epoch)

	lowest := math.Inf(1)
	for _, s := range set.Series {
		for _, p := range s.Points {
			lowest = math.Min(lowest, p.Time)
		}
	}
	assert.Equal(t, 0.0, lowest)
}

func TestBuild_WriteSeries(t *testing.T) {
	set := fixtureSet(t, syscall.Write)

	count, ok := set.Get(syscall.Write, KindCount)
	require.True(t, ok)
	assert.Equal(t, []Point{{0, 1}, {0.5, 2}, {2.5, 3}}, count.Points)

	bytes, ok := set.Get(syscall.Write, KindBytes)
	require.True(t, ok)
	assert.Equal(t, []Point{{0, 1024}, {0.5, 4096}, {2.5, 4106}}, bytes.Points)

	offset, ok := set.Get(syscall.Write, KindOffset)
	require.True(t, ok)
	assert.Equal(t, []Point{{0, 0}, {0.5, 1024}, {2.5, 0}}, offset.Points)

	sum, ok := set.Get(syscall.Write, KindElapsedSum)
	require.True(t, ok)
	assert.Equal(t, 2.0, sum.Points[len(sum.Points)-1].Value)
}

func TestBuild_NonIOSyscallHasNoByteSeries(t *testing.T) {
	set := fixtureSet(t, syscall.Unlink)
	require.Len(t, set.Series, 3)

	count, ok := set.Get(syscall.Unlink, KindCount)
	require.True(t, ok)
	assert.Equal(t, []Point{{4, 1}}, count.Points)

	_, ok = set.Get(syscall.Unlink, KindBytes)
	assert.False(t, ok)
}

func TestBuild_AbsentSyscall(t *testing.T) {
	set := fixtureSet(t, syscall.Mkdir)
	require.Len(t, set.Series, 3)
	for _, s := range set.Series {
		assert.Empty(t, s.Points)
		assert.Equal(t, "mkdir", s.Name)
	}
}
