// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/store/storetest"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.RunIndexSuite(t, func(t *testing.T) store.Backend {
		return openTemp(t)
	})
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DefaultFileName)

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, loaded, err := s.IngestionID(ctx)
	require.NoError(t, err)
	assert.False(t, loaded)

	storetest.Load(t, s, storetest.Fixture())
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	id, loaded, err := s.IngestionID(ctx)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, "fixture", id)

	rows, err := s.EventsBySyscall(ctx, syscall.Unlink, store.Col(store.FieldPID))
	require.NoError(t, err)
	assert.Equal(t, []store.Row{{12}}, rows)
}

func TestBuildQuery(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		q, err := buildQuery("sysc = ?", false, []store.Selector{store.Col(store.FieldPID), store.Col(store.FieldAux1)})
		require.NoError(t, err)
		assert.Equal(t, "SELECT pid, aux1 FROM syscall WHERE sysc = ? ORDER BY rowid", q)
	})

	t.Run("grouped", func(t *testing.T) {
		q, err := buildQuery("sysc = ?", true, []store.Selector{store.Col(store.FieldFileID), store.Sum(store.FieldAux1), store.Count()})
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT s.fid, g.a1, g.a2 FROM (SELECT MIN(rowid) AS first_row, SUM(aux1) AS a1, COUNT(*) AS a2 FROM syscall WHERE sysc = ? GROUP BY fid) AS g JOIN syscall AS s ON s.rowid = g.first_row ORDER BY g.first_row",
			q)
	})

	t.Run("rejects unknown field", func(t *testing.T) {
		_, err := buildQuery("sysc = ?", false, []store.Selector{{Field: store.Field(-1)}})
		assert.ErrorIs(t, err, store.ErrInvalidSelector)
	})
}
