// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/store/storetest"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

func TestStore_Conformance(t *testing.T) {
	storetest.RunIndexSuite(t, func(t *testing.T) store.Backend {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStore_LoadCopiesInput(t *testing.T) {
	ds := storetest.Fixture()
	s := New()
	storetest.Load(t, s, ds)

	ds.Events[0].Aux1 = -1
	rows, err := s.EventsBySyscall(context.Background(), syscall.Write, store.Col(store.FieldAux1))
	require.NoError(t, err)
	assert.Equal(t, 1024.0, rows[0].Float(0))
}

func TestStore_LoadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New().Load(ctx, storetest.Fixture())
	assert.ErrorIs(t, err, context.Canceled)
}
