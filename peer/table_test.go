// table_test.go: slot table acquire/release/generation and LiveWS gating
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package peer

import (
	"testing"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, capacity int) *Table {
	t.Helper()
	tc := timecache.NewWithResolution(time.Millisecond)
	return NewTable(capacity, 4096, tc)
}

func TestTableAcquireInitializesSlot(t *testing.T) {
	tbl := newTestTable(t, 2)

	s, idx, gen, err := tbl.Acquire(11)
	require.NoError(t, err)
	assert.Equal(t, 11, s.FD)
	assert.Equal(t, LayerTCP, s.Layer)
	assert.Equal(t, Live, s.Mortality)
	assert.NotNil(t, s.Reassembler)
	assert.Equal(t, uint32(0), gen)
	assert.Equal(t, 1, tbl.InUse())
	assert.Same(t, s, tbl.Get(idx, 0))
}

func TestTableFullReturnsErr(t *testing.T) {
	tbl := newTestTable(t, 1)

	_, _, _, err := tbl.Acquire(1)
	require.NoError(t, err)

	_, _, _, err = tbl.Acquire(2)
	assert.ErrorIs(t, err, ErrTableFull)
}

func TestTableReleaseBumpsGenerationOnReacquire(t *testing.T) {
	tbl := newTestTable(t, 1)

	_, idx, gen0, err := tbl.Acquire(1)
	require.NoError(t, err)
	tbl.Release(idx)
	assert.Equal(t, 0, tbl.InUse())

	_, idx2, gen1, err := tbl.Acquire(2)
	require.NoError(t, err)
	assert.Equal(t, idx, idx2)
	assert.Equal(t, gen0+1, gen1)
}

func TestTableGetMissesStaleGeneration(t *testing.T) {
	tbl := newTestTable(t, 1)

	_, idx, _, err := tbl.Acquire(1)
	require.NoError(t, err)
	tbl.Release(idx)
	_, _, gen1, err := tbl.Acquire(2)
	require.NoError(t, err)

	assert.Nil(t, tbl.Get(idx, gen1-1))
	assert.NotNil(t, tbl.Get(idx, gen1))
	assert.NotNil(t, tbl.Get(idx, 0))
}

func TestTableGetOutOfRangeAndFreeSlot(t *testing.T) {
	tbl := newTestTable(t, 1)
	assert.Nil(t, tbl.Get(99, 0))
	assert.Nil(t, tbl.Get(0, 0))
}

func TestTableReleaseZeroesSlot(t *testing.T) {
	tbl := newTestTable(t, 1)
	s, idx, _, err := tbl.Acquire(1)
	require.NoError(t, err)
	s.Layer = LayerWS
	s.IsEncrypted = true

	tbl.Release(idx)

	fresh, _, _, err := tbl.Acquire(2)
	require.NoError(t, err)
	assert.Equal(t, LayerTCP, fresh.Layer)
	assert.False(t, fresh.IsEncrypted)
}

func TestTableRangeVisitsOnlyInUseSlots(t *testing.T) {
	tbl := newTestTable(t, 3)
	_, idx0, _, err := tbl.Acquire(1)
	require.NoError(t, err)
	_, idx1, _, err := tbl.Acquire(2)
	require.NoError(t, err)
	tbl.Release(idx1)

	var visited []uint32
	tbl.Range(func(idx uint32, s *Slot) { visited = append(visited, idx) })
	assert.Equal(t, []uint32{idx0}, visited)
}

func TestTableLiveWS(t *testing.T) {
	tbl := newTestTable(t, 2)
	s, idx, _, err := tbl.Acquire(1)
	require.NoError(t, err)

	assert.False(t, tbl.LiveWS(idx), "fresh TCP slot is not yet WS")

	s.Layer = LayerWS
	assert.True(t, tbl.LiveWS(idx))

	s.Mortality = ShutdownWrite
	assert.False(t, tbl.LiveWS(idx), "no longer Live")

	assert.False(t, tbl.LiveWS(99), "out of range")
}

func TestTableCap(t *testing.T) {
	tbl := newTestTable(t, 5)
	assert.Equal(t, 5, tbl.Cap())
}
