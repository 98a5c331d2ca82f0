// ring_test.go: SPSC ring buffer behavior
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ring

import (
	"encoding/binary"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingReserveCommitPublishPeekAdvance(t *testing.T) {
	rg := New(64, 1.75)

	buf := rg.Reserve(5)
	copy(buf, []byte("hello"))
	rg.Commit(5)
	rg.Publish()

	got := rg.Peek()
	require.Equal(t, []byte("hello"), got)
	assert.Equal(t, 5, rg.Occupancy())

	rg.Advance(5)
	assert.True(t, rg.Empty())
	assert.Nil(t, rg.Peek())
}

func TestRingGrowsWhenFull(t *testing.T) {
	rg := New(8, 2)
	initialCap := rg.Cap()

	buf := rg.Reserve(32)
	require.Len(t, buf, 32)
	assert.Greater(t, rg.Cap(), initialCap)
}

func TestRingGrowPreservesUnreadData(t *testing.T) {
	rg := New(8, 2)

	b := rg.Reserve(4)
	copy(b, []byte("abcd"))
	rg.Commit(4)
	rg.Publish()
	// consume none yet; reserve more than remains, forcing a grow that
	// must carry the unread "abcd" forward.
	b2 := rg.Reserve(16)
	copy(b2, []byte("efgh"))
	rg.Commit(16)
	rg.Publish()

	got := rg.Peek()
	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, byte('a'), got[0])
}

func TestRingEmptyRingCheapGrow(t *testing.T) {
	rg := New(8, 2)
	b := rg.Reserve(4)
	copy(b, []byte("data"))
	rg.Commit(4)
	rg.Publish()
	rg.Advance(4)
	require.True(t, rg.Empty())

	// fully drained: grow should reset cursors to zero rather than copy.
	b2 := rg.Reserve(32)
	require.Len(t, b2, 32)
}

func TestRingSizeString(t *testing.T) {
	rg := New(1024, 1.75)
	assert.NotEmpty(t, rg.SizeString())
}

// drainUint64s runs on the consumer goroutine: it busy-polls Peek until it
// has collected want records (each an 8-byte big-endian counter), appending
// every full record it sees and Advance-ing past exactly what it consumed.
func drainUint64s(t *testing.T, rg *Ring, want int, got *[]uint64) {
	t.Helper()
	for len(*got) < want {
		b := rg.Peek()
		if len(b) == 0 {
			runtime.Gosched()
			continue
		}
		n := len(b) - len(b)%8
		for i := 0; i < n; i += 8 {
			*got = append(*got, binary.BigEndian.Uint64(b[i:i+8]))
		}
		rg.Advance(n)
	}
}

// TestRingConcurrentProducerConsumer runs one producer goroutine and one
// consumer goroutine against the same Ring with no external
// synchronization beyond the ring itself, the way lethe_test.go's
// TestConcurrentRotationStress exercises its buffer with real goroutines
// and a WaitGroup instead of a single-threaded simulation. Run with
// -race: the producer and consumer touch the same memory on every
// Reserve/Commit/Publish versus Peek/Advance.
func TestRingConcurrentProducerConsumer(t *testing.T) {
	rg := New(4096, 1.75)
	const total = 200_000

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < total; i++ {
			buf := rg.Reserve(8)
			binary.BigEndian.PutUint64(buf, i)
			rg.Commit(8)
			rg.Publish()
		}
	}()

	var got []uint64
	go func() {
		defer wg.Done()
		drainUint64s(t, rg, total, &got)
	}()
	wg.Wait()

	require.Len(t, got, total)
	for i, v := range got {
		require.Equal(t, uint64(i), v, "record %d out of order", i)
	}
}

// TestRingConcurrentProducerConsumerWithGrow starts from a ring too small
// to hold more than a handful of records, forcing the producer to grow
// repeatedly while the consumer goroutine is actively draining — the
// exact scenario the grow/resync handoff (see the package doc's "Resize
// handoff") exists to make safe. Run with -race.
func TestRingConcurrentProducerConsumerWithGrow(t *testing.T) {
	rg := New(8, 1.2) // smaller than one record: every write forces a grow at first
	const total = 50_000

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < total; i++ {
			buf := rg.Reserve(8)
			binary.BigEndian.PutUint64(buf, i)
			rg.Commit(8)
			rg.Publish()
		}
	}()

	var got []uint64
	go func() {
		defer wg.Done()
		drainUint64s(t, rg, total, &got)
	}()
	wg.Wait()

	require.Len(t, got, total)
	for i, v := range got {
		require.Equal(t, uint64(i), v, "record %d out of order", i)
	}
}
