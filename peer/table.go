// table.go: the fixed-capacity, worker-owned peer slot table
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package peer

import (
	"fmt"

	"github.com/agilira/go-timecache"

	"github.com/agilira/ringsocket/wsframe"
)

// Table is the per-worker fixed-index peer slot table. It is owned
// exclusively by its worker thread (spec.md §5: "The peer table is
// owned exclusively by its worker") — no synchronization is needed or
// provided.
type Table struct {
	slots     []Slot
	free      []uint32 // free-list of slot indices, LIFO
	maxMsg    int
	timeCache *timecache.TimeCache
}

// NewTable preallocates capacity slots. maxMsg bounds each slot's
// WebSocket reassembly buffer.
func NewTable(capacity, maxMsg int, tc *timecache.TimeCache) *Table {
	t := &Table{
		slots:     make([]Slot, capacity),
		free:      make([]uint32, capacity),
		maxMsg:    maxMsg,
		timeCache: tc,
	}
	for i := range t.free {
		t.free[i] = uint32(capacity - 1 - i)
	}
	return t
}

// ErrTableFull is returned by Acquire when no free slot remains.
var ErrTableFull = fmt.Errorf("peer: table full")

// Acquire pops a free slot index and initializes it for a newly
// accepted connection. Returns the slot, its index, and its fresh
// generation.
func (t *Table) Acquire(fd int) (*Slot, uint32, uint32, error) {
	if len(t.free) == 0 {
		return nil, 0, 0, ErrTableFull
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	s := &t.slots[idx]
	gen := s.Generation
	s.FD = fd
	s.Layer = LayerTCP
	s.Mortality = Live
	s.Reassembler = wsframe.NewReassembler(t.maxMsg)
	s.inUse = true
	s.touch(t.timeCache)
	return s, idx, gen, nil
}

// Get returns the slot at idx if it is live and its generation matches
// (or gen == 0, meaning "don't check" — used by worker-internal code
// that already holds a fresh index). Returns nil if the slot is free
// or the generation is stale (a recycled-slot reference, spec.md §5:
// "stale client-id references to a recycled slot will simply miss").
func (t *Table) Get(idx, gen uint32) *Slot {
	if int(idx) >= len(t.slots) {
		return nil
	}
	s := &t.slots[idx]
	if !s.inUse {
		return nil
	}
	if gen != 0 && s.Generation != gen {
		return nil
	}
	return s
}

// Release zeroes the slot (per spec.md §3 invariant: "a slot is either
// entirely zeroed (free) or fully populated (live)") and returns its
// index to the free list. Called only once a slot reaches Dead and its
// socket has been closed.
func (t *Table) Release(idx uint32) {
	s := &t.slots[idx]
	s.inUse = false
	s.reset()
	t.free = append(t.free, idx)
}

// Cap returns the table's fixed capacity.
func (t *Table) Cap() int { return len(t.slots) }

// InUse reports the number of currently live slots.
func (t *Table) InUse() int { return len(t.slots) - len(t.free) }

// Range calls fn for every in-use slot with its index, in slot-index
// order. fn must not call Acquire/Release.
func (t *Table) Range(fn func(idx uint32, s *Slot)) {
	for i := range t.slots {
		if t.slots[i].inUse {
			fn(uint32(i), &t.slots[i])
		}
	}
}

// LiveWS reports whether the slot at idx is both live and has
// completed the upgrade to the WS layer — the fan-out recipient-set
// predicate of spec.md §4.4.
func (t *Table) LiveWS(idx uint32) bool {
	if int(idx) >= len(t.slots) {
		return false
	}
	s := &t.slots[idx]
	return s.inUse && s.Mortality == Live && s.Layer == LayerWS
}
