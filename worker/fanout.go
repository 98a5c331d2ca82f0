// fanout.go: expanding a recipient-set kind tag into per-peer writes
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package worker implements the epoll-driven I/O worker: its fan-out
// engine (this file) turns a logical recipient set into concrete
// per-peer writes, and its event loop (loop.go) dispatches readiness
// events by peer layer and mortality.
package worker

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/agilira/ringsocket/internal/metrics"
	"github.com/agilira/ringsocket/peer"
)

// Kind is the outbound message's recipient-set tag (spec.md §3, §4.4).
type Kind byte

const (
	KindSingle Kind = iota
	KindArray
	KindEvery
	KindEveryExceptSingle
	KindEveryExceptArray
)

// fanoutStackCap bounds the fan-out helper's recipient buffer before it
// spills to a pooled slice. Resolves the spec.md §9 Open Question about
// an unbounded runtime-sized stack buffer (SPEC_FULL.md §D.3): below the
// cap, recipients accumulate in the caller's persistent per-worker
// buffer with no allocation; above it, the excess spills into a slice
// drawn from spillPool so a worker broadcasting to thousands of peers
// does not reallocate on every delivery.
const fanoutStackCap = 64

// spillShards partitions the spill pool by worker index (via xxhash) so
// concurrently-running workers are spread across separate sync.Pool
// shards, mirroring the sharded-pool pattern used for high fan-in
// broadcast caches. Two workers whose indices hash to the same shard
// share it.
const spillShards = 16

var spillPools [spillShards]sync.Pool

func init() {
	for i := range spillPools {
		spillPools[i] = sync.Pool{New: func() any {
			s := make([]uint32, 0, fanoutStackCap*4)
			return &s
		}}
	}
}

func shardFor(workerIndex uint32) *sync.Pool {
	var buf [4]byte
	buf[0] = byte(workerIndex)
	buf[1] = byte(workerIndex >> 8)
	buf[2] = byte(workerIndex >> 16)
	buf[3] = byte(workerIndex >> 24)
	h := xxhash.Sum64(buf[:])
	return &spillPools[h%spillShards]
}

// getSpill borrows a scratch []uint32 for workerIndex's overflow
// recipients; putSpill returns it once the fan-out delivery completes.
func getSpill(workerIndex uint32) *[]uint32 {
	p := shardFor(workerIndex).Get().(*[]uint32)
	*p = (*p)[:0]
	return p
}

func putSpill(workerIndex uint32, s *[]uint32) {
	shardFor(workerIndex).Put(s)
}

// recipients computes the set of local peer slot indices a message
// should be delivered to, appending the result into *out (callers own
// *out's backing array, typically the worker's persistent
// recipientBuf). For Single/Array, explicit names the recipients
// directly. For Every/EveryExceptSingle/EveryExceptArray the set is
// recomputed fresh from the table at delivery time (spec.md §8: "the
// set of peers that receive a broadcast equals {live WS peers on
// worker} minus exclusions at the time of consumption") — recipients
// never caches a prior snapshot.
//
// The common case (<= fanoutStackCap recipients) never touches the
// heap beyond *out itself: matches accumulate in a fixed-size array.
// Broadcasts wider than that spill into a pooled []uint32 (sharded by
// workerIndex, see shardFor) so a worker fanning out to thousands of
// peers reuses a buffer instead of growing one from scratch each time.
func recipients(table *peer.Table, workerIndex uint32, kind Kind, explicit []uint32, out *[]uint32) {
	var stackBuf [fanoutStackCap]uint32
	buf := stackBuf[:0]
	var spill *[]uint32

	add := func(idx uint32) {
		if spill == nil && len(buf) == cap(buf) {
			spill = getSpill(workerIndex)
			*spill = append((*spill)[:0], buf...)
		}
		if spill != nil {
			*spill = append(*spill, idx)
			return
		}
		buf = append(buf, idx)
	}

	switch kind {
	case KindSingle:
		if len(explicit) > 0 {
			add(explicit[0])
		}
	case KindArray:
		for _, idx := range explicit {
			add(idx)
		}
	case KindEvery:
		table.Range(func(idx uint32, _ *peer.Slot) {
			if table.LiveWS(idx) {
				add(idx)
			}
		})
	case KindEveryExceptSingle:
		hasExcl := len(explicit) > 0
		var excl uint32
		if hasExcl {
			excl = explicit[0]
		}
		table.Range(func(idx uint32, _ *peer.Slot) {
			if table.LiveWS(idx) && !(hasExcl && idx == excl) {
				add(idx)
			}
		})
	case KindEveryExceptArray:
		excl := exclusionSet(explicit)
		table.Range(func(idx uint32, _ *peer.Slot) {
			if table.LiveWS(idx) && !excl[idx] {
				add(idx)
			}
		})
	}

	wl := strconv.FormatUint(uint64(workerIndex), 10)
	if spill != nil {
		*out = append((*out)[:0], (*spill)...)
		putSpill(workerIndex, spill)
		metrics.FanoutSpillTotal.WithLabelValues(wl).Inc()
		metrics.FanoutDeliveriesTotal.WithLabelValues(wl, kind.String()).Add(float64(len(*out)))
		return
	}
	*out = append((*out)[:0], buf...)
	metrics.FanoutDeliveriesTotal.WithLabelValues(wl, kind.String()).Add(float64(len(*out)))
}

// String renders a Kind for metric labels and diagnostics.
func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindArray:
		return "array"
	case KindEvery:
		return "every"
	case KindEveryExceptSingle:
		return "every_except_single"
	case KindEveryExceptArray:
		return "every_except_array"
	default:
		return "unknown"
	}
}

// exclusionSet builds a membership set for EVERY_EXCEPT_ARRAY. The
// exclusion list is always small relative to the peer table (spec.md
// §4.4's multi-worker addressing already partitions per worker before
// this point), so a plain map is both simplest and fast enough.
func exclusionSet(explicit []uint32) map[uint32]bool {
	set := make(map[uint32]bool, len(explicit))
	for _, idx := range explicit {
		set[idx] = true
	}
	return set
}
