// ring.go: SPSC byte ring buffer — the inter-thread messaging substrate
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package ring provides the lock-free single-producer/single-consumer
// byte channel that links one worker thread to one app thread, plus the
// producer-local update queue used to batch publish+wake events across
// it.
//
// # Thread-safety
//
// Exactly one goroutine may call the producer methods (Reserve, Commit,
// Publish) and exactly one goroutine may call the consumer methods (Peek,
// Advance). Violating this is a data race; the ring itself performs no
// locking to prevent one. The one exception the producer and consumer
// both touch is the backing buffer swap on grow: the producer never
// writes the consumer's private cursor directly for this, see gen/
// resync below.
//
// # Cursor invariant
//
// R <= W <= writer <= len(buf) always holds, where R and W are the
// atomically published reader/writer cursors and writer is the
// producer's private advance-ahead cursor (see Reserve/Commit).
//
// # Resize handoff
//
// A grow reallocates buf and renumbers both cursors from zero, which the
// consumer must observe atomically relative to buf — pairing a stale
// cursor with the new buffer (or vice versa) would let Peek index
// uninitialized bytes or slice with a negative length. grow therefore
// finishes by bumping a producer-only gen counter, and Peek/Advance/
// Empty resync their private reader cursor from the published r
// whenever they notice gen changed, retrying if a grow lands mid-read.
// Go's atomics are sequentially consistent, so observing the new gen
// guarantees every store grow made beforehand (buf, w, r) is visible
// too.
package ring

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// DefaultMultiplier is the growth factor applied on resize when the
// caller's configuration does not specify one.
const DefaultMultiplier = 1.75

// Ring is a cache-line-aligned SPSC byte channel with atomic producer
// and consumer cursors. The producer may reallocate the backing buffer
// when it needs more room than remains; see Reserve.
type Ring struct {
	_ [cacheLinePad]byte

	buf atomic.Pointer[[]byte]

	w atomic.Uint64 // publisher-visible writer cursor
	_ [cacheLinePad - 8]byte
	r atomic.Uint64 // publisher-visible reader cursor
	_ [cacheLinePad - 8]byte

	writer uint64 // producer-private, advanced ahead of w

	// gen counts completed grows. Bumped by the producer, last, inside
	// grow — see "Resize handoff" above. Never read by the producer
	// itself; existence is purely for the consumer's resync.
	gen atomic.Uint64

	// reader and seenGen are consumer-private: touched only by Peek,
	// Advance, and Empty, all on the consumer goroutine. grow never
	// writes reader directly; the consumer resyncs it from r itself the
	// next time it notices gen has moved (see resync).
	reader  uint64
	seenGen uint64

	multiplier float64
}

const cacheLinePad = 64

// New allocates a Ring of the given initial size with the given resize
// multiplier (must be > 1; DefaultMultiplier is used when <= 1).
func New(initialSize int, multiplier float64) *Ring {
	if initialSize <= 0 {
		initialSize = 4096
	}
	if multiplier <= 1 {
		multiplier = DefaultMultiplier
	}
	buf := make([]byte, initialSize)
	rg := &Ring{multiplier: multiplier}
	rg.buf.Store(&buf)
	return rg
}

// Cap returns the current backing buffer size in bytes. Only safe to
// call from the producer, or for diagnostics where a stale read is
// acceptable.
func (rg *Ring) Cap() int {
	b := rg.buf.Load()
	return len(*b)
}

// Occupancy returns the number of unread bytes as of the last publish.
// Safe from either side; may be stale by definition of SPSC visibility.
func (rg *Ring) Occupancy() int {
	return int(rg.w.Load() - rg.r.Load())
}

// Reserve returns a contiguous writable region of at least minBytes
// starting at the producer's private writer cursor, growing the
// backing buffer if necessary. The producer must call Commit with the
// number of bytes actually written before the next Reserve.
//
// Growth policy (spec §4.1): when the reader has fully drained the ring
// (R == W), the resize is cheap — a fresh buffer is allocated and both
// cursors reset to zero. Otherwise the unread region [R, writer) is
// copied to the head of a new buffer. The new size is
// multiplier * (occupancy + minBytes).
func (rg *Ring) Reserve(minBytes int) []byte {
	buf := *rg.buf.Load()
	if rg.writer+uint64(minBytes) <= uint64(len(buf)) {
		return buf[rg.writer : rg.writer+uint64(minBytes)]
	}
	rg.grow(minBytes)
	buf = *rg.buf.Load()
	return buf[rg.writer : rg.writer+uint64(minBytes)]
}

// grow reallocates the backing buffer to hold at least minBytes more
// than the current occupancy. Producer-only: it republishes w, r, and
// buf, but never touches the consumer-private reader field — see
// "Resize handoff" in the package doc. gen is bumped last, after every
// other store, so a consumer that observes the new gen is guaranteed to
// also observe the matching w/r/buf.
func (rg *Ring) grow(minBytes int) {
	r := rg.r.Load()
	occupancy := rg.writer - r
	newSize := nextSize(occupancy, uint64(minBytes), rg.multiplier)

	newBuf := make([]byte, newSize)
	if occupancy > 0 {
		old := *rg.buf.Load()
		copy(newBuf, old[r:rg.writer])
	}

	rg.writer = occupancy
	rg.buf.Store(&newBuf)
	rg.w.Store(occupancy)
	rg.r.Store(0)
	rg.gen.Add(1)
}

func nextSize(occupancy, minBytes uint64, multiplier float64) uint64 {
	needed := float64(occupancy+minBytes) * multiplier
	size := uint64(needed)
	if size < occupancy+minBytes {
		size = occupancy + minBytes
	}
	if size < 64 {
		size = 64
	}
	return size
}

// Commit advances n bytes previously reserved by Reserve into the
// producer's private writer cursor. Per spec.md §4.2, Commit does NOT
// by itself make the bytes visible to the consumer — that happens in
// a batched Publish driven by a ProducerHub flush, so that many small
// messages cost at most one atomic store and one wake check. Callers
// that need every Commit to be immediately visible (no batching) may
// call Publish directly.
func (rg *Ring) Commit(n int) {
	if n <= 0 {
		return
	}
	rg.writer += uint64(n)
}

// Publish stores the producer's private writer cursor into the atomic,
// consumer-visible cursor with a relaxed store. The fences this implies
// on a total-store-order architecture preserve payload store ordering
// without release-store cost; a weaker-ordered target would need a
// release store here instead (spec.md §4.1 — "the sole
// architecture-sensitive decision in the spec").
func (rg *Ring) Publish() {
	rg.w.Store(rg.writer)
}

// PrivateWriter returns the producer's current (not-yet-published)
// writer position, for use by a ProducerHub batching publishes.
func (rg *Ring) PrivateWriter() uint64 { return rg.writer }

// resync pulls in a grow the producer may have performed since the
// consumer's last call, resetting the private reader cursor to the
// freshly published r. No-op when gen hasn't moved. Consumer-only.
func (rg *Ring) resync() {
	if g := rg.gen.Load(); g != rg.seenGen {
		rg.reader = rg.r.Load()
		rg.seenGen = g
	}
}

// Peek returns the unread region visible to the consumer as of the last
// Publish. Consumer-only. The returned slice aliases the ring's backing
// buffer and is only valid until the next Reserve-triggered grow on the
// producer side reallocates it — callers must finish processing (or
// copy out) before returning control to the event loop.
func (rg *Ring) Peek() []byte {
	for {
		rg.resync()
		gen := rg.seenGen
		w := rg.w.Load()
		buf := *rg.buf.Load()
		if rg.gen.Load() != gen {
			// A grow landed mid-read: w/buf may be an inconsistent pair
			// (one pre-grow, one post-grow). Retry against fresh state.
			continue
		}
		if rg.reader >= uint64(len(buf)) || w > uint64(len(buf)) {
			return nil
		}
		if rg.reader >= w {
			return nil
		}
		return buf[rg.reader:w]
	}
}

// Advance marks n bytes as consumed, publishing the new reader cursor
// so the producer may reclaim or resize. Consumer-only.
func (rg *Ring) Advance(n int) {
	if n <= 0 {
		return
	}
	rg.resync()
	rg.reader += uint64(n)
	rg.r.Store(rg.reader)
}

// Empty reports whether the consumer has drained everything published
// so far. Consumer-only (uses the private reader cursor against the
// published writer cursor).
func (rg *Ring) Empty() bool {
	rg.resync()
	return rg.reader >= rg.w.Load()
}

// SizeString formats the ring's current capacity for log lines (never
// on a hot path).
func (rg *Ring) SizeString() string {
	return humanize.Bytes(uint64(rg.Cap()))
}
