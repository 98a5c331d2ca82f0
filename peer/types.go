// types.go: peer slot layer/mortality state and the fixed-index table
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package peer implements the per-connection state machine spec.md §3
// and §4.3 describe: a fixed-index Peer Slot table with monotone
// layer (TCP -> TLS -> HTTP -> WS) and mortality (LIVE -> SHUTDOWN_WRITE
// -> SHUTDOWN_READ -> DEAD) transitions, partial-write resumption, and
// graceful bidirectional shutdown.
package peer

import (
	"crypto/tls"
	"net"

	"github.com/agilira/go-timecache"

	"github.com/agilira/ringsocket/wsframe"
)

// Layer is the protocol a peer's bytes are currently interpreted at.
// Transitions are monotone: TCP -> (TLS ->) HTTP -> WS.
type Layer int32

const (
	LayerNone Layer = iota
	LayerTCP
	LayerTLS
	LayerHTTP
	LayerWS
)

func (l Layer) String() string {
	switch l {
	case LayerTCP:
		return "TCP"
	case LayerTLS:
		return "TLS"
	case LayerHTTP:
		return "HTTP"
	case LayerWS:
		return "WS"
	default:
		return "NONE"
	}
}

// Mortality is a peer's position in its shutdown progression.
// Transitions are monotone: LIVE -> SHUTDOWN_WRITE -> SHUTDOWN_READ -> DEAD.
type Mortality int32

const (
	Live Mortality = iota
	ShutdownWrite
	ShutdownRead
	Dead
)

func (m Mortality) String() string {
	switch m {
	case ShutdownWrite:
		return "SHUTDOWN_WRITE"
	case ShutdownRead:
		return "SHUTDOWN_READ"
	case Dead:
		return "DEAD"
	default:
		return "LIVE"
	}
}

// Slot holds one client connection's state. A free slot is entirely
// zeroed; a live slot is fully populated. Generation is bumped every
// time the slot is recycled so a stale client id referencing it can be
// detected without a separate liveness table (spec.md §9: "arena +
// stable index... generation counter (optional) to reject stale ids").
type Slot struct {
	FD         int
	Conn       net.Conn  // raw TCP conn; io.go makes each read/write non-blocking via an already-expired deadline
	TLSConn    *tls.Conn // present only once Layer >= LayerTLS
	Generation uint32

	Layer     Layer
	Mortality Mortality

	IsEncrypted bool
	IsWriting   bool // readiness shadow: true = blocked waiting for writable
	OldWsize    int  // partial-write resume cursor

	OwnerApp  uint32 // owning app index this peer's inbound traffic routes to
	CloseCode uint16 // recorded reason once shutdown begins, reported to the app on reap

	ReadBuf  []byte // accumulates bytes across partial reads before a full header parses
	pending  []byte // full pending write, re-sliced at OldWsize on each retry

	Reassembler *wsframe.Reassembler

	CreatedAtMS int64 // from go-timecache, for idle/backoff bookkeeping

	inUse bool
}

func (s *Slot) reset() {
	gen := s.Generation + 1
	*s = Slot{Generation: gen}
}

// BeginWrite installs (or replaces) the pending write buffer for this
// peer. Per spec.md §4.3, writes always retry from the original start
// pointer plus a resume offset — required because the TLS write
// contract needs identical input across retries.
func (s *Slot) BeginWrite(msg []byte) {
	s.pending = msg
	s.OldWsize = 0
}

// PendingFrom returns the slice still to be written, starting at
// OldWsize.
func (s *Slot) PendingFrom() []byte {
	if s.pending == nil || s.OldWsize >= len(s.pending) {
		return nil
	}
	return s.pending[s.OldWsize:]
}

// HasPendingWrite reports whether a write is in flight for this peer.
func (s *Slot) HasPendingWrite() bool {
	return s.pending != nil && s.OldWsize < len(s.pending)
}

// CompleteWrite clears the pending write state. Completion is the only
// success return per spec.md §4.3 — there is no "partial OK".
func (s *Slot) CompleteWrite() {
	s.pending = nil
	s.OldWsize = 0
	s.IsWriting = false
}

// touch stamps CreatedAtMS from the shared time cache; called once on
// accept.
func (s *Slot) touch(tc *timecache.TimeCache) {
	s.CreatedAtMS = tc.Now().UnixMilli()
}

