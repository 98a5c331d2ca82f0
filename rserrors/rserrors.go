// rserrors.go: interior result kinds and error taxonomy
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package rserrors implements the four result kinds spec.md §7 says
// suffice for every interior operation (OK, AGAIN, CLOSE_PEER, FATAL),
// plus the WebSocket close-code ranges the spec reserves.
package rserrors

import (
	goerrors "github.com/agilira/go-errors"
)

// Result is the outcome of an interior I/O or protocol operation.
type Result int

const (
	// OK — operation completed; caller proceeds normally.
	OK Result = iota
	// Again — operation would block; resume later on readiness.
	Again
	// ClosePeer — drop this peer: malformed framing, peer reset,
	// unexpected EOF outside shutdown, protocol violation.
	ClosePeer
	// Fatal — unrecoverable: allocation failure, clock failure,
	// ring-queue overflow, failed shutdown() on a healthy socket.
	Fatal
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Again:
		return "AGAIN"
	case ClosePeer:
		return "CLOSE_PEER"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// CloseCode is a WebSocket close code. Standard protocol-error codes
// and the app-assignable / internal-reserved ranges are named below
// per spec §4.5 and §7.
type CloseCode uint16

const (
	CloseProtocolError     CloseCode = 1002
	CloseUnsupportedData   CloseCode = 1003
	CloseInvalidPayload    CloseCode = 1007
	CloseMessageTooBig     CloseCode = 1009
	AppCloseRangeStart     CloseCode = 4000
	AppCloseRangeEnd       CloseCode = 4899
	InternalCloseRangeFrom CloseCode = 4900
	InternalCloseRangeTo   CloseCode = 4999
)

// IsAppCode reports whether c falls in the app-assignable range.
func (c CloseCode) IsAppCode() bool {
	return c >= AppCloseRangeStart && c <= AppCloseRangeEnd
}

// IsReserved reports whether c falls in the internal-use range, which
// app callbacks must never return.
func (c CloseCode) IsReserved() bool {
	return c >= InternalCloseRangeFrom && c <= InternalCloseRangeTo
}

// Pre-allocated sentinel errors for hot-path FATAL conditions, the way
// lethe.go pre-allocates errNoCurrentFile to avoid an allocation on
// every occurrence.
var (
	ErrRingQueueOverflow = goerrors.New("RS4901", "update queue overflow: producer outran configured capacity")
	ErrClockFailure       = goerrors.New("RS4902", "monotonic clock read failed")
	ErrShutdownFailed     = goerrors.New("RS4903", "shutdown() failed on a healthy socket")
	ErrAllocFailure       = goerrors.New("RS4904", "allocation failed on the hot path")
)

// CallbackOutcome is what an app lifecycle hook (init/open/read/close/
// timer) returns, per spec §4.5.
type CallbackOutcome struct {
	Kind      CallbackKind
	CloseCode CloseCode // only meaningful when Kind == CallbackClosePeer
	Err       error     // only meaningful when Kind == CallbackFatal
}

// CallbackKind discriminates a CallbackOutcome.
type CallbackKind int

const (
	CallbackOK CallbackKind = iota
	CallbackFatal
	CallbackClosePeer
)

// Success is the zero-value convenience outcome.
func Success() CallbackOutcome { return CallbackOutcome{Kind: CallbackOK} }

// FatalOutcome terminates the server after a best-effort flush.
func FatalOutcome(err error) CallbackOutcome {
	return CallbackOutcome{Kind: CallbackFatal, Err: err}
}

// ClosePeerOutcome closes the originating peer with the given app
// close code. Panics if code is outside [4000,4899] — a reserved or
// standard code here is a programming error in the app, not a runtime
// condition to recover from.
func ClosePeerOutcome(code CloseCode) CallbackOutcome {
	if !code.IsAppCode() {
		panic("rserrors: ClosePeerOutcome requires a code in [4000,4899]")
	}
	return CallbackOutcome{Kind: CallbackClosePeer, CloseCode: code}
}
