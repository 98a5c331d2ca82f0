// loop_test.go: the single-threaded App Event Loop, driven against real rings
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/agilira/ringsocket/clientid"
	"github.com/agilira/ringsocket/ring"
	"github.com/agilira/ringsocket/rserrors"
	"github.com/agilira/ringsocket/wiremsg"
)

func newTestApp(t *testing.T, handlers Handlers) (*App, *ring.IOPair) {
	t.Helper()
	pair, err := ring.NewIOPair(4096, 4096, 1.75)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pair.Close() })

	a, err := NewApp(0, 16, 1.75, "block", 0, nil, handlers)
	require.NoError(t, err)
	require.NoError(t, a.AddWorkerLink(0, pair))
	return a, pair
}

func writeInboundOpen(t *testing.T, pair *ring.IOPair, peerIdx uint32) {
	t.Helper()
	n := wiremsg.EncodedInboundLen(wiremsg.InOpen, 0)
	dst := pair.Inbound.Ring.Reserve(n)
	wiremsg.EncodeInbound(dst, wiremsg.InOpen, peerIdx, 0, nil)
	pair.Inbound.Ring.Commit(n)
	pair.Inbound.Ring.Publish()
}

func writeInboundClose(t *testing.T, pair *ring.IOPair, peerIdx uint32, code uint16) {
	t.Helper()
	n := wiremsg.EncodedInboundLen(wiremsg.InClose, 0)
	dst := pair.Inbound.Ring.Reserve(n)
	wiremsg.EncodeInbound(dst, wiremsg.InClose, peerIdx, code, nil)
	pair.Inbound.Ring.Commit(n)
	pair.Inbound.Ring.Publish()
}

func TestAppDispatchesOpenAndClose(t *testing.T) {
	var openedWith, closedWith clientid.ID
	var closeCode uint16
	handlers := Handlers{
		Open: func(cid clientid.ID) rserrors.CallbackOutcome {
			openedWith = cid
			return rserrors.Success()
		},
		Close: func(cid clientid.ID, code uint16) rserrors.CallbackOutcome {
			closedWith = cid
			closeCode = code
			return rserrors.Success()
		},
	}
	a, pair := newTestApp(t, handlers)

	writeInboundOpen(t, pair, 5)
	writeInboundClose(t, pair, 5, 4100)

	out, err := a.Run(0)
	require.NoError(t, err)
	assert.Equal(t, rserrors.CallbackOK, out.Kind)
	assert.Equal(t, clientid.New(0, 5), openedWith)
	assert.Equal(t, clientid.New(0, 5), closedWith)
	assert.Equal(t, uint16(4100), closeCode)
}

func TestAppDispatchReadDecodesSchema(t *testing.T) {
	schema := &Schema{Fields: []Field{{Name: "n", Kind: FieldInt8}}}
	var got []Value
	a, pair := newTestApp(t, Handlers{
		Read: func(cid clientid.ID, msg []Value) rserrors.CallbackOutcome {
			got = msg
			return rserrors.Success()
		},
	})
	a.schema = schema

	payload := []byte{42}
	n := wiremsg.EncodedInboundLen(wiremsg.InRead, len(payload))
	dst := pair.Inbound.Ring.Reserve(n)
	wiremsg.EncodeInbound(dst, wiremsg.InRead, 1, 0, payload)
	pair.Inbound.Ring.Commit(n)
	pair.Inbound.Ring.Publish()

	_, err := a.Run(0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].Int)
}

func TestAppDispatchReadInvalidSchemaClosesPeer(t *testing.T) {
	schema := &Schema{Fields: []Field{{Name: "n", Kind: FieldInt32}}}
	a, pair := newTestApp(t, Handlers{
		Read: func(cid clientid.ID, msg []Value) rserrors.CallbackOutcome { return rserrors.Success() },
	})
	a.schema = schema

	payload := []byte{1} // too short for an int32 field
	n := wiremsg.EncodedInboundLen(wiremsg.InRead, len(payload))
	dst := pair.Inbound.Ring.Reserve(n)
	wiremsg.EncodeInbound(dst, wiremsg.InRead, 1, 0, payload)
	pair.Inbound.Ring.Commit(n)
	pair.Inbound.Ring.Publish()

	// A CLOSE_PEER outcome is resolved against the owning worker inside
	// drainLink itself (spec.md §4.5) rather than surfacing through Run's
	// return value, so Run reports plain success...
	out, err := a.Run(0)
	require.NoError(t, err)
	assert.Equal(t, rserrors.CallbackOK, out.Kind)

	// ...while the worker's outbound ring actually receives the
	// close-peer instruction.
	require.NoError(t, a.hub.Flush())
	buf := pair.Outbound.Ring.Peek()
	require.NotEmpty(t, buf)
	rec, err := wiremsg.DecodeOutbound(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, wiremsg.OutClosePeer, rec.Kind)
	assert.Equal(t, uint32(1), rec.Single)
	assert.Equal(t, uint16(rserrors.CloseInvalidPayload), rec.CloseCode)
}

func TestAppInitInvokesHandler(t *testing.T) {
	called := false
	a, _ := newTestApp(t, Handlers{Init: func() rserrors.CallbackOutcome {
		called = true
		return rserrors.Success()
	}})
	out := a.Init()
	assert.True(t, called)
	assert.Equal(t, rserrors.CallbackOK, out.Kind)
}

func TestAppRequestTimerFiresOnNextRun(t *testing.T) {
	fired := 0
	a, pair := newTestApp(t, Handlers{Timer: func() rserrors.CallbackOutcome {
		fired++
		return rserrors.Success()
	}})
	a.RequestTimer()
	a.RequestTimer() // coalesces: only one Timer fire expected

	// Keep epoll_wait from also observing a zero-event idle tick (which
	// would fire Timer a second time via the plain-interval path): give
	// it something to report directly on the eventfd.
	var one [8]byte
	one[7] = 1
	_, werr := unix.Write(pair.Inbound.Signal.FD(), one[:])
	require.NoError(t, werr)

	_, err := a.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestAppShutdownFlag(t *testing.T) {
	a, _ := newTestApp(t, Handlers{})
	assert.False(t, a.ShuttingDown())
	a.Shutdown()
	assert.True(t, a.ShuttingDown())
}
