// io_test.go: Slot's non-blocking read/write/shutdown state machine
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package peer

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilira/ringsocket/rserrors"
)

// loopbackPair returns two connected TCP conns: server is what a Slot
// wraps, client is the test's hand on the other end of the wire.
func loopbackPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case server = <-acceptCh:
	case err := <-errCh:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

func TestSlotReadAgainWhenNoData(t *testing.T) {
	server, _ := loopbackPair(t)
	s := &Slot{Conn: server, Layer: LayerTCP}

	buf := make([]byte, 16)
	n, res, err := s.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, rserrors.Again, res)
	assert.NoError(t, err)
}

func TestSlotReadReturnsData(t *testing.T) {
	server, client := loopbackPair(t)
	s := &Slot{Conn: server, Layer: LayerTCP}

	_, err := client.Write([]byte("hello"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	buf := make([]byte, 16)
	n, res, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, rserrors.OK, res)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestSlotWriteCompletesSmallBuffer(t *testing.T) {
	server, client := loopbackPair(t)
	s := &Slot{Conn: server, Layer: LayerTCP}

	s.BeginWrite([]byte("payload"))
	res, err := s.Write()
	require.NoError(t, err)
	assert.Equal(t, rserrors.OK, res)
	assert.False(t, s.HasPendingWrite())

	buf := make([]byte, 16)
	n, rerr := client.Read(buf)
	require.NoError(t, rerr)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestSlotWriteNoopWithNoPendingData(t *testing.T) {
	server, _ := loopbackPair(t)
	s := &Slot{Conn: server, Layer: LayerTCP}

	res, err := s.Write()
	assert.Equal(t, rserrors.OK, res)
	assert.NoError(t, err)
}

func TestSlotBeginShutdownWriteIsIdempotentAndOneShot(t *testing.T) {
	server, client := loopbackPair(t)
	s := &Slot{Conn: server, Layer: LayerWS, Mortality: Live}

	err := s.BeginShutdownWrite()
	require.NoError(t, err)
	assert.Equal(t, ShutdownWrite, s.Mortality)
	assert.Equal(t, LayerTCP, s.Layer)

	// second call is a no-op since Mortality is no longer Live
	err = s.BeginShutdownWrite()
	assert.NoError(t, err)

	buf := make([]byte, 4)
	n, rerr := client.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, rerr, io.EOF)
}

func TestSlotAdvanceShutdownReadReachesDead(t *testing.T) {
	server, client := loopbackPair(t)
	s := &Slot{Conn: server, Mortality: ShutdownWrite}
	_ = client.Close()

	scratch := make([]byte, 64)
	// First pass may observe Again/OK depending on timing of the peer's
	// FIN; poll a bounded number of times until Dead, as the worker loop
	// itself would across successive readiness events.
	for i := 0; i < 50 && s.Mortality != Dead; i++ {
		s.AdvanceShutdownRead(scratch)
		if s.Mortality != Dead {
			time.Sleep(5 * time.Millisecond)
		}
	}
	assert.Equal(t, Dead, s.Mortality)
}

func TestSlotClose(t *testing.T) {
	server, _ := loopbackPair(t)
	s := &Slot{Conn: server}
	assert.NoError(t, s.Close())
}
