// io.go: the per-peer read/write/shutdown state machine
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package peer

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/agilira/ringsocket/rserrors"
)

// nonBlockingDeadline is set on every read/write attempt so the
// underlying net.Conn returns immediately with os.ErrDeadlineExceeded
// instead of blocking, letting the worker's epoll loop decide when to
// retry — the same would-block contract spec.md §4.3 describes for a
// raw non-blocking socket, expressed through net.Conn's deadline API
// instead of a raw O_NONBLOCK fd so the same code path works whether
// or not TLS is layered in (crypto/tls.Conn only speaks net.Conn).
var nonBlockingDeadline = time.Unix(1, 0)

func (s *Slot) readWriter() interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
} {
	if s.Layer >= LayerTLS && s.TLSConn != nil {
		return s.TLSConn
	}
	return s.Conn
}

func wouldBlock(err error) bool {
	if err == nil {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Read performs one non-blocking read into dst. Return classes follow
// spec.md §4.3: n>0 with OK means data arrived and parsing may
// continue at the current layer; n==0 with OK means the peer closed
// its write half (caller should begin shutdown); Again means the
// caller should wait for the next readiness notification; any other
// error is ClosePeer.
func (s *Slot) Read(dst []byte) (n int, result rserrors.Result, err error) {
	rw := s.readWriter()
	_ = rw.SetReadDeadline(nonBlockingDeadline)
	n, err = rw.Read(dst)
	switch {
	case err == nil:
		return n, rserrors.OK, nil
	case wouldBlock(err):
		return 0, rserrors.Again, nil
	case errors.Is(err, io.EOF):
		return 0, rserrors.OK, nil
	default:
		return 0, rserrors.ClosePeer, err
	}
}

// Write attempts to send as much of the peer's pending write buffer
// (set by Slot.BeginWrite) as the kernel will currently accept,
// starting at OldWsize. Per spec.md §4.3 there is no "partial OK":
// OK is returned only once the entire buffer has been written; a
// partial send advances OldWsize and returns Again.
func (s *Slot) Write() (result rserrors.Result, err error) {
	pending := s.PendingFrom()
	if pending == nil {
		s.CompleteWrite()
		return rserrors.OK, nil
	}

	rw := s.readWriter()
	_ = rw.SetWriteDeadline(nonBlockingDeadline)
	n, werr := rw.Write(pending)

	if n > 0 {
		s.OldWsize += n
	}

	switch {
	case werr == nil:
		s.CompleteWrite()
		return rserrors.OK, nil
	case wouldBlock(werr):
		s.IsWriting = true
		return rserrors.Again, nil
	default:
		return rserrors.ClosePeer, werr
	}
}

// BeginShutdownWrite transitions Live -> SHUTDOWN_WRITE, dropping the
// layer back to TCP and issuing a TCP FIN (half-close of the write
// side). Per spec.md §4.3 this must happen exactly once per peer.
func (s *Slot) BeginShutdownWrite() error {
	if s.Mortality != Live {
		return nil
	}
	s.Mortality = ShutdownWrite
	s.Layer = LayerTCP

	type writeCloser interface{ CloseWrite() error }
	if wc, ok := s.Conn.(writeCloser); ok {
		return wc.CloseWrite()
	}
	if tcp, ok := s.Conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return rserrors.ErrShutdownFailed
}

// AdvanceShutdownRead performs one non-blocking read-and-discard pass
// during SHUTDOWN_READ. Any bytes read are ignored — reading them
// prevents the kernel from RSTing the peer. Transitions to DEAD once
// the peer's own FIN is observed (a clean EOF).
func (s *Slot) AdvanceShutdownRead(scratch []byte) (result rserrors.Result) {
	if s.Mortality == ShutdownWrite {
		s.Mortality = ShutdownRead
	}
	if s.Mortality != ShutdownRead {
		return rserrors.OK
	}

	_ = s.Conn.SetReadDeadline(nonBlockingDeadline)
	n, err := s.Conn.Read(scratch)
	switch {
	case err == nil && n > 0:
		return rserrors.Again // more to discard; revisit next readiness
	case wouldBlock(err):
		return rserrors.Again
	default:
		// Clean EOF (peer's FIN) or any other terminal condition: the
		// peer is as dead as it will ever be.
		s.Mortality = Dead
		return rserrors.OK
	}
}

// Close releases the OS socket. Explicit epoll deregistration is
// unnecessary (spec.md §4.3): closing the last descriptor referring to
// the file description removes all its epoll registrations.
func (s *Slot) Close() error {
	if s.TLSConn != nil {
		_ = s.TLSConn.Close()
	}
	if s.Conn != nil {
		return s.Conn.Close()
	}
	return nil
}

// StartTLS layers a TLS server session over the peer's TCP connection,
// transitioning TCP -> TLS. Certificate loading is out of scope (spec
// §1); cfg is assumed already populated by the listener.
func (s *Slot) StartTLS(cfg *tls.Config) {
	s.TLSConn = tls.Server(s.Conn, cfg)
	s.Layer = LayerTLS
	s.IsEncrypted = true
}

// AdvanceTLSHandshake drives the TLS handshake non-blockingly. Mirrors
// Read's outcome classes: OK once complete, Again on want-read/
// want-write, ClosePeer on a fatal TLS error.
func (s *Slot) AdvanceTLSHandshake() (result rserrors.Result, err error) {
	_ = s.TLSConn.SetDeadline(nonBlockingDeadline)
	err = s.TLSConn.Handshake()
	switch {
	case err == nil:
		s.Layer = LayerHTTP
		return rserrors.OK, nil
	case wouldBlock(err):
		return rserrors.Again, nil
	default:
		return rserrors.ClosePeer, err
	}
}
