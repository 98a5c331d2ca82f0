// loop.go: the epoll-driven worker event loop
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/agilira/go-timecache"

	"github.com/agilira/ringsocket/internal/metrics"
	"github.com/agilira/ringsocket/peer"
	"github.com/agilira/ringsocket/ring"
	"github.com/agilira/ringsocket/rserrors"
	"github.com/agilira/ringsocket/wiremsg"
	"github.com/agilira/ringsocket/wsframe"
)

// Upgrader completes the HTTP->WS handshake. Parsing the upgrade
// request itself is an external collaborator (spec.md §1: "the HTTP
// upgrade handshake parser... beyond its state-machine position" is
// out of scope) — Worker only needs to know when enough bytes have
// arrived to call the layer transition complete.
type Upgrader interface {
	// TryUpgrade inspects buf (the peer's accumulated read bytes so
	// far) and reports how many bytes to consume. complete==true means
	// the WS layer transition should happen now; complete==false with
	// consumed==0 means "need more bytes."
	TryUpgrade(buf []byte) (consumed int, complete bool, err error)
}

// listenerEntry pairs a listening socket's raw fd with its optional
// TLS config (nil means plaintext, TCP -> HTTP directly).
type listenerEntry struct {
	ln      net.Listener
	fd      int
	tlsConf *tls.Config
}

// appLink is one (worker, app) I/O pair plus the app index it talks
// to, registered into the worker's ProducerHub for the Inbound
// direction it produces into.
type appLink struct {
	pair     *ring.IOPair
	appIndex uint32
}

// Worker is the per-thread epoll-driven event loop: it owns one peer
// Table and one IOPair per app (spec.md §5: "Each (worker, app) pair
// owns one I/O Pair"). Exactly one goroutine should call Run.
type Worker struct {
	Index int

	table *peer.Table
	links []*appLink
	hub   *ring.ProducerHub

	epfd      int
	listeners []listenerEntry
	fdToPeer  map[int]uint32

	upgrader Upgrader

	recipientBuf []uint32
	readScratch  []byte
	maxMsg       int

	shutdown bool
}

// NewWorker allocates a Worker with its own peer Table and epoll
// instance. links must be populated via AddAppLink for every app
// before Run is called.
func NewWorker(index, tableCap, maxMsg, queueCap int, timeCache *timecache.TimeCache, upgrader Upgrader) (*Worker, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if upgrader == nil {
		upgrader = defaultUpgrader{}
	}
	return &Worker{
		Index:       index,
		table:       peer.NewTable(tableCap, maxMsg, timeCache),
		hub:         ring.NewProducerHub(queueCap, "worker"),
		epfd:        epfd,
		fdToPeer:    make(map[int]uint32),
		upgrader:    upgrader,
		readScratch: make([]byte, 64*1024),
		maxMsg:      maxMsg,
	}, nil
}

// AddAppLink registers the I/O pair linking this worker to appIndex,
// binding its Inbound direction into the worker's ProducerHub (the
// worker is Inbound's producer) and its Outbound signal descriptor
// (the worker is Outbound's consumer) into the epoll set.
func (w *Worker) AddAppLink(appIndex uint32, pair *ring.IOPair) error {
	w.links = append(w.links, &appLink{pair: pair, appIndex: appIndex})
	w.hub.Register(appIndex, &pair.Inbound)
	return w.epollAdd(pair.Outbound.Signal.FD(), unix.EPOLLIN)
}

// AddListener registers a bound, listening socket. tlsConf nil means
// plaintext connections skip the TLS layer (TCP -> HTTP directly).
func (w *Worker) AddListener(ln net.Listener, tlsConf *tls.Config) error {
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("worker: listener must be *net.TCPListener")
	}
	raw, err := tcpLn.SyscallConn()
	if err != nil {
		return err
	}
	var fd int
	cerr := raw.Control(func(sysfd uintptr) { fd = int(sysfd) })
	if cerr != nil {
		return cerr
	}
	if err := w.epollAdd(fd, unix.EPOLLIN); err != nil {
		return err
	}
	w.listeners = append(w.listeners, listenerEntry{ln: ln, fd: fd, tlsConf: tlsConf})
	return nil
}

func (w *Worker) epollAdd(fd int, events uint32) error {
	return unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

func (w *Worker) epollMod(fd int, events uint32) error {
	return unix.EpollCtl(w.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

func (w *Worker) epollDel(fd int) {
	_ = unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Shutdown flips the cooperative shutdown flag (spec.md §5: "Process
// shutdown is cooperative... let each loop reach a safe point"); the
// next Run iteration begins graceful shutdown on every live peer
// instead of servicing new reads.
func (w *Worker) Shutdown() { w.shutdown = true }

// Drained reports whether every peer this worker owns has reached DEAD
// and been reaped. Callers driving Shutdown loop Run until this is
// true (or a deadline expires).
func (w *Worker) Drained() bool { return w.table.InUse() == 0 }

// Run drives one iteration of the worker's epoll loop: the consumer
// idle protocol (spec.md §4.2) across every app link's Outbound
// signal, an epoll_wait that also services listener and peer
// readiness, then a reap pass over peers that reached DEAD. Callers
// loop this until Shutdown is observed and every peer has reached
// DEAD.
func (w *Worker) Run(timeoutMS int) error {
	if w.shutdown {
		w.table.Range(func(idx uint32, s *peer.Slot) {
			if s.Mortality == peer.Live {
				s.CloseCode = uint16(rserrors.InternalCloseRangeFrom)
				_ = s.BeginShutdownWrite()
			}
		})
	}

	if !w.beginIdle() {
		w.reapDeadPeers()
		return nil
	}

	var events [256]unix.EpollEvent
	n, err := unix.EpollWait(w.epfd, events[:], timeoutMS)
	if err != nil && err != unix.EINTR {
		return err
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		ev := events[i].Events
		switch {
		case w.isListener(fd):
			w.acceptOn(fd)
		case w.isAppSignal(fd):
			w.wakeAppSignal(fd)
		default:
			w.handlePeerEvent(fd, ev)
		}
	}

	w.drainAllOutbound()
	w.reapDeadPeers()
	err = w.hub.Flush()
	w.reportMetrics()
	return err
}

// reportMetrics snapshots ring occupancy/capacity and per-state peer
// counts. Called once per Run tick rather than per-event, since these
// are gauges an operator polls at scrape interval, not hot-path
// counters.
func (w *Worker) reportMetrics() {
	wl := strconv.Itoa(w.Index)
	for _, l := range w.links {
		al := strconv.FormatUint(uint64(l.appIndex), 10)
		metrics.RingOccupancyBytes.WithLabelValues("outbound", wl, al).Set(float64(l.pair.Outbound.Ring.Occupancy()))
		metrics.RingCapacityBytes.WithLabelValues("outbound", wl, al).Set(float64(l.pair.Outbound.Ring.Cap()))
		metrics.RingOccupancyBytes.WithLabelValues("inbound", wl, al).Set(float64(l.pair.Inbound.Ring.Occupancy()))
		metrics.RingCapacityBytes.WithLabelValues("inbound", wl, al).Set(float64(l.pair.Inbound.Ring.Cap()))
	}

	counts := make(map[[2]string]int)
	w.table.Range(func(_ uint32, s *peer.Slot) {
		counts[[2]string{s.Layer.String(), s.Mortality.String()}]++
	})
	for k, v := range counts {
		metrics.PeersByState.WithLabelValues(wl, k[0], k[1]).Set(float64(v))
	}
}

// beginIdle runs the spec §4.2 consumer idle protocol across every
// app link's Outbound ring: drain until dry, mark every signal asleep,
// re-scan once more (barrier-ordered against MarkAsleep), and only
// report "may block" if that second pass also found nothing.
func (w *Worker) beginIdle() (mayBlock bool) {
	for {
		if w.drainAllOutbound() {
			continue
		}
		for _, l := range w.links {
			l.pair.Outbound.Signal.MarkAsleep()
		}
		if w.drainAllOutbound() {
			for _, l := range w.links {
				l.pair.Outbound.Signal.MarkAwake()
			}
			continue
		}
		return true
	}
}

func (w *Worker) drainAllOutbound() bool {
	any := false
	for _, l := range w.links {
		if w.drainOutbound(l) {
			any = true
		}
	}
	return any
}

func (w *Worker) isListener(fd int) bool {
	for _, l := range w.listeners {
		if l.fd == fd {
			return true
		}
	}
	return false
}

func (w *Worker) isAppSignal(fd int) bool {
	for _, l := range w.links {
		if l.pair.Outbound.Signal.FD() == fd {
			return true
		}
	}
	return false
}

func (w *Worker) wakeAppSignal(fd int) {
	for _, l := range w.links {
		if l.pair.Outbound.Signal.FD() == fd {
			l.pair.Outbound.Signal.MarkAwake()
			l.pair.Outbound.Signal.Drain()
			return
		}
	}
}

// acceptOn accepts every pending connection on the listener bound to
// fd, non-blockingly, registering each into the peer table and epoll.
func (w *Worker) acceptOn(fd int) {
	var entry *listenerEntry
	for i := range w.listeners {
		if w.listeners[i].fd == fd {
			entry = &w.listeners[i]
			break
		}
	}
	if entry == nil {
		return
	}
	for {
		conn, err := entry.ln.Accept()
		if err != nil {
			return
		}
		w.acceptConn(conn, entry.tlsConf)
	}
}

func (w *Worker) acceptConn(conn net.Conn, tlsConf *tls.Config) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return
	}
	var connFD int
	if cerr := raw.Control(func(sysfd uintptr) { connFD = int(sysfd) }); cerr != nil {
		_ = conn.Close()
		return
	}

	slot, idx, _, err := w.table.Acquire(connFD)
	if err != nil {
		_ = conn.Close()
		return
	}
	slot.Conn = conn
	if tlsConf != nil {
		slot.StartTLS(tlsConf)
	}

	if err := w.epollAdd(connFD, unix.EPOLLIN); err != nil {
		_ = conn.Close()
		w.table.Release(idx)
		return
	}
	w.fdToPeer[connFD] = idx
}

func (w *Worker) handlePeerEvent(fd int, events uint32) {
	idx, ok := w.fdToPeer[fd]
	if !ok {
		return
	}
	if events&(unix.EPOLLOUT) != 0 {
		w.handlePeerWritable(idx)
	}
	if events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		w.handlePeerReadable(idx)
	}
}

func (w *Worker) handlePeerWritable(idx uint32) {
	s := w.table.Get(idx, 0)
	if s == nil || !s.HasPendingWrite() {
		return
	}
	res, err := s.Write()
	switch res {
	case rserrors.Again:
		return
	case rserrors.ClosePeer:
		_ = err
		w.beginClose(idx, s, rserrors.CloseInvalidPayload)
	case rserrors.OK:
		_ = w.epollMod(s.FD, unix.EPOLLIN)
	}
}

func (w *Worker) handlePeerReadable(idx uint32) {
	s := w.table.Get(idx, 0)
	if s == nil {
		return
	}
	if s.Mortality == peer.ShutdownWrite || s.Mortality == peer.ShutdownRead {
		s.AdvanceShutdownRead(w.readScratch[:512])
		return
	}
	if s.Mortality != peer.Live {
		return
	}

	if s.Layer == peer.LayerTLS {
		res, err := s.AdvanceTLSHandshake()
		switch res {
		case rserrors.Again:
			return
		case rserrors.ClosePeer:
			_ = err
			w.beginClose(idx, s, rserrors.CloseProtocolError)
			return
		}
		// OK: the handshake advanced to LayerHTTP; fall through so a
		// pipelined upgrade request arriving in the same readiness
		// event is not left unread until the next epoll tick.
	}

	n, res, err := s.Read(w.readScratch)
	switch res {
	case rserrors.Again:
		return
	case rserrors.ClosePeer:
		_ = err
		w.beginClose(idx, s, rserrors.CloseProtocolError)
		return
	case rserrors.OK:
		if n == 0 {
			_ = s.BeginShutdownWrite()
			return
		}
		s.ReadBuf = append(s.ReadBuf, w.readScratch[:n]...)
		w.consumeReadBuf(idx, s)
	}
}

func (w *Worker) consumeReadBuf(idx uint32, s *peer.Slot) {
	switch s.Layer {
	case peer.LayerWS:
		w.consumeWSFrames(idx, s)
	default: // LayerTCP or LayerHTTP: still negotiating the upgrade
		for {
			consumed, complete, err := w.upgrader.TryUpgrade(s.ReadBuf)
			if err != nil {
				w.beginClose(idx, s, rserrors.CloseProtocolError)
				return
			}
			if consumed == 0 && !complete {
				return
			}
			if consumed > 0 {
				s.ReadBuf = s.ReadBuf[consumed:]
			}
			if complete {
				s.Layer = peer.LayerWS
				w.publishInboundOpen(s.OwnerApp, idx)
				if len(s.ReadBuf) > 0 {
					w.consumeWSFrames(idx, s)
				}
				return
			}
		}
	}
}

func (w *Worker) consumeWSFrames(idx uint32, s *peer.Slot) {
	for {
		hdr, err := wsframe.ParseHeader(s.ReadBuf)
		if err == wsframe.ErrShortHeader {
			return
		}
		if err != nil {
			w.beginClose(idx, s, rserrors.CloseProtocolError)
			return
		}
		total := hdr.HeaderLen + int(hdr.PayloadLen)
		if len(s.ReadBuf) < total {
			return
		}
		payload := append([]byte(nil), s.ReadBuf[hdr.HeaderLen:total]...)
		wsframe.Unmask(payload, hdr.MaskKey, 0)
		s.ReadBuf = s.ReadBuf[total:]

		switch hdr.Opcode {
		case wsframe.OpClose:
			w.beginClose(idx, s, 1000)
			return
		case wsframe.OpPing:
			w.sendPong(s, payload)
		case wsframe.OpPong:
			// liveness only; no action required.
		default:
			msg, _, done, rerr := s.Reassembler.AddFragment(hdr.FIN, hdr.Opcode, payload)
			if rerr != nil {
				w.beginClose(idx, s, rserrors.CloseMessageTooBig)
				return
			}
			if done {
				w.publishInboundRead(s.OwnerApp, idx, msg)
			}
		}
	}
}

// sendPong writes an unsolicited control frame directly, bypassing the
// fan-out path (pong frames are never app-originated).
func (w *Worker) sendPong(s *peer.Slot, payload []byte) {
	frame := make([]byte, wsframe.EncodedLen(len(payload)))
	n := wsframe.Encode(frame, wsframe.OpPong, payload)
	s.BeginWrite(frame[:n])
	if res, _ := s.Write(); res == rserrors.Again {
		_ = w.epollMod(s.FD, unix.EPOLLIN|unix.EPOLLOUT)
	}
}

// beginClose starts the graceful shutdown sequence for a peer and
// records the reason reported to the app once the peer reaches DEAD.
func (w *Worker) beginClose(idx uint32, s *peer.Slot, code rserrors.CloseCode) {
	s.CloseCode = uint16(code)
	_ = s.BeginShutdownWrite()
}

// reapDeadPeers closes sockets and releases slots that reached DEAD
// since the last pass, notifying each peer's owning app.
func (w *Worker) reapDeadPeers() {
	var dead []uint32
	w.table.Range(func(idx uint32, s *peer.Slot) {
		if s.Mortality == peer.Dead {
			dead = append(dead, idx)
		}
	})
	for _, idx := range dead {
		s := w.table.Get(idx, 0)
		if s == nil {
			continue
		}
		w.epollDel(s.FD)
		delete(w.fdToPeer, s.FD)
		app, code := s.OwnerApp, s.CloseCode
		_ = s.Close()
		w.table.Release(idx)
		w.publishInboundClose(app, idx, code)
	}
}

func (w *Worker) publishInboundRead(appIndex uint32, peerIdx uint32, payload []byte) {
	n := wiremsg.EncodedInboundLen(wiremsg.InRead, len(payload))
	link := w.linkFor(appIndex)
	if link == nil {
		return
	}
	dst := link.pair.Inbound.Ring.Reserve(n)
	wiremsg.EncodeInbound(dst, wiremsg.InRead, peerIdx, 0, payload)
	link.pair.Inbound.Ring.Commit(n)
	if err := w.hub.Touch(appIndex); err != nil {
		_ = w.hub.Flush()
		_ = w.hub.Touch(appIndex)
	}
}

func (w *Worker) publishInboundClose(appIndex uint32, peerIdx uint32, code uint16) {
	n := wiremsg.EncodedInboundLen(wiremsg.InClose, 0)
	link := w.linkFor(appIndex)
	if link == nil {
		return
	}
	dst := link.pair.Inbound.Ring.Reserve(n)
	wiremsg.EncodeInbound(dst, wiremsg.InClose, peerIdx, code, nil)
	link.pair.Inbound.Ring.Commit(n)
	if err := w.hub.Touch(appIndex); err != nil {
		_ = w.hub.Flush()
		_ = w.hub.Touch(appIndex)
	}
}

// publishInboundOpen is called once a peer completes its upgrade to
// the WS layer, notifying the owning app (spec.md §4.5 "open" hook).
func (w *Worker) publishInboundOpen(appIndex uint32, peerIdx uint32) {
	n := wiremsg.EncodedInboundLen(wiremsg.InOpen, 0)
	link := w.linkFor(appIndex)
	if link == nil {
		return
	}
	dst := link.pair.Inbound.Ring.Reserve(n)
	wiremsg.EncodeInbound(dst, wiremsg.InOpen, peerIdx, 0, nil)
	link.pair.Inbound.Ring.Commit(n)
	if err := w.hub.Touch(appIndex); err != nil {
		_ = w.hub.Flush()
		_ = w.hub.Touch(appIndex)
	}
}

func (w *Worker) linkFor(appIndex uint32) *appLink {
	for _, l := range w.links {
		if l.appIndex == appIndex {
			return l
		}
	}
	return nil
}

// drainOutbound consumes every complete outbound record currently
// visible in link's ring, fanning each out to its recipient set, and
// reports whether it consumed anything.
func (w *Worker) drainOutbound(link *appLink) (didWork bool) {
	for {
		buf := link.pair.Outbound.Ring.Peek()
		if len(buf) == 0 {
			return didWork
		}
		msg, err := wiremsg.DecodeOutbound(buf, wsframe.ServerFrameLen)
		if err == wiremsg.ErrShortOutbound {
			return didWork
		}
		if err != nil {
			// A malformed outbound record is a producer-side bug, not a
			// peer condition; skip the whole ring rather than spin.
			link.pair.Outbound.Ring.Advance(len(buf))
			return true
		}
		w.deliver(msg)
		link.pair.Outbound.Ring.Advance(msg.Len)
		didWork = true
	}
}

// deliver expands msg's recipient-set kind against the peer table and
// begins (or continues) a write on each live WS recipient. The frame
// bytes alias the outbound ring's buffer directly: safe to retain
// without copying because Ring never reuses a backing array in place
// (grow always allocates a fresh one), so the slice stays valid for as
// long as any recipient's pending write still references it.
func (w *Worker) deliver(msg wiremsg.Outbound) {
	if msg.Kind == wiremsg.OutClosePeer {
		w.deliverClosePeer(msg.Single, msg.CloseCode)
		return
	}

	var kind Kind
	var explicit []uint32
	switch msg.Kind {
	case wiremsg.OutSingle:
		kind, explicit = KindSingle, []uint32{msg.Single}
	case wiremsg.OutArray:
		kind, explicit = KindArray, msg.Recipients
	case wiremsg.OutEvery:
		kind = KindEvery
	case wiremsg.OutEveryExceptSingle:
		kind, explicit = KindEveryExceptSingle, []uint32{msg.Single}
	case wiremsg.OutEveryExceptArray:
		kind, explicit = KindEveryExceptArray, msg.Recipients
	}

	recipients(w.table, uint32(w.Index), kind, explicit, &w.recipientBuf)
	for _, idx := range w.recipientBuf {
		if !w.table.LiveWS(idx) {
			continue // recycled slot or not yet upgraded: silent miss, spec.md §8
		}
		s := w.table.Get(idx, 0)
		if s == nil {
			continue
		}
		if s.HasPendingWrite() {
			// Fan-out never blocks on a slow peer (spec.md §4.4): a
			// peer still draining a prior broadcast skips this one.
			// The app is expected to size broadcasts so this is rare;
			// dropping here (rather than queuing per-peer) keeps the
			// worker loop's per-message cost O(1) regardless of how
			// far behind any single peer has fallen.
			continue
		}
		s.BeginWrite(msg.Frame)
		res, err := s.Write()
		switch res {
		case rserrors.Again:
			_ = w.epollMod(s.FD, unix.EPOLLIN|unix.EPOLLOUT)
		case rserrors.ClosePeer:
			_ = err
			w.beginClose(idx, s, rserrors.CloseInvalidPayload)
		}
	}
}

// deliverClosePeer handles an OutClosePeer instruction (spec.md §4.5: a
// lifecycle callback's "close this peer with code C" outcome). idx that
// no longer names a live WS peer (already dead, recycled, or never
// upgraded by the time this instruction arrives) is a silent no-op —
// the same race spec.md §8 already names for fan-out misses.
func (w *Worker) deliverClosePeer(idx uint32, code uint16) {
	if !w.table.LiveWS(idx) {
		return
	}
	s := w.table.Get(idx, 0)
	if s == nil {
		return
	}
	w.beginClose(idx, s, rserrors.CloseCode(code))
}

// defaultUpgrader is a minimal placeholder: it waits for the
// end-of-headers terminator and completes immediately without parsing
// or validating the request line, since the handshake parser itself is
// out of scope (spec.md §1). Real deployments supply their own
// Upgrader that speaks actual HTTP.
type defaultUpgrader struct{}

func (defaultUpgrader) TryUpgrade(buf []byte) (consumed int, complete bool, err error) {
	const terminator = "\r\n\r\n"
	idx := indexOf(buf, terminator)
	if idx < 0 {
		return 0, false, nil
	}
	return idx + len(terminator), true, nil
}

func indexOf(buf []byte, sep string) int {
	n := len(sep)
	for i := 0; i+n <= len(buf); i++ {
		if string(buf[i:i+n]) == sep {
			return i
		}
	}
	return -1
}
