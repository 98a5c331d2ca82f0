// loop.go: the single-threaded App Event Loop
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package app

import (
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/agilira/ringsocket/clientid"
	"github.com/agilira/ringsocket/internal/metrics"
	"github.com/agilira/ringsocket/ring"
	"github.com/agilira/ringsocket/rserrors"
	"github.com/agilira/ringsocket/wiremsg"
)

// Handlers are the up-to-five lifecycle hooks spec.md §4.5 names. Any
// nil hook is simply never invoked (an app that never sends, say, has
// no need for Timer).
type Handlers struct {
	Init  func() rserrors.CallbackOutcome
	Open  func(cid clientid.ID) rserrors.CallbackOutcome
	Read  func(cid clientid.ID, msg []Value) rserrors.CallbackOutcome
	Close func(cid clientid.ID, code uint16) rserrors.CallbackOutcome
	Timer func() rserrors.CallbackOutcome
}

// workerLink is this app's I/O pair to one worker, and that worker's
// index (so a drained record's peer index can be composed back into a
// clientid.ID).
type workerLink struct {
	pair        *ring.IOPair
	workerIndex uint32
}

// App is one application thread: it owns one IOPair per worker (it is
// the consumer of every Inbound ring and the producer of every
// Outbound ring), a Schema for decoding READ payloads, and the
// Handlers lifecycle hooks.
type App struct {
	Index uint32

	links []*workerLink
	hub   *ring.ProducerHub

	schema   *Schema
	handlers Handlers

	scratch     []byte
	multiplier  float64
	policy      string
	maxRingSize int

	epfd     int
	shutdown bool

	cronFire chan struct{}
}

// NewApp allocates an App. queueCap sizes its ProducerHub (Outbound
// side). policy/maxRingSize implement the backpressure generalization
// of SPEC_FULL.md §C.
func NewApp(index uint32, queueCap int, multiplier float64, policy string, maxRingSize int, schema *Schema, handlers Handlers) (*App, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &App{
		Index:       index,
		hub:         ring.NewProducerHub(queueCap, "app"),
		schema:      schema,
		handlers:    handlers,
		multiplier:  multiplier,
		policy:      policy,
		maxRingSize: maxRingSize,
		epfd:        epfd,
		cronFire:    make(chan struct{}, 1),
	}, nil
}

// RequestTimer signals the next Run call to fire the Timer hook ahead
// of its plain-interval schedule (SPEC_FULL.md §B "Periodic
// housekeeping" — the robfig/cron-driven schedule layered over
// IdleTimerPeriod). Safe to call from any goroutine; coalesces multiple
// requests between Run calls into a single Timer invocation.
func (a *App) RequestTimer() {
	select {
	case a.cronFire <- struct{}{}:
	default:
	}
}

// AddWorkerLink registers the I/O pair linking this app to
// workerIndex: the app is Inbound's consumer (its signal goes into
// this app's epoll set) and Outbound's producer (registered into this
// app's ProducerHub).
func (a *App) AddWorkerLink(workerIndex uint32, pair *ring.IOPair) error {
	a.links = append(a.links, &workerLink{pair: pair, workerIndex: workerIndex})
	a.hub.Register(workerIndex, &pair.Outbound)
	return unix.EpollCtl(a.epfd, unix.EPOLL_CTL_ADD, pair.Inbound.Signal.FD(),
		&unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(pair.Inbound.Signal.FD())})
}

func (a *App) linkFor(workerIndex uint32) *workerLink {
	for _, l := range a.links {
		if l.workerIndex == workerIndex {
			return l
		}
	}
	return nil
}

// Shutdown flips the cooperative shutdown flag (spec.md §5); the next
// Run return lets the caller stop looping.
func (a *App) Shutdown() { a.shutdown = true }

// ShuttingDown reports whether Shutdown has been called.
func (a *App) ShuttingDown() bool { return a.shutdown }

// Init invokes the Init hook once, before Run is ever called.
func (a *App) Init() rserrors.CallbackOutcome {
	if a.handlers.Init == nil {
		return rserrors.Success()
	}
	return a.timed("init", a.handlers.Init)
}

// timed invokes fn, recording its wall-clock duration under
// CallbackDurationSeconds labeled by this app's index and callback name.
func (a *App) timed(callback string, fn func() rserrors.CallbackOutcome) rserrors.CallbackOutcome {
	al := strconv.FormatUint(uint64(a.Index), 10)
	start := time.Now()
	out := fn()
	metrics.CallbackDurationSeconds.WithLabelValues(al, callback).Observe(time.Since(start).Seconds())
	return out
}

// Run drives one full idle->sleep->wake->drain cycle (spec.md §4.2):
// it drains every worker's Inbound ring, dispatching each record to
// the matching Handlers hook; if nothing was pending it arms every
// link's sleep flag, re-checks for a lost wakeup, and (only then)
// blocks in epoll_wait up to timeoutMS (or indefinitely when negative).
// A zero-event wake with Handlers.Timer set fires the timer hook. The
// caller loops this until ShuttingDown or a non-OK outcome.
func (a *App) Run(timeoutMS int) (rserrors.CallbackOutcome, error) {
	select {
	case <-a.cronFire:
		if a.handlers.Timer != nil {
			if out := a.timed("timer", a.handlers.Timer); out.Kind != rserrors.CallbackOK {
				return out, nil
			}
		}
	default:
	}

	if out := a.drainAll(); out.Kind != rserrors.CallbackOK {
		return out, nil
	}

	for _, l := range a.links {
		l.pair.Inbound.Signal.MarkAsleep()
	}
	if out := a.drainAll(); out.Kind != rserrors.CallbackOK {
		for _, l := range a.links {
			l.pair.Inbound.Signal.MarkAwake()
		}
		return out, nil
	}
	if !a.anyPending() {
		var events [64]unix.EpollEvent
		n, err := unix.EpollWait(a.epfd, events[:], timeoutMS)
		if err != nil && err != unix.EINTR {
			for _, l := range a.links {
				l.pair.Inbound.Signal.MarkAwake()
			}
			return rserrors.CallbackOutcome{}, err
		}
		if n == 0 && a.handlers.Timer != nil {
			if out := a.timed("timer", a.handlers.Timer); out.Kind != rserrors.CallbackOK {
				for _, l := range a.links {
					l.pair.Inbound.Signal.MarkAwake()
				}
				return out, nil
			}
		}
		for i := 0; i < n; i++ {
			a.drainSignalByFD(int(events[i].Fd))
		}
	}
	for _, l := range a.links {
		l.pair.Inbound.Signal.MarkAwake()
	}

	if out := a.drainAll(); out.Kind != rserrors.CallbackOK {
		return out, nil
	}
	return rserrors.Success(), a.hub.Flush()
}

func (a *App) drainSignalByFD(fd int) {
	for _, l := range a.links {
		if l.pair.Inbound.Signal.FD() == fd {
			l.pair.Inbound.Signal.Drain()
			return
		}
	}
}

// anyPending reports whether any link's Inbound ring still has unread
// bytes, without consuming them.
func (a *App) anyPending() bool {
	for _, l := range a.links {
		if len(l.pair.Inbound.Ring.Peek()) > 0 {
			return true
		}
	}
	return false
}

// drainAll dispatches every pending record on every link, stopping
// immediately and returning the first FATAL outcome it observes. A
// CLOSE_PEER outcome closes only the peer it names (spec.md §4.5) and
// does not interrupt draining the rest of the rings.
func (a *App) drainAll() rserrors.CallbackOutcome {
	for _, l := range a.links {
		if out := a.drainLink(l); out.Kind != rserrors.CallbackOK {
			return out
		}
	}
	return rserrors.Success()
}

func (a *App) drainLink(l *workerLink) rserrors.CallbackOutcome {
	for {
		buf := l.pair.Inbound.Ring.Peek()
		if len(buf) == 0 {
			return rserrors.Success()
		}
		rec, err := wiremsg.DecodeInbound(buf)
		if err == wiremsg.ErrShortInbound {
			return rserrors.Success()
		}
		if err != nil {
			// Malformed framing from our own worker is a programming
			// bug, not a recoverable peer condition.
			return rserrors.FatalOutcome(err)
		}
		cid := clientid.New(l.workerIndex, rec.PeerIndex)
		out := a.dispatch(cid, rec)
		l.pair.Inbound.Ring.Advance(rec.Len)
		switch out.Kind {
		case rserrors.CallbackOK:
			// keep draining
		case rserrors.CallbackClosePeer:
			if err := a.closePeer(cid, out.CloseCode); err != nil {
				return rserrors.FatalOutcome(err)
			}
		default:
			return out
		}
	}
}

func (a *App) dispatch(cid clientid.ID, rec wiremsg.Inbound) rserrors.CallbackOutcome {
	switch rec.Kind {
	case wiremsg.InOpen:
		if a.handlers.Open != nil {
			return a.timed("open", func() rserrors.CallbackOutcome { return a.handlers.Open(cid) })
		}
	case wiremsg.InRead:
		if a.handlers.Read == nil {
			return rserrors.Success()
		}
		var decoded []Value
		if a.schema != nil {
			v, err := Decode(a.schema, rec.Payload)
			if err != nil {
				return rserrors.CallbackOutcome{
					Kind:      rserrors.CallbackClosePeer,
					CloseCode: rserrors.CloseInvalidPayload,
				}
			}
			decoded = v
		}
		return a.timed("read", func() rserrors.CallbackOutcome { return a.handlers.Read(cid, decoded) })
	case wiremsg.InClose:
		if a.handlers.Close != nil {
			return a.timed("close", func() rserrors.CallbackOutcome { return a.handlers.Close(cid, rec.CloseCode) })
		}
	}
	return rserrors.Success()
}
