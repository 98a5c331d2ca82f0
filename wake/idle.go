// idle.go: the double-check idle/wake loop shared by worker and app
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package wake

import "golang.org/x/sys/unix"

// Source is anything a consumer drains looking for pending work — an
// inbound ring, in the spec's terms. Drain should process everything
// currently available and report whether it found any work.
type Source interface {
	Drain() (didWork bool)
}

// Loop implements the spec §4.2 consumer idle protocol on top of one
// Signal and a set of Sources. Callers that need to also service other
// epoll-registered fds (listening sockets, peer sockets) should use
// BeginIdle/WaitOnFD directly instead of Run; Run is the convenience
// path for a pure ring-draining consumer guarded by this one signal.
// The worker and app loops do not use Loop: each implements the
// protocol inline across several signals.
type Loop struct {
	signal  *Signal
	sources []Source
}

// NewLoop binds a Signal to the Sources it should drain on each turn.
func NewLoop(signal *Signal, sources ...Source) *Loop {
	return &Loop{signal: signal, sources: sources}
}

// drainAll runs every source once and reports whether any of them did
// work.
func (l *Loop) drainAll() bool {
	any := false
	for _, s := range l.sources {
		if s.Drain() {
			any = true
		}
	}
	return any
}

// BeginIdle performs steps 1-4 of the idle protocol: drain, and if
// every source was empty, publish Asleep and re-scan. It returns true
// if the caller may now safely block (step 5), false if new work
// appeared during the re-scan and was already drained (step 4's
// "goto 1" is this function's internal loop).
func (l *Loop) BeginIdle() (mayBlock bool) {
	for {
		if l.drainAll() {
			continue
		}
		l.signal.MarkAsleep()
		// Re-scan: barrier-ordered against MarkAsleep via the Signal's
		// atomic store/load pair.
		if l.drainAll() {
			l.signal.MarkAwake()
			continue
		}
		return true
	}
}

// WaitOnFD blocks on the signal's eventfd via epoll_wait with the
// given timeout in milliseconds (-1 blocks indefinitely; used for the
// spec's optional timer-callback deadline). On return it always marks
// Awake and drains the eventfd counter — callers must still re-drain
// their Sources afterward (step 6), which Run does for them.
func (l *Loop) WaitOnFD(epfd int, timeoutMS int) error {
	var events [1]unix.EpollEvent
	_, err := unix.EpollWait(epfd, events[:], timeoutMS)
	l.signal.MarkAwake()
	l.signal.Drain()
	if err != nil && err != unix.EINTR {
		return err
	}
	return nil
}

// Run drives one full idle->sleep->wake->drain cycle using a
// caller-provided epoll instance that already has the signal's FD
// registered with EPOLLIN. It returns after draining at least once
// following a wake (or immediately if BeginIdle found it could not
// safely block because work reappeared).
func (l *Loop) Run(epfd int, timeoutMS int) error {
	if l.BeginIdle() {
		if err := l.WaitOnFD(epfd, timeoutMS); err != nil {
			return err
		}
	}
	l.drainAll()
	return nil
}
