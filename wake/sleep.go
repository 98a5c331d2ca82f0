// sleep.go: per-consumer sleep state and eventfd-based wake
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package wake implements the paired sleep-state flag and
// eventfd-backed wake descriptor that let an idle consumer thread
// block in epoll_wait without losing a producer's wakeup (spec §4.2).
//
// The single-signal form of the double-check idle protocol lives in
// idle.go (Loop: BeginIdle/WaitOnFD/Run); the worker and app loops,
// which each guard several signals, implement the same protocol inline
// on top of MarkAsleep/MarkAwake. Both rest on the happens-before
// argument spec §4.2 requires:
// a producer that observes AWAKE during its flush window must have
// published before the consumer's re-scan; a producer that publishes
// after the consumer's re-scan will observe ASLEEP and must signal.
package wake

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// State values for a consumer's sleep flag.
const (
	Awake int32 = iota
	Asleep
)

// Signal pairs the atomic sleep-state word with the eventfd a producer
// writes to when it observes Asleep. One Signal exists per ring
// direction of each I/O pair, so a consumer holds one for every ring
// it reads from.
type Signal struct {
	state atomic.Int32
	fd    int
}

// New creates a Signal backed by a non-blocking eventfd in its default
// (counter, not semaphore) mode. The fd is suitable for registration in the owning epoll
// instance with EPOLLIN.
func New() (*Signal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Signal{fd: fd}, nil
}

// FD returns the eventfd descriptor for epoll registration.
func (s *Signal) FD() int { return s.fd }

// Close releases the eventfd.
func (s *Signal) Close() error { return unix.Close(s.fd) }

// MarkAsleep transitions to Asleep. Consumer-only; must only be called
// after a final empty check of every inbound ring (spec §4.2 step 2).
func (s *Signal) MarkAsleep() { s.state.Store(Asleep) }

// MarkAwake transitions back to Awake. Consumer-only; called on the
// re-scan in step 4 (data found) or on wake in step 6.
func (s *Signal) MarkAwake() { s.state.Store(Awake) }

// IsAsleep reports the consumer's current sleep state. Safe from the
// producer side: it is the single bit a producer consults before
// deciding whether to write to the eventfd.
func (s *Signal) IsAsleep() bool { return s.state.Load() == Asleep }

// Notify wakes the consumer if and only if it currently observes
// Asleep. This is the producer-side half of the coalesced-wakeup
// contract: many published updates between two Notify calls cost at
// most one eventfd write.
func (s *Signal) Notify() error {
	if !s.IsAsleep() {
		return nil
	}
	var one [8]byte
	one[7] = 1
	_, err := unix.Write(s.fd, one[:])
	if err == unix.EAGAIN {
		// Counter already saturated by a prior unread notification;
		// the consumer will observe it on next epoll_wait.
		return nil
	}
	return err
}

// Drain consumes the eventfd counter after a wake, as epoll's
// edge/level-triggered readiness otherwise keeps re-firing. Consumer
// side only.
func (s *Signal) Drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(s.fd, buf[:])
		if err != nil {
			return
		}
	}
}
