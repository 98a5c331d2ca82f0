// config.go: the frozen configuration structure workers and apps read
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package rsconfig defines the frozen configuration structure spec.md
// §6 names: worker count, per-app update-queue size, outbound ring
// initial size, reallocation multiplier, maximum WebSocket message
// size, and per-port listening parameters. Parsing it from environment
// or file is out of scope per spec §1 — this package is the shape the
// external parser (backed by github.com/agilira/argus, see Loader)
// populates, not the parser itself.
package rsconfig

import (
	"fmt"
	"time"
)

// Port describes one listening port's parameters.
type Port struct {
	// Addr is the "host:port" string to bind, e.g. ":8443".
	Addr string `json:"addr"`
	// TLS enables the TCP -> TLS -> HTTP -> WS layer progression for
	// connections accepted on this port. When false, peers skip
	// straight from TCP to HTTP.
	TLS bool `json:"tls"`
	// CertFile/KeyFile name the PEM files to load for TLS. Loading
	// itself is out of scope (spec §1); Server.Start loads the pair via
	// crypto/tls.LoadX509KeyPair and hands the resulting *tls.Config to
	// each worker's AddListener.
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// Config is the frozen, validated configuration every worker and app
// thread reads at startup. It must not change after Start; dynamic
// reconfiguration is an explicit Non-goal (spec §1).
type Config struct {
	// WorkerCount is W: the number of I/O worker threads.
	WorkerCount int `json:"worker_count"`

	// AppCount is A: the number of application threads.
	AppCount int `json:"app_count"`

	// UpdateQueueSize is the per-producer update-queue capacity shared
	// by every (worker, app) I/O pair's two producers.
	UpdateQueueSize int `json:"update_queue_size"`

	// OutboundRingInitialSize is the starting byte size of each
	// app->worker ring.
	OutboundRingInitialSize int `json:"outbound_ring_initial_size"`

	// InboundRingInitialSize is the starting byte size of each
	// worker->app ring.
	InboundRingInitialSize int `json:"inbound_ring_initial_size"`

	// ReallocMultiplier is the ring growth factor (>1, typically
	// 1.5-2.0).
	ReallocMultiplier float64 `json:"realloc_multiplier"`

	// MaxMessageSize bounds a reassembled WebSocket message, inbound
	// or outbound.
	MaxMessageSize int `json:"max_message_size"`

	// Ports lists every listening port and its parameters.
	Ports []Port `json:"ports"`

	// IdleTimerPeriod is the optional period apps are woken even with
	// no ring data, to drive the `timer` lifecycle hook (spec §4.5).
	// Zero disables the timer wake and the consumer blocks
	// indefinitely in epoll_wait/futex-wait.
	IdleTimerPeriod time.Duration `json:"idle_timer_period"`

	// FanoutStackCap is validated and defaulted to 64 here, but the
	// worker does not read it: the fan-out helper's on-stack recipient
	// buffer is sized by the compile-time constant worker.fanoutStackCap
	// (also 64) before spilling to a pooled slice (spec §9 Open
	// Questions, resolved in SPEC_FULL.md §D.3).
	FanoutStackCap int `json:"fanout_stack_cap"`

	// BackpressurePolicy selects what an app does when an outbound
	// ring would need to grow past MaxOutboundRingSize: "block" (the
	// default, spec §5 — grow without limit, the producer never
	// drops) or "drop-oldest" (an explicit generalization, SPEC_FULL.md
	// §C, for telemetry-style apps that would rather skip a broadcast
	// than let one slow worker's ring balloon).
	BackpressurePolicy string `json:"backpressure_policy"`

	// MaxOutboundRingSize bounds ring growth when BackpressurePolicy is
	// "drop-oldest". Ignored under "block". Zero means unbounded.
	MaxOutboundRingSize int `json:"max_outbound_ring_size"`

	// TimerCronSchedule is an optional robfig/cron schedule string (e.g.
	// "@every 30s") that fires every app's Timer hook on a process-wide
	// schedule, layered over (not replacing) IdleTimerPeriod's
	// plain-interval wake. Empty disables it.
	TimerCronSchedule string `json:"timer_cron_schedule,omitempty"`
}

// NewWithDefaults returns a Config with the reference defaults: 4
// workers, 2 apps, 1024-entry update queues, 64KB rings growing by
// 1.75x, a 16MB max message size, and a 64-entry fan-out stack cap.
func NewWithDefaults() *Config {
	return &Config{
		WorkerCount:             4,
		AppCount:                2,
		UpdateQueueSize:         1024,
		OutboundRingInitialSize: 64 * 1024,
		InboundRingInitialSize:  64 * 1024,
		ReallocMultiplier:       1.75,
		MaxMessageSize:          16 * 1024 * 1024,
		IdleTimerPeriod:         0,
		FanoutStackCap:          64,
		BackpressurePolicy:      "block",
	}
}

// BackpressureBlock and BackpressureDropOldest are the two valid
// values for Config.BackpressurePolicy.
const (
	BackpressureBlock      = "block"
	BackpressureDropOldest = "drop-oldest"
)

// Validate checks the frozen invariants the rest of the core assumes
// hold for the lifetime of the process.
func (c *Config) Validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("rsconfig: worker_count must be > 0, got %d", c.WorkerCount)
	}
	if c.AppCount <= 0 {
		return fmt.Errorf("rsconfig: app_count must be > 0, got %d", c.AppCount)
	}
	if c.UpdateQueueSize <= 0 {
		return fmt.Errorf("rsconfig: update_queue_size must be > 0, got %d", c.UpdateQueueSize)
	}
	if c.ReallocMultiplier <= 1 {
		return fmt.Errorf("rsconfig: realloc_multiplier must be > 1, got %f", c.ReallocMultiplier)
	}
	if c.OutboundRingInitialSize <= 0 || c.InboundRingInitialSize <= 0 {
		return fmt.Errorf("rsconfig: ring initial sizes must be > 0")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("rsconfig: max_message_size must be > 0")
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("rsconfig: at least one port must be configured")
	}
	if c.FanoutStackCap <= 0 {
		c.FanoutStackCap = 64
	}
	switch c.BackpressurePolicy {
	case "", BackpressureBlock:
		c.BackpressurePolicy = BackpressureBlock
	case BackpressureDropOldest:
	default:
		return fmt.Errorf("rsconfig: backpressure_policy must be %q or %q, got %q",
			BackpressureBlock, BackpressureDropOldest, c.BackpressurePolicy)
	}
	return nil
}
