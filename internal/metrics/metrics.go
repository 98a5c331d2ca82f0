// metrics.go: Prometheus instrumentation for the ring/wake/peer/fan-out core
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package metrics registers the process-wide Prometheus collectors the
// admin HTTP surface exposes at /metrics (SPEC_FULL.md §B "Metrics").
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "ringsocket"

var (
	// RingOccupancyBytes tracks current unread-byte occupancy per ring
	// direction, labeled by the owning (worker, app) pair and direction.
	RingOccupancyBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_occupancy_bytes",
			Help:      "unread bytes currently queued in an I/O pair ring",
		},
		[]string{"direction", "worker", "app"},
	)

	// RingCapacityBytes tracks the current backing-buffer size per ring,
	// so occupancy/capacity lets an operator watch for growth pressure.
	RingCapacityBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_capacity_bytes",
			Help:      "current backing buffer size of an I/O pair ring",
		},
		[]string{"direction", "worker", "app"},
	)

	// WakesTotal counts eventfd notifications actually written (Notify
	// only writes when the consumer is observed asleep, so this is a
	// direct measure of how often batching avoided a syscall). producer
	// is "worker" or "app"; consumer is the numeric index of the thread
	// woken.
	WakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wakes_total",
			Help:      "eventfd wakes actually delivered to a sleeping consumer",
		},
		[]string{"producer", "consumer"},
	)

	// FanoutDeliveriesTotal counts individual peer deliveries performed
	// by the worker fan-out engine, labeled by recipient-set kind.
	FanoutDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_deliveries_total",
			Help:      "peer deliveries performed by the worker fan-out engine",
		},
		[]string{"worker", "kind"},
	)

	// FanoutSpillTotal counts recipient-set expansions that overflowed
	// the fixed on-stack buffer and fell back to the sharded pool
	// (SPEC_FULL.md §D.3).
	FanoutSpillTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_spill_total",
			Help:      "fan-out recipient expansions that spilled past the stack-allocated buffer",
		},
		[]string{"worker"},
	)

	// PeersByState gauges the live peer count per worker, layer, and
	// mortality state.
	PeersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "peer slots currently in a given layer/mortality state",
		},
		[]string{"worker", "layer", "mortality"},
	)

	// CallbackDurationSeconds times each app lifecycle callback
	// invocation (init/open/read/close/timer).
	CallbackDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_duration_seconds",
			Help:      "app lifecycle callback execution time",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "callback"},
	)

	// UpdateQueueOverflowsTotal counts ErrUpdateQueueOverflow occurrences
	// (the FATAL condition of spec §7) per producer thread.
	UpdateQueueOverflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_queue_overflows_total",
			Help:      "ProducerHub Touch calls that observed a full update queue",
		},
		[]string{"producer"},
	)
)

func init() {
	prometheus.MustRegister(
		RingOccupancyBytes,
		RingCapacityBytes,
		WakesTotal,
		FanoutDeliveriesTotal,
		FanoutSpillTotal,
		PeersByState,
		CallbackDurationSeconds,
		UpdateQueueOverflowsTotal,
	)
}
