// updatequeue.go: producer-local FIFO batching publish+wake events
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ring

import (
	"fmt"
	"strconv"

	"github.com/agilira/go-errors"

	"github.com/agilira/ringsocket/internal/metrics"
)

// ErrUpdateQueueOverflow is returned by Push when the queue is at
// capacity. Per spec §4.2/§7 this is a FATAL condition: the caller
// should flush immediately and, if that still does not make room,
// terminate after a best-effort flush.
var ErrUpdateQueueOverflow = errors.New("RS4900", "update queue overflow")

// Update is a single pending publish event: the consumer this
// producer touched, the writer position to publish for it, and
// whether this is a read-advance (the reader announcing consumption)
// rather than a write-advance.
type Update struct {
	ConsumerIndex   uint32
	NewWriterPos    uint64
	IsReaderAdvance bool
}

// UpdateQueue is a bounded, single-producer FIFO of pending Updates.
// It is not thread-safe for concurrent producers — exactly one thread
// (the one also writing rings) may call Push/Flush.
type UpdateQueue struct {
	entries []Update
	cap     int
}

// NewUpdateQueue allocates a queue with the given capacity, configured
// once at startup per spec §6 (frozen configuration).
func NewUpdateQueue(capacity int) *UpdateQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &UpdateQueue{
		entries: make([]Update, 0, capacity),
		cap:     capacity,
	}
}

// Push appends a pending update. Returns ErrUpdateQueueOverflow if the
// queue is full; the caller must flush before retrying, and a flush
// that still leaves the queue full is the spec's FATAL condition.
func (q *UpdateQueue) Push(u Update) error {
	if len(q.entries) >= q.cap {
		return ErrUpdateQueueOverflow
	}
	q.entries = append(q.entries, u)
	return nil
}

// Len reports the number of pending, unflushed updates.
func (q *UpdateQueue) Len() int { return len(q.entries) }

// Full reports whether the next Push would overflow.
func (q *UpdateQueue) Full() bool { return len(q.entries) >= q.cap }

// Drain returns the coalesced set of updates to flush: for each
// distinct consumer index touched since the last Drain, the highest
// NewWriterPos observed, and whether any touch for that consumer was
// a reader-advance. The queue is cleared on return.
func (q *UpdateQueue) Drain() []Update {
	if len(q.entries) == 0 {
		return nil
	}
	byConsumer := make(map[uint32]*Update, len(q.entries))
	order := make([]uint32, 0, len(q.entries))
	for _, u := range q.entries {
		existing, ok := byConsumer[u.ConsumerIndex]
		if !ok {
			cp := u
			byConsumer[u.ConsumerIndex] = &cp
			order = append(order, u.ConsumerIndex)
			continue
		}
		if u.NewWriterPos > existing.NewWriterPos {
			existing.NewWriterPos = u.NewWriterPos
		}
		if u.IsReaderAdvance {
			existing.IsReaderAdvance = true
		}
	}
	out := make([]Update, 0, len(order))
	for _, idx := range order {
		out = append(out, *byConsumer[idx])
	}
	q.entries = q.entries[:0]
	return out
}

// String renders the queue for diagnostics.
func (q *UpdateQueue) String() string {
	return fmt.Sprintf("UpdateQueue{pending=%d/%d}", len(q.entries), q.cap)
}

// ProducerHub is the per-producer-thread owner of one UpdateQueue and
// every Direction it produces into. A worker thread has one Hub for
// its N inbound-ring directions (one per app); an app thread has one
// Hub for its N outbound-ring directions (one per worker). This is the
// concrete form of spec.md §4.2's "producers... append the publish
// event to an update queue and, at scheduler checkpoints... flush."
type ProducerHub struct {
	queue    *UpdateQueue
	targets  map[uint32]*Direction
	producer string
}

// NewProducerHub allocates a hub with the given queue capacity. producer
// identifies the owning thread class ("worker" or "app") for metrics
// labeling only; it has no effect on queue behavior.
func NewProducerHub(queueCapacity int, producer string) *ProducerHub {
	return &ProducerHub{
		queue:    NewUpdateQueue(queueCapacity),
		targets:  make(map[uint32]*Direction),
		producer: producer,
	}
}

// Register binds a consumer index (the peer app or worker index) to
// the Direction this hub produces into for it.
func (h *ProducerHub) Register(consumerIndex uint32, d *Direction) {
	h.targets[consumerIndex] = d
}

// Touch records that consumerIndex's ring gained data since the last
// Flush. Call after every Ring.Commit. Returns ErrUpdateQueueOverflow
// (a FATAL condition per spec §7) if the queue is already full —
// callers must Flush immediately and retry.
func (h *ProducerHub) Touch(consumerIndex uint32) error {
	d, ok := h.targets[consumerIndex]
	if !ok {
		return fmt.Errorf("ring: hub has no direction registered for consumer %d", consumerIndex)
	}
	err := h.queue.Push(Update{
		ConsumerIndex: consumerIndex,
		NewWriterPos:  d.Ring.PrivateWriter(),
	})
	if err != nil {
		metrics.UpdateQueueOverflowsTotal.WithLabelValues(h.producer).Inc()
	}
	return err
}

// Flush publishes every distinct touched consumer's highest writer
// position and signals its wake descriptor if and only if that
// consumer is observed asleep (spec §4.2: coalesced wakeup).
func (h *ProducerHub) Flush() error {
	for _, u := range h.queue.Drain() {
		d, ok := h.targets[u.ConsumerIndex]
		if !ok {
			continue
		}
		d.Ring.Publish()
		asleep := d.Signal.IsAsleep()
		if err := d.Signal.Notify(); err != nil {
			return err
		}
		if asleep {
			metrics.WakesTotal.WithLabelValues(h.producer, strconv.FormatUint(uint64(u.ConsumerIndex), 10)).Inc()
		}
	}
	return nil
}

// Pending reports how many touches are queued, unflushed.
func (h *ProducerHub) Pending() int { return h.queue.Len() }

// QueueFull reports whether the next Touch would overflow the queue.
func (h *ProducerHub) QueueFull() bool { return h.queue.Full() }
