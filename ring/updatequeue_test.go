// updatequeue_test.go: producer-local batching and ProducerHub behavior
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilira/ringsocket/wake"
)

func TestUpdateQueuePushOverflow(t *testing.T) {
	q := NewUpdateQueue(2)
	require.NoError(t, q.Push(Update{ConsumerIndex: 1, NewWriterPos: 10}))
	require.NoError(t, q.Push(Update{ConsumerIndex: 2, NewWriterPos: 20}))
	assert.True(t, q.Full())
	assert.ErrorIs(t, q.Push(Update{ConsumerIndex: 3, NewWriterPos: 30}), ErrUpdateQueueOverflow)
}

func TestUpdateQueueDrainCoalesces(t *testing.T) {
	q := NewUpdateQueue(8)
	require.NoError(t, q.Push(Update{ConsumerIndex: 1, NewWriterPos: 10}))
	require.NoError(t, q.Push(Update{ConsumerIndex: 1, NewWriterPos: 20}))
	require.NoError(t, q.Push(Update{ConsumerIndex: 2, NewWriterPos: 5, IsReaderAdvance: true}))

	out := q.Drain()
	require.Len(t, out, 2)
	assert.Equal(t, uint32(1), out[0].ConsumerIndex)
	assert.Equal(t, uint64(20), out[0].NewWriterPos)
	assert.Equal(t, uint32(2), out[1].ConsumerIndex)
	assert.True(t, out[1].IsReaderAdvance)

	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Drain())
}

func newTestDirection(t *testing.T) *Direction {
	t.Helper()
	sig, err := wake.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sig.Close() })
	return &Direction{Ring: New(64, 1.75), Signal: sig}
}

func TestProducerHubTouchAndFlushSignalsOnlyWhenAsleep(t *testing.T) {
	hub := NewProducerHub(4, "worker")
	d := newTestDirection(t)
	hub.Register(7, d)

	b := d.Ring.Reserve(3)
	copy(b, []byte("abc"))
	d.Ring.Commit(3)

	require.NoError(t, hub.Touch(7))
	assert.Equal(t, 1, hub.Pending())

	// consumer never marked asleep: Flush must publish but not write the
	// eventfd.
	require.NoError(t, hub.Flush())
	assert.Equal(t, 0, hub.Pending())
	assert.Equal(t, 3, d.Ring.Occupancy())

	d.Signal.MarkAsleep()
	b2 := d.Ring.Reserve(2)
	copy(b2, []byte("de"))
	d.Ring.Commit(2)
	require.NoError(t, hub.Touch(7))
	require.NoError(t, hub.Flush())
	assert.Equal(t, 5, d.Ring.Occupancy())
}

func TestProducerHubTouchUnknownConsumer(t *testing.T) {
	hub := NewProducerHub(4, "app")
	err := hub.Touch(99)
	assert.Error(t, err)
}

func TestProducerHubQueueFull(t *testing.T) {
	hub := NewProducerHub(1, "worker")
	d := newTestDirection(t)
	hub.Register(1, d)

	require.NoError(t, hub.Touch(1))
	assert.True(t, hub.QueueFull())
}
