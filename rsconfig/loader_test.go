// loader_test.go: default backfilling for partially-populated configs
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package rsconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaultsFillsOnlyZeroFields(t *testing.T) {
	c := &Config{
		WorkerCount: 8,
		Ports:       []Port{{Addr: ":1"}},
	}
	applyDefaults(c)

	assert.Equal(t, 8, c.WorkerCount, "explicit value preserved")
	d := NewWithDefaults()
	assert.Equal(t, d.AppCount, c.AppCount)
	assert.Equal(t, d.UpdateQueueSize, c.UpdateQueueSize)
	assert.Equal(t, d.OutboundRingInitialSize, c.OutboundRingInitialSize)
	assert.Equal(t, d.InboundRingInitialSize, c.InboundRingInitialSize)
	assert.Equal(t, d.ReallocMultiplier, c.ReallocMultiplier)
	assert.Equal(t, d.MaxMessageSize, c.MaxMessageSize)
	assert.Equal(t, d.FanoutStackCap, c.FanoutStackCap)
	assert.Equal(t, d.BackpressurePolicy, c.BackpressurePolicy)
}

func TestApplyDefaultsLeavesFullyPopulatedConfigAlone(t *testing.T) {
	c := NewWithDefaults()
	c.Ports = []Port{{Addr: ":1"}}
	c.WorkerCount = 16
	c.BackpressurePolicy = BackpressureDropOldest

	applyDefaults(c)

	assert.Equal(t, 16, c.WorkerCount)
	assert.Equal(t, BackpressureDropOldest, c.BackpressurePolicy)
}
