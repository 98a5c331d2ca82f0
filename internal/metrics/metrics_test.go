// metrics_test.go: collectors accept labels and register without panic
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsAcceptLabelsAndCount(t *testing.T) {
	RingOccupancyBytes.WithLabelValues("outbound", "0", "1").Set(128)
	assert.Equal(t, float64(128), testutil.ToFloat64(RingOccupancyBytes.WithLabelValues("outbound", "0", "1")))

	RingCapacityBytes.WithLabelValues("inbound", "0", "1").Set(4096)
	assert.Equal(t, float64(4096), testutil.ToFloat64(RingCapacityBytes.WithLabelValues("inbound", "0", "1")))

	WakesTotal.WithLabelValues("worker", "2").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(WakesTotal.WithLabelValues("worker", "2")))

	FanoutDeliveriesTotal.WithLabelValues("0", "every").Add(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(FanoutDeliveriesTotal.WithLabelValues("0", "every")))

	FanoutSpillTotal.WithLabelValues("0").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(FanoutSpillTotal.WithLabelValues("0")))

	PeersByState.WithLabelValues("0", "WS", "LIVE").Set(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(PeersByState.WithLabelValues("0", "WS", "LIVE")))

	UpdateQueueOverflowsTotal.WithLabelValues("app").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(UpdateQueueOverflowsTotal.WithLabelValues("app")))

	CallbackDurationSeconds.WithLabelValues("0", "open").Observe(0.01)
	n, err := testutil.CollectAndCount(CallbackDurationSeconds, "ringsocket_callback_duration_seconds")
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
