package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamhub/pkg/types"
)

func TestCollector_SnapshotCounters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.EventDispatched(types.EventInsightGenerated)
	c.EventDispatched(types.EventStatusUpdate)
	c.AIRequest()
	c.InsightStored()
	c.SendError()

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.TotalConnections)
	assert.Equal(t, int64(1), snap.ActiveConnections)
	assert.Equal(t, int64(2), snap.TotalEvents)
	assert.Equal(t, int64(1), snap.TotalAIRequests)
	assert.Equal(t, int64(1), snap.TotalInsights)
	assert.InDelta(t, 0.5, snap.ErrorRate, 1e-9)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestCollector_EventsPerSecondCoversInterval(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	// Establish the interval start.
	_ = c.Snapshot()

	for i := 0; i < 10; i++ {
		c.EventDispatched(types.EventInsightGenerated)
	}
	time.Sleep(20 * time.Millisecond)

	snap := c.Snapshot()
	assert.Greater(t, snap.EventsPerSecond, 0.0)

	// A second snapshot right after covers a near-empty interval.
	snap = c.Snapshot()
	assert.Equal(t, 0.0, snap.EventsPerSecond)
}

func TestCollector_LatencyWindowIsBounded(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	// Fill past the cap with 1ms samples, then shift the window to 3ms ones.
	for i := 0; i < 150; i++ {
		c.ObserveDispatchLatency(time.Millisecond)
	}
	for i := 0; i < 100; i++ {
		c.ObserveDispatchLatency(3 * time.Millisecond)
	}

	c.latMu.Lock()
	window := len(c.latencies)
	c.latMu.Unlock()
	require.Equal(t, 100, window)

	snap := c.Snapshot()
	assert.InDelta(t, 3.0, snap.AvgLatencyMS, 0.01, "old samples fell out of the window")
}

func TestCollector_PrometheusExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ConnectionOpened()
	c.EventDispatched(types.EventInsightGenerated)
	c.EventDispatched(types.EventInsightGenerated)
	c.SetQueueDepth(7)
	c.SetActiveStreams(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.promConnectionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.promConnectionsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.promEventsTotal.WithLabelValues(string(types.EventInsightGenerated))))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.promQueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.promActiveStreams))
}

func TestSnapshot_PayloadRoundTrip(t *testing.T) {
	snap := Snapshot{
		TotalConnections:  5,
		ActiveConnections: 2,
		TotalEvents:       100,
		EventsPerSecond:   3.5,
		Timestamp:         time.Now(),
	}

	payload := snap.Payload()
	assert.Equal(t, int64(5), payload["total_connections"])
	assert.Equal(t, int64(2), payload["active_connections"])
	assert.Equal(t, 3.5, payload["events_per_second"])
	assert.Equal(t, snap.Timestamp, payload["timestamp"])
}
