package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"streamhub/pkg/types"
)

// Collector owns the hub's running counters and their prometheus
// exposition. The status_update producer derives its periodic Snapshot from
// the same counters, so the wire snapshot and /metrics never disagree.
type Collector struct {
	totalConnections atomic.Int64
	activeConns      atomic.Int64
	totalEvents      atomic.Int64
	totalAIRequests  atomic.Int64
	totalInsights    atomic.Int64
	sendErrors       atomic.Int64

	// Rolling dispatch-latency window for the snapshot average.
	latMu     sync.Mutex
	latencies []time.Duration
	latCap    int

	// State for the events/sec rate between snapshots.
	snapMu     sync.Mutex
	lastSnapAt time.Time
	lastEvents int64

	promConnectionsTotal  prometheus.Counter
	promConnectionsActive prometheus.Gauge
	promEventsTotal       *prometheus.CounterVec
	promAIRequestsTotal   prometheus.Counter
	promInsightsTotal     prometheus.Counter
	promSendErrorsTotal   prometheus.Counter
	promDispatchLatency   prometheus.Histogram
	promQueueDepth        prometheus.Gauge
	promActiveStreams     prometheus.Gauge
}

// NewCollector creates a collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		latCap:     100,
		lastSnapAt: time.Now(),
		promConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamhub",
			Subsystem: "connections",
			Name:      "total",
			Help:      "Total number of accepted connections",
		}),
		promConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamhub",
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of currently open connections",
		}),
		promEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamhub",
			Subsystem: "events",
			Name:      "dispatched_total",
			Help:      "Total number of events dispatched",
		}, []string{"type"}),
		promAIRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamhub",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total number of AI requests received",
		}),
		promInsightsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamhub",
			Subsystem: "insights",
			Name:      "generated_total",
			Help:      "Total number of insights generated",
		}),
		promSendErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamhub",
			Subsystem: "events",
			Name:      "send_errors_total",
			Help:      "Total number of failed event deliveries",
		}),
		promDispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamhub",
			Subsystem: "events",
			Name:      "dispatch_latency_seconds",
			Help:      "Wall-clock time from queue pop to last delivery",
			Buckets:   prometheus.DefBuckets,
		}),
		promQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamhub",
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Number of events waiting in the dispatch queue",
		}),
		promActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamhub",
			Subsystem: "streams",
			Name:      "active",
			Help:      "Number of active per-connection streams",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.promConnectionsTotal,
			c.promConnectionsActive,
			c.promEventsTotal,
			c.promAIRequestsTotal,
			c.promInsightsTotal,
			c.promSendErrorsTotal,
			c.promDispatchLatency,
			c.promQueueDepth,
			c.promActiveStreams,
		)
	}

	return c
}

// ConnectionOpened records one accepted connection.
func (c *Collector) ConnectionOpened() {
	c.totalConnections.Add(1)
	c.activeConns.Add(1)
	c.promConnectionsTotal.Inc()
	c.promConnectionsActive.Inc()
}

// ConnectionClosed records one torn-down connection.
func (c *Collector) ConnectionClosed() {
	c.activeConns.Add(-1)
	c.promConnectionsActive.Dec()
}

// EventDispatched records one event leaving the dispatch queue.
func (c *Collector) EventDispatched(t types.EventType) {
	c.totalEvents.Add(1)
	c.promEventsTotal.WithLabelValues(string(t)).Inc()
}

// SendError records one failed delivery within a fan-out.
func (c *Collector) SendError() {
	c.sendErrors.Add(1)
	c.promSendErrorsTotal.Inc()
}

// AIRequest records one inbound ai_request frame.
func (c *Collector) AIRequest() {
	c.totalAIRequests.Add(1)
	c.promAIRequestsTotal.Inc()
}

// InsightStored records one generated insight.
func (c *Collector) InsightStored() {
	c.totalInsights.Add(1)
	c.promInsightsTotal.Inc()
}

// SetQueueDepth reports the dispatch queue backlog.
func (c *Collector) SetQueueDepth(n int) {
	c.promQueueDepth.Set(float64(n))
}

// SetActiveStreams reports the active per-connection stream count.
func (c *Collector) SetActiveStreams(n int) {
	c.promActiveStreams.Set(float64(n))
}

// ObserveDispatchLatency records one per-event fan-out latency sample into
// the bounded rolling window and the prometheus histogram.
func (c *Collector) ObserveDispatchLatency(d time.Duration) {
	c.promDispatchLatency.Observe(d.Seconds())
	c.latMu.Lock()
	defer c.latMu.Unlock()
	c.latencies = append(c.latencies, d)
	if len(c.latencies) > c.latCap {
		c.latencies = c.latencies[len(c.latencies)-c.latCap:]
	}
}

// Snapshot is the periodic metrics view broadcast as a status_update event.
type Snapshot struct {
	TotalConnections  int64     `json:"total_connections"`
	ActiveConnections int64     `json:"active_connections"`
	TotalEvents       int64     `json:"total_events"`
	TotalAIRequests   int64     `json:"total_ai_requests"`
	TotalInsights     int64     `json:"total_insights"`
	EventsPerSecond   float64   `json:"events_per_second"`
	AvgLatencyMS      float64   `json:"avg_latency_ms"`
	ErrorRate         float64   `json:"error_rate"`
	Timestamp         time.Time `json:"timestamp"`
}

// Payload renders the snapshot as an event payload map.
func (s Snapshot) Payload() map[string]interface{} {
	return map[string]interface{}{
		"total_connections":  s.TotalConnections,
		"active_connections": s.ActiveConnections,
		"total_events":       s.TotalEvents,
		"total_ai_requests":  s.TotalAIRequests,
		"total_insights":     s.TotalInsights,
		"events_per_second":  s.EventsPerSecond,
		"avg_latency_ms":     s.AvgLatencyMS,
		"error_rate":         s.ErrorRate,
		"timestamp":          s.Timestamp,
	}
}

// Snapshot recomputes the derived rates from the running counters. The
// events/sec rate covers the interval since the previous call.
func (c *Collector) Snapshot() Snapshot {
	now := time.Now()
	events := c.totalEvents.Load()

	c.snapMu.Lock()
	elapsed := now.Sub(c.lastSnapAt).Seconds()
	delta := events - c.lastEvents
	c.lastSnapAt = now
	c.lastEvents = events
	c.snapMu.Unlock()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(delta) / elapsed
	}

	c.latMu.Lock()
	var total time.Duration
	for _, d := range c.latencies {
		total += d
	}
	samples := len(c.latencies)
	c.latMu.Unlock()

	avgMS := 0.0
	if samples > 0 {
		avgMS = float64(total.Milliseconds()) / float64(samples)
	}

	errRate := 0.0
	if events > 0 {
		errRate = float64(c.sendErrors.Load()) / float64(events)
	}

	return Snapshot{
		TotalConnections:  c.totalConnections.Load(),
		ActiveConnections: c.activeConns.Load(),
		TotalEvents:       events,
		TotalAIRequests:   c.totalAIRequests.Load(),
		TotalInsights:     c.totalInsights.Load(),
		EventsPerSecond:   rate,
		AvgLatencyMS:      avgMS,
		ErrorRate:         errRate,
		Timestamp:         now,
	}
}
