package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamhub/internal/metrics"
	"streamhub/pkg/types"
)

// Publisher is where stream cycles push their targeted events; the hub
// satisfies it.
type Publisher interface {
	Publish(e *types.Event) error
}

// ConnChecker reports whether a connection still exists; the registry
// satisfies it. A stream whose owner is gone self-terminates.
type ConnChecker interface {
	Has(id string) bool
}

// Source produces one cycle of type-specific payload. The producer engine
// satisfies it, so per-connection streams and global broadcasts share the
// same generation logic.
type Source interface {
	Insights(ctx context.Context) ([]*types.Insight, error)
	Predictions(ctx context.Context) ([]*types.Prediction, error)
	DataUpdate(ctx context.Context) (map[string]interface{}, error)
}

// ActiveStream is one named, cancellable repeating task bound to a
// connection.
type ActiveStream struct {
	ID           string                 `json:"id"`
	ConnectionID string                 `json:"connection_id"`
	Type         types.StreamType       `json:"type"`
	Config       map[string]interface{} `json:"config,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	Status       types.StreamStatus     `json:"status"`
}

// Intervals holds the per-type cycle cadence.
type Intervals struct {
	Insights    time.Duration
	Predictions time.Duration
	DataUpdates time.Duration
}

// DefaultIntervals returns the production cadences.
func DefaultIntervals() Intervals {
	return Intervals{
		Insights:    30 * time.Second,
		Predictions: 60 * time.Second,
		DataUpdates: 15 * time.Second,
	}
}

// Manager tracks ActiveStream records and runs one goroutine per stream.
// Cancellation is cooperative: each cycle re-checks the record's status and
// the owner connection's existence, so worst-case stop latency is one
// interval.
type Manager struct {
	mu      sync.RWMutex
	streams map[string]*ActiveStream
	byConn  map[string]map[string]bool

	pub       Publisher
	conns     ConnChecker
	source    Source
	intervals Intervals
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewManager creates a stream manager.
func NewManager(pub Publisher, conns ConnChecker, source Source, intervals Intervals, collector *metrics.Collector, logger *slog.Logger) *Manager {
	if intervals.Insights <= 0 {
		intervals.Insights = DefaultIntervals().Insights
	}
	if intervals.Predictions <= 0 {
		intervals.Predictions = DefaultIntervals().Predictions
	}
	if intervals.DataUpdates <= 0 {
		intervals.DataUpdates = DefaultIntervals().DataUpdates
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		streams:   make(map[string]*ActiveStream),
		byConn:    make(map[string]map[string]bool),
		pub:       pub,
		conns:     conns,
		source:    source,
		intervals: intervals,
		collector: collector,
		logger:    logger,
	}
}

// Start records an ACTIVE stream and launches its repeating task.
func (m *Manager) Start(ctx context.Context, connectionID string, streamType types.StreamType, config map[string]interface{}) (*ActiveStream, error) {
	if !types.IsValidStreamType(streamType) {
		return nil, ErrInvalidStreamType
	}

	s := &ActiveStream{
		ID:           uuid.New().String(),
		ConnectionID: connectionID,
		Type:         streamType,
		Config:       config,
		StartedAt:    time.Now(),
		Status:       types.StreamActive,
	}

	m.mu.Lock()
	m.streams[s.ID] = s
	if m.byConn[connectionID] == nil {
		m.byConn[connectionID] = make(map[string]bool)
	}
	m.byConn[connectionID][s.ID] = true
	count := len(m.streams)
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.SetActiveStreams(count)
	}

	go m.run(ctx, s.ID, connectionID, streamType)

	m.logger.Info("stream started",
		"stream_id", s.ID, "stream_type", string(streamType), "connection_id", connectionID)
	return s, nil
}

// Stop marks a stream STOPPED and removes its record. The owning task
// observes this on its next wake and exits without error.
func (m *Manager) Stop(streamID string) error {
	m.mu.Lock()
	s, ok := m.streams[streamID]
	if !ok {
		m.mu.Unlock()
		return ErrStreamNotFound
	}
	s.Status = types.StreamStopped
	m.removeLocked(streamID, s.ConnectionID)
	count := len(m.streams)
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.SetActiveStreams(count)
	}
	m.logger.Info("stream stopped", "stream_id", streamID)
	return nil
}

// StopAll stops every stream owned by a connection. Called by teardown, so
// a disconnect has the same effect as explicit stream_stop frames.
func (m *Manager) StopAll(connectionID string) {
	m.mu.Lock()
	for streamID := range m.byConn[connectionID] {
		if s, ok := m.streams[streamID]; ok {
			s.Status = types.StreamStopped
		}
		delete(m.streams, streamID)
	}
	delete(m.byConn, connectionID)
	count := len(m.streams)
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.SetActiveStreams(count)
	}
}

// Get looks up an ActiveStream record by id.
func (m *Manager) Get(streamID string) (*ActiveStream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[streamID]
	return s, ok
}

// ForConnection returns the streams owned by a connection.
func (m *Manager) ForConnection(connectionID string) []*ActiveStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ActiveStream, 0, len(m.byConn[connectionID]))
	for streamID := range m.byConn[connectionID] {
		if s, ok := m.streams[streamID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of active streams.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

func (m *Manager) removeLocked(streamID, connectionID string) {
	delete(m.streams, streamID)
	if ids, ok := m.byConn[connectionID]; ok {
		delete(ids, streamID)
		if len(ids) == 0 {
			delete(m.byConn, connectionID)
		}
	}
}

// isActive reports whether the stream record still exists and is ACTIVE.
func (m *Manager) isActive(streamID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[streamID]
	return ok && s.Status == types.StreamActive
}

// run is one stream's repeating task: produce a cycle addressed to the
// owning connection, then sleep the type interval before re-checking status.
func (m *Manager) run(ctx context.Context, streamID, connectionID string, streamType types.StreamType) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("stream task panic recovered", "stream_id", streamID, "panic", r)
			_ = m.Stop(streamID)
		}
	}()

	interval := m.interval(streamType)

	for {
		if !m.isActive(streamID) {
			return
		}
		if !m.conns.Has(connectionID) {
			m.mu.Lock()
			m.removeLocked(streamID, connectionID)
			count := len(m.streams)
			m.mu.Unlock()
			if m.collector != nil {
				m.collector.SetActiveStreams(count)
			}
			return
		}

		payload, err := m.cyclePayload(ctx, streamID, streamType)
		if err != nil {
			// Collaborator unavailable; skip this cycle, keep the stream.
			m.logger.Debug("stream cycle skipped", "stream_id", streamID, "error", err)
		} else {
			e := types.NewTargetedEvent(eventTypeFor(streamType), payload, connectionID)
			if err := m.pub.Publish(e); err != nil {
				m.logger.Warn("stream event dropped", "stream_id", streamID, "error", err)
			}
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) interval(t types.StreamType) time.Duration {
	switch t {
	case types.StreamLivePredictions:
		return m.intervals.Predictions
	case types.StreamDataUpdates:
		return m.intervals.DataUpdates
	default:
		return m.intervals.Insights
	}
}

// cyclePayload asks the shared source for one cycle of type-specific data.
// Every payload carries stream_id so clients can correlate frames with the
// stream they started.
func (m *Manager) cyclePayload(ctx context.Context, streamID string, t types.StreamType) (map[string]interface{}, error) {
	switch t {
	case types.StreamLivePredictions:
		predictions, err := m.source.Predictions(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"stream_id":   streamID,
			"stream_type": string(t),
			"predictions": predictions,
			"count":       len(predictions),
		}, nil
	case types.StreamDataUpdates:
		update, err := m.source.DataUpdate(ctx)
		if err != nil {
			return nil, err
		}
		update["stream_id"] = streamID
		update["stream_type"] = string(t)
		return update, nil
	default:
		insights, err := m.source.Insights(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"stream_id":   streamID,
			"stream_type": string(t),
			"insights":    insights,
			"count":       len(insights),
		}, nil
	}
}

func eventTypeFor(t types.StreamType) types.EventType {
	switch t {
	case types.StreamLivePredictions:
		return types.EventPredictionUpdate
	case types.StreamDataUpdates:
		return types.EventDataUpdated
	default:
		return types.EventInsightGenerated
	}
}
