package producer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"streamhub/internal/metrics"
	"streamhub/internal/websocket"
	"streamhub/pkg/types"
)

// Publisher is where producer cycles push their broadcast events; the hub
// satisfies it.
type Publisher interface {
	Publish(e *types.Event) error
}

// Analytics is the upstream insight/prediction collaborator. Optional at
// runtime: a nil collaborator degrades the corresponding producer to a
// skipped cycle, never a crash.
type Analytics interface {
	GenerateInsights(ctx context.Context) ([]*types.Insight, error)
	PredictTrends(ctx context.Context) ([]*types.Prediction, error)
}

// Cadence holds each background producer's cycle interval plus the
// inactivity threshold enforced by the sweep.
type Cadence struct {
	Sweep       time.Duration
	Insights    time.Duration
	Predictions time.Duration
	Metrics     time.Duration
	IdleTimeout time.Duration
}

// DefaultCadence returns the production cycle intervals.
func DefaultCadence() Cadence {
	return Cadence{
		Sweep:       60 * time.Second,
		Insights:    180 * time.Second,
		Predictions: 300 * time.Second,
		Metrics:     30 * time.Second,
		IdleTimeout: 300 * time.Second,
	}
}

// Engine runs the process-lifetime background producers: inactivity sweep,
// insight generation, prediction refresh, and metrics broadcast. It also
// serves as the payload source for per-connection streams, so both share
// one generation path.
type Engine struct {
	registry  *websocket.Registry
	pub       Publisher
	analytics Analytics
	store     *Store
	collector *metrics.Collector
	cadence   Cadence
	logger    *slog.Logger

	dataVersion atomic.Int64

	// now is replaceable for sweep tests.
	now func() time.Time
}

// NewEngine creates the producer set. analytics may be nil.
func NewEngine(registry *websocket.Registry, pub Publisher, analytics Analytics, store *Store, collector *metrics.Collector, cadence Cadence, logger *slog.Logger) *Engine {
	def := DefaultCadence()
	if cadence.Sweep <= 0 {
		cadence.Sweep = def.Sweep
	}
	if cadence.Insights <= 0 {
		cadence.Insights = def.Insights
	}
	if cadence.Predictions <= 0 {
		cadence.Predictions = def.Predictions
	}
	if cadence.Metrics <= 0 {
		cadence.Metrics = def.Metrics
	}
	if cadence.IdleTimeout <= 0 {
		cadence.IdleTimeout = def.IdleTimeout
	}
	if store == nil {
		store = NewStore(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  registry,
		pub:       pub,
		analytics: analytics,
		store:     store,
		collector: collector,
		cadence:   cadence,
		logger:    logger,
		now:       time.Now,
	}
}

// Store exposes the bounded insight/prediction registry.
func (e *Engine) Store() *Store { return e.store }

// Run launches every producer goroutine. They stop when ctx is cancelled;
// there is no other cancellation path.
func (e *Engine) Run(ctx context.Context) {
	e.seedPredictions(ctx)

	go e.loop(ctx, "inactivity_sweep", e.cadence.Sweep, e.sweepOnce)
	go e.loop(ctx, "insight_generation", e.cadence.Insights, e.insightsOnce)
	go e.loop(ctx, "prediction_refresh", e.cadence.Predictions, e.predictionsOnce)
	go e.loop(ctx, "metrics_collection", e.cadence.Metrics, e.metricsOnce)
}

// loop runs one producer's cycle on a fixed interval. A failing or
// panicking cycle is logged and the next cycle still runs.
func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, cycle func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("producer cycle panic recovered", "producer", name, "panic", r)
			}
		}()
		cycle(ctx)
	}

	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			return
		}
	}
}

// sweepOnce tears down every connection idle longer than the threshold.
func (e *Engine) sweepOnce(_ context.Context) {
	cutoff := e.now().Add(-e.cadence.IdleTimeout)
	for _, conn := range e.registry.All() {
		if conn.LastActivity().Before(cutoff) {
			id := conn.ID()
			if e.registry.Teardown(id) {
				if e.collector != nil {
					e.collector.ConnectionClosed()
				}
				e.logger.Info("idle connection evicted",
					"connection_id", id, "last_activity", conn.LastActivity())
			}
		}
	}
}

// insightsOnce pulls fresh insights from the analytics collaborator, stores
// them, and broadcasts one insight_generated event per insight.
func (e *Engine) insightsOnce(ctx context.Context) {
	if e.analytics == nil {
		return
	}
	insights, err := e.analytics.GenerateInsights(ctx)
	if err != nil {
		e.logger.Debug("insight cycle skipped", "error", err)
		return
	}
	for _, ins := range insights {
		e.store.AddInsight(ins)
		if e.collector != nil {
			e.collector.InsightStored()
		}
		event := types.NewEvent(types.EventInsightGenerated, map[string]interface{}{
			"insight": ins,
		})
		if err := e.pub.Publish(event); err != nil {
			e.logger.Warn("insight broadcast dropped", "insight_id", ins.ID, "error", err)
		}
	}
}

// predictionsOnce re-stamps stored predictions and broadcasts one
// prediction_update event per prediction.
func (e *Engine) predictionsOnce(ctx context.Context) {
	predictions := e.store.TouchPredictions(e.now())
	if len(predictions) == 0 {
		e.seedPredictions(ctx)
		predictions = e.store.Predictions()
	}
	for _, p := range predictions {
		event := types.NewEvent(types.EventPredictionUpdate, map[string]interface{}{
			"prediction": p,
		})
		if err := e.pub.Publish(event); err != nil {
			e.logger.Warn("prediction broadcast dropped", "prediction_id", p.ID, "error", err)
		}
	}
}

// metricsOnce recomputes the snapshot and broadcasts it as a status_update.
func (e *Engine) metricsOnce(_ context.Context) {
	if e.collector == nil {
		return
	}
	snap := e.collector.Snapshot()
	event := types.NewEvent(types.EventStatusUpdate, snap.Payload())
	if err := e.pub.Publish(event); err != nil {
		e.logger.Warn("metrics broadcast dropped", "error", err)
	}
}

// seedPredictions fills the store from the collaborator so the refresh loop
// has material before the first full cycle.
func (e *Engine) seedPredictions(ctx context.Context) {
	if e.analytics == nil {
		return
	}
	predictions, err := e.analytics.PredictTrends(ctx)
	if err != nil {
		e.logger.Debug("prediction seed skipped", "error", err)
		return
	}
	for _, p := range predictions {
		e.store.AddPrediction(p)
	}
}

// Insights serves one per-connection stream cycle: live generation when the
// collaborator is available, stored insights otherwise.
func (e *Engine) Insights(ctx context.Context) ([]*types.Insight, error) {
	if e.analytics != nil {
		insights, err := e.analytics.GenerateInsights(ctx)
		if err == nil {
			return insights, nil
		}
		e.logger.Debug("stream insight generation fell back to store", "error", err)
	}
	return e.store.Insights(), nil
}

// Predictions serves one per-connection stream cycle.
func (e *Engine) Predictions(ctx context.Context) ([]*types.Prediction, error) {
	if e.analytics != nil {
		predictions, err := e.analytics.PredictTrends(ctx)
		if err == nil {
			return predictions, nil
		}
		e.logger.Debug("stream prediction generation fell back to store", "error", err)
	}
	return e.store.Predictions(), nil
}

// DataUpdate serves one data_updates stream cycle from the running change
// counter.
func (e *Engine) DataUpdate(_ context.Context) (map[string]interface{}, error) {
	insights, predictions := e.store.Counts()
	return map[string]interface{}{
		"version":     e.dataVersion.Add(1),
		"insights":    insights,
		"predictions": predictions,
		"updated_at":  e.now(),
	}, nil
}
