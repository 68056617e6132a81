package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamhub/internal/ai"
	"streamhub/internal/auth"
	"streamhub/internal/config"
	"streamhub/internal/hub"
	"streamhub/internal/metrics"
	"streamhub/internal/producer"
	"streamhub/internal/protocol"
	"streamhub/internal/stream"
	"streamhub/internal/websocket"
)

// Application wires the hub together. Initialization order follows the
// dependency chain: metrics → auth → registry → hub → producers → streams →
// protocol → acceptor → HTTP.
type Application struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *websocket.Registry
	eventHub  *hub.Hub
	streams   *stream.Manager
	engine    *producer.Engine
	collector *metrics.Collector

	sqliteVerifier *auth.SQLiteVerifier

	router     chi.Router
	httpServer *http.Server
}

// New builds an application. modelSvc and analytics are the external
// collaborators; either may be nil, degrading the corresponding feature to
// typed failures or skipped cycles.
func New(cfg *config.Config, modelSvc ai.ModelService, analytics producer.Analytics, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	var verifier auth.TokenVerifier
	var sqliteVerifier *auth.SQLiteVerifier
	switch cfg.Auth.Mode {
	case "permissive":
		verifier = auth.PermissiveVerifier{}
		logger.Warn("permissive token verification enabled; not for production")
	default:
		v, err := auth.OpenSQLiteVerifier(cfg.Auth.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open credential store: %w", err)
		}
		verifier = v
		sqliteVerifier = v
	}

	registry := websocket.NewRegistry(cfg.Hub.HistoryCap)
	eventHub := hub.New(registry, collector, cfg.Hub.QueueSize, logger)

	store := producer.NewStore(cfg.Producers.StoreCapacity)
	engine := producer.NewEngine(registry, eventHub, analytics, store, collector, producer.Cadence{
		Sweep:       cfg.Producers.SweepInterval,
		Insights:    cfg.Producers.InsightsInterval,
		Predictions: cfg.Producers.PredictionsInterval,
		Metrics:     cfg.Producers.MetricsInterval,
		IdleTimeout: cfg.Producers.IdleTimeout,
	}, logger)

	streams := stream.NewManager(eventHub, registry, engine, stream.Intervals{
		Insights:    cfg.Streams.InsightsInterval,
		Predictions: cfg.Streams.PredictionsInterval,
		DataUpdates: cfg.Streams.DataUpdatesInterval,
	}, collector, logger)
	registry.SetStreamCanceler(streams)

	proxy := ai.NewProxy(modelSvc, cfg.AI.RequestTimeout, logger)
	dispatcher := protocol.NewDispatcher(registry, streams, proxy, verifier, collector, cfg.AI.DefaultModel, logger)

	wsHandler := websocket.NewHandler(registry, dispatcher, collector, websocket.HandlerOptions{
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		BufferSize:   cfg.WebSocket.BufferSize,
		Models:       proxy.Models(),
	}, logger)

	app := &Application{
		cfg:            cfg,
		logger:         logger,
		registry:       registry,
		eventHub:       eventHub,
		streams:        streams,
		engine:         engine,
		collector:      collector,
		sqliteVerifier: sqliteVerifier,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", wsHandler.HandleWebSocket)
	r.Get("/healthz", app.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	app.router = r

	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return app, nil
}

// Handler exposes the HTTP router, mainly for tests.
func (a *Application) Handler() http.Handler { return a.router }

// Registry exposes the connection registry, mainly for tests.
func (a *Application) Registry() *websocket.Registry { return a.registry }

// Streams exposes the stream manager, mainly for tests.
func (a *Application) Streams() *stream.Manager { return a.streams }

// Start launches the dispatcher, the background producers, and the HTTP
// listener.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting streamhub", "addr", a.httpServer.Addr)

	if err := a.eventHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	a.engine.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		_ = a.eventHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		a.logger.Info("streamhub started")
		return nil
	case <-ctx.Done():
		_ = a.eventHub.Stop()
		return ctx.Err()
	}
}

// StartComponents launches the dispatcher and producers without the HTTP
// listener; tests serve the handler through httptest instead.
func (a *Application) StartComponents(ctx context.Context) error {
	if err := a.eventHub.Start(ctx); err != nil {
		return err
	}
	a.engine.Run(ctx)
	return nil
}

// Stop shuts the application down in reverse dependency order.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("stopping streamhub")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown error", "error", err)
	}
	if err := a.eventHub.Stop(); err != nil && err != hub.ErrHubNotRunning {
		a.logger.Warn("dispatcher shutdown error", "error", err)
	}
	for _, conn := range a.registry.All() {
		if a.registry.Teardown(conn.ID()) {
			a.collector.ConnectionClosed()
		}
	}
	if a.sqliteVerifier != nil {
		if err := a.sqliteVerifier.Close(); err != nil {
			a.logger.Warn("credential store close error", "error", err)
		}
	}

	a.logger.Info("streamhub stopped")
	return nil
}

func (a *Application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{
		"status":         "ok",
		"registry":       a.registry.Stats(),
		"queue_depth":    a.eventHub.QueueDepth(),
		"active_streams": a.streams.Count(),
		"timestamp":      time.Now(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Warn("health encoding failed", "error", err)
	}
}
