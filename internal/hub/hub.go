package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"streamhub/internal/metrics"
	"streamhub/internal/websocket"
	"streamhub/pkg/types"
)

// Hub owns the event queue and the single dispatcher goroutine. Producers
// and the AI proxy publish StreamingEvents; the dispatcher resolves each
// event's target set and writes it to every target's serialized write channel.
type Hub struct {
	events   chan *types.Event
	shutdown chan struct{}

	registry  *websocket.Registry
	collector *metrics.Collector
	logger    *slog.Logger

	running bool
	mu      sync.RWMutex
}

// New creates a hub with a bounded FIFO queue of the given size.
func New(registry *websocket.Registry, collector *metrics.Collector, queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		events:    make(chan *types.Event, queueSize),
		shutdown:  make(chan struct{}),
		registry:  registry,
		collector: collector,
		logger:    logger,
	}
}

// Start launches the dispatcher goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info("event dispatcher starting")
	go h.run(ctx)
	return nil
}

// Stop shuts the dispatcher down. Queued events are dropped; delivery
// guarantees do not survive shutdown.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
	return nil
}

// Publish enqueues an event without blocking. A full queue is reported to
// the caller rather than stalling a producer.
func (h *Hub) Publish(e *types.Event) error {
	if e == nil {
		return ErrNilEvent
	}
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.events <- e:
		if h.collector != nil {
			h.collector.SetQueueDepth(len(h.events))
		}
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the current backlog, for the health endpoint.
func (h *Hub) QueueDepth() int {
	return len(h.events)
}

// run consumes the queue one event at a time. A failure inside a single
// dispatch never terminates the loop.
func (h *Hub) run(ctx context.Context) {
	defer h.logger.Info("event dispatcher stopped")

	for {
		select {
		case e := <-h.events:
			h.dispatch(e)
			if h.collector != nil {
				h.collector.SetQueueDepth(len(h.events))
			}
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// dispatch resolves the target set and fans the event out. Send failures
// mark the target connection ERROR but never abort delivery to the rest.
func (h *Hub) dispatch(e *types.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("dispatch panic recovered", "event_id", e.ID, "panic", r)
		}
	}()

	start := time.Now()
	targets := h.resolveTargets(e)

	for _, conn := range targets {
		if err := conn.WriteJSON(e); err != nil {
			conn.SetStatus(types.StatusError)
			if h.collector != nil {
				h.collector.SendError()
			}
			h.logger.Warn("event delivery failed",
				"event_id", e.ID, "event_type", string(e.Type),
				"connection_id", conn.ID(), "error", err)
		}
	}

	if h.collector != nil {
		h.collector.EventDispatched(e.Type)
		h.collector.ObserveDispatchLatency(time.Since(start))
	}
}

// resolveTargets returns the delivery set: the explicit target connections
// when the event names them, otherwise every subscriber of the topics the
// event type maps to.
func (h *Hub) resolveTargets(e *types.Event) []*websocket.Connection {
	if len(e.TargetIDs) > 0 {
		out := make([]*websocket.Connection, 0, len(e.TargetIDs))
		for _, id := range e.TargetIDs {
			if conn, ok := h.registry.Get(id); ok {
				out = append(out, conn)
			}
		}
		return out
	}
	return h.registry.TopicSubscribers(types.TopicsForEvent(e.Type)...)
}
