package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"streamhub/internal/metrics"
	"streamhub/pkg/types"
)

// FrameHandler consumes one inbound text frame. The protocol dispatcher
// satisfies it.
type FrameHandler interface {
	HandleFrame(conn *Connection, data []byte)
}

var upgrader = websocket.Upgrader{
	// TODO: restrict origins once the deployment domains are known.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// HandlerOptions tunes the acceptor's transport behavior.
type HandlerOptions struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	BufferSize   int
	Models       []string
}

// Handler accepts transport connections, owns the per-connection receive
// loop, and tears state down on closure.
type Handler struct {
	registry  *Registry
	frames    FrameHandler
	collector *metrics.Collector
	opts      HandlerOptions
	logger    *slog.Logger
}

// NewHandler creates the connection acceptor.
func NewHandler(registry *Registry, frames FrameHandler, collector *metrics.Collector, opts HandlerOptions, logger *slog.Logger) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  registry,
		frames:    frames,
		collector: collector,
		opts:      opts,
		logger:    logger,
	}
}

// HandleWebSocket upgrades the request, registers the connection, sends the
// welcome frame, and runs the receive loop until closure.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(sock, h.opts.BufferSize, h.opts.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("connection registration failed", "error", err)
		_ = conn.Close()
		return
	}
	conn.SetStatus(types.StatusConnected)
	if h.collector != nil {
		h.collector.ConnectionOpened()
	}

	h.logger.Info("connection established",
		"connection_id", conn.ID(), "remote_addr", r.RemoteAddr)

	if err := conn.WriteJSON(h.welcomeFrame(conn)); err != nil {
		h.logger.Warn("welcome frame delivery failed",
			"connection_id", conn.ID(), "error", err)
	}

	go h.readPump(conn, sock)
}

// welcomeFrame advertises the hub's capabilities: everything a client needs
// to discover what it may request.
func (h *Handler) welcomeFrame(conn *Connection) map[string]interface{} {
	streamTypes := make([]string, 0, len(types.StreamTypes()))
	for _, t := range types.StreamTypes() {
		streamTypes = append(streamTypes, string(t))
	}
	eventTypes := make([]string, 0, len(types.EventTypes()))
	for _, t := range types.EventTypes() {
		eventTypes = append(eventTypes, string(t))
	}
	return map[string]interface{}{
		"type":          types.FrameConnectionEstablished,
		"connection_id": conn.ID(),
		"capabilities": map[string]interface{}{
			"event_types":   eventTypes,
			"models":        h.opts.Models,
			"stream_types":  streamTypes,
			"subscriptions": types.SubscriptionTopics(),
		},
		"timestamp": time.Now(),
	}
}

// readPump is the per-connection receive loop. Teardown runs exactly once
// no matter how the loop exits.
func (h *Handler) readPump(conn *Connection, sock *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("receive loop panic recovered",
				"connection_id", conn.ID(), "panic", r)
		}
		if h.registry.Teardown(conn.ID()) {
			if h.collector != nil {
				h.collector.ConnectionClosed()
			}
			h.logger.Info("connection closed", "connection_id", conn.ID())
		}
	}()

	if err := sock.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	// Transport-level heartbeat; application keepalive is the ping frame.
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Context().Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				conn.SetStatus(types.StatusError)
				h.logger.Warn("receive failed", "connection_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			h.frames.HandleFrame(conn, data)
		}
	}
}
