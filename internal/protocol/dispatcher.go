package protocol

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"streamhub/internal/ai"
	"streamhub/internal/auth"
	"streamhub/internal/metrics"
	"streamhub/internal/stream"
	"streamhub/internal/websocket"
	"streamhub/pkg/types"
)

// Dispatcher is the per-frame state machine. Frames are only meaningful
// while the connection is CONNECTED; every frame bumps last-activity before
// dispatch. Malformed and unknown frames are logged and ignored; they never
// terminate the connection.
type Dispatcher struct {
	registry     *websocket.Registry
	streams      *stream.Manager
	proxy        *ai.Proxy
	verifier     auth.TokenVerifier
	collector    *metrics.Collector
	defaultModel string
	logger       *slog.Logger
}

// NewDispatcher wires the protocol handler to its collaborators.
func NewDispatcher(registry *websocket.Registry, streams *stream.Manager, proxy *ai.Proxy, verifier auth.TokenVerifier, collector *metrics.Collector, defaultModel string, logger *slog.Logger) *Dispatcher {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:     registry,
		streams:      streams,
		proxy:        proxy,
		verifier:     verifier,
		collector:    collector,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// HandleFrame decodes one inbound frame and dispatches it by type.
func (d *Dispatcher) HandleFrame(conn *websocket.Connection, data []byte) {
	var frame types.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		d.logger.Debug("malformed frame ignored", "connection_id", conn.ID(), "error", err)
		return
	}

	conn.Touch()

	if conn.Status() != types.StatusConnected {
		d.logger.Debug("frame ignored in non-connected state",
			"connection_id", conn.ID(), "status", string(conn.Status()))
		return
	}

	switch frame.Type {
	case types.FrameAuthenticate:
		d.handleAuthenticate(conn, &frame)
	case types.FrameSubscribe:
		d.handleSubscribe(conn, &frame)
	case types.FrameUnsubscribe:
		d.handleUnsubscribe(conn, &frame)
	case types.FrameAIRequest:
		d.handleAIRequest(conn, &frame)
	case types.FrameStreamStart:
		d.handleStreamStart(conn, &frame)
	case types.FrameStreamStop:
		d.handleStreamStop(conn, &frame)
	case types.FramePing:
		d.reply(conn, map[string]interface{}{
			"type":      types.FramePong,
			"timestamp": time.Now(),
		})
	default:
		d.logger.Debug("unknown frame type ignored",
			"connection_id", conn.ID(), "frame_type", frame.Type)
	}
}

func (d *Dispatcher) handleAuthenticate(conn *websocket.Connection, frame *types.InboundFrame) {
	if frame.Token == "" || frame.UserID == "" {
		d.reply(conn, map[string]interface{}{
			"type":  types.FrameAuthFailed,
			"error": "token and user_id are required",
		})
		return
	}

	if err := d.verifier.Verify(conn.Context(), frame.Token, frame.UserID); err != nil {
		d.logger.Info("authentication rejected",
			"connection_id", conn.ID(), "user_id", frame.UserID, "error", err)
		d.reply(conn, map[string]interface{}{
			"type":  types.FrameAuthFailed,
			"error": err.Error(),
		})
		return
	}

	conn.SetUser(frame.UserID)
	if err := d.registry.BindUser(conn); err != nil {
		d.reply(conn, map[string]interface{}{
			"type":  types.FrameAuthFailed,
			"error": err.Error(),
		})
		return
	}

	d.reply(conn, map[string]interface{}{
		"type":    types.FrameAuthSuccess,
		"user_id": frame.UserID,
	})
}

func (d *Dispatcher) handleSubscribe(conn *websocket.Connection, frame *types.InboundFrame) {
	if err := d.registry.Subscribe(conn.ID(), frame.Topic); err != nil {
		d.reply(conn, map[string]interface{}{
			"type":         types.FrameSubscribeFailed,
			"subscription": frame.Topic,
			"error":        err.Error(),
		})
		return
	}
	d.reply(conn, map[string]interface{}{
		"type":         types.FrameSubscribeSuccess,
		"subscription": frame.Topic,
	})
}

func (d *Dispatcher) handleUnsubscribe(conn *websocket.Connection, frame *types.InboundFrame) {
	if err := d.registry.Unsubscribe(conn.ID(), frame.Topic); err != nil {
		d.reply(conn, map[string]interface{}{
			"type":         types.FrameUnsubscribeFailed,
			"subscription": frame.Topic,
			"error":        err.Error(),
		})
		return
	}
	d.reply(conn, map[string]interface{}{
		"type":         types.FrameUnsubscribeSuccess,
		"subscription": frame.Topic,
	})
}

func (d *Dispatcher) handleAIRequest(conn *websocket.Connection, frame *types.InboundFrame) {
	if frame.Prompt == "" {
		d.reply(conn, map[string]interface{}{
			"type":  types.FrameAIRequestFailed,
			"error": "Prompt is required",
		})
		return
	}

	model := frame.ModelType
	if model == "" {
		model = d.defaultModel
	}
	priority := frame.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}

	req := &types.AIRequest{
		ID:           uuid.New().String(),
		Model:        model,
		Prompt:       frame.Prompt,
		ConnectionID: conn.ID(),
		UserID:       conn.UserID(),
		Priority:     priority,
		Streaming:    frame.Stream,
		Context: map[string]interface{}{
			"connection_id": conn.ID(),
			"user_id":       conn.UserID(),
		},
		CreatedAt: time.Now(),
	}

	if d.collector != nil {
		d.collector.AIRequest()
	}

	go d.proxy.Handle(conn, req)
}

func (d *Dispatcher) handleStreamStart(conn *websocket.Connection, frame *types.InboundFrame) {
	s, err := d.streams.Start(conn.Context(), conn.ID(), types.StreamType(frame.StreamType), frame.Config)
	if err != nil {
		d.reply(conn, map[string]interface{}{
			"type":        types.FrameStreamStartFailed,
			"stream_type": frame.StreamType,
			"error":       err.Error(),
		})
		return
	}
	d.reply(conn, map[string]interface{}{
		"type":        types.FrameStreamStarted,
		"stream_id":   s.ID,
		"stream_type": string(s.Type),
	})
}

func (d *Dispatcher) handleStreamStop(conn *websocket.Connection, frame *types.InboundFrame) {
	s, ok := d.streams.Get(frame.StreamID)
	if !ok || s.ConnectionID != conn.ID() {
		d.reply(conn, map[string]interface{}{
			"type":      types.FrameStreamStopFailed,
			"stream_id": frame.StreamID,
			"error":     stream.ErrStreamNotFound.Error(),
		})
		return
	}
	if err := d.streams.Stop(frame.StreamID); err != nil {
		d.reply(conn, map[string]interface{}{
			"type":      types.FrameStreamStopFailed,
			"stream_id": frame.StreamID,
			"error":     err.Error(),
		})
		return
	}
	d.reply(conn, map[string]interface{}{
		"type":      types.FrameStreamStopped,
		"stream_id": frame.StreamID,
	})
}

func (d *Dispatcher) reply(conn *websocket.Connection, frame map[string]interface{}) {
	if err := conn.WriteJSON(frame); err != nil {
		d.logger.Warn("reply delivery failed",
			"connection_id", conn.ID(), "frame_type", frame["type"], "error", err)
	}
}
