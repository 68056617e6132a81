package ai

import (
	"context"
	"log/slog"
	"time"

	"streamhub/internal/websocket"
	"streamhub/pkg/types"
)

// Proxy forwards AIRequests to the model service and replies to the
// originating connection. Each request runs under a hub-enforced deadline
// rather than relying on collaborator-side timeouts.
type Proxy struct {
	svc     ModelService
	timeout time.Duration
	logger  *slog.Logger
}

// NewProxy creates a proxy. timeout bounds each request end to end.
func NewProxy(svc ModelService, timeout time.Duration, logger *slog.Logger) *Proxy {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{svc: svc, timeout: timeout, logger: logger}
}

// Models lists the configured service's models, empty when none is wired.
func (p *Proxy) Models() []string {
	if p.svc == nil {
		return nil
	}
	return p.svc.Models()
}

// Handle processes one request and writes every reply frame to conn. It is
// meant to run in its own goroutine; all failures turn into an
// ai_request_failed frame on the originating connection.
func (p *Proxy) Handle(conn *websocket.Connection, req *types.AIRequest) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ai request panic recovered", "request_id", req.ID, "panic", r)
		}
	}()

	if p.svc == nil {
		p.fail(conn, req.ID, ErrNoModelService)
		return
	}

	ctx, cancel := context.WithTimeout(conn.Context(), p.timeout)
	defer cancel()

	if req.Streaming {
		p.handleStreaming(ctx, conn, req)
		return
	}
	p.handleSync(ctx, conn, req)
}

func (p *Proxy) handleSync(ctx context.Context, conn *websocket.Connection, req *types.AIRequest) {
	resp, err := p.svc.Process(ctx, req)
	if err != nil {
		p.fail(conn, req.ID, err)
		return
	}

	reply := map[string]interface{}{
		"type":       types.FrameAIResponse,
		"request_id": resp.RequestID,
		"model":      resp.Model,
		"text":       resp.Text,
		"confidence": resp.Confidence,
		"tokens":     resp.TokensUsed,
		"latency_ms": resp.Latency.Milliseconds(),
		"cost":       resp.Cost,
	}
	if err := conn.WriteJSON(reply); err != nil {
		p.logger.Warn("ai response delivery failed", "request_id", req.ID, "error", err)
	}
}

// handleStreaming relays chunks in order: one logical producer awaits and
// sends sequentially, so intra-request ordering holds by construction.
func (p *Proxy) handleStreaming(ctx context.Context, conn *websocket.Connection, req *types.AIRequest) {
	start := map[string]interface{}{
		"type":       types.FrameAIResponseStart,
		"request_id": req.ID,
		"model":      req.Model,
	}
	if err := conn.WriteJSON(start); err != nil {
		p.logger.Warn("ai stream start delivery failed", "request_id", req.ID, "error", err)
		return
	}

	chunks, err := p.svc.ProcessStreaming(ctx, req)
	if err != nil {
		p.fail(conn, req.ID, err)
		return
	}

	sent := 0
	for chunk := range chunks {
		if chunk.Err != nil {
			p.fail(conn, req.ID, chunk.Err)
			return
		}
		frame := map[string]interface{}{
			"type":       types.FrameAIResponseChunk,
			"request_id": req.ID,
			"chunk":      chunk.Content,
			"index":      chunk.Index,
		}
		if err := conn.WriteJSON(frame); err != nil {
			p.logger.Warn("ai chunk delivery failed", "request_id", req.ID, "error", err)
			return
		}
		sent++
	}

	if err := ctx.Err(); err != nil {
		p.fail(conn, req.ID, err)
		return
	}

	complete := map[string]interface{}{
		"type":         types.FrameAIResponseComplete,
		"request_id":   req.ID,
		"total_chunks": sent,
	}
	if err := conn.WriteJSON(complete); err != nil {
		p.logger.Warn("ai stream complete delivery failed", "request_id", req.ID, "error", err)
	}
}

func (p *Proxy) fail(conn *websocket.Connection, requestID string, cause error) {
	frame := map[string]interface{}{
		"type":       types.FrameAIRequestFailed,
		"request_id": requestID,
		"error":      cause.Error(),
	}
	if err := conn.WriteJSON(frame); err != nil {
		p.logger.Warn("ai failure delivery failed", "request_id", requestID, "error", err)
	}
}
