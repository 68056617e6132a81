package ai

import (
	"context"
	"errors"

	"streamhub/pkg/types"
)

var (
	ErrNoModelService = errors.New("no model service configured")
	ErrEmptyPrompt    = errors.New("Prompt is required")
)

// StreamChunk is one element of a streaming completion. A non-nil Err
// terminates the stream; previously delivered chunks stay delivered.
type StreamChunk struct {
	types.AIChunk
	Err error
}

// ModelService is the external AI completion collaborator. Optional at
// runtime: a nil service degrades ai_request handling to typed failure
// frames, never a crash.
type ModelService interface {
	// Process completes a request and returns a single response.
	Process(ctx context.Context, req *types.AIRequest) (*types.AIResponse, error)
	// ProcessStreaming completes a request incrementally. The returned
	// channel is closed after the final chunk or a chunk carrying Err.
	ProcessStreaming(ctx context.Context, req *types.AIRequest) (<-chan StreamChunk, error)
	// Models lists the model identifiers this service accepts.
	Models() []string
}
