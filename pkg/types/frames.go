package types

// Inbound frame types accepted by the protocol dispatcher.
const (
	FrameAuthenticate = "authenticate"
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameAIRequest    = "ai_request"
	FrameStreamStart  = "stream_start"
	FrameStreamStop   = "stream_stop"
	FramePing         = "ping"
)

// Outbound frame types.
const (
	FrameConnectionEstablished = "connection_established"
	FrameAuthSuccess           = "authentication_success"
	FrameAuthFailed            = "authentication_failed"
	FrameSubscribeSuccess      = "subscription_success"
	FrameSubscribeFailed       = "subscription_failed"
	FrameUnsubscribeSuccess    = "unsubscribe_success"
	FrameUnsubscribeFailed     = "unsubscribe_failed"
	FrameAIResponse            = "ai_response"
	FrameAIResponseStart       = "ai_response_start"
	FrameAIResponseChunk       = "ai_response_chunk"
	FrameAIResponseComplete    = "ai_response_complete"
	FrameAIRequestFailed       = "ai_request_failed"
	FrameStreamStarted         = "stream_started"
	FrameStreamStartFailed     = "stream_start_failed"
	FrameStreamStopped         = "stream_stopped"
	FrameStreamStopFailed      = "stream_stop_failed"
	FramePong                  = "pong"
)

// InboundFrame is the decoded shape of one client JSON frame. Only the
// fields relevant to the frame's Type are populated.
type InboundFrame struct {
	Type       string                 `json:"type"`
	Token      string                 `json:"token,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	Topic      string                 `json:"topic,omitempty"`
	Prompt     string                 `json:"prompt,omitempty"`
	ModelType  string                 `json:"model_type,omitempty"`
	Stream     bool                   `json:"stream,omitempty"`
	Priority   string                 `json:"priority,omitempty"`
	StreamType string                 `json:"stream_type,omitempty"`
	StreamID   string                 `json:"stream_id,omitempty"`
	Config     map[string]interface{} `json:"config,omitempty"`
}
