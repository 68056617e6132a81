package types

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags a StreamingEvent with the kind of payload it carries.
type EventType string

const (
	EventAIResponse             EventType = "ai_response"
	EventInsightGenerated       EventType = "insight_generated"
	EventWorkflowRecommendation EventType = "workflow_recommendation"
	EventPredictionUpdate       EventType = "prediction_update"
	EventDataUpdated            EventType = "data_updated"
	EventError                  EventType = "error"
	EventStatusUpdate           EventType = "status_update"
)

// EventTypes lists every event type the hub can emit, in the order
// advertised by the welcome frame.
func EventTypes() []EventType {
	return []EventType{
		EventAIResponse,
		EventInsightGenerated,
		EventWorkflowRecommendation,
		EventPredictionUpdate,
		EventDataUpdated,
		EventError,
		EventStatusUpdate,
	}
}

// Subscription topic names. Every event type maps to exactly one named
// topic; TopicAllEvents is a catch-all that receives every broadcast.
const (
	TopicAIResponses  = "ai_responses"
	TopicInsights     = "insights"
	TopicWorkflows    = "workflows"
	TopicPredictions  = "predictions"
	TopicDataUpdates  = "data_updates"
	TopicErrors       = "errors"
	TopicSystemStatus = "system_status"
	TopicAllEvents    = "all_events"
)

var eventTopics = map[EventType]string{
	EventAIResponse:             TopicAIResponses,
	EventInsightGenerated:       TopicInsights,
	EventWorkflowRecommendation: TopicWorkflows,
	EventPredictionUpdate:       TopicPredictions,
	EventDataUpdated:            TopicDataUpdates,
	EventError:                  TopicErrors,
	EventStatusUpdate:           TopicSystemStatus,
}

// TopicsForEvent returns the topics a broadcast event of the given type
// fans out to: the type's own topic plus the catch-all.
func TopicsForEvent(t EventType) []string {
	if topic, ok := eventTopics[t]; ok {
		return []string{topic, TopicAllEvents}
	}
	return []string{TopicAllEvents}
}

// SubscriptionTopics lists every topic a client may subscribe to.
func SubscriptionTopics() []string {
	return []string{
		TopicAIResponses,
		TopicInsights,
		TopicWorkflows,
		TopicPredictions,
		TopicDataUpdates,
		TopicErrors,
		TopicSystemStatus,
		TopicAllEvents,
	}
}

// IsValidTopic reports whether topic is one of the advertised subscription names.
func IsValidTopic(topic string) bool {
	for _, t := range SubscriptionTopics() {
		if t == topic {
			return true
		}
	}
	return false
}

// Event is one unit of work on the dispatch queue. TargetIDs, when
// non-empty, names the exact connections to deliver to and bypasses
// topic-based fan-out.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
	Priority  string                 `json:"priority,omitempty"`
	TargetIDs []string               `json:"-"`
}

// NewEvent builds a broadcast event with a fresh id and the current time.
func NewEvent(t EventType, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
		Priority:  PriorityNormal,
	}
}

// NewTargetedEvent builds an event addressed to an explicit connection set.
func NewTargetedEvent(t EventType, payload map[string]interface{}, targets ...string) *Event {
	e := NewEvent(t, payload)
	e.TargetIDs = targets
	return e
}

// Event and request priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// ConnectionStatus is the lifecycle state of one client connection.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// StreamType names a per-connection repeating stream.
type StreamType string

const (
	StreamRealTimeInsights StreamType = "real_time_insights"
	StreamLivePredictions  StreamType = "live_predictions"
	StreamDataUpdates      StreamType = "data_updates"
)

// StreamTypes lists the stream types a client may start.
func StreamTypes() []StreamType {
	return []StreamType{StreamRealTimeInsights, StreamLivePredictions, StreamDataUpdates}
}

// IsValidStreamType reports whether t names a supported stream type.
func IsValidStreamType(t StreamType) bool {
	switch t {
	case StreamRealTimeInsights, StreamLivePredictions, StreamDataUpdates:
		return true
	}
	return false
}

// StreamStatus is the lifecycle state of an ActiveStream record.
type StreamStatus string

const (
	StreamActive  StreamStatus = "active"
	StreamStopped StreamStatus = "stopped"
)

// AIRequest is one prompt-completion request attributed to a connection.
type AIRequest struct {
	ID           string                 `json:"id"`
	Model        string                 `json:"model"`
	Prompt       string                 `json:"prompt"`
	ConnectionID string                 `json:"connection_id"`
	UserID       string                 `json:"user_id,omitempty"`
	Priority     string                 `json:"priority"`
	Streaming    bool                   `json:"streaming"`
	Context      map[string]interface{} `json:"context,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// AIResponse is the completed result of a non-streaming AIRequest.
type AIResponse struct {
	RequestID  string        `json:"request_id"`
	Model      string        `json:"model"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	TokensUsed int           `json:"tokens_used"`
	Latency    time.Duration `json:"latency"`
	Cost       float64       `json:"cost"`
}

// AIChunk is one incremental piece of a streaming completion. Index is the
// zero-based position of the chunk within its request.
type AIChunk struct {
	RequestID string `json:"request_id"`
	Index     int    `json:"index"`
	Content   string `json:"content"`
	Final     bool   `json:"final"`
}

// Insight is a generated intelligence payload held in the bounded in-memory
// store until it expires or is evicted.
type Insight struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Confidence       float64    `json:"confidence"`
	Severity         string     `json:"severity"`
	AffectedServices []string   `json:"affected_services"`
	GeneratedAt      time.Time  `json:"generated_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// Prediction is a forecast payload refreshed periodically by the prediction
// producer.
type Prediction struct {
	ID               string    `json:"id"`
	Metric           string    `json:"metric"`
	PredictedValue   float64   `json:"predicted_value"`
	Confidence       float64   `json:"confidence"`
	Impact           string    `json:"impact"`
	AffectedServices []string  `json:"affected_services"`
	Horizon          string    `json:"horizon"`
	GeneratedAt      time.Time `json:"generated_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
