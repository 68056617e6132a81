package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicsForEvent(t *testing.T) {
	for _, et := range EventTypes() {
		topics := TopicsForEvent(et)
		assert.Len(t, topics, 2, "every event type maps to its topic plus the catch-all")
		assert.Equal(t, TopicAllEvents, topics[1])
		assert.True(t, IsValidTopic(topics[0]))
	}

	assert.Equal(t, []string{TopicInsights, TopicAllEvents}, TopicsForEvent(EventInsightGenerated))
	assert.Equal(t, []string{TopicAllEvents}, TopicsForEvent(EventType("mystery")))
}

func TestIsValidTopic(t *testing.T) {
	for _, topic := range SubscriptionTopics() {
		assert.True(t, IsValidTopic(topic))
	}
	assert.False(t, IsValidTopic("bogus"))
	assert.False(t, IsValidTopic(""))
}

func TestIsValidStreamType(t *testing.T) {
	for _, st := range StreamTypes() {
		assert.True(t, IsValidStreamType(st))
	}
	assert.False(t, IsValidStreamType("bogus"))
}

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventStatusUpdate, map[string]interface{}{"k": "v"})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventStatusUpdate, e.Type)
	assert.Equal(t, PriorityNormal, e.Priority)
	assert.False(t, e.Timestamp.IsZero())
	assert.Empty(t, e.TargetIDs)

	targeted := NewTargetedEvent(EventAIResponse, nil, "c1", "c2")
	assert.Equal(t, []string{"c1", "c2"}, targeted.TargetIDs)
	assert.NotEqual(t, e.ID, targeted.ID)
}
