package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamhub/internal/ai"
	"streamhub/internal/auth"
	"streamhub/internal/stream"
	"streamhub/internal/websocket"
	"streamhub/pkg/types"
)

type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSocket) Close() error { return nil }

func (s *fakeSocket) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSocket) frame(t *testing.T, i int) map[string]interface{} {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(t, len(s.frames), i)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(s.frames[i], &m))
	return m
}

type dropPublisher struct{}

func (dropPublisher) Publish(*types.Event) error { return nil }

type emptySource struct{}

func (emptySource) Insights(context.Context) ([]*types.Insight, error) { return nil, nil }
func (emptySource) Predictions(context.Context) ([]*types.Prediction, error) {
	return nil, nil
}
func (emptySource) DataUpdate(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

type syncService struct{}

func (syncService) Process(_ context.Context, req *types.AIRequest) (*types.AIResponse, error) {
	return &types.AIResponse{RequestID: req.ID, Model: req.Model, Text: "ok"}, nil
}

func (syncService) ProcessStreaming(context.Context, *types.AIRequest) (<-chan ai.StreamChunk, error) {
	out := make(chan ai.StreamChunk)
	close(out)
	return out, nil
}

func (syncService) Models() []string { return []string{"gpt-4o-mini"} }

type dispatcherFixture struct {
	dispatcher *Dispatcher
	registry   *websocket.Registry
	streams    *stream.Manager
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	registry := websocket.NewRegistry(100)
	streams := stream.NewManager(dropPublisher{}, registry, emptySource{}, stream.Intervals{
		Insights:    time.Hour,
		Predictions: time.Hour,
		DataUpdates: time.Hour,
	}, nil, nil)
	registry.SetStreamCanceler(streams)
	proxy := ai.NewProxy(syncService{}, time.Second, nil)
	d := NewDispatcher(registry, streams, proxy, auth.PermissiveVerifier{}, nil, "gpt-4o-mini", nil)
	return &dispatcherFixture{dispatcher: d, registry: registry, streams: streams}
}

func (f *dispatcherFixture) connect(t *testing.T) (*websocket.Connection, *fakeSocket) {
	t.Helper()
	sock := &fakeSocket{}
	conn := websocket.NewConnection(sock, 32, time.Second)
	conn.SetStatus(types.StatusConnected)
	require.NoError(t, f.registry.Register(conn))
	t.Cleanup(func() { _ = conn.Close() })
	return conn, sock
}

func send(t *testing.T, d *Dispatcher, conn *websocket.Connection, frame map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	d.HandleFrame(conn, data)
}

func waitFrame(t *testing.T, sock *fakeSocket, i int) map[string]interface{} {
	t.Helper()
	require.Eventually(t, func() bool {
		return sock.frameCount() > i
	}, time.Second, 5*time.Millisecond)
	return sock.frame(t, i)
}

func TestDispatcher_AuthenticateSuccess(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{
		"type": "authenticate", "token": "tok", "user_id": "u1",
	})

	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FrameAuthSuccess, reply["type"])
	assert.Equal(t, "u1", reply["user_id"])
	assert.True(t, conn.IsAuthenticated())
	assert.Len(t, f.registry.UserConnections("u1"), 1)
}

func TestDispatcher_AuthenticateMissingFields(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{
		"type": "authenticate", "user_id": "u1",
	})

	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FrameAuthFailed, reply["type"])
	assert.False(t, conn.IsAuthenticated())
}

func TestDispatcher_AuthenticateRejectedByVerifier(t *testing.T) {
	f := newDispatcherFixture(t)
	f.dispatcher.verifier = rejectingVerifier{}
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{
		"type": "authenticate", "token": "tok", "user_id": "u1",
	})

	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FrameAuthFailed, reply["type"])
	assert.Equal(t, auth.ErrInvalidToken.Error(), reply["error"])
	// The connection stays usable after a failed handshake.
	assert.Equal(t, types.StatusConnected, conn.Status())
}

type rejectingVerifier struct{}

func (rejectingVerifier) Verify(context.Context, string, string) error {
	return auth.ErrInvalidToken
}

func TestDispatcher_SubscribeAndUnsubscribe(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{"type": "subscribe", "topic": "insights"})
	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FrameSubscribeSuccess, reply["type"])
	assert.Equal(t, "insights", reply["subscription"])
	assert.ElementsMatch(t, []string{"insights"}, f.registry.Subscriptions(conn.ID()))

	send(t, f.dispatcher, conn, map[string]interface{}{"type": "unsubscribe", "topic": "insights"})
	reply = waitFrame(t, sock, 1)
	assert.Equal(t, types.FrameUnsubscribeSuccess, reply["type"])
	assert.Empty(t, f.registry.Subscriptions(conn.ID()))
}

func TestDispatcher_SubscribeInvalidTopic(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{"type": "subscribe", "topic": "bogus"})
	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FrameSubscribeFailed, reply["type"])
	assert.Equal(t, "bogus", reply["subscription"])
}

func TestDispatcher_UnsubscribeNotSubscribed(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{"type": "unsubscribe", "topic": "insights"})
	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FrameUnsubscribeFailed, reply["type"])
}

func TestDispatcher_AIRequestRequiresPrompt(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{"type": "ai_request"})

	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FrameAIRequestFailed, reply["type"])
	assert.Equal(t, "Prompt is required", reply["error"])
	assert.Equal(t, types.StatusConnected, conn.Status())
}

func TestDispatcher_AIRequestRepliesAsynchronously(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{
		"type": "ai_request", "prompt": "analyze throughput",
	})

	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FrameAIResponse, reply["type"])
	assert.Equal(t, "ok", reply["text"])
	assert.Equal(t, "gpt-4o-mini", reply["model"], "default model fills in")
}

func TestDispatcher_StreamStartAndStop(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{
		"type": "stream_start", "stream_type": "live_predictions",
	})
	started := waitFrame(t, sock, 0)
	require.Equal(t, types.FrameStreamStarted, started["type"])
	assert.Equal(t, "live_predictions", started["stream_type"])
	streamID := started["stream_id"].(string)
	assert.Equal(t, 1, f.streams.Count())

	send(t, f.dispatcher, conn, map[string]interface{}{
		"type": "stream_stop", "stream_id": streamID,
	})
	stopped := waitFrame(t, sock, 1)
	assert.Equal(t, types.FrameStreamStopped, stopped["type"])
	assert.Equal(t, streamID, stopped["stream_id"])
	assert.Equal(t, 0, f.streams.Count())
}

func TestDispatcher_StreamStartUnknownType(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{
		"type": "stream_start", "stream_type": "bogus",
	})
	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FrameStreamStartFailed, reply["type"])
}

func TestDispatcher_StreamStopRequiresOwnership(t *testing.T) {
	f := newDispatcherFixture(t)
	owner, ownerSock := f.connect(t)
	intruder, intruderSock := f.connect(t)

	send(t, f.dispatcher, owner, map[string]interface{}{
		"type": "stream_start", "stream_type": "data_updates",
	})
	started := waitFrame(t, ownerSock, 0)
	streamID := started["stream_id"].(string)

	send(t, f.dispatcher, intruder, map[string]interface{}{
		"type": "stream_stop", "stream_id": streamID,
	})
	reply := waitFrame(t, intruderSock, 0)
	assert.Equal(t, types.FrameStreamStopFailed, reply["type"])
	assert.Equal(t, 1, f.streams.Count(), "foreign stop must not kill the stream")
}

func TestDispatcher_PingPong(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	send(t, f.dispatcher, conn, map[string]interface{}{"type": "ping"})
	reply := waitFrame(t, sock, 0)
	assert.Equal(t, types.FramePong, reply["type"])
	assert.NotEmpty(t, reply["timestamp"])
}

func TestDispatcher_IgnoresMalformedAndUnknownFrames(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)

	f.dispatcher.HandleFrame(conn, []byte("{not json"))
	send(t, f.dispatcher, conn, map[string]interface{}{"type": "mystery"})

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, sock.frameCount())
	assert.Equal(t, types.StatusConnected, conn.Status())
}

func TestDispatcher_IgnoresFramesInNonConnectedState(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, sock := f.connect(t)
	conn.SetStatus(types.StatusError)

	send(t, f.dispatcher, conn, map[string]interface{}{"type": "ping"})

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, sock.frameCount())
}

func TestDispatcher_FrameBumpsActivity(t *testing.T) {
	f := newDispatcherFixture(t)
	conn, _ := f.connect(t)

	before := conn.LastActivity()
	time.Sleep(5 * time.Millisecond)
	send(t, f.dispatcher, conn, map[string]interface{}{"type": "mystery"})
	assert.True(t, conn.LastActivity().After(before))
}
