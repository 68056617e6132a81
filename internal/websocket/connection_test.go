package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamhub/pkg/types"
)

func TestConnection_WriteJSONSerializesThroughWriter(t *testing.T) {
	sock := &fakeSocket{}
	conn := NewConnection(sock, 10, time.Second)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "pong"}))

	require.Eventually(t, func() bool {
		return sock.frameCount() == 1
	}, time.Second, 5*time.Millisecond)

	frames := sock.decodedFrames(t)
	assert.Equal(t, "pong", frames[0]["type"])
}

func TestConnection_WriteAfterCloseFails(t *testing.T) {
	sock := &fakeSocket{}
	conn := NewConnection(sock, 10, time.Second)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.WriteJSON(map[string]interface{}{"type": "pong"}), ErrConnectionClosed)
	assert.True(t, sock.closed)
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn := NewConnection(&fakeSocket{}, 10, time.Second)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, types.StatusDisconnected, conn.Status())
}

func TestConnection_LifecycleFields(t *testing.T) {
	conn := NewConnection(&fakeSocket{}, 10, time.Second)
	defer conn.Close()

	assert.Equal(t, types.StatusConnecting, conn.Status())
	assert.NotEmpty(t, conn.ID())
	assert.False(t, conn.IsAuthenticated())

	conn.SetStatus(types.StatusConnected)
	conn.SetUser("u1")
	assert.True(t, conn.IsAuthenticated())
	assert.Equal(t, "u1", conn.UserID())

	before := conn.LastActivity()
	time.Sleep(5 * time.Millisecond)
	conn.Touch()
	assert.True(t, conn.LastActivity().After(before))

	conn.SetMetadata("client", "test")
	assert.Equal(t, "test", conn.Metadata()["client"])
}

func TestConnection_WriteErrorFlipsStatus(t *testing.T) {
	sock := &fakeSocket{failWrites: true}
	conn := NewConnection(sock, 10, time.Second)
	defer conn.Close()
	conn.SetStatus(types.StatusConnected)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "pong"}))

	require.Eventually(t, func() bool {
		return conn.Status() == types.StatusError
	}, time.Second, 5*time.Millisecond)
}
