package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"streamhub/pkg/types"
)

// Socket is the subset of *websocket.Conn the connection wrapper writes
// through. Narrowing the dependency keeps the single-writer goroutine
// testable without a live transport.
type Socket interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Connection wraps one client socket. All outbound frames funnel through a
// buffered write channel drained by a single writer goroutine, so the
// dispatcher and a connection's own stream tasks can never interleave frames.
type Connection struct {
	id      string
	sock    Socket
	writeCh chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu           sync.RWMutex
	userID       string
	status       types.ConnectionStatus
	metadata     map[string]interface{}
	connectedAt  time.Time
	lastActivity time.Time

	writeTimeout time.Duration
}

// NewConnection creates a connection wrapper in CONNECTING state and starts
// its writer goroutine. bufferSize is the outbound frame buffer; writeTimeout
// bounds each socket write.
func NewConnection(sock Socket, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	c := &Connection{
		id:           uuid.New().String(),
		sock:         sock,
		writeCh:      make(chan []byte, bufferSize),
		ctx:          ctx,
		cancel:       cancel,
		status:       types.StatusConnecting,
		metadata:     make(map[string]interface{}),
		connectedAt:  now,
		lastActivity: now,
		writeTimeout: writeTimeout,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the sole goroutine allowed to touch the socket for writes.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.SetStatus(types.StatusError)
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				c.SetStatus(types.StatusError)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON serializes v and queues it for the writer goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	if c.Status() == types.StatusError {
		return ErrConnectionFailed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer goroutine and closes the socket. Safe to call
// multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.status != types.StatusError {
			c.status = types.StatusDisconnected
		}
		c.mu.Unlock()
		if c.sock != nil {
			err = c.sock.Close()
		}
	})
	return err
}

// ID returns the server-assigned connection id.
func (c *Connection) ID() string { return c.id }

// Context is done once the connection is closed.
func (c *Connection) Context() context.Context { return c.ctx }

// SetUser records the authenticated user for this connection.
func (c *Connection) SetUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// UserID returns the authenticated user id, empty until authentication.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// IsAuthenticated reports whether an authenticate frame has succeeded.
func (c *Connection) IsAuthenticated() bool {
	return c.UserID() != ""
}

// SetStatus updates the lifecycle status.
func (c *Connection) SetStatus(s types.ConnectionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

// Status returns the current lifecycle status.
func (c *Connection) Status() types.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Touch updates the last-activity timestamp to now.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

// LastActivity returns the time of the most recent inbound frame.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// ConnectedAt returns the accept timestamp.
func (c *Connection) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// SetMetadata stores a free-form attribute on the connection record.
func (c *Connection) SetMetadata(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata returns a copy of the connection's metadata.
func (c *Connection) Metadata() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}
