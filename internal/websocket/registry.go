package websocket

import (
	"sync"
	"time"

	"streamhub/pkg/types"
)

// StreamCanceler stops every active stream owned by a connection. The
// stream manager satisfies it; teardown calls it so a disconnect cancels
// streams without an explicit stream_stop frame.
type StreamCanceler interface {
	StopAll(connectionID string)
}

// DisconnectRecord is one entry in the bounded connection-history buffer.
type DisconnectRecord struct {
	ConnectionID   string                 `json:"connection_id"`
	UserID         string                 `json:"user_id,omitempty"`
	ConnectedAt    time.Time              `json:"connected_at"`
	DisconnectedAt time.Time              `json:"disconnected_at"`
	Status         types.ConnectionStatus `json:"status"`
}

// Registry tracks live connections plus the bidirectional subscription
// index. Invariant: topic ∈ connTopics[id] exactly when id ∈ topicConns[topic].
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	userConns  map[string]map[string]*Connection
	topicConns map[string]map[string]*Connection
	connTopics map[string]map[string]bool

	history    []DisconnectRecord
	historyCap int

	canceler StreamCanceler
}

// NewRegistry creates an empty registry with a disconnect-history buffer of
// the given capacity (default 100).
func NewRegistry(historyCap int) *Registry {
	if historyCap <= 0 {
		historyCap = 100
	}
	return &Registry{
		conns:      make(map[string]*Connection),
		userConns:  make(map[string]map[string]*Connection),
		topicConns: make(map[string]map[string]*Connection),
		connTopics: make(map[string]map[string]bool),
		historyCap: historyCap,
	}
}

// SetStreamCanceler wires the stream manager into teardown. Must be called
// before connections are accepted.
func (r *Registry) SetStreamCanceler(sc StreamCanceler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceler = sc
}

// Register adds a new connection record.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	r.connTopics[conn.ID()] = make(map[string]bool)
	return nil
}

// Get looks up a connection by id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Has reports whether a connection id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// BindUser indexes an authenticated connection under its user id.
func (r *Registry) BindUser(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	userID := conn.UserID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID()]; !ok {
		return ErrConnectionNotFound
	}
	if r.userConns[userID] == nil {
		r.userConns[userID] = make(map[string]*Connection)
	}
	r.userConns[userID][conn.ID()] = conn
	return nil
}

// UserConnections returns every live connection authenticated as userID.
func (r *Registry) UserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.userConns[userID]
	out := make([]*Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// Subscribe adds a topic to a connection's subscription set, keeping both
// directions of the index consistent.
func (r *Registry) Subscribe(id, topic string) error {
	if !types.IsValidTopic(topic) {
		return ErrInvalidTopic
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	if r.topicConns[topic] == nil {
		r.topicConns[topic] = make(map[string]*Connection)
	}
	r.topicConns[topic][id] = conn
	r.connTopics[id][topic] = true
	return nil
}

// Unsubscribe removes a topic from a connection's subscription set.
// Unsubscribing a topic that was never subscribed returns ErrNotSubscribed
// and leaves the index untouched.
func (r *Registry) Unsubscribe(id, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics, ok := r.connTopics[id]
	if !ok {
		return ErrConnectionNotFound
	}
	if !topics[topic] {
		return ErrNotSubscribed
	}
	delete(topics, topic)
	if subs, ok := r.topicConns[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.topicConns, topic)
		}
	}
	return nil
}

// Subscriptions returns the topics a connection is subscribed to.
func (r *Registry) Subscriptions(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := r.connTopics[id]
	out := make([]string, 0, len(topics))
	for topic := range topics {
		out = append(out, topic)
	}
	return out
}

// TopicSubscribers returns the union of connections subscribed to any of
// the given topics, each connection at most once.
func (r *Registry) TopicSubscribers(topics ...string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []*Connection
	for _, topic := range topics {
		for id, conn := range r.topicConns[topic] {
			if !seen[id] {
				seen[id] = true
				out = append(out, conn)
			}
		}
	}
	return out
}

// Teardown removes every trace of a connection: subscriptions, user index,
// active streams, the record itself, plus a disconnect-history entry. It is
// idempotent; the second call for the same id is a no-op and returns false.
func (r *Registry) Teardown(id string) bool {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	for topic := range r.connTopics[id] {
		if subs, ok := r.topicConns[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(r.topicConns, topic)
			}
		}
	}
	delete(r.connTopics, id)

	if userID := conn.UserID(); userID != "" {
		if conns, ok := r.userConns[userID]; ok {
			delete(conns, id)
			if len(conns) == 0 {
				delete(r.userConns, userID)
			}
		}
	}

	delete(r.conns, id)

	r.history = append(r.history, DisconnectRecord{
		ConnectionID:   id,
		UserID:         conn.UserID(),
		ConnectedAt:    conn.ConnectedAt(),
		DisconnectedAt: time.Now(),
		Status:         conn.Status(),
	})
	if len(r.history) > r.historyCap {
		r.history = r.history[len(r.history)-r.historyCap:]
	}

	canceler := r.canceler
	r.mu.Unlock()

	if canceler != nil {
		canceler.StopAll(id)
	}
	_ = conn.Close()
	return true
}

// History returns a copy of the disconnect-history buffer, oldest first.
func (r *Registry) History() []DisconnectRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DisconnectRecord, len(r.history))
	copy(out, r.history)
	return out
}

// Stats summarizes registry state for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := 0
	for _, topics := range r.connTopics {
		subs += len(topics)
	}
	return map[string]int{
		"connections":   len(r.conns),
		"users":         len(r.userConns),
		"topics":        len(r.topicConns),
		"subscriptions": subs,
	}
}
