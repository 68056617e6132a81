package websocket

import "errors"

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrConnectionFailed = errors.New("connection in error state")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry errors.
var (
	ErrNilConnection      = errors.New("connection cannot be nil")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidTopic       = errors.New("unknown subscription topic")
	ErrNotSubscribed      = errors.New("connection not subscribed to topic")
)
