package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrQueueFull         = errors.New("event queue is full")
	ErrNilEvent          = errors.New("event cannot be nil")
)
