package stream

import "errors"

var (
	ErrInvalidStreamType = errors.New("unknown stream type")
	ErrStreamNotFound    = errors.New("stream not found")
)
