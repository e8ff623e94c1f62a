package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrWriteFailed      = errors.New("write failed")
)

// Registry-related errors
var (
	ErrNilConnection           = errors.New("connection cannot be nil")
	ErrConnectionNotRegistered = errors.New("connection is not registered")
)
