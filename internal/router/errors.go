package router

import "errors"

// Routing errors. Each one is reported to the peer as an error envelope.
var (
	ErrUnknownRequestType = errors.New("unknown request type")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrHandlerPanic       = errors.New("handler panicked")
	ErrNilResult          = errors.New("collaborator returned no result")
)
