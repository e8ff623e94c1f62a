package interfaces

import "context"

// Connection is a live client channel as seen by the registry and the session manager.
// Send must be safe for concurrent use; ReadMessage is called by the owning session only.
type Connection interface {
	// ID returns the identifier assigned when the connection was accepted
	ID() string

	// ReadMessage blocks until the next data frame arrives or the transport fails
	ReadMessage() ([]byte, error)

	// Send writes one pre-encoded frame. Writes from concurrent callers are
	// serialized and never interleave on the wire.
	Send(ctx context.Context, data []byte) error

	// Close closes the transport and interrupts a blocked ReadMessage. Idempotent.
	Close() error

	// Done is closed once the connection has been closed
	Done() <-chan struct{}
}
