package interfaces

import "context"

// SessionHandler takes ownership of an accepted connection and runs it until close.
type SessionHandler interface {
	Serve(ctx context.Context, conn Connection, metadata map[string]string)
}
