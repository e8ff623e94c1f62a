package interfaces

import (
	"context"
	"time"

	"aiworker/pkg/types"
)

// ConnectionStore persists the connection audit log
type ConnectionStore interface {
	// RecordConnect inserts an open record for a newly registered connection
	RecordConnect(ctx context.Context, record *types.ConnectionRecord) error

	// RecordDisconnect closes the record with final frame counters
	RecordDisconnect(ctx context.Context, id string, closedAt time.Time, reason string, framesIn, framesOut int64) error

	// GetConnection returns a single record; ErrRecordNotFound if absent
	GetConnection(ctx context.Context, id string) (*types.ConnectionRecord, error)

	// ListRecentConnections returns records ordered by opened_at DESC
	ListRecentConnections(ctx context.Context, limit int) ([]*types.ConnectionRecord, error)

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	Close() error
}
