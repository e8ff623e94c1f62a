package websocket

import (
	"context"
	"log"
	"sync"
	"time"

	"aiworker/pkg/interfaces"
)

// ConnectionInfo is a read-only view of one registered connection
type ConnectionInfo struct {
	ID           string            `json:"id"`
	Metadata     map[string]string `json:"metadata"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// BroadcastResult summarizes a single fan-out pass
type BroadcastResult struct {
	Attempted int      `json:"attempted"`
	Delivered int      `json:"delivered"`
	Pruned    []string `json:"pruned"`
}

type entry struct {
	conn         interfaces.Connection
	metadata     map[string]string
	registeredAt time.Time
}

// Registry tracks the set of live connections.
// The map is the only shared state and every access goes through mu.
// Sends never happen while mu is held.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*entry // connection ID -> entry
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*entry),
	}
}

// Register adds conn with its metadata. Registering a connection that is
// already present replaces its metadata and keeps it registered once.
func (r *Registry) Register(conn interfaces.Connection, metadata map[string]string) {
	if conn == nil {
		return
	}

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}

	r.mu.Lock()
	if existing, ok := r.connections[conn.ID()]; ok && existing.conn == conn {
		existing.metadata = md
		total := len(r.connections)
		r.mu.Unlock()
		log.Printf("Connection metadata updated: id=%s total=%d", conn.ID(), total)
		return
	}
	r.connections[conn.ID()] = &entry{conn: conn, metadata: md, registeredAt: time.Now()}
	total := len(r.connections)
	r.mu.Unlock()

	log.Printf("Connection registered: id=%s total=%d", conn.ID(), total)
}

// Deregister removes conn. It is a no-op when conn is absent or when a
// different instance is registered under the same ID.
func (r *Registry) Deregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	existing, ok := r.connections[conn.ID()]
	if !ok || existing.conn != conn {
		r.mu.Unlock()
		return
	}
	delete(r.connections, conn.ID())
	total := len(r.connections)
	r.mu.Unlock()

	log.Printf("Connection deregistered: id=%s total=%d", conn.ID(), total)
}

// IsRegistered reports whether this exact connection instance is present
func (r *Registry) IsRegistered(conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.connections[conn.ID()]
	return ok && existing.conn == conn
}

// SendTo delivers one encoded envelope to a registered connection.
// The caller decides what to do on failure; the registry is not modified.
func (r *Registry) SendTo(ctx context.Context, conn interfaces.Connection, payload []byte) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !r.IsRegistered(conn) {
		return ErrConnectionNotRegistered
	}
	return conn.Send(ctx, payload)
}

// Broadcast sends payload to every connection registered when the call starts.
// Connections that fail are deregistered after the pass so one bad peer
// never stops delivery to the rest.
func (r *Registry) Broadcast(ctx context.Context, payload []byte) BroadcastResult {
	r.mu.RLock()
	snapshot := make([]interfaces.Connection, 0, len(r.connections))
	for _, e := range r.connections {
		snapshot = append(snapshot, e.conn)
	}
	r.mu.RUnlock()

	result := BroadcastResult{Attempted: len(snapshot)}
	var failed []interfaces.Connection

	for _, conn := range snapshot {
		if err := conn.Send(ctx, payload); err != nil {
			log.Printf("Broadcast to %s failed: %v", conn.ID(), err)
			failed = append(failed, conn)
			continue
		}
		result.Delivered++
	}

	for _, conn := range failed {
		r.Deregister(conn)
		_ = conn.Close()
		result.Pruned = append(result.Pruned, conn.ID())
	}

	if len(failed) > 0 {
		log.Printf("Broadcast complete: delivered=%d pruned=%d", result.Delivered, len(failed))
	}
	return result
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Connections returns a snapshot of the registered connections
func (r *Registry) Connections() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(r.connections))
	for id, e := range r.connections {
		md := make(map[string]string, len(e.metadata))
		for k, v := range e.metadata {
			md[k] = v
		}
		infos = append(infos, ConnectionInfo{ID: id, Metadata: md, RegisteredAt: e.registeredAt})
	}
	return infos
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	return map[string]int{
		"total_connections": r.Count(),
	}
}

// CloseAll closes every registered connection. Sessions deregister themselves
// as their reads fail.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	snapshot := make([]interfaces.Connection, 0, len(r.connections))
	for _, e := range r.connections {
		snapshot = append(snapshot, e.conn)
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection %s: %v", conn.ID(), err)
		}
	}
}
