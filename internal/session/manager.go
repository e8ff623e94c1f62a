package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"aiworker/internal/metrics"
	"aiworker/internal/router"
	"aiworker/internal/websocket"
	"aiworker/pkg/interfaces"
	"aiworker/pkg/types"
)

// ConnectionRegistry is the part of the registry a session needs
type ConnectionRegistry interface {
	Register(conn interfaces.Connection, metadata map[string]string)
	Deregister(conn interfaces.Connection)
	SendTo(ctx context.Context, conn interfaces.Connection, payload []byte) error
}

// Dispatcher turns one inbound frame into one outbound envelope
type Dispatcher interface {
	Route(ctx context.Context, connID string, frame []byte) *types.Envelope
	Forget(connID string)
}

const defaultStoreTimeout = 5 * time.Second

// Manager runs sessions: it owns each connection from accept to close.
// Protocol errors are answered in place; only transport errors end a session.
type Manager struct {
	registry ConnectionRegistry
	router   Dispatcher
	store    interfaces.ConnectionStore
	metrics  *metrics.Metrics

	storeTimeout time.Duration
	observe      func(connID string, state State)
}

// NewManager creates a session manager. store and m may be nil.
func NewManager(registry ConnectionRegistry, dispatcher Dispatcher, store interfaces.ConnectionStore, m *metrics.Metrics) *Manager {
	return &Manager{
		registry:     registry,
		router:       dispatcher,
		store:        store,
		metrics:      m,
		storeTimeout: defaultStoreTimeout,
	}
}

// Serve runs the session for conn and returns once it is Closed.
// Cancelling ctx closes the connection.
func (m *Manager) Serve(ctx context.Context, conn interfaces.Connection, metadata map[string]string) {
	connID := conn.ID()
	m.transition(connID, StateConnecting)

	openedAt := time.Now()
	m.registry.Register(conn, metadata)
	m.metrics.ConnectionOpened()
	m.recordConnect(connID, metadata, openedAt)
	m.transition(connID, StateOpen)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	reason, framesIn, framesOut := m.run(ctx, conn)
	close(stop)

	m.transition(connID, StateClosing)
	m.registry.Deregister(conn)
	_ = conn.Close()
	m.router.Forget(connID)
	m.metrics.ConnectionClosed()
	m.recordDisconnect(connID, reason, framesIn, framesOut)

	log.Printf("Session closed: id=%s reason=%q frames_in=%d frames_out=%d", connID, reason, framesIn, framesOut)
	m.transition(connID, StateClosed)
}

// run is the Open state: read one frame, answer it, repeat. Frame N+1 is
// not read until the answer to frame N has been written.
func (m *Manager) run(ctx context.Context, conn interfaces.Connection) (reason string, framesIn, framesOut int64) {
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			return websocket.DescribeReadError(err), framesIn, framesOut
		}
		framesIn++

		env := m.router.Route(ctx, conn.ID(), frame)
		if err := m.registry.SendTo(ctx, conn, router.Encode(env)); err != nil {
			return fmt.Sprintf("send failed: %v", err), framesIn, framesOut
		}
		framesOut++
	}
}

func (m *Manager) transition(connID string, state State) {
	if m.observe != nil {
		m.observe(connID, state)
	}
}

func (m *Manager) recordConnect(connID string, metadata map[string]string, openedAt time.Time) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()

	record := &types.ConnectionRecord{
		ID:         connID,
		RemoteAddr: metadata["remote_addr"],
		UserAgent:  metadata["user_agent"],
		OpenedAt:   openedAt,
	}
	if err := m.store.RecordConnect(ctx, record); err != nil {
		log.Printf("Failed to record connect for %s: %v", connID, err)
	}
}

func (m *Manager) recordDisconnect(connID, reason string, framesIn, framesOut int64) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()

	if err := m.store.RecordDisconnect(ctx, connID, time.Now(), reason, framesIn, framesOut); err != nil {
		log.Printf("Failed to record disconnect for %s: %v", connID, err)
	}
}
