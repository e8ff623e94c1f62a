package hub

import (
	"context"
	"log"
	"sync"

	"aiworker/internal/metrics"
	"aiworker/internal/websocket"
	"aiworker/pkg/types"
)

const DefaultQueueSize = 1000

// Broadcaster fans a payload out to every live connection
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) websocket.BroadcastResult
}

// Hub queues broadcast payloads and delivers them from a single goroutine,
// so publishers never wait on slow sockets and broadcasts go out in
// publish order.
type Hub struct {
	queue       chan []byte
	broadcaster Broadcaster
	metrics     *metrics.Metrics

	running  bool
	shutdown chan struct{}
	stopped  chan struct{}
	mu       sync.RWMutex
}

// NewHub creates a hub delivering through broadcaster. m may be nil.
func NewHub(broadcaster Broadcaster, queueSize int, m *metrics.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		queue:       make(chan []byte, queueSize),
		broadcaster: broadcaster,
		metrics:     m,
	}
}

// Start launches the delivery goroutine. It stops on Stop or when ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.stopped = make(chan struct{})

	log.Println("Starting broadcast hub...")
	go h.run(ctx, h.shutdown, h.stopped)
	return nil
}

// Stop ends delivery and waits for the goroutine to exit. Payloads still
// queued are dropped.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	stopped := h.stopped
	h.mu.Unlock()

	log.Println("Stopping broadcast hub...")
	<-stopped
	return nil
}

// Running reports whether the hub accepts payloads
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Publish validates payload and queues it for broadcast without blocking.
func (h *Hub) Publish(payload []byte) error {
	if err := types.ValidateBroadcastPayload(payload); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	select {
	case h.queue <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer log.Println("Broadcast hub stopped")

	for {
		select {
		case payload := <-h.queue:
			result := h.broadcaster.Broadcast(ctx, payload)
			h.metrics.ObserveBroadcast(result.Delivered, len(result.Pruned))
		case <-shutdown:
			return
		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}
