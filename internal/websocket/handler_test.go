package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"aiworker/pkg/interfaces"
)

// echoSession registers the connection and echoes every frame back until the read fails
type echoSession struct {
	registry *Registry

	mu       sync.Mutex
	metadata map[string]string
	reasons  []string
}

func (s *echoSession) Serve(ctx context.Context, conn interfaces.Connection, metadata map[string]string) {
	s.mu.Lock()
	s.metadata = metadata
	s.mu.Unlock()

	s.registry.Register(conn, metadata)
	defer func() {
		s.registry.Deregister(conn)
		_ = conn.Close()
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.reasons = append(s.reasons, DescribeReadError(err))
			s.mu.Unlock()
			return
		}
		if err := s.registry.SendTo(ctx, conn, data); err != nil {
			return
		}
	}
}

func (s *echoSession) lastMetadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

func TestHandler_ServesSession(t *testing.T) {
	registry := NewRegistry()
	session := &echoSession{registry: registry}
	handler := NewHandler(session, Options{})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?client=editor"
	header := http.Header{"User-Agent": []string{"handler-test"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("Expected echo, got %s", data)
	}

	if registry.Count() != 1 {
		t.Errorf("Expected 1 registered connection, got %d", registry.Count())
	}

	md := session.lastMetadata()
	if md["user_agent"] != "handler-test" {
		t.Errorf("Expected user agent metadata, got %v", md)
	}
	if md["query.client"] != "editor" {
		t.Errorf("Expected query metadata, got %v", md)
	}
	if md["remote_addr"] == "" {
		t.Error("Expected remote_addr metadata")
	}
}

func TestHandler_DeregistersOnDisconnect(t *testing.T) {
	registry := NewRegistry()
	handler := NewHandler(&echoSession{registry: registry}, Options{})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	waitForCount(t, registry, 1)
	_ = conn.Close()
	waitForCount(t, registry, 0)
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	registry := NewRegistry()
	handler := NewHandler(&echoSession{registry: registry}, Options{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	handler.HandleWebSocket(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-upgrade request, got %d", rec.Code)
	}
	if registry.Count() != 0 {
		t.Errorf("No connection should be registered, got %d", registry.Count())
	}
}

func TestHandler_ConcurrentConnections(t *testing.T) {
	registry := NewRegistry()
	handler := NewHandler(&echoSession{registry: registry}, Options{})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	defer server.Close()

	const numClients = 10
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	clients := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		clients = append(clients, conn)
	}

	waitForCount(t, registry, numClients)

	for _, c := range clients {
		_ = c.Close()
	}
	waitForCount(t, registry, 0)
}

func waitForCount(t *testing.T, registry *Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d registered connections, got %d", want, registry.Count())
}
