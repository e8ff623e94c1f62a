package websocket

import (
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"aiworker/pkg/interfaces"
)

// Handler upgrades HTTP requests to WebSocket connections and hands each
// one to the session handler, which owns it from then on.
type Handler struct {
	sessions interfaces.SessionHandler
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket handler that serves sessions through sessions.
func NewHandler(sessions interfaces.SessionHandler, opts Options) *Handler {
	return &Handler{
		sessions: sessions,
		opts:     opts.withDefaults(),
		upgrader: websocket.Upgrader{
			// no authentication, any origin may connect
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// HandleWebSocket upgrades the request and serves the session on the
// request goroutine until the connection ends.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.opts)
	h.sessions.Serve(r.Context(), wsConn, requestMetadata(r))
}

// requestMetadata collects the free-form attributes stored with a connection
func requestMetadata(r *http.Request) map[string]string {
	md := map[string]string{
		"remote_addr": r.RemoteAddr,
	}
	if ua := r.UserAgent(); ua != "" {
		md["user_agent"] = ua
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			md["query."+key] = values[0]
		}
	}
	return md
}

// DescribeReadError turns a ReadMessage error into a short close reason
func DescribeReadError(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "peer closed"
	case errors.Is(err, net.ErrClosed):
		return "closed by server"
	case errors.Is(err, websocket.ErrReadLimit):
		return "message too large"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "read timeout"
	case websocket.IsUnexpectedCloseError(err):
		return "unexpected close"
	default:
		return "transport error"
	}
}
