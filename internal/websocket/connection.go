package websocket

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Options tune a single connection
type Options struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	BufferSize     int
	MaxMessageSize int64
}

// DefaultOptions returns the settings used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		BufferSize:     100,
		MaxMessageSize: 64 * 1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	return o
}

// writeRequest is one queued frame and the channel its outcome is reported on
type writeRequest struct {
	data   []byte
	result chan error
}

// Connection implements interfaces.Connection on top of a gorilla WebSocket.
// All data frames are written by a single writer goroutine, so responses from
// the owning session and broadcast pushes never interleave on the wire.
type Connection struct {
	conn      *websocket.Conn
	id        string
	opts      Options
	writeCh   chan writeRequest
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn, assigns it a UUID and starts its writer and heartbeat goroutines.
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      uuid.New().String(),
		opts:    opts,
		writeCh: make(chan writeRequest, opts.BufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	conn.SetReadLimit(opts.MaxMessageSize)
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	go c.writeLoop()
	go c.pingLoop()

	return c
}

func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address of the underlying socket
func (c *Connection) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Done is closed when the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case req := <-c.writeCh:
			err := c.write(req.data)
			req.result <- err
			if err != nil {
				log.Printf("Write to connection %s failed, closing: %v", c.id, err)
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop keeps the read deadline alive for idle but healthy peers
func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) extendReadDeadline() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline for %s: %v", c.id, err)
	}
}

// ReadMessage returns the payload of the next data frame. Only the owning session calls it.
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.extendReadDeadline()
	return data, nil
}

// Send queues data for the writer goroutine and waits for the write to finish.
// A write that fails or cannot be queued within WriteTimeout closes the connection.
func (c *Connection) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	req := writeRequest{data: data, result: make(chan error, 1)}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- req:
	case <-timer.C:
		_ = c.Close()
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}

	select {
	case err := <-req.result:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		return nil
	case <-c.ctx.Done():
		// the writer may have finished this request just before exiting
		select {
		case err := <-req.result:
			if err != nil {
				return fmt.Errorf("%w: %v", ErrWriteFailed, err)
			}
			return nil
		default:
			return ErrConnectionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the connection goroutines and closes the socket, which
// unblocks a pending ReadMessage. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}
