package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 10 * time.Second
	closeTimeout = time.Second
)

// Client owns one websocket connection: an ordered outbound frame queue
// drained by a write pump, and lifecycle state. Frame order within the
// queue is the per-connection FIFO that preserves session ordering.
type Client struct {
	id     string
	sock   *websocket.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewClient wraps an upgraded websocket connection.
func NewClient(connID string, sock *websocket.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		id:     connID,
		sock:   sock,
		frames: make(chan []byte, clientBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Send enqueues a frame without blocking. A saturated queue drops the
// frame; the next full-state broadcast makes the client whole again.
func (c *Client) Send(frame []byte) {
	select {
	case c.frames <- frame:
	case <-c.done:
	default:
		c.logger.Warn("outbound frame dropped", zap.String("conn_id", c.id))
	}
}

// WritePump drains the frame queue onto the socket. It returns when the
// client is closed or a write fails, and must run in its own goroutine.
func (c *Client) WritePump() {
	for {
		select {
		case frame := <-c.frames:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			// Flush whatever is already queued before tearing down, so a
			// final error frame is observably sent.
			for {
				select {
				case frame := <-c.frames:
					_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
					_ = c.sock.WriteMessage(websocket.TextMessage, frame)
				default:
					_ = c.sock.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
						time.Now().Add(closeTimeout))
					_ = c.sock.Close()
					return
				}
			}
		}
	}
}

// Close signals the write pump to flush and tear the socket down.
// Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}
