package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/types"
)

const (
	writeTimeout    = 5 * time.Second
	writeBufferSize = 100
)

// Connection wraps one client socket. All writes funnel through a
// single goroutine over a buffered channel; concurrent broadcast paths
// never touch the socket directly.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	userID    string
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded socket for userID and starts its
// writer goroutine.
func NewConnection(conn *websocket.Conn, userID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, writeBufferSize),
		userID:  userID,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()
	return c
}

// UserID returns the authenticated user this socket belongs to.
func (c *Connection) UserID() string {
	return c.userID
}

// Context is done once the connection is closed.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteFrame queues one event frame for delivery.
func (c *Connection) WriteFrame(event string, payload interface{}) error {
	frame, err := types.NewFrame(event, payload)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.WriteJSON(frame)
}

// WriteJSON queues an arbitrary JSON value for delivery. It never
// blocks past the write timeout, even when the peer stops reading.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}
