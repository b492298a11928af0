// Package ws provides the WebSocket attach transport: replay, live output,
// stdin, and resize over one connection per instance attachment.
package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one WebSocket attachment to an instance. Each client owns its
// own registry subscription; there is no shared fan-out on this side, the
// forwarder already fans out per subscriber.
type Client struct {
	id         string
	instanceID string
	conn       *websocket.Conn
	send       chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, instanceID string) *Client {
	return &Client{
		id:         uuid.NewString(),
		instanceID: instanceID,
		conn:       conn,
		send:       make(chan []byte, 256),
	}
}

// ID returns the connection's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// InstanceID returns the instance this client is attached to.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// Send queues data for delivery. A client whose buffer is full is closed
// rather than allowed to stall the stream.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// Close marks the client closed and closes the send channel.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed reports whether the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
