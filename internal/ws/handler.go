package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskdeck/taskdeck/internal/model"
	"github.com/taskdeck/taskdeck/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeStdin  MessageType = "stdin"
	MessageTypeResize MessageType = "resize"
	MessageTypePing   MessageType = "ping"

	// Server -> Client message types
	MessageTypeHistory MessageType = "history"
	MessageTypeStdout  MessageType = "stdout"
	MessageTypeStatus  MessageType = "status"
	MessageTypePong    MessageType = "pong"
	MessageTypeError   MessageType = "error"
)

// Message represents a WebSocket message.
type Message struct {
	Type   MessageType           `json:"type"`
	Data   string                `json:"data,omitempty"`
	Rows   uint16                `json:"rows,omitempty"`
	Cols   uint16                `json:"cols,omitempty"`
	Status *model.InstanceStatus `json:"status,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// Registry is the slice of the session manager the transport needs.
type Registry interface {
	Attach(id string) ([]byte, *session.Subscription, error)
	Write(id string, data []byte) error
	Resize(id string, rows, cols uint16) error
	AwaitTerminal(id string, timeout time.Duration) (model.InstanceStatus, error)
}

// Handler serves WebSocket attachments to instances.
type Handler struct {
	registry Registry
}

// NewHandler creates a new WebSocket handler.
func NewHandler(registry Registry) *Handler {
	return &Handler{registry: registry}
}

// HandleConnection upgrades the request and attaches it to the instance:
// a history message with the ring buffer replay, then stdout messages for
// every live chunk, then a final status message once the output ends.
// Incoming stdin and resize messages are applied to the instance.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, instanceID string) error {
	replay, sub, err := h.registry.Attach(instanceID)
	if err != nil {
		if err == model.ErrInstanceNotFound {
			http.Error(w, "Instance not found", http.StatusNotFound)
			return nil
		}
		return err
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		return err
	}

	client := NewClient(conn, instanceID)

	go h.writePump(client)
	go h.streamPump(client, sub, replay)
	go h.readPump(client, sub)

	return nil
}

// streamPump owns the attach-side message ordering: history first, then
// live stdout chunks, then the final status.
func (h *Handler) streamPump(client *Client, sub *session.Subscription, replay []byte) {
	if len(replay) > 0 {
		client.sendMessage(&Message{Type: MessageTypeHistory, Data: string(replay)})
	}

	for chunk := range sub.Out() {
		client.sendMessage(&Message{Type: MessageTypeStdout, Data: string(chunk)})
	}

	// Output ended: report the settled status. The exit watcher may still
	// be a beat behind the forwarder, so wait for the terminal transition.
	status, err := h.registry.AwaitTerminal(client.InstanceID(), 5*time.Second)
	if err == nil {
		client.sendMessage(&Message{Type: MessageTypeStatus, Status: &status})
	}
	client.Close()
}

// sendMessage marshals and queues one message.
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal %s message: %v", msg.Type, err)
		return
	}
	c.Send(data)
}

// readPump pumps messages from the WebSocket connection to the registry.
func (h *Handler) readPump(client *Client, sub *session.Subscription) {
	defer func() {
		sub.Close()
		client.Close()
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Failed to unmarshal message: %v", err)
			continue
		}
		h.handleMessage(client, &msg)
	}
}

// handleMessage processes one incoming client message.
func (h *Handler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeStdin:
		if msg.Data == "" {
			return
		}
		if err := h.registry.Write(client.InstanceID(), []byte(msg.Data)); err != nil {
			log.Printf("Failed to write to instance %s: %v", client.InstanceID(), err)
			client.sendMessage(&Message{Type: MessageTypeError, Error: err.Error()})
		}
	case MessageTypeResize:
		if msg.Rows == 0 || msg.Cols == 0 {
			return
		}
		if err := h.registry.Resize(client.InstanceID(), msg.Rows, msg.Cols); err != nil {
			log.Printf("Failed to resize instance %s: %v", client.InstanceID(), err)
		}
	case MessageTypePing:
		client.sendMessage(&Message{Type: MessageTypePong})
	}
}

// writePump pumps queued messages to the WebSocket connection, one frame
// per message, and keeps the connection alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
