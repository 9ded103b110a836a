package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ashkan-ph/pulse/internal/auth"
)

// Connection timeouts and limits.
const (
	WriteTimeout   = 10 * time.Second
	PongTimeout    = 60 * time.Second
	PingInterval   = 30 * time.Second
	MaxMessageSize = 4096
	SendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from arbitrary origins; access control
	// happens via the token, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one live subscriber connection. All writes to the
// underlying connection go through writePump, fed by the send channel.
type Client struct {
	ID     string
	UserID string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(h *Hub, conn *websocket.Conn, identity auth.Identity, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:     id,
		UserID: identity.UserID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, SendBufferSize),
		logger: logger.With("connectionID", id),
	}
}

// Handler returns the WebSocket endpoint. The token is read from the
// "token" query parameter, falling back to an Authorization bearer
// header. Connections failing validation are closed with
// CloseAuthFailure before any message handling begins.
func (h *Hub) Handler(validator auth.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("WebSocket upgrade failed", "error", err)
			return
		}

		identity, err := validator.Validate(extractToken(r))
		if err != nil {
			h.logger.Warn("Rejecting unauthenticated connection", "remote", r.RemoteAddr, "error", err)
			closeMsg := websocket.FormatCloseMessage(CloseAuthFailure, "authentication failed")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(WriteTimeout))
			conn.Close()
			return
		}

		client := newClient(h, conn, identity, h.logger)
		h.register(client)

		welcome, _ := json.Marshal(Message{
			Type: "connected",
			Data: map[string]string{
				"connection_id": client.ID,
				"user_id":       client.UserID,
			},
		})
		client.trySend(welcome)

		go client.writePump()
		go client.readPump()
	}
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}

// trySend queues a payload without blocking. Returns false when the
// client is closed or its send buffer is full.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) sendMessage(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	c.trySend(payload)
}

// close tears the connection down once: membership cleanup, send
// channel closure and the transport close.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.hub.unregister(c)
}

// readPump consumes inbound frames until the connection drops, then
// cleans up. Runs as the connection's only reader.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("Unexpected close", "error", err)
			}
			return
		}
		c.handleMessage(raw)
	}
}

// handleMessage dispatches one inbound client message. Malformed
// input produces an error response, never a disconnect.
func (c *Client) handleMessage(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		c.sendMessage(Message{Type: "error", Code: ErrCodeInvalidFormat})
		return
	}

	switch msg.Type {
	case "subscribe":
		if !ValidChannel(msg.Channel) {
			c.sendMessage(Message{Type: "error", Code: ErrCodeInvalidChannel, Channel: msg.Channel})
			return
		}
		if c.hub.Subscribe(c, msg.Channel) {
			c.sendMessage(Message{Type: "subscribed", Channel: msg.Channel})
		} else {
			c.sendMessage(Message{Type: "error", Code: ErrCodeAlreadySubscribed, Channel: msg.Channel})
		}

	case "unsubscribe":
		if c.hub.Unsubscribe(c, msg.Channel) {
			c.sendMessage(Message{Type: "unsubscribed", Channel: msg.Channel})
		} else {
			c.sendMessage(Message{Type: "error", Code: ErrCodeNotSubscribed, Channel: msg.Channel})
		}

	case "ping":
		c.sendMessage(Message{Type: "pong"})

	default:
		c.sendMessage(Message{Type: "error", Code: ErrCodeUnknownType})
	}
}

// writePump is the connection's only writer: queued payloads plus
// keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
