package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-engine/internal/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one authenticated WebSocket connection. Outbound frames are
// queued on a bounded channel drained by WritePump.
type Client struct {
	ID     string
	UserID string
	Name   string

	conn *websocket.Conn
	log  zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient wraps conn for the authenticated user.
func NewClient(conn *websocket.Conn, userID, name string, log zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:     id,
		UserID: userID,
		Name:   name,
		conn:   conn,
		log:    log.With().Str("conn_id", id).Str("user_id", userID).Logger(),
		send:   make(chan []byte, sendBuffer),
	}
}

// Send queues a frame without blocking. It reports false when the client is
// closed or too slow to keep up; a slow client is closed.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn().Msg("Send buffer full, dropping client")
		c.closed = true
		close(c.send)
		return false
	}
}

// SendMessage encodes and queues msg.
func (c *Client) SendMessage(msg Message) bool {
	frame, err := Encode(msg.Event, msg.Data)
	if err != nil {
		c.log.Error().Err(err).Str("event", string(msg.Event)).Msg("Failed to encode frame")
		return false
	}
	return c.Send(frame)
}

// Close stops WritePump after it flushes what is already queued.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads frames until the connection fails, handing each decoded
// envelope to handle. onClose runs once the loop exits.
func (c *Client) ReadPump(handle func(*Client, RequestEnvelope), onClose func(*Client)) {
	defer func() {
		onClose(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				c.log.Debug().Msg("Connection closed")
			}
			return
		}

		var req RequestEnvelope
		if err := json.Unmarshal(raw, &req); err != nil {
			c.SendMessage(ErrorCode(RequestEnvelope{}, response.ErrInvalidPayload))
			continue
		}
		handle(c, req)
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
