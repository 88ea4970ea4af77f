// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is a WebSocket connection admitted to the hub. Its id is assigned
// once, at creation, and never changes.
type Client struct {
	id             string
	identity       session.Identity
	conn           *websocket.Conn
	hub            *Hub
	addr           string
	log            *slog.Logger
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient creates a new Client with a fresh unique id for the provided
// WebSocket connection. The client's send channel is buffered to
// cfg.SendBufferSize frames.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, identity session.Identity, cfg Config) *Client {
	cfg = cfg.Sanitize()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		identity:       identity,
		conn:           conn,
		hub:            hub,
		addr:           addr,
		log:            hub.log.With("conn", id, "addr", addr, "user", identity.Subject),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		send:           make(chan []byte, cfg.SendBufferSize),
	}
}

// ID implements Connection.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the claim the session boundary admitted this client with.
func (c *Client) Identity() session.Identity {
	return c.identity
}

// Send implements Connection. It never blocks: a full queue is reported as
// ErrSendQueueFull.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close implements Connection. It closes the send queue so the write pump
// sends a close frame and tears the socket down. Further calls are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return nil
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", "err", err)
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", "err", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", "err", err)
	default:
		c.log.Warn("websocket read error", "err", err)
	}
}

// checkRateLimit reports whether the next inbound event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.hub.metrics.Dropped(metrics.ReasonRateLimited)
		c.log.Warn("rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes a raw frame and submits the matching hub event.
// Malformed frames and unknown events are reported to this client only.
func (c *Client) processMessage(rawMessage []byte) error {
	var msg InboundMessage
	if err := json.Unmarshal(rawMessage, &msg); err != nil {
		c.hub.metrics.Dropped(metrics.ReasonMalformed)
		c.log.Warn("invalid message", "err", err)
		c.reply(ErrorMessage{Event: EventError, Error: "invalid message"})
		return nil
	}

	switch msg.Event {
	case EventJoinRoom:
		return c.hub.Join(c.id, msg.Room)
	case EventLeaveRoom:
		return c.hub.Leave(c.id)
	case EventMessage:
		return c.hub.Message(c.id, msg.Message, msg.Room)
	default:
		c.hub.metrics.Dropped(metrics.ReasonMalformed)
		c.log.Warn("unknown event", "event", msg.Event)
		c.reply(ErrorMessage{Event: EventError, Error: ErrUnknownEvent.Error() + ": " + msg.Event})
		return nil
	}
}

func (c *Client) reply(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.Send(payload); err != nil {
		c.log.Debug("reply dropped", "err", err)
	}
}

// readPump reads frames until the socket fails, then reports exactly one
// disconnect to the hub.
func (c *Client) readPump() {
	defer func() {
		if err := c.hub.Disconnect(c.id); err != nil {
			c.log.Debug("disconnect not queued", "err", err)
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in readPump", "err", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if err := c.processMessage(rawMessage); err != nil {
			c.log.Info("hub unavailable; closing", "err", err)
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection in writePump", "err", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", "err", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", "err", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing close message", "err", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("error writing ping message", "err", err)
		return false
	}
	return true
}
