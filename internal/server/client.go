// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one live connection. Its read pump processes the connection's
// events in order; its write pump drains the send queue filled by the hub.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool // owned by the hub goroutine
	queuedBytes    atomic.Int64
	state          atomic.Int32
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	log            *log.Entry
}

// NewClient creates a Client with a fresh connection id for conn. The send
// queue is buffered so a burst of broadcasts does not block the hub.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.Config()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		log: log.WithFields(log.Fields{
			"conn": id,
			"addr": addr,
		}),
	}
}

// ID returns the server-assigned connection id.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send queue for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// reserve accounts n bytes against the send queue's byte budget. A frame is
// always admitted to an empty queue so one large attachment cannot be refused
// outright.
func (c *Client) reserve(n int, budget int64) bool {
	queued := c.queuedBytes.Load()
	if queued > 0 && queued+int64(n) > budget {
		return false
	}
	c.queuedBytes.Add(int64(n))
	return true
}

// release returns n bytes to the budget once a frame leaves the queue.
func (c *Client) release(n int) {
	c.queuedBytes.Add(-int64(n))
}

// QueuedBytes returns the size of the frames waiting in the send queue.
func (c *Client) QueuedBytes() int64 {
	return c.queuedBytes.Load()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Error("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.WithError(err).Error("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.WithField("limit", c.maxMessageSize).Warn("frame exceeded maximum size")

	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.WithError(err).Debug("client closed connection")

	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.WithError(err).Debug("connection closed")

	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.WithError(err).Warn("unexpected WebSocket close")

	default:
		c.log.WithError(err).Warn("WebSocket read error")
	}
}

// checkRateLimit reports whether the next inbound event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.WithFields(log.Fields{
			"burst":    c.rateLimit.Burst,
			"interval": c.rateLimit.RefillInterval,
		}).Warn("rate limit exceeded; discarding event")
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.Disconnect()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.WithError(err).Error("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.HandleFrame(raw)
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
		if ok {
			c.release(len(message))
		}
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.writeCloseMessage()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Error("error closing connection in writePump")
	}
}

// handleMessage writes one queued frame and returns false if the connection
// should be closed. A closed queue means the hub dropped this client.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Debug("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("delivery failed")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Debug("error writing close message")
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Debug("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.WithError(err).Debug("error writing ping message")
		return false
	}
	return true
}
