// Package server coordinates connection registration, envelope fan-out, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/gochat-relay/internal/envelope"
	"github.com/Tyrowin/gochat-relay/internal/registry"
)

// Hub owns the connection registry and delivers every accepted envelope to
// all registered connections, the sender included.
//
// Broadcasts are handed to a single goroutine (Run), so every recipient sees
// envelopes in the order the hub received them. Only that goroutine sends on
// or closes a client's send queue.
type Hub struct {
	cfg        Config
	registry   *registry.Registry[*Client]
	origins    *originPolicy
	broadcast  chan envelope.Envelope
	unregister chan *Client
	log        *log.Entry

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub creates a Hub using cfg. A nil cfg uses the defaults.
func NewHub(cfg *Config) *Hub {
	base := defaultConfig()
	if cfg != nil {
		base = *cfg
	}
	base = base.sanitize()

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        base,
		registry:   registry.New[*Client](),
		origins:    newOriginPolicy(base.AllowedOrigins),
		broadcast:  make(chan envelope.Envelope),
		unregister: make(chan *Client),
		log:        log.WithField("component", "hub"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() Config {
	cfg := h.cfg
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Register adds c to the registry without starting its pumps. It reports
// false once the hub has shut down.
func (h *Hub) Register(c *Client) bool {
	return h.register(c, false)
}

// attach registers c and starts its read and write pumps.
func (h *Hub) attach(c *Client) bool {
	return h.register(c, true)
}

func (h *Hub) register(c *Client, startPumps bool) bool {
	if c == nil {
		h.log.Warn("received nil client registration; skipping")
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return false
	}

	h.registry.Register(c.id, c)

	if startPumps {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}

	c.log.WithField("clients", h.registry.Len()).Info("client connected")
	return true
}

// Unregister removes c from the registry before returning, so no broadcast
// accepted afterwards targets it, then hands c to the hub to close its send
// queue. Unknown or already removed clients are ignored.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}

	if h.dropFromRegistry(c) {
		c.log.WithField("clients", h.registry.Len()).Info("client disconnected")
	}

	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// dropFromRegistry removes c unless its id now belongs to another client.
func (h *Hub) dropFromRegistry(c *Client) bool {
	return h.registry.RemoveIf(c.id, func(current *Client) bool {
		return current == c
	})
}

// Broadcast submits env for delivery and returns once the hub has taken it.
// It returns false when the hub is shut down.
func (h *Hub) Broadcast(env envelope.Envelope) bool {
	select {
	case h.broadcast <- env:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// SetName records a display name for the connection id.
func (h *Hub) SetName(id, name string) bool {
	return h.registry.SetName(id, name)
}

// ResolveName returns the display name for id, falling back to Anonymous.
func (h *Hub) ResolveName(id string) string {
	return h.registry.ResolveName(id)
}

// ConnectionIDs returns a snapshot of the registered connection ids.
func (h *Hub) ConnectionIDs() []string {
	return h.registry.IDs()
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// Run starts the hub's main event loop, handling unregistration and
// broadcasts. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	h.log.Info("hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.unregister:
			if client != nil {
				h.removeClient(client)
			}

		case env := <-h.broadcast:
			h.handleBroadcast(env)
		}
	}
}

// handleBroadcast serializes env once and queues the same bytes for every
// registered client. A full queue counts as a failed delivery: the client is
// evicted and the remaining clients are still served.
func (h *Hub) handleBroadcast(env envelope.Envelope) {
	payload, err := encodeFrame(EventReceiveMessage, env.Payload())
	if err != nil {
		h.log.WithError(err).Error("failed to encode envelope")
		return
	}

	clients := h.registry.Snapshot()
	failed := h.broadcastToClients(clients, payload)

	h.log.WithFields(log.Fields{
		"username":  env.Username,
		"type":      env.Kind,
		"targets":   len(clients),
		"delivered": len(clients) - len(failed),
	}).Debug("broadcast envelope")

	h.removeFailedClients(failed)
}

// broadcastToClients queues payload for each client and returns the clients
// whose queue was full by count or by bytes.
func (h *Hub) broadcastToClients(clients []*Client, payload []byte) []*Client {
	var failed []*Client

	for _, client := range clients {
		if client.closed {
			continue
		}
		if !client.reserve(len(payload), h.cfg.SendBufferBytes) {
			failed = append(failed, client)
			continue
		}
		select {
		case client.send <- payload:
		default:
			client.release(len(payload))
			failed = append(failed, client)
		}
	}

	return failed
}

// removeFailedClients evicts clients that could not take a delivery.
func (h *Hub) removeFailedClients(failed []*Client) {
	for _, client := range failed {
		if h.removeClient(client) {
			client.log.Warn("client removed due to full send buffer")
		}
	}
}

// removeClient drops c from the registry if it is still there and closes its
// send queue, which makes the write pump send a close frame. It reports
// whether c was still registered.
func (h *Hub) removeClient(c *Client) bool {
	ok := h.dropFromRegistry(c)

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return ok
}

// shutdownClients stops new registrations and closes every active connection.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mu.Lock()
	h.stopped = true
	clients := h.registry.Snapshot()
	h.mu.Unlock()

	for _, client := range clients {
		h.removeClient(client)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				client.log.WithError(err).Error("error closing client connection")
			}
		}
	}

	h.log.WithField("clients", len(clients)).Info("closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.log.Warn("hub loop did not stop before the shutdown timeout")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed successfully")
		return nil
	case <-timer.C:
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
