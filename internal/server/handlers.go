// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// HealthResponse is the body served by StatusHandler.
type HealthResponse struct {
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	Timestamp   time.Time `json:"timestamp"`
}

// WebSocketHandler upgrades the request, registers the new connection with
// the hub, and starts its read and write pumps.
func WebSocketHandler(h *Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).WithField("addr", r.RemoteAddr).Warn("WebSocket upgrade failed")
			return
		}

		client := NewClient(conn, h, r.RemoteAddr)
		if !h.attach(client) {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = conn.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// StatusHandler reports liveness and the number of registered connections as JSON.
func StatusHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		response := HealthResponse{
			Status:      "UP",
			Connections: h.ClientCount(),
			Timestamp:   time.Now().UTC(),
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.WithError(err).Error("error writing status response")
		}
	}
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, fmt.Sprintf("Method %s not allowed.", r.Method), http.StatusMethodNotAllowed)
}
