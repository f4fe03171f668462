// Package server wires HTTP handlers into a gorilla/mux router.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes returns a router serving the health checks and the WebSocket
// endpoint backed by h.
func SetupRoutes(h *Hub) *mux.Router {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	r.HandleFunc("/", HealthHandler)
	r.HandleFunc("/health", StatusHandler(h)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/ws", WebSocketHandler(h)).Methods(http.MethodGet)
	return r
}
