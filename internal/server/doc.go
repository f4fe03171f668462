// Package server implements the relay's HTTP and WebSocket surface.
//
// A Hub owns the connection registry and fans accepted envelopes out to every
// connection. Each Client runs a read pump that applies its session events in
// order and a write pump that drains the queue the hub fills. Configuration,
// origin checks, and rate limiting live in their own files.
package server
