// Package server defines the wire frames exchanged over a connection and
// small helpers shared by the client and hub logic.
package server

import (
	"encoding/json"
	"strings"
)

// Event names carried in Frame.Event.
const (
	EventSetUsername    = "setUsername"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
)

// Frame is the JSON object carried by every WebSocket text frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
