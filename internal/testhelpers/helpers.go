// Package testhelpers provides common utilities for testing the relay.
//
// It contains helpers shared by the package tests: dialing the WebSocket
// endpoint, sending chat events, reading broadcasts back, and asserting on
// HTTP responses. It deliberately does not import the server package so that
// in-package tests can use it too.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/envelope"
)

// TestOrigin is the Origin header sent by ConnectWebSocket. It matches the
// default allowed origin.
const TestOrigin = "http://localhost:8080"

// Frame mirrors the event frame used on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// BuildWebSocketURL turns an httptest server URL into its /ws endpoint.
func BuildWebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket creates a WebSocket connection to the specified URL using
// TestOrigin.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	return ConnectWebSocketWithOrigin(url, TestOrigin)
}

// ConnectWebSocketWithOrigin dials url with the given Origin header. An empty
// origin sends no Origin header.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEvent writes one event frame carrying data.
func SendEvent(conn *websocket.Conn, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(Frame{Event: event, Data: raw})
}

// SetUsername sends a setUsername event.
func SetUsername(conn *websocket.Conn, name string) error {
	return SendEvent(conn, "setUsername", name)
}

// SendText sends a sendMessage event in the early bare-string form.
func SendText(conn *websocket.Conn, text string) error {
	return SendEvent(conn, "sendMessage", text)
}

// SendMessage sends a sendMessage event in the structured form.
func SendMessage(conn *websocket.Conn, req envelope.SendMessageRequest) error {
	return SendEvent(conn, "sendMessage", req)
}

// ReceiveMessage reads frames until a receiveMessage arrives or timeout passes.
// A timed out connection cannot be read from again.
func ReceiveMessage(conn *websocket.Conn, timeout time.Duration) (envelope.ReceivePayload, error) {
	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return envelope.ReceivePayload{}, err
	}

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return envelope.ReceivePayload{}, err
		}
		if frame.Event != "receiveMessage" {
			continue
		}

		var payload envelope.ReceivePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return envelope.ReceivePayload{}, err
		}
		return payload, nil
	}
}

// MustReceiveMessage is ReceiveMessage with a 3 second timeout that fails the
// test on error.
func MustReceiveMessage(t *testing.T, conn *websocket.Conn) envelope.ReceivePayload {
	t.Helper()
	return MustReceiveMessageWithin(t, conn, 3*time.Second)
}

// MustReceiveMessageWithin is MustReceiveMessage with a caller-chosen timeout,
// for deliveries that follow a large upload.
func MustReceiveMessageWithin(t *testing.T, conn *websocket.Conn, timeout time.Duration) envelope.ReceivePayload {
	t.Helper()

	payload, err := ReceiveMessage(conn, timeout)
	if err != nil {
		t.Fatalf("Failed to receive message: %v", err)
	}
	return payload
}

// ExpectNoMessage fails the test if a receiveMessage arrives within d. The
// connection is unusable for reads afterwards.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	payload, err := ReceiveMessage(conn, d)
	if err == nil {
		t.Errorf("Expected no message, got %+v", payload)
		return
	}

	var netErr interface{ Timeout() bool }
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Logf("Read ended without timeout: %v", err)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// WaitFor polls cond until it holds or timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out after %v waiting for %s", timeout, what)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
