package server_test

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/envelope"
	"github.com/Tyrowin/gochat-relay/internal/registry"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/testhelpers"
)

// startRelay runs a hub behind an httptest server and returns the hub and
// its WebSocket URL. The rate limit is raised so tests are not throttled.
func startRelay(t *testing.T, mutate func(*server.Config)) (*server.Hub, string) {
	t.Helper()

	cfg := server.NewConfig()
	cfg.RateLimit.Burst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	hub := server.NewHub(cfg)
	go hub.Run()

	testServer := httptest.NewServer(server.SetupRoutes(hub))
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		testServer.Close()
	})

	return hub, testhelpers.BuildWebSocketURL(testServer.URL)
}

// connectClients dials n clients and waits until the hub has registered all
// of them.
func connectClients(t *testing.T, hub *server.Hub, wsURL string, n int) []*websocket.Conn {
	t.Helper()

	before := hub.ClientCount()
	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conn, err := testhelpers.ConnectWebSocket(wsURL)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		conns[i] = conn
		t.Cleanup(func() { _ = conn.Close() })
	}

	testhelpers.WaitFor(t, 2*time.Second, "client registration", func() bool {
		return hub.ClientCount() == before+n
	})
	return conns
}

func pngDataURI(size int) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(make([]byte, size))
}

// TestScenarioNamedTextMessage: X names itself bob and says hi; every client
// receives it.
func TestScenarioNamedTextMessage(t *testing.T) {
	hub, wsURL := startRelay(t, nil)
	conns := connectClients(t, hub, wsURL, 3)

	if err := testhelpers.SetUsername(conns[0], "bob"); err != nil {
		t.Fatalf("setUsername failed: %v", err)
	}
	if err := testhelpers.SendText(conns[0], "hi"); err != nil {
		t.Fatalf("sendMessage failed: %v", err)
	}

	for i, conn := range conns {
		payload := testhelpers.MustReceiveMessage(t, conn)
		if payload.Username != "bob" || payload.Message != "hi" || payload.Type != envelope.KindText {
			t.Errorf("Client %d got %+v, want bob/hi/text", i, payload)
		}
		if payload.Timestamp == "" {
			t.Errorf("Client %d got an envelope without timestamp", i)
		}
	}
}

// TestScenarioImageMessage: Y sends a 500 KB PNG; every client receives the
// image envelope.
func TestScenarioImageMessage(t *testing.T) {
	hub, wsURL := startRelay(t, nil)
	conns := connectClients(t, hub, wsURL, 3)

	req := envelope.SendMessageRequest{
		Type:      "image",
		FileData:  pngDataURI(500 * 1024),
		FileName:  "sunset.png",
		FileSize:  500 * 1024,
		Timestamp: "2026-10-18T10:00:00.000Z",
	}
	if err := testhelpers.SendMessage(conns[1], req); err != nil {
		t.Fatalf("sendMessage failed: %v", err)
	}

	for i, conn := range conns {
		payload := testhelpers.MustReceiveMessage(t, conn)
		if payload.Type != envelope.KindImage {
			t.Errorf("Client %d got type %q, want image", i, payload.Type)
		}
		if payload.FileData != req.FileData {
			t.Errorf("Client %d did not receive the file data verbatim", i)
		}
		if payload.FileName != "sunset.png" || payload.MimeType != "image/png" {
			t.Errorf("Client %d got file %q (%s)", i, payload.FileName, payload.MimeType)
		}
		if payload.Username != registry.AnonymousName {
			t.Errorf("Client %d got username %q, want %q", i, payload.Username, registry.AnonymousName)
		}
		if payload.Timestamp != req.Timestamp {
			t.Errorf("Client %d got timestamp %q, want the client's %q", i, payload.Timestamp, req.Timestamp)
		}
	}
}

// TestScenarioOversizedFile: Z sends a 15 MiB file; nothing is broadcast and
// Z stays connected.
func TestScenarioOversizedFile(t *testing.T) {
	hub, wsURL := startRelay(t, nil)
	conns := connectClients(t, hub, wsURL, 3)

	req := envelope.SendMessageRequest{
		Type:     "image",
		FileData: pngDataURI(15 * 1024 * 1024),
		FileName: "huge.png",
		FileSize: 15 * 1024 * 1024,
	}
	if err := testhelpers.SendMessage(conns[2], req); err != nil {
		t.Fatalf("sendMessage failed: %v", err)
	}
	if err := testhelpers.SendText(conns[2], "after"); err != nil {
		t.Fatalf("sendMessage failed: %v", err)
	}

	// events from one connection are handled in order, so the first delivery
	// must be the follow-up text; decoding the ~20 MiB frame is slow under -race
	for i, conn := range conns {
		payload := testhelpers.MustReceiveMessageWithin(t, conn, 30*time.Second)
		if payload.Message != "after" || payload.FileData != "" {
			t.Errorf("Client %d first received %+v, want only the follow-up text", i, payload)
		}
	}
}

// TestScenarioDisconnectDuringBroadcast: X drops without a close handshake
// while others keep chatting; delivery to the rest succeeds.
func TestScenarioDisconnectDuringBroadcast(t *testing.T) {
	hub, wsURL := startRelay(t, nil)
	conns := connectClients(t, hub, wsURL, 3)

	if err := conns[0].Close(); err != nil {
		t.Fatalf("Failed to drop client: %v", err)
	}
	if err := testhelpers.SendText(conns[1], "still here"); err != nil {
		t.Fatalf("sendMessage failed: %v", err)
	}

	for _, conn := range conns[1:] {
		if payload := testhelpers.MustReceiveMessage(t, conn); payload.Message != "still here" {
			t.Errorf("Got %+v, want still here", payload)
		}
	}

	testhelpers.WaitFor(t, 2*time.Second, "dropped client removal", func() bool {
		return hub.ClientCount() == 2
	})

	if err := testhelpers.SendText(conns[2], "and again"); err != nil {
		t.Fatalf("sendMessage failed: %v", err)
	}
	for _, conn := range conns[1:] {
		if payload := testhelpers.MustReceiveMessage(t, conn); payload.Message != "and again" {
			t.Errorf("Got %+v, want and again", payload)
		}
	}
}

// TestGracefulCloseRemovesClient verifies that a close handshake unregisters
// the connection.
func TestGracefulCloseRemovesClient(t *testing.T) {
	hub, wsURL := startRelay(t, nil)
	conns := connectClients(t, hub, wsURL, 2)

	if err := testhelpers.CloseWebSocket(conns[0]); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	testhelpers.WaitFor(t, 2*time.Second, "client removal", func() bool {
		return hub.ClientCount() == 1
	})
}

// TestFanOutExactlyOnce verifies that each client receives one copy of each
// envelope, in the same order.
func TestFanOutExactlyOnce(t *testing.T) {
	hub, wsURL := startRelay(t, nil)
	conns := connectClients(t, hub, wsURL, 3)

	for _, text := range []string{"one", "two", "three"} {
		if err := testhelpers.SendText(conns[0], text); err != nil {
			t.Fatalf("sendMessage failed: %v", err)
		}
	}

	for i, conn := range conns {
		for _, want := range []string{"one", "two", "three"} {
			if payload := testhelpers.MustReceiveMessage(t, conn); payload.Message != want {
				t.Errorf("Client %d got %q, want %q", i, payload.Message, want)
			}
		}
		testhelpers.ExpectNoMessage(t, conn, 100*time.Millisecond)
	}
}

// TestBothPayloadShapesAccepted verifies the bare string and structured forms.
func TestBothPayloadShapesAccepted(t *testing.T) {
	hub, wsURL := startRelay(t, nil)
	conns := connectClients(t, hub, wsURL, 2)

	if err := testhelpers.SetUsername(conns[0], "carol"); err != nil {
		t.Fatalf("setUsername failed: %v", err)
	}
	if err := testhelpers.SendText(conns[0], "bare"); err != nil {
		t.Fatalf("sendMessage failed: %v", err)
	}
	structured := envelope.SendMessageRequest{Message: "structured", Username: "impostor", Type: "text"}
	if err := testhelpers.SendMessage(conns[0], structured); err != nil {
		t.Fatalf("sendMessage failed: %v", err)
	}

	for _, want := range []string{"bare", "structured"} {
		payload := testhelpers.MustReceiveMessage(t, conns[1])
		if payload.Message != want || payload.Username != "carol" {
			t.Errorf("Got %+v, want %q from carol", payload, want)
		}
	}
}

// TestRateLimitDropsExcessEvents verifies that events beyond the burst are
// discarded.
func TestRateLimitDropsExcessEvents(t *testing.T) {
	hub, wsURL := startRelay(t, func(cfg *server.Config) {
		cfg.RateLimit.Burst = 2
		cfg.RateLimit.RefillInterval = time.Hour
	})
	conns := connectClients(t, hub, wsURL, 2)

	for _, text := range []string{"a", "b", "c", "d"} {
		if err := testhelpers.SendText(conns[0], text); err != nil {
			t.Fatalf("sendMessage failed: %v", err)
		}
	}

	for _, want := range []string{"a", "b"} {
		if payload := testhelpers.MustReceiveMessage(t, conns[1]); payload.Message != want {
			t.Errorf("Got %q, want %q", payload.Message, want)
		}
	}
	testhelpers.ExpectNoMessage(t, conns[1], 200*time.Millisecond)
}

// TestOriginPolicy verifies which origins may open a connection.
func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		accept  bool
	}{
		{name: "default origin", allowed: nil, origin: testhelpers.TestOrigin, accept: true},
		{name: "case-insensitive match", allowed: []string{"https://Chat.Example.com"}, origin: "https://chat.example.com", accept: true},
		{name: "foreign origin", allowed: nil, origin: "http://evil.example.com", accept: false},
		{name: "missing origin", allowed: nil, origin: "", accept: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "http://anywhere.example.com", accept: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, wsURL := startRelay(t, func(cfg *server.Config) {
				if tt.allowed != nil {
					cfg.AllowedOrigins = tt.allowed
				}
			})

			conn, err := testhelpers.ConnectWebSocketWithOrigin(wsURL, tt.origin)
			if tt.accept {
				if err != nil {
					t.Fatalf("Expected connection to be accepted: %v", err)
				}
				defer conn.Close()
				testhelpers.WaitFor(t, time.Second, "registration", func() bool {
					return hub.ClientCount() == 1
				})
				return
			}

			if err == nil {
				conn.Close()
				t.Fatal("Expected connection to be rejected")
			}
			if hub.ClientCount() != 0 {
				t.Errorf("Rejected connection was registered")
			}
		})
	}
}

// TestShutdownClosesClients verifies that hub shutdown closes live sockets.
func TestShutdownClosesClients(t *testing.T) {
	hub, wsURL := startRelay(t, nil)
	conns := connectClients(t, hub, wsURL, 3)

	if err := hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	for i, conn := range conns {
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			t.Fatalf("SetReadDeadline failed: %v", err)
		}
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Errorf("Client %d: expected closed connection", i)
		}
	}

	if late, err := testhelpers.ConnectWebSocket(wsURL); err == nil {
		defer late.Close()
		// the upgrade may succeed, but the hub refuses the registration
		testhelpers.WaitFor(t, time.Second, "no registrations after shutdown", func() bool {
			return hub.ClientCount() == 0
		})
	}
}
