// Package testhelpers provides shared utilities for integration tests:
// starting a relay server, dialing rooms, and reading protocol envelopes.
package testhelpers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncpad/relay/internal/relay"
)

// RelayServer bundles a running test server with its engine so tests can
// inspect registry state directly.
type RelayServer struct {
	Engine *relay.Engine
	HTTP   *httptest.Server
}

// StartRelayServer boots a relay engine behind an httptest server. The
// config starts from defaults with all origins allowed; customize may tighten
// it. The engine and server are torn down via t.Cleanup.
func StartRelayServer(t *testing.T, customize func(cfg *relay.Config)) *RelayServer {
	t.Helper()

	cfg := relay.NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	if customize != nil {
		customize(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Test configuration invalid: %v", err)
	}

	engine := relay.NewEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := httptest.NewServer(engine.Routes())
	t.Cleanup(func() {
		server.Close()
		_ = engine.Shutdown(2 * time.Second)
	})

	return &RelayServer{Engine: engine, HTTP: server}
}

// RoomURL converts the test server's base URL into the WebSocket URL for the
// given room identifier.
func (rs *RelayServer) RoomURL(roomID string) string {
	return "ws" + strings.TrimPrefix(rs.HTTP.URL, "http") + "/ws/" + roomID
}

// DialRoom opens a WebSocket connection into the given room.
func DialRoom(t *testing.T, rs *RelayServer, roomID string) *websocket.Conn {
	t.Helper()
	conn, err := TryDialRoom(rs, roomID)
	if err != nil {
		t.Fatalf("Failed to dial room %q: %v", roomID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// TryDialRoom opens a WebSocket connection, returning the dial error instead
// of failing the test.
func TryDialRoom(rs *RelayServer, roomID string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", rs.HTTP.URL)

	conn, resp, err := dialer.Dial(rs.RoomURL(roomID), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEnvelope writes a {type, payload} message to the connection.
func SendEnvelope(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	env := relay.Envelope{Type: msgType, Payload: body}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("Failed to send %s: %v", msgType, err)
	}
}

// SendRaw writes raw bytes as a single text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to send raw message: %v", err)
	}
}

// ReadEnvelope reads the next envelope off the connection, failing the test
// if nothing arrives within timeout.
func ReadEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) *relay.Envelope {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read envelope: %v", err)
	}
	env, err := relay.DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("Received frame is not a valid envelope: %s", raw)
	}
	return env
}

// ExpectEnvelope reads the next envelope and asserts its type, decoding the
// payload into target when target is non-nil.
func ExpectEnvelope(t *testing.T, conn *websocket.Conn, msgType string, target any) {
	t.Helper()
	env := ReadEnvelope(t, conn, 2*time.Second)
	if env.Type != msgType {
		t.Fatalf("Expected %s envelope, got %s (payload %s)", msgType, env.Type, env.Payload)
	}
	if target != nil {
		if err := json.Unmarshal(env.Payload, target); err != nil {
			t.Fatalf("Failed to decode %s payload: %v", msgType, err)
		}
	}
}

// ExpectClose asserts that the next read fails with one of the given close
// codes.
func ExpectClose(t *testing.T, conn *websocket.Conn, codes ...int) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue // drain frames queued before the close
		}
		if websocket.IsCloseError(err, codes...) {
			return
		}
		t.Fatalf("Expected close with codes %v, got %v", codes, err)
	}
}

// ExpectNoMessage asserts that nothing arrives within timeout and the
// connection stays open. The check reads the underlying net.Conn rather than
// the websocket, because gorilla caches any read error -- including a
// deadline timeout -- permanently, which would leave the connection
// unreadable for the rest of the test.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	raw := conn.UnderlyingConn()
	if err := raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	n, err := raw.Read(make([]byte, 1))
	if err == nil || n > 0 {
		t.Fatal("Expected no message, but received one")
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		if err := raw.SetReadDeadline(time.Time{}); err != nil {
			t.Fatalf("Failed to clear read deadline: %v", err)
		}
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}
