// Package testutil provides common helpers for exercising the relay over HTTP
// and WebSocket in tests.
//
// It stays free of relay imports so both in-package and external test
// packages can use it.
package testutil

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultOrigin is the Origin header sent by ConnectWebSocket.
const DefaultOrigin = "http://localhost:5000"

// WebSocketURL converts an httptest server URL into the relay's /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with DefaultOrigin.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Origin", DefaultOrigin)
	conn, _, err := DialWebSocket(url, headers)
	return conn, err
}

// DialWebSocket dials url with the given headers and returns the handshake
// status code, which is useful when the upgrade is refused.
func DialWebSocket(url string, headers http.Header) (*websocket.Conn, int, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	conn, resp, err := dialer.Dial(url, headers)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_ = resp.Body.Close()
	}
	return conn, status, err
}

// MustConnect dials url and fails the test on error. The connection is
// closed when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, err := ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendJSON writes v as a single JSON text frame.
func SendJSON(conn *websocket.Conn, v any) error {
	return conn.WriteJSON(v)
}

// ReadJSON reads one JSON frame, waiting at most timeout.
func ReadJSON(conn *websocket.Conn, timeout time.Duration) (map[string]any, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	var message map[string]any
	err := conn.ReadJSON(&message)
	return message, err
}

// ReadEvent reads frames until one carries the given event name and returns
// it. Frames with other event names are skipped.
func ReadEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %q event", event)
		}
		message, err := ReadJSON(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %q event: %v", event, err)
		}
		if message["event"] == event {
			return message
		}
	}
}

// ExpectNoMessage fails the test if any frame arrives within timeout.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message but received %s", data)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Expected read timeout, got %v", err)
	}
}

// ExpectClosed fails the test unless the peer closes conn within timeout.
func ExpectClosed(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return
		}
	}
	t.Fatal("Expected connection to be closed by the server")
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

// DecodeJSON unmarshals data into a generic map.
func DecodeJSON(data []byte) (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal(data, &out)
	return out, err
}

// Eventually polls cond every 10ms until it is true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %s: %s", timeout, msg)
}
