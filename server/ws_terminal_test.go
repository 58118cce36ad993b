package server

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readTerminalJSON reads frames until one parses as a JSON object (raw PTY
// output frames are skipped).
func readTerminalJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err == nil {
			return msg
		}
	}
}

// collectOutput reads raw frames until the marker shows up or the deadline
// passes.
func collectOutput(t *testing.T, conn *websocket.Conn, marker string, timeout time.Duration) string {
	t.Helper()
	var b strings.Builder
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		b.Write(data)
		if strings.Contains(b.String(), marker) {
			break
		}
	}
	return b.String()
}

func TestTerminalRejectsGarbageBeforeInit(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	conn := dialWS(t, ts.URL, "/ws/terminal")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))
	msg := readTerminalJSON(t, conn)
	assert.Equal(t, "Expected init or reconnect message", msg["error"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	msg = readTerminalJSON(t, conn)
	assert.Equal(t, "Expected init or reconnect message", msg["error"])
}

func TestTerminalReconnectUnknownSession(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	conn := dialWS(t, ts.URL, "/ws/terminal")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "reconnect",
		"sessionId": "no-such-session",
	}))
	msg := readTerminalJSON(t, conn)
	assert.Equal(t, "reconnect_failed", msg["type"])
}

func TestTerminalSessionLifecycle(t *testing.T) {
	s, ts, _ := newTestHTTP(t)
	conn := dialWS(t, ts.URL, "/ws/terminal")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "init",
		"dir":  "/tmp",
		"cols": 80,
		"rows": 24,
	}))
	created := readTerminalJSON(t, conn)
	require.Equal(t, "session_created", created["type"])
	sessionID := created["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	// Keystrokes reach the shell and its output comes back in order.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "input",
		"data": "echo terminal_roundtrip_ok\n",
	}))
	out := collectOutput(t, conn, "terminal_roundtrip_ok", 5*time.Second)
	assert.Contains(t, out, "terminal_roundtrip_ok")

	// Resize is accepted while attached.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "resize", "cols": 120, "rows": 40,
	}))

	// Disconnect orphans the session; a new socket reattaches by id.
	conn.Close()
	require.Eventually(t, func() bool {
		return s.ptys.FindOrphanByID(sessionID) != nil
	}, 2*time.Second, 20*time.Millisecond)

	conn2 := dialWS(t, ts.URL, "/ws/terminal")
	require.NoError(t, conn2.WriteJSON(map[string]any{
		"type":      "reconnect",
		"sessionId": sessionID,
	}))
	msg := readTerminalJSON(t, conn2)
	assert.Equal(t, "reconnected", msg["type"])
	assert.Equal(t, sessionID, msg["sessionId"])

	// The same shell still answers.
	require.NoError(t, conn2.WriteJSON(map[string]any{
		"type": "input",
		"data": "echo still_here\n",
	}))
	out = collectOutput(t, conn2, "still_here", 5*time.Second)
	assert.Contains(t, out, "still_here")
}

func TestTerminalInitReattachesOrphanByDir(t *testing.T) {
	s, ts, _ := newTestHTTP(t)

	conn := dialWS(t, ts.URL, "/ws/terminal")
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "init", "dir": "/tmp", "cols": 80, "rows": 24,
	}))
	created := readTerminalJSON(t, conn)
	require.Equal(t, "session_created", created["type"])
	sessionID := created["sessionId"].(string)

	conn.Close()
	require.Eventually(t, func() bool {
		return s.ptys.FindOrphanByID(sessionID) != nil
	}, 2*time.Second, 20*time.Millisecond)

	// A fresh init for the same directory adopts the orphan instead of
	// spawning a second shell.
	conn2 := dialWS(t, ts.URL, "/ws/terminal")
	require.NoError(t, conn2.WriteJSON(map[string]any{
		"type": "init", "dir": "/tmp", "cols": 80, "rows": 24,
	}))
	msg := readTerminalJSON(t, conn2)
	assert.Equal(t, "reconnected", msg["type"])
	assert.Equal(t, sessionID, msg["sessionId"])
	assert.Equal(t, 1, s.ptys.SessionCount())
}

func TestTerminalRawTextFallback(t *testing.T) {
	_, ts, _ := newTestHTTP(t)
	conn := dialWS(t, ts.URL, "/ws/terminal")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "init", "dir": "/tmp", "cols": 80, "rows": 24,
	}))
	created := readTerminalJSON(t, conn)
	require.Equal(t, "session_created", created["type"])

	// Plain text is raw shell input.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("echo raw_fallback_ok\n")))
	out := collectOutput(t, conn, "raw_fallback_ok", 5*time.Second)
	assert.Contains(t, out, "raw_fallback_ok")
}
