package server

import (
	"encoding/json"
	"log"
	"strings"
	"time"
)

// bridgeTimeout caps how long a request thread waits for the host to answer.
var bridgeTimeout = 10 * time.Second

// timeoutEnvelope is returned (HTTP 200 / WS text) when the host never
// replies in time.
func timeoutEnvelope() map[string]any {
	return map[string]any{"ok": false, "error": "Command timed out"}
}

// bridgeCommand forwards a JSON command string to the host's dispatcher on
// the executor loop and waits for the reply. The decoded result is always a
// JSON object: a JSON-object reply passes through, an empty reply becomes
// {ok:true}, and anything else is wrapped as {ok:true, result:<raw>}.
func (s *Server) bridgeCommand(cmd string) map[string]any {
	replyCh := make(chan string, 1)

	s.exec.Do(func() {
		s.bridge.HandleBridgeCommand(cmd, func(reply string) {
			select {
			case replyCh <- reply:
			default:
			}
		})
	})

	select {
	case reply := <-replyCh:
		return decodeBridgeReply(reply)
	case <-time.After(bridgeTimeout):
		log.Printf("[Bridge] Command timed out: %.120s", cmd)
		return timeoutEnvelope()
	}
}

// decodeBridgeReply normalizes a raw host reply into a JSON object.
func decodeBridgeReply(reply string) map[string]any {
	if strings.TrimSpace(reply) == "" {
		return map[string]any{"ok": true}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(reply), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"ok": true, "result": reply}
}

// correlate merges the request id (if any) into a bridge result and encodes
// it. Structured construction only; a reply containing quotes, backslashes,
// or newlines survives intact.
func correlate(result map[string]any, id any) []byte {
	if id != nil {
		result["id"] = id
	}
	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("[Bridge] Failed to encode reply: %v", err)
		return nil
	}
	return data
}
