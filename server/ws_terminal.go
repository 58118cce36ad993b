package server

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"

	"cmux-remote-backend/ptyterm"
)

// termClient is one /ws/terminal connection. It implements ptyterm.Client so
// the session's read pump can deliver output directly. Writes are serialized
// because the pump and the handler reply concurrently.
type termClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// SendText implements ptyterm.Client.
func (c *termClient) SendText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (c *termClient) sendJSON(v map[string]any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Terminal] Failed to encode frame: %v", err)
		return
	}
	c.SendText(string(data))
}

// termMessage is the union of all client→server terminal frames.
type termMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Dir       string `json:"dir"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
	Tmux      string `json:"tmux"`
	Data      string `json:"data"`
}

// handleTerminalWS upgrades /ws/terminal and runs the per-client state
// machine: unattached clients may init or reconnect; attached clients stream
// input and resizes.
func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Terminal] Upgrade error: %v", err)
		return
	}

	c := &termClient{conn: conn}
	defer func() {
		s.ptys.Detach(c)
		conn.Close()
	}()

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if session := s.ptys.SessionFor(c); session != nil {
			s.handleAttachedMessage(c, session, message)
		} else {
			s.handleUnattachedMessage(c, message)
		}
	}
}

// handleUnattachedMessage accepts init or reconnect; anything else is an
// error frame and the client stays unattached.
func (s *Server) handleUnattachedMessage(c *termClient, message []byte) {
	var msg termMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
		c.sendJSON(map[string]any{"error": "Expected init or reconnect message"})
		return
	}

	switch msg.Type {
	case "reconnect":
		if s.ptys.FindOrphanByID(msg.SessionID) != nil && s.ptys.Reattach(msg.SessionID, c) {
			c.sendJSON(map[string]any{"type": "reconnected", "sessionId": msg.SessionID})
			return
		}
		c.sendJSON(map[string]any{"type": "reconnect_failed"})

	case "init":
		s.handleInit(c, msg)

	default:
		c.sendJSON(map[string]any{"error": "Expected init or reconnect message"})
	}
}

// handleInit reattaches a matching orphan (by tmux name, then by working
// directory) or spawns a fresh session.
func (s *Server) handleInit(c *termClient, msg termMessage) {
	dir := msg.Dir
	if dir == "" {
		dir, _ = os.UserHomeDir()
	} else if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir, _ = os.UserHomeDir()
	}
	cols, rows := msg.Cols, msg.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	if msg.Tmux != "" {
		if orphan := s.ptys.FindOrphanByTmux(msg.Tmux); orphan != nil && s.ptys.Reattach(orphan.ID, c) {
			c.sendJSON(map[string]any{"type": "reconnected", "sessionId": orphan.ID})
			return
		}
	}
	for _, orphan := range s.ptys.FindOrphansByDir(dir) {
		if s.ptys.Reattach(orphan.ID, c) {
			c.sendJSON(map[string]any{"type": "reconnected", "sessionId": orphan.ID})
			return
		}
	}

	session, err := s.ptys.CreateFor(c, dir, cols, rows, msg.Tmux)
	if err != nil {
		log.Printf("[Terminal] Spawn failed: %v", err)
		c.SendText("\r\n[Failed to create terminal: " + err.Error() + "]\r\n")
		return
	}
	c.sendJSON(map[string]any{"type": "session_created", "sessionId": session.ID})
}

// handleAttachedMessage dispatches input/resize/pong; payloads that are not
// JSON objects are raw shell input, and JSON objects without a string type
// are ignored.
func (s *Server) handleAttachedMessage(c *termClient, session *ptyterm.Session, message []byte) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(message, &obj); err != nil {
		if err := session.Write(string(message)); err != nil {
			log.Printf("[Terminal] Write error: %v", err)
		}
		return
	}

	var msg termMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Type == "" {
		// JSON object without a usable type; nothing to dispatch.
		return
	}

	switch msg.Type {
	case "input":
		if err := session.Write(msg.Data); err != nil {
			log.Printf("[Terminal] Write error: %v", err)
		}
	case "resize":
		if err := session.Resize(msg.Cols, msg.Rows); err != nil {
			log.Printf("[Terminal] Resize error: %v", err)
		}
	case "pong":
		// keepalive, nothing to do
	default:
		// unknown types are ignored while attached
	}
}
