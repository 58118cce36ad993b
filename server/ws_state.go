package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Deployed behind a trusted overlay network; any origin may connect.
		return true
	},
}

// stateClient is one /ws connection receiving broadcasts and sending
// commands.
type stateClient struct {
	srv  *Server
	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// handleStateWS upgrades /ws and runs the client's pumps.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] Upgrade error: %v", err)
		return
	}

	c := &stateClient{
		srv:  s,
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.exec.Do(func() {
		s.stateClients[c] = true
		log.Printf("[Hub] State client connected, total: %d", len(s.stateClients))
	})

	go c.writePump()
	c.readPump()
}

func (c *stateClient) readPump() {
	defer c.close()
	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] Read error: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handleText(message)
	}
}

func (c *stateClient) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// handleText filters pongs and forwards everything else to the command
// bridge, echoing the request id into the reply.
func (c *stateClient) handleText(message []byte) {
	var parsed map[string]any
	json.Unmarshal(message, &parsed)
	if t, ok := parsed["type"].(string); ok && t == "pong" {
		return
	}
	id := parsed["id"]

	// The bridge wait may take up to its timeout; keep it off the read loop.
	go func() {
		result := c.srv.bridgeCommand(string(message))
		if data := correlate(result, id); data != nil {
			c.enqueue(data)
		}
	}()
}

// enqueue pushes a frame to the client, dropping the connection when its
// buffer is full (slow or dead socket).
func (c *stateClient) enqueue(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		log.Printf("[Hub] State client buffer full, dropping connection")
		c.close()
	}
}

// close unregisters the client once and tears the socket down.
func (c *stateClient) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		c.srv.exec.Do(func() {
			if _, ok := c.srv.stateClients[c]; ok {
				delete(c.srv.stateClients, c)
				log.Printf("[Hub] State client disconnected, total: %d", len(c.srv.stateClients))
			}
		})
		c.conn.Close()
	})
}
