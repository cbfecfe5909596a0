// Package ws pushes the live detection view and loop events to browser
// clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pirwatch/internal/pipeline"
)

const writeWait = 10 * time.Second

// client serialises writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// DetectionHub manages WebSocket connections for real-time detection streaming
type DetectionHub struct {
	clients map[*websocket.Conn]*client
	mu      sync.RWMutex
}

// NewDetectionHub creates a new detection hub
func NewDetectionHub() *DetectionHub {
	return &DetectionHub{clients: make(map[*websocket.Conn]*client)}
}

// Register adds a connection
func (h *DetectionHub) Register(conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{conn: conn}
	h.clients[conn] = c
	log.Printf("[WS] Client registered (total: %d)", len(h.clients))
	return c
}

// Unregister removes a connection
func (h *DetectionHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		log.Printf("[WS] Client unregistered (total: %d)", len(h.clients))
	}
}

// HasClients returns true if any client is connected
func (h *DetectionHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// ClientCount returns the number of connected clients
func (h *DetectionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a text message to every client, dropping clients that
// fail to accept it.
func (h *DetectionHub) Broadcast(message []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, message); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.Unregister(c.conn)
			c.conn.Close()
		}
	}
}

// BroadcastJSON marshals msg and broadcasts it when anyone is listening.
func (h *DetectionHub) BroadcastJSON(msg interface{}) {
	if !h.HasClients() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}
	h.Broadcast(data)
}

// ForwardEvents broadcasts loop events from ch until ctx is done or ch is
// closed. Status events are skipped because frames carry the status.
func (h *DetectionHub) ForwardEvents(ctx context.Context, ch <-chan pipeline.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == pipeline.EventStatus {
				continue
			}
			h.BroadcastJSON(NewEventMessage(ev))
		}
	}
}

// CloseAll disconnects every client.
func (h *DetectionHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
