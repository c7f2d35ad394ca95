package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

type Client struct {
	conn     *websocket.Conn
	playerID string
	mu       sync.Mutex
}

// Hub fans events out to connected websocket clients. Delivery is
// best-effort: a slow client or a full broadcast queue drops the message, and
// the next tick supersedes it.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// Envelope is the wire shape for every event.
type Envelope struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Recipient string      `json:"-"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[WS] Client connected: %s (Total: %d)", client.playerID, h.GetClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				log.Printf("[WS] Client disconnected: %s (Total: %d)", client.playerID, len(h.clients))
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			jsonMessage, err := json.Marshal(env)
			if err != nil {
				log.Printf("[WS] Marshal error: %v", err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if env.Recipient != "" && client.playerID != env.Recipient {
					continue
				}
				go client.Write(jsonMessage) // Non-blocking send
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast publishes an event to every connected client.
func (h *Hub) Broadcast(event string, data interface{}) {
	h.enqueue(Envelope{Event: event, Data: data})
}

// SendTo publishes an event to a single player's connections.
func (h *Hub) SendTo(playerID, event string, data interface{}) {
	h.enqueue(Envelope{Event: event, Data: data, Recipient: playerID})
}

func (h *Hub) enqueue(env Envelope) {
	select {
	case h.broadcast <- env:
	default:
		log.Println("[WS] Broadcast channel full, dropping message")
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Write is the only path to the connection. Hub fan-out and per-connection
// handler responses both go through it, serialized on the client mutex.
func (c *Client) Write(message []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		log.Printf("[WS] Write error for player %s: %v", c.playerID, err)
	}
}

// RegisterClient hands the connection to the hub and returns the client so
// the handler can write responses through the same serialized path.
func (h *Hub) RegisterClient(conn *websocket.Conn, playerID string) *Client {
	client := &Client{
		conn:     conn,
		playerID: playerID,
	}
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.mu.RLock()
	for client := range h.clients {
		if client.conn == conn {
			h.mu.RUnlock()
			h.unregister <- client
			return
		}
	}
	h.mu.RUnlock()
}
