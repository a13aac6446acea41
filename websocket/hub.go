package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/r0xsh/spotizerr/types"
)

// Hub interface defines the methods for managing WebSocket connections
type Hub interface {
	Run()
	BroadcastQueue(msg types.QueueMessage)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
}

// hub maintains the set of active clients and broadcasts queue updates
// to them
type hub struct {
	// Registered clients mapped by record ID ("all" receives every update)
	clients map[string]map[*Client]bool

	// Broadcast channel for queue updates
	broadcast chan types.QueueMessage

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe operations
	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() Hub {
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan types.QueueMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main event loop
func (h *hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.recordID] == nil {
				h.clients[client.recordID] = make(map[*Client]bool)
			}
			h.clients[client.recordID][client] = true
			h.mu.Unlock()
			log.Printf("WebSocket client connected for record %s", client.recordID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.recordID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.recordID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected for record %s", client.recordID)

		case message := <-h.broadcast:
			h.mu.RLock()
			// Send to clients watching this specific record
			if clients, ok := h.clients[message.RecordID]; ok {
				for client := range clients {
					select {
					case client.send <- message:
					default:
						close(client.send)
						delete(clients, client)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, message.RecordID)
				}
			}

			// Also send to "all" clients for any queue update
			if allClients, ok := h.clients["all"]; ok {
				for client := range allClients {
					select {
					case client.send <- message:
					default:
						close(client.send)
						delete(allClients, client)
					}
				}
				if len(allClients) == 0 {
					delete(h.clients, "all")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastQueue sends a queue message to clients watching the record
// (and the "all" feed). The hub never blocks the queue: when the
// broadcast channel is full the message is dropped.
func (h *hub) BroadcastQueue(msg types.QueueMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case h.broadcast <- msg:
	default:
		log.Printf("WebSocket broadcast channel full, dropping message for record %s", msg.RecordID)
	}
}

// RegisterClient registers a new client with the hub
func (h *hub) RegisterClient(client *Client) {
	h.register <- client
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	h.unregister <- client
}
