package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ActivityHub broadcasts engine events (ingests, maintenance runs) to
// connected websocket clients.
type ActivityHub struct {
	clients    map[*wsClient]bool
	broadcast  chan interface{}
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
}

type wsClient struct {
	hub  *ActivityHub
	conn *websocket.Conn
	send chan []byte
}

// ActivityEvent is the wire format broadcast to clients.
type ActivityEvent struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewActivityHub creates a hub; call Run in a goroutine to start it.
func NewActivityHub() *ActivityHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &ActivityHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan interface{}, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registration and broadcast events until Stop.
func (h *ActivityHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("server: websocket client connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("server: websocket client disconnected (total: %d)", count)

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("server: marshal websocket message: %v", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow client; drop it rather than block the hub.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts down the hub and disconnects all clients.
func (h *ActivityHub) Stop() {
	h.cancel()
	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for delivery, dropping it when the queue is full.
func (h *ActivityHub) Broadcast(eventType, message string) {
	ev := ActivityEvent{Type: eventType, Message: message, Timestamp: time.Now()}
	select {
	case h.broadcast <- ev:
	default:
		log.Println("server: websocket broadcast channel full, dropping event")
	}
}

// ServeHTTP upgrades the request to a websocket and attaches it to the hub.
func (h *ActivityHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: false,
	})
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) writePump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains client messages to detect disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
