package chatws

import (
	"encoding/json"
	"log"

	websocket "github.com/gofiber/contrib/websocket"
)

// Hub fans committed chat messages out to connected participants. It is a
// delivery feed only: sends go through the HTTP API, never through the socket,
// so the hub holds no locks shared with the write path.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
}

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	subjectID string
	send      chan []byte
}

type Event struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	SenderID    string `json:"sender_id"`
	SenderType  string `json:"sender_type,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 64),
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, subjectID string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		subjectID: subjectID,
		send:      make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.subjectID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.subjectID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.subjectID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.subjectID)
			}
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast queues an event for both participants. Non-blocking from the
// caller's perspective apart from channel buffering.
func (h *Hub) Broadcast(event *Event) {
	h.broadcast <- event
}

func (h *Hub) deliver(event *Event) {
	encoded, err := json.Marshal(event)
	if err != nil {
		log.Printf("chat hub encode event: %v", err)
		return
	}

	h.sendToSubject(event.SenderID, encoded)
	if event.RecipientID != "" && event.RecipientID != event.SenderID {
		h.sendToSubject(event.RecipientID, encoded)
	}
}

func (h *Hub) sendToSubject(subjectID string, payload []byte) {
	set, ok := h.clients[subjectID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- payload:
		default:
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, subjectID)
	}
}

// ReadPump drains inbound frames until the peer disconnects. Clients have
// nothing to say on this socket; reading is only how we notice the close.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
