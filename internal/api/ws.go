package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quantumlife/cadence/internal/logging"
)

const wsWriteTimeout = 10 * time.Second

// Frame is a single push message to a websocket consumer.
type Frame struct {
	Type    string      `json:"type"` // "status" or "recommendation"
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

// Hub fans status updates and recommendations out to connected
// websocket clients. Slow clients are dropped rather than allowed to
// stall the broadcast.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
	closed  bool

	log *logging.Logger
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan Frame
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Status pushes are not sensitive; any origin may subscribe.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
		log:     logging.WithField("component", "ws"),
	}
}

// HandleWS upgrades the request and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan Frame, 16),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.id] = client
	h.mu.Unlock()

	h.log.Debug("client %s connected", client.id)

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Broadcast sends a frame to every connected client.
func (h *Hub) Broadcast(frameType string, payload interface{}) {
	frame := Frame{Type: frameType, Payload: payload, SentAt: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		select {
		case client.send <- frame:
		default:
			// Client is not keeping up; cut it loose.
			h.log.Warn("dropping slow client %s", id)
			close(client.send)
			client.conn.Close()
			delete(h.clients, id)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, id)
	}
}

func (h *Hub) writeLoop(client *wsClient) {
	for frame := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := client.conn.WriteJSON(frame); err != nil {
			h.log.Debug("write to client %s failed: %v", client.id, err)
			h.unregister(client)
			return
		}
	}
}

// readLoop drains the connection so close frames are processed.
func (h *Hub) readLoop(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.unregister(client)
			return
		}
	}
}

func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.id]; ok {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client.id)
	}
}
