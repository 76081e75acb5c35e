package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lblod/contact-data-dispatcher-service/dispatch"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Hub fans dispatch lifecycle events out to WebSocket subscribers. Publishing
// never blocks: a subscriber that cannot keep up has events dropped.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool

	eventsDropped atomic.Uint64
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an event hub with no subscribers
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// events are one-way broadcast, any origin may subscribe
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
	}
}

// Publish broadcasts one event to every subscriber, dropping it for slow ones
func (h *Hub) Publish(event dispatch.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.eventsDropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EventsDropped returns the number of events dropped for slow subscribers
func (h *Hub) EventsDropped() uint64 {
	return h.eventsDropped.Load()
}

// Close disconnects every subscriber and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// handleConnection upgrades an HTTP request to a WebSocket subscription
func (h *Hub) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("event subscriber connected", "remote", r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)
}

// writePump serializes all writes to one connection
func (h *Hub) writePump(client *hubClient) {
	defer client.conn.Close()

	for data := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.disconnect(client)
			return
		}
	}

	_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
}

// readPump discards inbound frames and detects disconnects
func (h *Hub) readPump(client *hubClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.disconnect(client)
			return
		}
	}
}

func (h *Hub) disconnect(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	client.conn.Close()
}
