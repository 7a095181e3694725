// Package monitoring pushes storage status and bill list changes to
// websocket clients.
package monitoring

import (
	"context"
	"net/http"
	"sync"
	"time"

	"billbook-backend/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	EventStatus = "status"

	writeWait = 5 * time.Second
)

// Event is one message on the feed.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans events out to every connected websocket client. Slow or broken
// clients are dropped on the first failed write.
type Hub struct {
	log      *logger.Logger
	snapshot func() Event

	clients    map[*websocket.Conn]bool
	clientsMux sync.Mutex
	broadcast  chan Event
}

// NewHub creates a hub. snapshot, when set, produces the event sent to each
// client right after it connects.
func NewHub(snapshot func() Event, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		log:       log.Named("monitoring"),
		snapshot:  snapshot,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 64),
	}
}

// Publish queues an event. It never blocks; when the queue is full the event
// is dropped.
func (h *Hub) Publish(eventType string, data interface{}) {
	ev := Event{Type: eventType, Data: data, Timestamp: time.Now()}
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warnw("event queue full, dropping event", "type", eventType)
	}
}

// Run delivers queued events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	if h.snapshot != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(h.snapshot()); err != nil {
			conn.Close()
			return
		}
	}

	h.clientsMux.Lock()
	h.clients[conn] = true
	h.clientsMux.Unlock()

	// Keep connection alive; clients never send anything we act on.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()
}

func (h *Hub) deliver(ev Event) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteJSON(ev); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	for client := range h.clients {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		client.Close()
		delete(h.clients, client)
	}
}
