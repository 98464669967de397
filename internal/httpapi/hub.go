// Package httpapi exposes the sync protocol over HTTP: push and pull
// endpoints, the metadata round-trip, and the websocket poke channel.
package httpapi

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub fans a committed push out to the other websocket subscribers of the
// same map. A poke carries no data — it only tells clients to pull sooner
// than their timer would. Losing one is harmless; scaling this fan-out is
// deliberately not this type's problem.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]map[*websocket.Conn]bool
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[string]map[*websocket.Conn]bool),
	}
}

// Poke notifies every subscriber of mapID that new data exists.
// Implements server.Notifier.
func (h *Hub) Poke(mapID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.subs[mapID] {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("poke")); err != nil {
			h.logger.Debug("poke write failed, dropping subscriber", "map", mapID, "error", err)
			conn.Close()
			delete(h.subs[mapID], conn)
		}
	}
}

// Subscribe upgrades the request and parks the connection until the
// client goes away. The read loop exists only to observe disconnects;
// clients never send anything meaningful on this channel.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, mapID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("poke upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	if h.subs[mapID] == nil {
		h.subs[mapID] = make(map[*websocket.Conn]bool)
	}
	h.subs[mapID][conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs[mapID], conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// SubscriberCount returns the current subscriber count for a map.
func (h *Hub) SubscriberCount(mapID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[mapID])
}
