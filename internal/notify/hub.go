// Package notify is the real-time push surface the wildcard
// notification relayer (spec.md 4.10) writes to. It is deliberately not
// the teacher's own pg_notify/LISTEN scheme (internal/eventbus already
// generalizes that for durable fan-out); this package is the thin
// addressable-socket layer sitting downstream of the relayer, grounded
// on gorilla/websocket's hub pattern as used for per-client registries
// in the retrieval pack's agent-facing servers.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub holds live websocket connections: a personal surface keyed by
// userId, and a singleton broadcast surface every connection joins
// (spec.md 4.10). It is safe for concurrent use; handlers never share
// mutable state outside it (spec.md 5).
type Hub struct {
	mu      sync.RWMutex
	byUser  map[string]map[*websocket.Conn]struct{}
	all     map[*websocket.Conn]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		byUser: make(map[string]map[*websocket.Conn]struct{}),
		all:    make(map[*websocket.Conn]struct{}),
	}
}

// Register adds conn to the hub under userID (empty if anonymous/broadcast-only).
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[conn] = struct{}{}
	if userID == "" {
		return
	}
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*websocket.Conn]struct{})
	}
	h.byUser[userID][conn] = struct{}{}
}

// Unregister removes conn from every surface it was joined to.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.all, conn)
	if userID != "" {
		delete(h.byUser[userID], conn)
	}
}

// SendToUser delivers msg to every connection registered for userID. A
// write failure on one connection does not affect others (spec.md 7's
// "isolated failures" policy generalized to push delivery).
func (h *Hub) SendToUser(userID string, msg any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	h.writeAll(conns, msg)
}

// Broadcast delivers msg to every connected client (spec.md 4.10).
func (h *Hub) Broadcast(msg any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.all))
	for c := range h.all {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	h.writeAll(conns, msg)
}

func (h *Hub) writeAll(conns []*websocket.Conn, msg any) {
	body, err := json.Marshal(msg)
	if err != nil {
		slog.Error("notify: marshaling push message failed", "error", err)
		return
	}
	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, body); err != nil {
			slog.Warn("notify: push write failed, skipping connection", "error", err)
		}
	}
}
