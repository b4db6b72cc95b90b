package hub

import (
	"log/slog"
	"sync"

	"kestrel-chat-server/domain"
)

// Hub is the table of live connections keyed by identity. It implements
// domain.Broadcaster.
type Hub struct {
	conns map[string]domain.Connection
	mu    sync.RWMutex
}

func New() *Hub {
	return &Hub{
		conns: make(map[string]domain.Connection),
	}
}

func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	count := len(h.conns)
	h.mu.Unlock()

	slog.Info("client connected", "clientId", conn.ID(), "clients", count)
}

// Unregister removes conn from the table. A newer connection registered
// under the same identity is left untouched.
func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	cur, exists := h.conns[conn.ID()]
	if !exists || cur != conn {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn.ID())
	count := len(h.conns)
	h.mu.Unlock()

	slog.Info("client disconnected", "clientId", conn.ID(), "clients", count)
}

// SendTo delivers data to the connection with the given identity. It reports
// false when no such connection is live or the send fails.
func (h *Hub) SendTo(id string, data []byte) bool {
	h.mu.RLock()
	conn, exists := h.conns[id]
	h.mu.RUnlock()

	if !exists {
		return false
	}
	if err := conn.Send(data); err != nil {
		h.evict(conn, err)
		return false
	}
	return true
}

func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.conns {
		if err := conn.Send(data); err != nil {
			h.evict(conn, err)
		}
	}
}

func (h *Hub) BroadcastExcept(exceptID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, conn := range h.conns {
		if id == exceptID {
			continue
		}
		if err := conn.Send(data); err != nil {
			h.evict(conn, err)
		}
	}
}

func (h *Hub) Live(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, exists := h.conns[id]
	return exists
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// CloseAll closes every live connection. Used during server shutdown; the
// usual read-pump teardown unregisters each one.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]domain.Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// evict closes a connection whose send failed. Closing runs off the current
// goroutine because evict is called under h.mu and teardown re-enters the hub.
func (h *Hub) evict(conn domain.Connection, err error) {
	slog.Warn("send failed, closing connection", "clientId", conn.ID(), "error", err)
	go conn.Close()
}
