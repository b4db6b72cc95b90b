package websocket

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kestrel-chat-server/domain"
)

// Handler upgrades HTTP requests and hands each connection a fresh identity.
// Origin policy and connection limits can be swapped at runtime; changed
// limits apply to connections accepted afterwards.
type Handler struct {
	hub    domain.Broadcaster
	events domain.EventHandler

	mu     sync.RWMutex
	policy *OriginPolicy
	limits ConnLimits

	upgrader websocket.Upgrader
}

func NewHandler(hub domain.Broadcaster, events domain.EventHandler, origins []string, limits ConnLimits) *Handler {
	h := &Handler{
		hub:    hub,
		events: events,
		policy: NewOriginPolicy(origins),
		limits: limits,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) SetOrigins(origins []string) {
	policy := NewOriginPolicy(origins)
	h.mu.Lock()
	h.policy = policy
	h.mu.Unlock()
}

func (h *Handler) SetLimits(limits ConnLimits) {
	h.mu.Lock()
	h.limits = limits
	h.mu.Unlock()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	h.mu.RLock()
	policy := h.policy
	h.mu.RUnlock()

	origin := r.Header.Get("Origin")
	if policy.Allow(origin) {
		return true
	}
	slog.Warn("connection blocked by origin policy", "origin", origin, "remote", r.RemoteAddr)
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.mu.RLock()
	limits := h.limits
	h.mu.RUnlock()

	conn := NewConn(uuid.New().String(), ws, h.hub, h.events, limits)
	conn.Start()
}
