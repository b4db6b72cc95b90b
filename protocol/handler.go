package protocol

import (
	"encoding/json"
	"log/slog"
	"strings"

	"kestrel-chat-server/domain"
	"kestrel-chat-server/presence"
	"kestrel-chat-server/router"
)

// Handler decodes inbound envelopes and dispatches them to presence, routing,
// and typing. It implements domain.EventHandler.
type Handler struct {
	presence *presence.Manager
	router   *router.Router
	typing   *presence.TypingRelay
}

func NewHandler(p *presence.Manager, r *router.Router, t *presence.TypingRelay) *Handler {
	return &Handler{presence: p, router: r, typing: t}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("invalid frame", "clientId", conn.ID(), "error", err)
		return
	}

	switch env.Event {
	case domain.EventJoin:
		h.handleJoin(conn, env.Data)
	case domain.EventMessage:
		h.handleMessage(conn, env.Data)
	case domain.EventTyping:
		h.handleTyping(conn, env.Data)
	default:
		slog.Warn("unknown event", "clientId", conn.ID(), "event", env.Event)
	}
}

// Disconnected is called by the transport once a connection is gone.
func (h *Handler) Disconnected(conn domain.Connection) {
	h.presence.Disconnect(conn.ID())
}

func (h *Handler) handleJoin(conn domain.Connection, data []byte) {
	var req domain.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn("malformed join payload", "clientId", conn.ID(), "error", err)
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		slog.Warn("join rejected, empty display name", "clientId", conn.ID())
		return
	}

	h.presence.Join(conn, req.DisplayName)
}

func (h *Handler) handleMessage(conn domain.Connection, data []byte) {
	var req domain.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn("malformed chat payload", "clientId", conn.ID(), "error", err)
		return
	}
	if req.Message == "" {
		slog.Warn("chat message rejected, empty text", "clientId", conn.ID())
		return
	}

	h.router.Route(conn.ID(), req.Message, req.To)
}

func (h *Handler) handleTyping(conn domain.Connection, data []byte) {
	var req domain.TypingRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn("malformed typing payload", "clientId", conn.ID(), "error", err)
		return
	}

	h.typing.SetTyping(conn.ID(), req.IsTyping)
}
