// Package router delivers chat messages, either directed at one identity or
// broadcast to everyone but the sender.
package router

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"kestrel-chat-server/domain"
	"kestrel-chat-server/registry"
)

var meter = otel.Meter("kestrel-chat-server/router")

// UnknownSender is the display name stamped on messages from identities
// without a presence record.
const UnknownSender = "Unknown"

type Router struct {
	reg     *registry.Registry
	emitter domain.Emitter
	now     func() time.Time
	routed  metric.Int64Counter
}

func New(reg *registry.Registry, emitter domain.Emitter) *Router {
	r := &Router{
		reg:     reg,
		emitter: emitter,
		now:     time.Now,
	}
	r.routed, _ = meter.Int64Counter("chat_messages_routed_total",
		metric.WithDescription("Chat messages routed, by delivery direction"))
	return r
}

// Route stamps text with the sender's display name and the server clock, then
// delivers it. A non-empty targetID addresses a single identity; delivery to
// an identity with no live connection is dropped without feedback. An empty
// targetID reaches everyone except the sender.
func (r *Router) Route(senderID, text, targetID string) {
	username := UnknownSender
	if rec, ok := r.reg.Get(senderID); ok {
		username = rec.DisplayName
	}

	payload := domain.MessageReceived{
		From:      senderID,
		Username:  username,
		Message:   text,
		IsPrivate: targetID != "",
		Timestamp: r.now().UnixMilli(),
	}
	data, err := domain.Encode(domain.EventMessageReceived, payload)
	if err != nil {
		slog.Error("marshal chat message", "from", senderID, "error", err)
		return
	}

	if targetID != "" {
		if !r.emitter.SendTo(targetID, data) {
			slog.Debug("directed message dropped, target not live", "from", senderID, "to", targetID)
		}
		r.routed.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("direction", "direct")))
		return
	}

	r.emitter.BroadcastExcept(senderID, data)
	r.routed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("direction", "broadcast")))
}
