package presence

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"kestrel-chat-server/domain"
	"kestrel-chat-server/registry"
)

// TypingRelay fans a sender's typing state out to everyone else. Typing is
// ephemeral: nothing is stored, and events from identities without a presence
// record are dropped.
type TypingRelay struct {
	reg     *registry.Registry
	emitter domain.Emitter
	events  metric.Int64Counter
}

func NewTypingRelay(reg *registry.Registry, emitter domain.Emitter) *TypingRelay {
	t := &TypingRelay{reg: reg, emitter: emitter}
	t.events, _ = meter.Int64Counter("chat_typing_events_total",
		metric.WithDescription("Typing indicator events relayed"))
	return t
}

func (t *TypingRelay) SetTyping(id string, isTyping bool) {
	rec, ok := t.reg.Get(id)
	if !ok {
		slog.Debug("typing event dropped, identity never joined", "clientId", id)
		return
	}

	payload := domain.TypingStatus{
		Identity:    id,
		DisplayName: rec.DisplayName,
		IsTyping:    isTyping,
	}
	data, err := domain.Encode(domain.EventTypingStatus, payload)
	if err != nil {
		slog.Error("marshal typing status", "clientId", id, "error", err)
		return
	}

	t.emitter.BroadcastExcept(id, data)
	t.events.Add(context.Background(), 1)
}
