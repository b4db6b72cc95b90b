// Package presence tracks who is online, announces status transitions, and
// expires offline records after a grace period.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"kestrel-chat-server/domain"
	"kestrel-chat-server/registry"
)

var meter = otel.Meter("kestrel-chat-server/presence")

// graceTimer is one scheduled removal. gen ties the timer to the disconnect
// that armed it; generations are never reused.
type graceTimer struct {
	timer *time.Timer
	gen   uint64
}

// Manager owns all presence transitions. Operations on it are serialized, so
// status broadcasts observe a single consistent order.
type Manager struct {
	mu      sync.Mutex
	reg     *registry.Registry
	emitter domain.Emitter
	grace   time.Duration
	now     func() time.Time
	gen     uint64
	timers  map[string]graceTimer

	joins       metric.Int64Counter
	disconnects metric.Int64Counter
	expirations metric.Int64Counter
}

func New(reg *registry.Registry, emitter domain.Emitter, grace time.Duration) *Manager {
	m := &Manager{
		reg:     reg,
		emitter: emitter,
		grace:   grace,
		now:     time.Now,
		timers:  make(map[string]graceTimer),
	}
	m.joins, _ = meter.Int64Counter("chat_joins_total",
		metric.WithDescription("Join events accepted"))
	m.disconnects, _ = meter.Int64Counter("chat_disconnects_total",
		metric.WithDescription("Disconnects of joined identities"))
	m.expirations, _ = meter.Int64Counter("chat_presence_expirations_total",
		metric.WithDescription("Presence records removed after the grace period"))
	return m
}

// Join records the connection's identity as online under displayName, cancels
// any pending removal, announces the transition, and replies to the joiner
// with the roster in join order.
func (m *Manager) Join(conn domain.Connection, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := conn.ID()
	if pending, ok := m.timers[id]; ok {
		pending.timer.Stop()
		delete(m.timers, id)
	}

	m.reg.Put(id, registry.Record{DisplayName: displayName, Status: domain.StatusOnline})
	m.broadcastStatus(id, displayName, domain.StatusOnline)

	m.joins.Add(context.Background(), 1)
	slog.Info("identity joined", "clientId", id, "displayName", displayName)

	// The roster goes out before the lock is released, so a status change
	// processed after this join cannot reach the joiner ahead of its snapshot.
	m.sendRoster(conn)
}

// sendRoster delivers the roster to the joining connection only.
func (m *Manager) sendRoster(conn domain.Connection) {
	snap := m.reg.Snapshot()
	roster := make([]domain.RosterEntry, 0, len(snap))
	for _, e := range snap {
		roster = append(roster, domain.RosterEntry{
			Identity:    e.ID,
			DisplayName: e.Record.DisplayName,
			Status:      e.Record.Status,
		})
	}

	frame, err := domain.Encode(domain.EventRoster, roster)
	if err != nil {
		slog.Error("marshal roster", "clientId", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(frame); err != nil {
		slog.Warn("roster send failed", "clientId", conn.ID(), "error", err)
	}
}

// Disconnect marks id offline and schedules removal after the grace period.
// Identities that never joined have no record and are ignored.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.reg.Get(id)
	if !ok {
		return
	}

	rec.Status = domain.StatusOffline
	m.reg.Put(id, rec)
	m.broadcastStatus(id, rec.DisplayName, domain.StatusOffline)

	m.disconnects.Add(context.Background(), 1)
	slog.Info("identity disconnected", "clientId", id, "displayName", rec.DisplayName, "grace", m.grace)

	if pending, ok := m.timers[id]; ok {
		pending.timer.Stop()
	}

	// The closure captures gen by value; expire validates it under the lock.
	m.gen++
	gen := m.gen
	m.timers[id] = graceTimer{
		timer: time.AfterFunc(m.grace, func() { m.expire(id, gen) }),
		gen:   gen,
	}
}

// expire removes id's record once the grace period has elapsed. The generation
// guards against firing after a rejoin or a later disconnect has superseded
// this schedule.
func (m *Manager) expire(id string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	armed, ok := m.timers[id]
	if !ok || armed.gen != gen {
		return
	}
	delete(m.timers, id)

	if m.emitter.Live(id) {
		slog.Debug("expiry skipped, identity reconnected", "clientId", id)
		return
	}

	m.reg.Remove(id)
	m.expirations.Add(context.Background(), 1)
	slog.Info("presence record expired", "clientId", id)
}

func (m *Manager) broadcastStatus(id, displayName string, status domain.Status) {
	payload := domain.StatusChanged{
		Identity:    id,
		DisplayName: displayName,
		Status:      status,
		Timestamp:   m.now().UnixMilli(),
	}
	data, err := domain.Encode(domain.EventStatusChanged, payload)
	if err != nil {
		slog.Error("marshal status change", "clientId", id, "error", err)
		return
	}
	m.emitter.Broadcast(data)
}
