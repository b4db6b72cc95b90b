// Package domain holds the wire contract and the interfaces that decouple
// the transport layer from presence and routing logic.
package domain

import "encoding/json"

// Inbound event names (client to server).
const (
	EventJoin    = "join"
	EventMessage = "message"
	EventTyping  = "typing"
)

// Outbound event names (server to client).
const (
	EventStatusChanged   = "status_changed"
	EventRoster          = "roster"
	EventMessageReceived = "message_received"
	EventTypingStatus    = "typing_status"
)

// Status is the presence state of an identity.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest announces a display name for the sending connection.
type JoinRequest struct {
	DisplayName string `json:"displayName"`
}

// ChatRequest carries outbound chat text. An empty To means broadcast.
type ChatRequest struct {
	To      string `json:"to,omitempty"`
	Message string `json:"message"`
}

// TypingRequest toggles the sender's typing state.
type TypingRequest struct {
	IsTyping bool `json:"isTyping"`
}

// StatusChanged announces a presence transition to every client.
type StatusChanged struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	Status      Status `json:"status"`
	Timestamp   int64  `json:"timestamp"`
}

// RosterEntry is one row of the participant list sent to a joiner.
type RosterEntry struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	Status      Status `json:"status"`
}

// MessageReceived is a routed chat message as delivered to recipients.
type MessageReceived struct {
	From      string `json:"from"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	IsPrivate bool   `json:"isPrivate"`
	Timestamp int64  `json:"timestamp"`
}

// TypingStatus relays a peer's typing state.
type TypingStatus struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

// Encode marshals payload and wraps it in an Envelope for event.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Connection is a single live transport session.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Emitter is the send side of the connection table.
type Emitter interface {
	SendTo(id string, data []byte) bool
	Broadcast(data []byte)
	BroadcastExcept(exceptID string, data []byte)
	Live(id string) bool
}

// Broadcaster is the full connection table as seen by the transport layer.
type Broadcaster interface {
	Emitter
	Register(conn Connection)
	Unregister(conn Connection)
	Count() int
}

// EventHandler consumes inbound frames and transport lifecycle events.
type EventHandler interface {
	Handle(conn Connection, data []byte)
	Disconnected(conn Connection)
}
