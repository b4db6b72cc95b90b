package websocket

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"kestrel-chat-server/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrBufferFull is returned by Send when the outbound queue has no room,
// which marks the connection as too slow to keep.
var ErrBufferFull = errors.New("send buffer full")

// ConnLimits are the per-connection tunables applied at accept time.
type ConnLimits struct {
	MaxMessageSize int64
	SendBuffer     int
	RateBurst      int
	RateInterval   time.Duration
}

// Conn adapts a gorilla connection to domain.Connection.
type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	hub     domain.Broadcaster
	handler domain.EventHandler
	maxSize int64
	limiter *limiter
}

func NewConn(id string, ws *websocket.Conn, hub domain.Broadcaster, handler domain.EventHandler, limits ConnLimits) *Conn {
	return &Conn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, limits.SendBuffer),
		hub:     hub,
		handler: handler,
		maxSize: limits.MaxMessageSize,
		limiter: newLimiter(limits.RateBurst, limits.RateInterval),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) Start() {
	c.hub.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		// unregister first so presence sees the transport as gone
		c.hub.Unregister(c)
		c.handler.Disconnected(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.maxSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.allow() {
			slog.Warn("rate limit exceeded, frame dropped", "clientId", c.id)
			continue
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
