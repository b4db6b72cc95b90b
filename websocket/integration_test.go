package websocket_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel-chat-server/domain"
	"kestrel-chat-server/hub"
	"kestrel-chat-server/presence"
	"kestrel-chat-server/protocol"
	"kestrel-chat-server/registry"
	"kestrel-chat-server/router"
	ws "kestrel-chat-server/websocket"
)

type testServer struct {
	srv     *httptest.Server
	reg     *registry.Registry
	hub     *hub.Hub
	handler *ws.Handler
}

func newTestServer(t *testing.T, grace time.Duration, origins []string, limits ws.ConnLimits) *testServer {
	t.Helper()

	reg := registry.New()
	h := hub.New()
	pm := presence.New(reg, h, grace)
	rt := router.New(reg, h)
	ty := presence.NewTypingRelay(reg, h)
	events := protocol.NewHandler(pm, rt, ty)
	handler := ws.NewHandler(h, events, origins, limits)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, reg: reg, hub: h, handler: handler}
}

func defaultLimits() ws.ConnLimits {
	return ws.ConnLimits{MaxMessageSize: 4096, SendBuffer: 256}
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := domain.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// readEvent consumes frames until one carries the wanted event, skipping
// anything else that arrived in between.
func readEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", event)
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Event == event {
			return env.Data
		}
	}
}

// expectNoEvent drains frames briefly and fails if one carries the event.
// The read deadline corrupts the connection, so this must be the last use.
func expectNoEvent(t *testing.T, conn *websocket.Conn, event string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env domain.Envelope
		if json.Unmarshal(data, &env) == nil && env.Event == event {
			t.Fatalf("unexpected %q frame: %s", event, data)
		}
	}
}

// join announces displayName on conn and returns the identity the server
// assigned, located in the returned roster.
func join(t *testing.T, conn *websocket.Conn, displayName string) string {
	t.Helper()
	send(t, conn, domain.EventJoin, domain.JoinRequest{DisplayName: displayName})

	data := readEvent(t, conn, domain.EventRoster)
	var roster []domain.RosterEntry
	require.NoError(t, json.Unmarshal(data, &roster))

	var id string
	for _, e := range roster {
		if e.DisplayName == displayName && e.Status == domain.StatusOnline {
			require.Empty(t, id, "ambiguous roster for %q", displayName)
			id = e.Identity
		}
	}
	require.NotEmpty(t, id, "joiner missing from its own roster")
	return id
}

func decodeStatus(t *testing.T, data json.RawMessage) domain.StatusChanged {
	t.Helper()
	var payload domain.StatusChanged
	require.NoError(t, json.Unmarshal(data, &payload))
	return payload
}

func decodeMessage(t *testing.T, data json.RawMessage) domain.MessageReceived {
	t.Helper()
	var payload domain.MessageReceived
	require.NoError(t, json.Unmarshal(data, &payload))
	return payload
}

func TestJoinDeliversRosterAndAnnouncesPresence(t *testing.T) {
	ts := newTestServer(t, time.Minute, nil, defaultLimits())

	alice := ts.dial(t)
	aliceID := join(t, alice, "Alice")

	bob := ts.dial(t)
	send(t, bob, domain.EventJoin, domain.JoinRequest{DisplayName: "Bob"})

	data := readEvent(t, bob, domain.EventRoster)
	var roster []domain.RosterEntry
	require.NoError(t, json.Unmarshal(data, &roster))
	require.Len(t, roster, 2, "roster holds everyone in join order")
	assert.Equal(t, aliceID, roster[0].Identity)
	assert.Equal(t, "Alice", roster[0].DisplayName)
	assert.Equal(t, domain.StatusOnline, roster[0].Status)
	assert.Equal(t, "Bob", roster[1].DisplayName)

	status := decodeStatus(t, readEvent(t, alice, domain.EventStatusChanged))
	assert.Equal(t, roster[1].Identity, status.Identity)
	assert.Equal(t, "Bob", status.DisplayName)
	assert.Equal(t, domain.StatusOnline, status.Status)
	assert.Positive(t, status.Timestamp)
}

func TestBroadcastMessageReachesEveryoneButSender(t *testing.T) {
	ts := newTestServer(t, time.Minute, nil, defaultLimits())

	alice := ts.dial(t)
	aliceID := join(t, alice, "Alice")
	bob := ts.dial(t)
	join(t, bob, "Bob")
	cara := ts.dial(t)
	join(t, cara, "Cara")

	send(t, alice, domain.EventMessage, domain.ChatRequest{Message: "hello all"})

	for _, conn := range []*websocket.Conn{bob, cara} {
		msg := decodeMessage(t, readEvent(t, conn, domain.EventMessageReceived))
		assert.Equal(t, aliceID, msg.From)
		assert.Equal(t, "Alice", msg.Username)
		assert.Equal(t, "hello all", msg.Message)
		assert.False(t, msg.IsPrivate)
		assert.Positive(t, msg.Timestamp)
	}

	expectNoEvent(t, alice, domain.EventMessageReceived)
}

func TestDirectedMessageReachesOnlyTarget(t *testing.T) {
	ts := newTestServer(t, time.Minute, nil, defaultLimits())

	alice := ts.dial(t)
	aliceID := join(t, alice, "Alice")
	bob := ts.dial(t)
	bobID := join(t, bob, "Bob")
	cara := ts.dial(t)
	join(t, cara, "Cara")

	send(t, alice, domain.EventMessage, domain.ChatRequest{To: bobID, Message: "psst"})

	msg := decodeMessage(t, readEvent(t, bob, domain.EventMessageReceived))
	assert.Equal(t, aliceID, msg.From)
	assert.Equal(t, "psst", msg.Message)
	assert.True(t, msg.IsPrivate)

	expectNoEvent(t, cara, domain.EventMessageReceived)
	expectNoEvent(t, alice, domain.EventMessageReceived)
}

func TestDirectedMessageToUnknownIdentityIsSilent(t *testing.T) {
	ts := newTestServer(t, time.Minute, nil, defaultLimits())

	alice := ts.dial(t)
	join(t, alice, "Alice")
	bob := ts.dial(t)
	join(t, bob, "Bob")

	send(t, alice, domain.EventMessage, domain.ChatRequest{To: "no-such-identity", Message: "anyone?"})

	expectNoEvent(t, bob, domain.EventMessageReceived)
	expectNoEvent(t, alice, domain.EventMessageReceived)
}

func TestTypingRelayedToEveryoneButSender(t *testing.T) {
	ts := newTestServer(t, time.Minute, nil, defaultLimits())

	alice := ts.dial(t)
	aliceID := join(t, alice, "Alice")
	bob := ts.dial(t)
	join(t, bob, "Bob")

	send(t, alice, domain.EventTyping, domain.TypingRequest{IsTyping: true})

	data := readEvent(t, bob, domain.EventTypingStatus)
	var typing domain.TypingStatus
	require.NoError(t, json.Unmarshal(data, &typing))
	assert.Equal(t, aliceID, typing.Identity)
	assert.Equal(t, "Alice", typing.DisplayName)
	assert.True(t, typing.IsTyping)

	expectNoEvent(t, alice, domain.EventTypingStatus)
}

func TestTypingBeforeJoinIsDropped(t *testing.T) {
	ts := newTestServer(t, time.Minute, nil, defaultLimits())

	lurker := ts.dial(t)
	bob := ts.dial(t)
	join(t, bob, "Bob")

	send(t, lurker, domain.EventTyping, domain.TypingRequest{IsTyping: true})

	expectNoEvent(t, bob, domain.EventTypingStatus)
}

func TestUnjoinedConnectionSeesTrafficButStaysInvisible(t *testing.T) {
	ts := newTestServer(t, time.Minute, nil, defaultLimits())

	lurker := ts.dial(t)

	alice := ts.dial(t)
	join(t, alice, "Alice")

	// the lurker receives presence traffic like any other socket
	status := decodeStatus(t, readEvent(t, lurker, domain.EventStatusChanged))
	assert.Equal(t, "Alice", status.DisplayName)

	// but never appears in a roster
	bob := ts.dial(t)
	send(t, bob, domain.EventJoin, domain.JoinRequest{DisplayName: "Bob"})
	data := readEvent(t, bob, domain.EventRoster)
	var roster []domain.RosterEntry
	require.NoError(t, json.Unmarshal(data, &roster))
	assert.Len(t, roster, 2)
}

func TestDisconnectAnnouncedThenRecordExpires(t *testing.T) {
	ts := newTestServer(t, 100*time.Millisecond, nil, defaultLimits())

	alice := ts.dial(t)
	aliceID := join(t, alice, "Alice")
	bob := ts.dial(t)
	join(t, bob, "Bob")

	require.NoError(t, alice.Close())

	status := decodeStatus(t, readEvent(t, bob, domain.EventStatusChanged))
	assert.Equal(t, aliceID, status.Identity)
	assert.Equal(t, domain.StatusOffline, status.Status)

	assert.Eventually(t, func() bool { return ts.hub.Count() == 1 }, 2*time.Second, 20*time.Millisecond,
		"closed connection leaves the hub")

	// the record survives until the grace period runs out
	rec, ok := ts.reg.Get(aliceID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusOffline, rec.Status)

	assert.Eventually(t, func() bool {
		_, ok := ts.reg.Get(aliceID)
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReconnectGetsFreshIdentityWhileOldRecordExpires(t *testing.T) {
	ts := newTestServer(t, 100*time.Millisecond, nil, defaultLimits())

	alice := ts.dial(t)
	oldID := join(t, alice, "Alice")
	require.NoError(t, alice.Close())

	again := ts.dial(t)
	newID := join(t, again, "Alice")
	assert.NotEqual(t, oldID, newID, "identities are per connection")

	assert.Eventually(t, func() bool {
		_, ok := ts.reg.Get(oldID)
		return !ok
	}, 2*time.Second, 20*time.Millisecond)

	rec, ok := ts.reg.Get(newID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusOnline, rec.Status)
}

func TestOriginPolicyEnforcedAtUpgrade(t *testing.T) {
	ts := newTestServer(t, time.Minute, []string{"https://chat.example.com"}, defaultLimits())

	// disallowed origin is refused during the handshake
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// allowed origin connects
	header = http.Header{"Origin": []string{"https://chat.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), header)
	require.NoError(t, err)
	conn.Close()

	// clients without an Origin header connect too
	conn2 := ts.dial(t)
	conn2.Close()
}

func TestOriginPolicyHotSwap(t *testing.T) {
	ts := newTestServer(t, time.Minute, []string{"https://chat.example.com"}, defaultLimits())

	header := http.Header{"Origin": []string{"https://staging.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	ts.handler.SetOrigins([]string{"https://chat.example.com", "https://staging.example.com"})

	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL(), header)
	require.NoError(t, err, "origin admitted after policy swap")
	conn.Close()
}

func TestRateLimitDropsExcessFrames(t *testing.T) {
	limits := defaultLimits()
	limits.RateBurst = 2
	limits.RateInterval = 10 * time.Second
	ts := newTestServer(t, time.Minute, nil, limits)

	alice := ts.dial(t)
	join(t, alice, "Alice") // first token
	bob := ts.dial(t)
	join(t, bob, "Bob")

	send(t, alice, domain.EventMessage, domain.ChatRequest{Message: "first"})  // second token
	send(t, alice, domain.EventMessage, domain.ChatRequest{Message: "second"}) // over budget

	msg := decodeMessage(t, readEvent(t, bob, domain.EventMessageReceived))
	assert.Equal(t, "first", msg.Message)

	expectNoEvent(t, bob, domain.EventMessageReceived)
}
