package transport

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	decoder *json.Decoder
}

func (e *testEnv) dial(t *testing.T, token string) *wsClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}
	conn, err := websocket.Dial(wsURL, "", e.srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsClient{t: t, conn: conn, decoder: json.NewDecoder(conn)}
}

func (c *wsClient) send(frameType entity.FrameType, payload interface{}) {
	c.t.Helper()
	frame, err := entity.NewFrame(frameType, "", payload)
	require.NoError(c.t, err)
	require.NoError(c.t, websocket.JSON.Send(c.conn, frame))
}

func (c *wsClient) read() entity.Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var frame entity.Frame
	require.NoError(c.t, c.decoder.Decode(&frame))
	return frame
}

func (c *wsClient) expect(frameType entity.FrameType, payload interface{}) {
	c.t.Helper()
	frame := c.read()
	require.Equal(c.t, frameType, frame.Type, string(frame.Payload))
	if payload != nil {
		require.NoError(c.t, json.Unmarshal(frame.Payload, payload))
	}
}

func (c *wsClient) join(tripID string) entity.SeatUpdate {
	c.t.Helper()
	c.send(entity.FrameJoinTrip, entity.TripRequest{TripID: tripID})

	var joined entity.RoomJoinedPayload
	c.expect(entity.FrameRoomJoined, &joined)
	require.Equal(c.t, tripID, joined.TripID)

	var snapshot entity.SeatUpdate
	c.expect(entity.FrameSeatUpdate, &snapshot)
	return snapshot
}

func (c *wsClient) closed() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame entity.Frame
	return c.decoder.Decode(&frame) != nil
}

func TestWSConnectedAsAnonymous(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())

	for _, token := range []string{"", "null", "undefined", "not-a-jwt"} {
		client := env.dial(t, token)

		var connected entity.ConnectedPayload
		client.expect(entity.FrameConnected, &connected)
		assert.True(t, connected.Anonymous, token)
		assert.True(t, strings.HasPrefix(connected.IdentityID, "anon-"), token)
	}

	client := env.dial(t, env.token(t, "alice", entity.RoleCustomer))
	var connected entity.ConnectedPayload
	client.expect(entity.FrameConnected, &connected)
	assert.False(t, connected.Anonymous)
	assert.Equal(t, "alice", connected.IdentityID)
}

func TestWSSnapshotThenUpdates(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())
	env.createTrip(t, "trip-1", 10)

	client := env.dial(t, "")
	client.expect(entity.FrameConnected, nil)

	snapshot := client.join("trip-1")
	assert.Equal(t, 10, snapshot.Available)

	resp := env.do(t, request{
		method: http.MethodPost, path: "/api/v1/bookings/hold",
		token: env.token(t, "alice", entity.RoleCustomer),
		body:  service.HoldRequest{TripID: "trip-1", SeatCount: 4},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var update entity.SeatUpdate
	client.expect(entity.FrameSeatUpdate, &update)
	assert.Equal(t, 6, update.Available)
	assert.Equal(t, 4, update.Held)
	assert.Greater(t, update.Version, snapshot.Version)

	client.send(entity.FrameLeaveTrip, entity.TripRequest{TripID: "trip-1"})
	client.expect(entity.FrameRoomLeft, nil)

	client.send(entity.FramePing, nil)
	client.expect(entity.FramePong, nil)
	assert.Empty(t, env.hub.Members("trip-1"))
}

func TestWSJoinUnknownTrip(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())

	client := env.dial(t, "")
	client.expect(entity.FrameConnected, nil)

	client.send(entity.FrameJoinTrip, entity.TripRequest{TripID: "missing"})

	var payload entity.ErrorPayload
	client.expect(entity.FrameError, &payload)
	assert.Equal(t, "trip-not-found", payload.Code)
	assert.Empty(t, env.hub.Members("missing"))

	// the failed join holds no room slot and sent nothing else
	client.send(entity.FramePing, nil)
	client.expect(entity.FramePong, nil)

	client.send(entity.FrameType("dance"), nil)
	client.expect(entity.FrameError, &payload)
	assert.Equal(t, "unsupported-frame", payload.Code)
}

func TestWSConnectionLimitPerIdentity(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())
	token := env.token(t, "alice", entity.RoleCustomer)

	var clients []*wsClient
	for i := 0; i < 3; i++ {
		client := env.dial(t, token)
		client.expect(entity.FrameConnected, nil)
		clients = append(clients, client)
	}

	blocked := env.dial(t, token)
	var payload entity.ConnectionBlockedPayload
	blocked.expect(entity.FrameConnectionBlocked, &payload)
	assert.Equal(t, entity.BlockReasonConnectionLimit, payload.Reason)
	assert.True(t, blocked.closed())

	// existing connections are unaffected
	clients[0].send(entity.FramePing, nil)
	clients[0].expect(entity.FramePong, nil)

	// another identity is independent
	other := env.dial(t, env.token(t, "bob", entity.RoleCustomer))
	other.expect(entity.FrameConnected, nil)

	// closing a connection frees its slot
	require.NoError(t, clients[2].conn.Close())
	require.Eventually(t, func() bool {
		client := env.dial(t, token)
		return client.read().Type == entity.FrameConnected
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWSRoomLimit(t *testing.T) {
	cfg := defaultGovernorConfig()
	cfg.MaxRoomsPerConnection = 2
	env := newTestEnv(t, cfg)
	for _, id := range []string{"trip-1", "trip-2", "trip-3"} {
		env.createTrip(t, id, 5)
	}

	client := env.dial(t, "")
	client.expect(entity.FrameConnected, nil)
	client.join("trip-1")
	client.join("trip-2")

	client.send(entity.FrameJoinTrip, entity.TripRequest{TripID: "trip-3"})
	var payload entity.RoomLimitExceededPayload
	client.expect(entity.FrameRoomLimitExceeded, &payload)
	assert.Equal(t, "trip-3", payload.TripID)
	assert.Equal(t, 2, payload.Limit)

	// the connection stays open and may switch rooms
	client.send(entity.FrameLeaveTrip, entity.TripRequest{TripID: "trip-1"})
	client.expect(entity.FrameRoomLeft, nil)
	client.join("trip-3")
}

func TestWSRateLimitedBySource(t *testing.T) {
	cfg := defaultGovernorConfig()
	cfg.MaxAttempts = 2
	env := newTestEnv(t, cfg)

	for i := 0; i < 2; i++ {
		client := env.dial(t, "")
		client.expect(entity.FrameConnected, nil)
	}

	blocked := env.dial(t, "")
	var payload entity.ConnectionBlockedPayload
	blocked.expect(entity.FrameConnectionBlocked, &payload)
	assert.Equal(t, entity.BlockReasonRateLimited, payload.Reason)
	assert.True(t, blocked.closed())
}

func TestWSRateLimitIgnoresForwardedFor(t *testing.T) {
	cfg := defaultGovernorConfig()
	cfg.MaxAttempts = 2
	env := newTestEnv(t, cfg)
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"

	dialFrom := func(forwardedFor string) *wsClient {
		wsConfig, err := websocket.NewConfig(wsURL, env.srv.URL)
		require.NoError(t, err)
		wsConfig.Header.Set("X-Forwarded-For", forwardedFor)
		conn, err := websocket.DialConfig(wsConfig)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return &wsClient{t: t, conn: conn, decoder: json.NewDecoder(conn)}
	}

	dialFrom("203.0.113.1").expect(entity.FrameConnected, nil)
	dialFrom("203.0.113.2").expect(entity.FrameConnected, nil)

	blocked := dialFrom("203.0.113.3")
	var payload entity.ConnectionBlockedPayload
	blocked.expect(entity.FrameConnectionBlocked, &payload)
	assert.Equal(t, entity.BlockReasonRateLimited, payload.Reason)
}

func TestWSIdleTimeout(t *testing.T) {
	cfg := defaultGovernorConfig()
	cfg.IdleTimeout = 150 * time.Millisecond
	env := newTestEnv(t, cfg)

	client := env.dial(t, "")
	client.expect(entity.FrameConnected, nil)

	var payload entity.ConnectionBlockedPayload
	client.expect(entity.FrameConnectionBlocked, &payload)
	assert.Equal(t, entity.BlockReasonIdle, payload.Reason)
	assert.True(t, client.closed())
}
