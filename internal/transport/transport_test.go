package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ds124wfegd/tripseats/internal/database/memory"
	"github.com/ds124wfegd/tripseats/internal/entity"
	"github.com/ds124wfegd/tripseats/internal/fanout"
	"github.com/ds124wfegd/tripseats/internal/governor"
	"github.com/ds124wfegd/tripseats/internal/service"
	"github.com/ds124wfegd/tripseats/internal/transport/middleware"
	"github.com/ds124wfegd/tripseats/pkg/auth"
	"github.com/ds124wfegd/tripseats/pkg/broker"
	"github.com/ds124wfegd/tripseats/pkg/clock"
	"github.com/ds124wfegd/tripseats/pkg/payment"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type emitted struct {
	mu     sync.Mutex
	events []broker.Event
}

func (e *emitted) Emit(event broker.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

type testEnv struct {
	srv      *httptest.Server
	clock    *clock.Manual
	verifier *auth.JWTVerifier
	hub      *fanout.Hub
	dlq      *broker.DeadLetters
	emitted  *emitted
}

func defaultGovernorConfig() governor.Config {
	return governor.Config{
		MaxConnectionsPerIdentity: 3,
		MaxAttempts:               100,
		AttemptWindow:             time.Minute,
		MaxRoomsPerConnection:     5,
		IdleTimeout:               time.Minute,
	}
}

func newTestEnv(t *testing.T, govCfg governor.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		clock:    clock.NewManual(time.Now()),
		verifier: auth.NewJWTVerifier(testSecret, ""),
		hub:      fanout.NewHub(),
		emitted:  &emitted{},
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	env.dlq = broker.NewDeadLetters(client, "test:dlq")

	store := memory.NewStore()
	notify := service.NewNotifier(env.hub, env.emitted)
	policy := service.NewStorePolicy(2, time.Millisecond, time.Millisecond)
	holds := service.NewHoldManager(store, env.clock, time.Minute, notify)
	bookings := service.NewBookingService(store, holds, payment.NewStatic("decline"), policy, notify, 10)
	refunds := service.NewRefundService(store, policy, env.clock, notify)
	gov := governor.New(env.verifier, clock.NewSystem(), govCfg)

	router := InitRoutes(
		RouterConfig{AllowOrigins: []string{"*"}, RequestTimeout: 5 * time.Second},
		gov,
		Handlers{
			Trips:    NewTripHandler(bookings),
			Bookings: NewBookingHandler(bookings),
			Refunds:  NewRefundHandler(refunds),
			Events:   NewEventHandler(env.dlq, env.emitted),
			WS:       NewWSHandler(gov, fanout.NewService(env.hub, bookings), 16),
			Health: NewHealthHandler("test", map[string]StatsProvider{
				"fanout":   func() interface{} { return env.hub.Stats() },
				"governor": func() interface{} { return gov.Stats() },
			}),
		},
	)

	env.srv = httptest.NewServer(router)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) token(t *testing.T, id, role string) string {
	t.Helper()
	token, err := e.verifier.Sign(entity.Identity{ID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

type request struct {
	method  string
	path    string
	token   string
	session string
	body    interface{}
}

func (e *testEnv) do(t *testing.T, r request, out interface{}) *http.Response {
	t.Helper()

	var body bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(r.body))
	}
	req, err := http.NewRequest(r.method, e.srv.URL+r.path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if r.session != "" {
		req.Header.Set(middleware.SessionHeader, r.session)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (e *testEnv) createTrip(t *testing.T, tripID string, seats int) {
	t.Helper()
	resp := e.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/trips",
		token:  e.token(t, "staff-1", entity.RoleStaff),
		body:   service.CreateTripRequest{TripID: tripID, TotalSeats: seats, Fare: 2500},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateTripRequiresStaff(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())

	var errResp ErrorResponse
	resp := env.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/trips",
		token:  env.token(t, "alice", entity.RoleCustomer),
		body:   service.CreateTripRequest{TripID: "trip-1", TotalSeats: 10},
	}, &errResp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", errResp.Code)

	env.createTrip(t, "trip-1", 10)

	resp = env.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/trips",
		token:  env.token(t, "staff-1", entity.RoleStaff),
		body:   service.CreateTripRequest{TripID: "trip-1", TotalSeats: 10},
	}, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "trip-exists", errResp.Code)
}

func TestAnonymousBookingFlow(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())
	env.createTrip(t, "trip-1", 10)

	var receipt service.HoldReceipt
	resp := env.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/bookings/hold",
		token:  "null",
		body:   service.HoldRequest{TripID: "trip-1", SeatCount: 3},
	}, &receipt)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	session := resp.Header.Get(middleware.SessionHeader)
	require.True(t, strings.HasPrefix(session, "anon-"))
	assert.Equal(t, session, receipt.Hold.OwnerID)
	assert.Equal(t, 7, receipt.Inventory.SeatsAvailable)

	// another anonymous client may not touch the hold
	resp = env.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/bookings/confirm",
		body:   service.ConfirmRequest{HoldID: receipt.Hold.ID},
	}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var booking entity.Booking
	resp = env.do(t, request{
		method:  http.MethodPost,
		path:    "/api/v1/bookings/confirm",
		session: session,
		body:    service.ConfirmRequest{HoldID: receipt.Hold.ID, Payment: payment.Info{Method: "card", Token: "tok"}},
	}, &booking)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(7500), booking.AmountPaid)

	var refund entity.RefundRequest
	resp = env.do(t, request{
		method:  http.MethodPost,
		path:    "/api/v1/bookings/cancel",
		session: session,
		body:    service.CancelRequest{BookingID: booking.ID, Reason: "sick"},
	}, &refund)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, booking.AmountPaid, refund.Amount)

	var inv entity.Inventory
	resp = env.do(t, request{method: http.MethodGet, path: "/api/v1/trips/trip-1/seats"}, &inv)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10, inv.SeatsAvailable)
}

func TestBookingErrorStatuses(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())
	env.createTrip(t, "trip-1", 4)
	token := env.token(t, "alice", entity.RoleCustomer)

	var receipt service.HoldReceipt
	resp := env.do(t, request{
		method: http.MethodPost, path: "/api/v1/bookings/hold", token: token,
		body: service.HoldRequest{TripID: "trip-1", SeatCount: 4},
	}, &receipt)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var errResp ErrorResponse
	resp = env.do(t, request{
		method: http.MethodPost, path: "/api/v1/bookings/hold", token: token,
		body: service.HoldRequest{TripID: "trip-1", SeatCount: 1},
	}, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "insufficient-seats", errResp.Code)

	resp = env.do(t, request{
		method: http.MethodPost, path: "/api/v1/bookings/confirm", token: token,
		body: service.ConfirmRequest{HoldID: receipt.Hold.ID, Payment: payment.Info{Token: "decline-card"}},
	}, &errResp)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	env.clock.Advance(time.Minute)
	resp = env.do(t, request{
		method: http.MethodPost, path: "/api/v1/bookings/confirm", token: token,
		body: service.ConfirmRequest{HoldID: receipt.Hold.ID},
	}, &errResp)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "hold-expired", errResp.Code)

	resp = env.do(t, request{method: http.MethodGet, path: "/api/v1/holds/missing", token: token}, &errResp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, request{method: http.MethodGet, path: "/api/v1/trips/nope/seats"}, &errResp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "trip-not-found", errResp.Code)

	resp = env.do(t, request{
		method: http.MethodPost, path: "/api/v1/bookings/hold", token: token,
		body: map[string]interface{}{"trip_id": "trip-1"},
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRefunds(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())
	env.createTrip(t, "trip-1", 10)
	alice := env.token(t, "alice", entity.RoleCustomer)
	staff := env.token(t, "staff-1", entity.RoleStaff)

	var receipt service.HoldReceipt
	env.do(t, request{method: http.MethodPost, path: "/api/v1/bookings/hold", token: alice,
		body: service.HoldRequest{TripID: "trip-1", SeatCount: 2}}, &receipt)
	var booking entity.Booking
	env.do(t, request{method: http.MethodPost, path: "/api/v1/bookings/confirm", token: alice,
		body: service.ConfirmRequest{HoldID: receipt.Hold.ID}}, &booking)
	var refund entity.RefundRequest
	env.do(t, request{method: http.MethodPost, path: "/api/v1/bookings/cancel", token: alice,
		body: service.CancelRequest{BookingID: booking.ID}}, &refund)
	require.NotEmpty(t, refund.ID)

	resp := env.do(t, request{method: http.MethodGet, path: "/api/v1/admin/refunds", token: alice}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var list struct {
		Refunds []entity.RefundRequest `json:"refunds"`
		Count   int                    `json:"count"`
	}
	resp = env.do(t, request{method: http.MethodGet, path: "/api/v1/admin/refunds?status=pending", token: staff}, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, list.Count)

	var errResp ErrorResponse
	resp = env.do(t, request{method: http.MethodPost, path: "/api/v1/admin/refunds/" + refund.ID + "/refund", token: staff}, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid-refund-state", errResp.Code)

	var updated entity.RefundRequest
	resp = env.do(t, request{method: http.MethodPost, path: "/api/v1/admin/refunds/" + refund.ID + "/confirm", token: staff}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, entity.RefundStatusConfirmed, updated.Status)

	resp = env.do(t, request{method: http.MethodPost, path: "/api/v1/admin/refunds/" + refund.ID + "/refund", token: staff}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, entity.RefundStatusRefunded, updated.Status)
}

func TestAdminFailedEvents(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())
	staff := env.token(t, "staff-1", entity.RoleStaff)

	event, err := broker.NewEvent("hold.expired", "trip-1", time.Now(), map[string]string{"hold_id": "h1"})
	require.NoError(t, err)
	require.NoError(t, env.dlq.Push(context.Background(), broker.FailedEvent{Event: event, Error: "broker down", FailedAt: time.Now()}))

	var list struct {
		Events []broker.FailedEvent `json:"events"`
		Stats  broker.DLQStats      `json:"stats"`
	}
	resp := env.do(t, request{method: http.MethodGet, path: "/api/v1/admin/events/failed", token: staff}, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Events, 1)
	assert.Equal(t, int64(1), list.Stats.QueueSize)

	resp = env.do(t, request{method: http.MethodPost, path: "/api/v1/admin/events/failed/" + event.ID + "/requeue", token: staff}, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, env.emitted.events, 1)
	assert.Equal(t, event.ID, env.emitted.events[0].ID)

	resp = env.do(t, request{method: http.MethodPost, path: "/api/v1/admin/events/failed/" + event.ID + "/requeue", token: staff}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, defaultGovernorConfig())

	var report map[string]interface{}
	resp := env.do(t, request{method: http.MethodGet, path: "/health"}, &report)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", report["status"])
	assert.Contains(t, report, "fanout")
	assert.Contains(t, report, "governor")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{entity.ErrInsufficientSeats, http.StatusConflict},
		{entity.ErrHoldExpired, http.StatusGone},
		{entity.ErrInventoryUnavailable, http.StatusServiceUnavailable},
		{entity.ErrBookingNotFound, http.StatusNotFound},
		{entity.ErrPaymentDeclined, http.StatusPaymentRequired},
		{entity.ErrForbidden, http.StatusForbidden},
		{entity.ErrInvalidInput, http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
