package redis

import (
	"context"
	"testing"

	"github.com/ds124wfegd/tripseats/internal/database"
	"github.com/ds124wfegd/tripseats/internal/database/storetest"
	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SeatStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSeatStore(client, "tripseats:test:"), mr
}

func TestSeatStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) database.Store {
		store, _ := newTestStore(t)
		return store
	})
}

func TestSeatStoreKeepsHoldIndex(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	inv, err := store.CreateTrip(ctx, entity.NewInventory("trip-9", 4, 1000, testTime))
	require.NoError(t, err)
	assert.Equal(t, "trip-9", inv.TripID)
	assert.Equal(t, int64(1000), inv.Fare)

	hold := entity.Hold{
		ID:         "hold-1",
		TripID:     "trip-9",
		OwnerID:    "anon-1",
		SeatCount:  2,
		Passengers: entity.Passengers{{FirstName: "Ana", LastName: "Diaz"}, {FirstName: "Li", LastName: "Wu"}},
		CreatedAt:  testTime,
		ExpiresAt:  testTime.Add(testTTL),
	}
	_, err = store.TryHold(ctx, hold)
	require.NoError(t, err)

	members, err := mr.ZMembers("tripseats:test:holds:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"hold-1"}, members)

	stored, err := store.GetHold(ctx, "hold-1")
	require.NoError(t, err)
	assert.Equal(t, hold.ExpiresAt, stored.ExpiresAt)
	assert.Len(t, stored.Passengers, 2)

	_, err = store.ResolveHold(ctx, database.ResolveHoldInput{HoldID: "hold-1", To: entity.HoldStateExpired, At: hold.ExpiresAt})
	require.NoError(t, err)

	active, err := store.ListActiveHolds(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSeatStoreTryHoldRetryIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateTrip(ctx, entity.NewInventory("trip-9", 4, 1000, testTime))
	require.NoError(t, err)

	hold := entity.Hold{ID: "hold-1", TripID: "trip-9", OwnerID: "u1", SeatCount: 3, CreatedAt: testTime, ExpiresAt: testTime.Add(testTTL)}
	first, err := store.TryHold(ctx, hold)
	require.NoError(t, err)
	second, err := store.TryHold(ctx, hold)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, second.SeatsAvailable)
	assert.Equal(t, 3, second.SeatsHeld)
}

func TestSeatStoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, err := store.GetInventory(context.Background(), "trip-1")
	require.Error(t, err)
	assert.False(t, entity.IsBusiness(err))
}
