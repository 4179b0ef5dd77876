package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"roombook/internal/cache"
	"roombook/internal/domain"
	"roombook/internal/models"
	"roombook/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = "2025-03-10"

func TestGetAvailability_MarksOccupiedSlots(t *testing.T) {
	f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))

	a, err := f.availability.GetAvailability(context.Background(), AvailabilityQuery{Date: day})
	require.NoError(t, err)

	assert.Equal(t, day, a.Date)
	assert.False(t, a.Stale)
	assert.False(t, a.Degraded)
	require.Len(t, a.Occupied, 1)
	assert.Equal(t, "09:00:00", a.Occupied[0].StartTime.String())
	require.Len(t, a.Slots, 20)

	for _, slot := range a.Slots {
		busy := slot.StartTime.String() == "09:00:00" || slot.StartTime.String() == "09:30:00"
		assert.Equal(t, !busy, slot.Available, "slot %s", slot.StartTime)
		if busy {
			require.NotNil(t, slot.Reservation)
			assert.Equal(t, a.Occupied[0].ID, slot.Reservation.ID)
		}
	}
}

func TestGetAvailability_RejectsBadDate(t *testing.T) {
	f := newFixture(t, newFakeStore())

	for _, date := range []string{"", "10.03.2025", "2025-3-10", "2025-02-30"} {
		_, err := f.availability.GetAvailability(context.Background(), AvailabilityQuery{Date: date})
		var ve *domain.ValidationError
		assert.ErrorAs(t, err, &ve, "date %q", date)
	}
	list, _ := f.store.calls()
	assert.Zero(t, list)
}

func TestGetAvailability_ServesFromCacheWithinTTL(t *testing.T) {
	f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))
	ctx := context.Background()

	_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
	require.NoError(t, err)

	f.clock.Add(2 * time.Minute)
	_, err = f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
	require.NoError(t, err)
	list, _ := f.store.calls()
	assert.Equal(t, 1, list)

	f.clock.Add(2 * time.Minute)
	_, err = f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
	require.NoError(t, err)
	list, _ = f.store.calls()
	assert.Equal(t, 2, list, "entry older than the online TTL must be refetched")
}

func TestGetAvailability_OfflineWidensTTL(t *testing.T) {
	ctx := context.Background()

	t.Run("client reports offline", func(t *testing.T) {
		f := newFixture(t, newFakeStore())
		_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)

		f.clock.Add(10 * time.Minute)
		_, err = f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day, ClientOffline: true})
		require.NoError(t, err)
		list, _ := f.store.calls()
		assert.Equal(t, 1, list)
	})

	t.Run("store marked offline", func(t *testing.T) {
		f := newFixture(t, newFakeStore())
		_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)

		f.conn.StoreExhausted("list_reservations", errTransient)
		f.clock.Add(10 * time.Minute)
		_, err = f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)
		list, _ := f.store.calls()
		assert.Equal(t, 1, list)
	})
}

func TestGetAvailability_ResourcesAreCachedSeparately(t *testing.T) {
	room := reservation(day, "09:00", "10:00")
	room.ResourceKey = "room-b"
	f := newFixture(t, newFakeStore(room))
	ctx := context.Background()

	a, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
	require.NoError(t, err)
	assert.Empty(t, a.Occupied)

	b, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day, ResourceKey: " room-b "})
	require.NoError(t, err)
	assert.Equal(t, "room-b", b.ResourceKey)
	assert.Len(t, b.Occupied, 1)
}

func TestGetAvailability_StoreTimesOut(t *testing.T) {
	ctx := context.Background()

	t.Run("stale cache entry is served", func(t *testing.T) {
		f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))
		_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)

		f.clock.Add(time.Hour)
		f.store.listHook = blockUntilTimeout

		a, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)
		assert.True(t, a.Stale)
		assert.False(t, a.Degraded)
		require.Len(t, a.Occupied, 1)
		assert.True(t, f.conn.Offline())

		list, _ := f.store.calls()
		assert.Equal(t, 4, list, "one successful read plus three timed out attempts")
	})

	t.Run("empty day when nothing is cached", func(t *testing.T) {
		store := newFakeStore(reservation(day, "09:00", "10:00"))
		store.listHook = blockUntilTimeout
		f := newFixture(t, store)

		a, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)
		assert.True(t, a.Degraded)
		assert.NotNil(t, a.Occupied)
		assert.Empty(t, a.Occupied)
		for _, slot := range a.Slots {
			assert.True(t, slot.Available)
		}

		occupied, degraded, err := f.availability.OccupiedSlots(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)
		assert.True(t, degraded)
		assert.Empty(t, occupied)
	})

	t.Run("store recovers", func(t *testing.T) {
		store := newFakeStore()
		store.listHook = blockUntilTimeout
		f := newFixture(t, store)

		_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)
		require.True(t, f.conn.Offline())

		store.mu.Lock()
		store.listHook = nil
		store.mu.Unlock()

		a, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)
		assert.False(t, a.Degraded)
		assert.False(t, f.conn.Offline())
	})
}

func TestGetAvailability_CoalescesConcurrentMisses(t *testing.T) {
	store := newFakeStore(reservation(day, "09:00", "10:00"))
	gate := make(chan struct{})
	store.listHook = func(ctx context.Context) error {
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := newFixture(t, store)
	exec := retry.NewExecutor(retry.Policy{Timeout: 5 * time.Second, MaxAttempts: 1}, nil)
	svc, err := NewAvailabilityService(store, f.cache, exec, f.conn, AvailabilityOptions{
		Slots: models.DefaultSlotConfig(),
		Clock: f.clock,
	}, nil)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.Availability, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := svc.GetAvailability(context.Background(), AvailabilityQuery{Date: day})
			assert.NoError(t, err)
			results[i] = a
		}(i)
	}

	require.Eventually(t, func() bool {
		list, _ := store.calls()
		return list == 1
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	list, _ := store.calls()
	assert.Equal(t, 1, list)
	for _, a := range results {
		require.NotNil(t, a)
		assert.Len(t, a.Occupied, 1)
	}
}

func TestGetAvailability_BookingDuringComputeIsNotMasked(t *testing.T) {
	store := newFakeStore()
	f := newFixture(t, store)
	exec := retry.NewExecutor(retry.Policy{Timeout: 5 * time.Second, MaxAttempts: 1}, nil)
	svc, err := NewAvailabilityService(store, f.cache, exec, f.conn, AvailabilityOptions{
		Slots: models.DefaultSlotConfig(),
		Clock: f.clock,
	}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	read := make(chan struct{})
	release := make(chan struct{})
	var held atomic.Bool
	store.afterList = func() {
		if held.CompareAndSwap(false, true) {
			close(read)
			<-release
		}
	}

	done := make(chan *models.Availability)
	go func() {
		a, err := svc.GetAvailability(ctx, AvailabilityQuery{Date: day})
		assert.NoError(t, err)
		done <- a
	}()
	<-read

	_, err = f.booking.Book(ctx, input(day, "09:00", "10:00"))
	require.NoError(t, err)

	after, err := svc.GetAvailability(ctx, AvailabilityQuery{Date: day})
	require.NoError(t, err)
	assert.Len(t, after.Occupied, 1, "reader after the booking must not join the older compute")

	close(release)
	before := <-done
	assert.Empty(t, before.Occupied)

	entry, ok := f.cache.Get(ctx, cache.Key(day, ""), false)
	require.True(t, ok)
	assert.Len(t, entry.Payload.Occupied, 1, "older compute must not overwrite the cache")

	f.clock.Add(time.Second)
	again, err := svc.GetAvailability(ctx, AvailabilityQuery{Date: day})
	require.NoError(t, err)
	assert.Len(t, again.Occupied, 1)
}

func TestGetAvailability_PrefetchesNextDay(t *testing.T) {
	store := newFakeStore(reservation("2025-03-11", "14:00", "15:00"))
	f := newFixture(t, store, func(o *AvailabilityOptions) { o.PrefetchNextDay = true })
	ctx := context.Background()

	_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
	require.NoError(t, err)
	f.availability.WaitPrefetch()

	entry, ok := f.cache.Get(ctx, cache.Key("2025-03-11", ""), false)
	require.True(t, ok)
	assert.Len(t, entry.Payload.Occupied, 1)

	next, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: "2025-03-11"})
	require.NoError(t, err)
	assert.Len(t, next.Occupied, 1)
	list, _ := store.calls()
	assert.Equal(t, 2, list)
}

func TestNewAvailabilityService_RejectsBadSlotConfig(t *testing.T) {
	_, err := NewAvailabilityService(newFakeStore(), nil, nil, nil, AvailabilityOptions{
		Slots: models.SlotConfig{StartHour: 10, EndHour: 9, SlotDuration: 30},
	}, nil)
	assert.Error(t, err)
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()

	t.Run("verified against the store", func(t *testing.T) {
		f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))

		busy, err := f.availability.CheckAvailability(ctx, AvailabilityQuery{Date: day}, "09:30", "10:30")
		require.NoError(t, err)
		assert.True(t, busy.Verified)
		assert.False(t, busy.Available)
		require.NotNil(t, busy.Conflict)
		assert.Equal(t, "09:00:00", busy.Conflict.StartTime.String())

		free, err := f.availability.CheckAvailability(ctx, AvailabilityQuery{Date: day}, "10:00:00", "10:30:00")
		require.NoError(t, err)
		assert.True(t, free.Verified)
		assert.True(t, free.Available)
		assert.Nil(t, free.Conflict)
		assert.Equal(t, "10:00:00", free.StartTime.String())
	})

	t.Run("falls back to the cache when the store is down", func(t *testing.T) {
		f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))
		_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)
		f.store.listHook = blockUntilTimeout

		res, err := f.availability.CheckAvailability(ctx, AvailabilityQuery{Date: day}, "09:15", "09:45")
		require.NoError(t, err)
		assert.False(t, res.Verified)
		assert.False(t, res.Available)
		require.NotNil(t, res.Conflict)
	})

	t.Run("unverified without cache", func(t *testing.T) {
		store := newFakeStore(reservation(day, "09:00", "10:00"))
		store.listHook = blockUntilTimeout
		f := newFixture(t, store)

		res, err := f.availability.CheckAvailability(ctx, AvailabilityQuery{Date: day}, "09:15", "09:45")
		require.NoError(t, err)
		assert.False(t, res.Verified)
		assert.True(t, res.Available)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, newFakeStore())
		cases := []struct{ date, start, end string }{
			{"2025/03/10", "09:00", "10:00"},
			{day, "9:00", "10:00"},
			{day, "09:00", "25:00"},
			{day, "10:00", "09:00"},
			{day, "10:00", "10:00"},
		}
		for _, tc := range cases {
			_, err := f.availability.CheckAvailability(ctx, AvailabilityQuery{Date: tc.date}, tc.start, tc.end)
			var ve *domain.ValidationError
			assert.ErrorAs(t, err, &ve, "%+v", tc)
		}
	})
}
