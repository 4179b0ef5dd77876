package service

import (
	"context"
	"errors"
	"testing"

	"roombook/internal/cache"
	"roombook/internal/domain"
	"roombook/internal/events"
	"roombook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBook_RejectsOverlap(t *testing.T) {
	// existing 09:00-10:00
	cases := []struct {
		name       string
		start, end string
		conflict   bool
	}{
		{"ends when existing starts", "08:00", "09:00", false},
		{"starts when existing ends", "10:00", "10:30", false},
		{"overlaps the end", "09:30", "10:30", true},
		{"overlaps the start", "08:30", "09:30", true},
		{"inside", "09:15", "09:45", true},
		{"covers", "08:00", "11:00", true},
		{"identical", "09:00:00", "10:00:00", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))

			r, err := f.booking.Book(context.Background(), input(day, tc.start, tc.end))
			if !tc.conflict {
				require.NoError(t, err)
				assert.NotZero(t, r.ID)
				assert.Equal(t, 2, f.store.count())
				return
			}

			var ce *domain.ConflictError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, int64(1), ce.Existing.ID)
			assert.Equal(t, 1, f.store.count())
			_, create := f.store.calls()
			assert.Zero(t, create, "no insert after a failed pre-check")
		})
	}
}

func TestBook_OtherResourceDoesNotConflict(t *testing.T) {
	f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))

	in := input(day, "09:00", "10:00")
	in.ResourceKey = "room-b"
	r, err := f.booking.Book(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "room-b", r.ResourceKey)
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t, newFakeStore())

	in := input("2025-13-01", "10:00", "09:00")
	in.Title = "  "
	_, err := f.booking.Book(context.Background(), in)

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	fields := make([]string, 0, len(ve.Fields))
	for _, fe := range ve.Fields {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "date")

	list, create := f.store.calls()
	assert.Zero(t, list)
	assert.Zero(t, create)
}

func TestBook_InvalidatesCachedDay(t *testing.T) {
	f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))
	ctx := context.Background()

	_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
	require.NoError(t, err)
	_, err = f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day, ResourceKey: "room-b"})
	require.NoError(t, err)

	_, err = f.booking.Book(ctx, input(day, "10:00", "10:30"))
	require.NoError(t, err)

	_, ok := f.cache.Stale(ctx, cache.Key(day, ""))
	assert.False(t, ok)
	_, ok = f.cache.Stale(ctx, cache.Key(day, "room-b"))
	assert.False(t, ok)

	a, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
	require.NoError(t, err)
	assert.Len(t, a.Occupied, 2)
	assert.Equal(t, []string{events.EventReservationCreated}, f.published)
}

// ctxBackend fails on a cancelled context the way a network backend does.
type ctxBackend struct {
	cache.Backend
}

func (b ctxBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return b.Backend.DeletePrefix(ctx, prefix)
}

func TestBook_InvalidatesAfterClientDisconnect(t *testing.T) {
	store := newFakeStore()
	f := newFixture(t, store)
	mem, err := cache.NewMemoryBackend(10)
	require.NoError(t, err)
	c := cache.New(ctxBackend{mem}, f.clock, cache.DefaultOptions(), nil)
	require.NoError(t, c.Put(context.Background(), cache.Key(day, ""), models.Availability{Date: day}))
	svc := NewBookingService(store, c, f.exec, f.bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The insert commits, then the client goes away.
	store.afterCreate = func(int) error {
		cancel()
		return nil
	}

	_, err = svc.Book(ctx, input(day, "09:00", "10:00"))
	require.NoError(t, err)

	_, ok := c.Stale(context.Background(), cache.Key(day, ""))
	assert.False(t, ok)
	assert.Equal(t, []string{events.EventReservationCreated}, f.published)
}

func TestBook_GeneratesIdempotencyKey(t *testing.T) {
	f := newFixture(t, newFakeStore())
	f.booking.newKey = func() string { return "generated-key" }

	r, err := f.booking.Book(context.Background(), input(day, "09:00", "10:00"))
	require.NoError(t, err)
	assert.Equal(t, "generated-key", r.IdempotencyKey)
}

func TestBook_RetryAfterFalseFailureDoesNotDuplicate(t *testing.T) {
	store := newFakeStore()
	// The first insert lands but the caller sees an error.
	store.afterCreate = func(call int) error {
		if call == 1 {
			return errTransient
		}
		return nil
	}
	f := newFixture(t, store)

	r, err := f.booking.Book(context.Background(), input(day, "09:00", "10:00"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.ID)
	assert.Equal(t, 1, store.count())
	_, create := store.calls()
	assert.Equal(t, 2, create)
	assert.False(t, f.conn.Offline())
}

func TestBook_ClientReplayReturnsExisting(t *testing.T) {
	f := newFixture(t, newFakeStore())
	ctx := context.Background()

	in := input(day, "09:00", "10:00")
	in.IdempotencyKey = "client-key"
	first, err := f.booking.Book(ctx, in)
	require.NoError(t, err)

	second, err := f.booking.Book(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.store.count())

	var payloads []events.ReservationEventPayload
	f.bus.Subscribe(events.EventReservationCreated, func(e *events.Event) error {
		var p events.ReservationEventPayload
		require.NoError(t, e.Decode(&p))
		payloads = append(payloads, p)
		return nil
	})
	third, err := f.booking.Book(ctx, in)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.True(t, payloads[0].Replayed)
	assert.Equal(t, third.ID, payloads[0].ReservationID)
	assert.Equal(t, []string{
		events.EventReservationCreated,
		events.EventReservationCreated,
		events.EventReservationCreated,
	}, f.published)

	changed := in
	changed.Title = "Something else"
	_, err = f.booking.Book(ctx, changed)
	var ce *domain.ConflictError
	assert.ErrorAs(t, err, &ce)
}

func TestBook_StoreRejectsRace(t *testing.T) {
	store := newFakeStore()
	store.createHook = func(ctx context.Context, call int) error {
		return &domain.ConflictError{Existing: reservation(day, "09:00", "10:00")}
	}
	f := newFixture(t, store)

	_, err := f.booking.Book(context.Background(), input(day, "09:30", "10:30"))
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
	_, create := store.calls()
	assert.Equal(t, 1, create, "conflicts are not retried")
	assert.Empty(t, f.published)
}

func TestBook_StoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.createHook = func(ctx context.Context, call int) error { return blockUntilTimeout(ctx) }
	f := newFixture(t, store)

	_, err := f.booking.Book(context.Background(), input(day, "09:00", "10:00"))
	require.True(t, domain.IsStoreUnavailable(err))
	assert.ErrorIs(t, err, domain.ErrTimeout)

	var su *domain.StoreUnavailableError
	require.ErrorAs(t, err, &su)
	assert.Equal(t, 3, su.Attempts)
	assert.Equal(t, "create_reservation", su.Op)
	assert.True(t, f.conn.Offline())
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("may overlap its own old interval", func(t *testing.T) {
		f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00"), reservation(day, "11:00", "12:00")))

		r, err := f.booking.Update(ctx, 2, input(day, "11:30", "12:30"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.ID)
		assert.Equal(t, "11:30:00", r.StartTime.String())
		assert.Equal(t, []string{events.EventReservationUpdated}, f.published)
	})

	t.Run("conflicts with another reservation", func(t *testing.T) {
		f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00"), reservation(day, "11:00", "12:00")))

		_, err := f.booking.Update(ctx, 2, input(day, "09:30", "10:30"))
		var ce *domain.ConflictError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, int64(1), ce.Existing.ID)
	})

	t.Run("moving days invalidates both", func(t *testing.T) {
		f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))
		_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)
		_, err = f.availability.GetAvailability(ctx, AvailabilityQuery{Date: "2025-03-12"})
		require.NoError(t, err)

		_, err = f.booking.Update(ctx, 1, input("2025-03-12", "09:00", "10:00"))
		require.NoError(t, err)

		_, ok := f.cache.Stale(ctx, cache.Key(day, ""))
		assert.False(t, ok)
		_, ok = f.cache.Stale(ctx, cache.Key("2025-03-12", ""))
		assert.False(t, ok)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t, newFakeStore())
		_, err := f.booking.Update(ctx, 42, input(day, "09:00", "10:00"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("bad id", func(t *testing.T) {
		f := newFixture(t, newFakeStore())
		_, err := f.booking.Update(ctx, 0, input(day, "09:00", "10:00"))
		var ve *domain.ValidationError
		assert.ErrorAs(t, err, &ve)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes and invalidates", func(t *testing.T) {
		f := newFixture(t, newFakeStore(reservation(day, "09:00", "10:00")))
		_, err := f.availability.GetAvailability(ctx, AvailabilityQuery{Date: day})
		require.NoError(t, err)

		require.NoError(t, f.booking.Delete(ctx, 1))
		assert.Zero(t, f.store.count())
		_, ok := f.cache.Stale(ctx, cache.Key(day, ""))
		assert.False(t, ok)
		assert.Equal(t, []string{events.EventReservationDeleted}, f.published)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t, newFakeStore())
		err := f.booking.Delete(ctx, 7)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("retry after the row was already removed", func(t *testing.T) {
		store := newFakeStore(reservation(day, "09:00", "10:00"))
		failed := false
		store.deleteHook = func(ctx context.Context) error {
			if !failed {
				failed = true
				return errTransient
			}
			return nil
		}
		f := newFixture(t, store)

		require.NoError(t, f.booking.Delete(ctx, 1))
		assert.Zero(t, store.count())
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newFakeStore(
		reservation(day, "14:00", "15:00"),
		reservation(day, "09:00", "10:00"),
		reservation("2025-03-11", "09:00", "10:00"),
	))

	list, err := f.booking.List(ctx, day, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "09:00:00", list[0].StartTime.String())
	assert.Equal(t, "14:00:00", list[1].StartTime.String())

	_, err = f.booking.List(ctx, "", "")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	f.store.listHook = func(ctx context.Context) error { return errors.New("disk I/O error") }
	_, err = f.booking.List(ctx, day, "")
	assert.True(t, domain.IsStoreUnavailable(err), "reservation listing never degrades")
}
