package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"roombook/internal/cache"
	"roombook/internal/clock"
	"roombook/internal/domain"
	"roombook/internal/events"
	"roombook/internal/models"
	"roombook/internal/retry"
	"roombook/internal/schedule"

	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory ReservationStore with hooks for failure injection.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Reservation

	listCalls   int
	createCalls int

	// Hooks run before the real operation; a non-nil error aborts it.
	listHook   func(ctx context.Context) error
	// afterList runs once rows have been read, before they are returned.
	afterList  func()
	createHook func(ctx context.Context, call int) error
	// afterCreate runs after a successful insert and may replace the result error.
	afterCreate func(call int) error
	deleteHook  func(ctx context.Context) error
	pingErr     error
}

func newFakeStore(rows ...*models.Reservation) *fakeStore {
	s := &fakeStore{rows: make(map[int64]*models.Reservation)}
	for _, r := range rows {
		s.nextID++
		cp := *r
		cp.ID = s.nextID
		s.rows[cp.ID] = &cp
	}
	return s
}

func (s *fakeStore) ListReservations(ctx context.Context, date, resourceKey string) ([]*models.Reservation, error) {
	s.mu.Lock()
	s.listCalls++
	hook := s.listHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	out := make([]*models.Reservation, 0)
	for _, r := range s.rows {
		if r.Date == date && r.ResourceKey == resourceKey {
			cp := *r
			out = append(out, &cp)
		}
	}
	after := s.afterList
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	if after != nil {
		after()
	}
	return out, nil
}

func (s *fakeStore) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) CreateReservation(ctx context.Context, r *models.Reservation) (*models.Reservation, error) {
	s.mu.Lock()
	s.createCalls++
	call := s.createCalls
	hook := s.createHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	var created *models.Reservation
	for _, existing := range s.rows {
		if r.IdempotencyKey != "" && existing.IdempotencyKey == r.IdempotencyKey {
			cp := *existing
			created = &cp
		}
	}
	if created == nil {
		for _, existing := range s.rows {
			if existing.Date == r.Date && existing.ResourceKey == r.ResourceKey && schedule.Overlaps(existing.Interval(), r.Interval()) {
				cp := *existing
				s.mu.Unlock()
				return nil, &domain.ConflictError{Existing: &cp}
			}
		}
		s.nextID++
		cp := *r
		cp.ID = s.nextID
		cp.CreatedAt = time.Now()
		cp.UpdatedAt = cp.CreatedAt
		s.rows[cp.ID] = &cp
		out := cp
		created = &out
	}
	after := s.afterCreate
	s.mu.Unlock()

	if after != nil {
		if err := after(call); err != nil {
			return nil, err
		}
	}
	return created, nil
}

func (s *fakeStore) UpdateReservation(ctx context.Context, r *models.Reservation) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rows[r.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for _, existing := range s.rows {
		if existing.ID != r.ID && existing.Date == r.Date && existing.ResourceKey == r.ResourceKey &&
			schedule.Overlaps(existing.Interval(), r.Interval()) {
			cp := *existing
			return nil, &domain.ConflictError{Existing: &cp}
		}
	}
	cp := *r
	cp.CreatedAt = current.CreatedAt
	cp.UpdatedAt = time.Now()
	s.rows[r.ID] = &cp
	out := cp
	return &out, nil
}

func (s *fakeStore) DeleteReservation(ctx context.Context, id int64) error {
	s.mu.Lock()
	hook := s.deleteHook
	s.mu.Unlock()

	s.mu.Lock()
	_, ok := s.rows[id]
	delete(s.rows, id)
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeStore) calls() (list, create int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls, s.createCalls
}

// blockUntilTimeout simulates a store that never answers.
func blockUntilTimeout(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

var errTransient = errors.New("connection reset by peer")

type fixture struct {
	store        *fakeStore
	cache        *cache.Cache
	clock        *clock.Mock
	conn         *Connectivity
	exec         *retry.Executor
	bus          *events.EventBus
	published    []string
	availability *AvailabilityService
	booking      *BookingService
}

func reservation(date, start, end string) *models.Reservation {
	return &models.Reservation{
		Title:     "Design review",
		Name:      "Kim",
		Date:      date,
		StartTime: models.MustTimeOfDay(start),
		EndTime:   models.MustTimeOfDay(end),
	}
}

func input(date, start, end string) models.ReservationInput {
	return models.ReservationInput{
		Title:     "Design review",
		Name:      "Kim",
		Date:      date,
		StartTime: start,
		EndTime:   end,
	}
}

func newFixture(t *testing.T, store *fakeStore, opts ...func(*AvailabilityOptions)) *fixture {
	t.Helper()

	clk := clock.NewMock(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC))
	backend, err := cache.NewMemoryBackend(100)
	require.NoError(t, err)
	c := cache.New(backend, clk, cache.DefaultOptions(), nil)

	conn := NewConnectivity(nil)
	exec := retry.NewExecutor(
		retry.Policy{Timeout: 20 * time.Millisecond, MaxAttempts: 3, BaseDelay: time.Millisecond},
		nil,
		retry.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
		retry.WithObserver(conn),
	)

	f := &fixture{store: store, cache: c, clock: clk, conn: conn, exec: exec, bus: events.NewEventBus()}
	for _, et := range events.ReservationEventTypes {
		f.bus.Subscribe(et, func(e *events.Event) error {
			f.published = append(f.published, e.Type)
			return nil
		})
	}

	aOpts := AvailabilityOptions{
		Slots: models.SlotConfig{StartHour: 8, EndHour: 18, SlotDuration: 30},
		Clock: clk,
	}
	for _, o := range opts {
		o(&aOpts)
	}
	f.availability, err = NewAvailabilityService(store, c, exec, conn, aOpts, nil)
	require.NoError(t, err)
	f.booking = NewBookingService(store, c, exec, f.bus, nil)
	return f
}
