package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"roombook/internal/cache"
	"roombook/internal/clock"
	"roombook/internal/domain"
	"roombook/internal/metrics"
	"roombook/internal/models"
	"roombook/internal/retry"
	"roombook/internal/schedule"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type AvailabilityQuery struct {
	Date        string
	ResourceKey string
	// ClientOffline is set when the caller reports it has no connectivity.
	ClientOffline bool
}

type AvailabilityService struct {
	store    domain.ReservationStore
	cache    domain.AvailabilityCache
	exec     *retry.Executor
	conn     *Connectivity
	slots    models.SlotConfig
	prefetch bool
	clock    clock.Clock
	logger   *zerolog.Logger

	group      singleflight.Group
	prefetchWG sync.WaitGroup
}

type AvailabilityOptions struct {
	Slots           models.SlotConfig
	PrefetchNextDay bool
	Clock           clock.Clock
}

func NewAvailabilityService(
	store domain.ReservationStore,
	availabilityCache domain.AvailabilityCache,
	exec *retry.Executor,
	conn *Connectivity,
	opts AvailabilityOptions,
	logger *zerolog.Logger,
) (*AvailabilityService, error) {
	if err := schedule.ValidateConfig(opts.Slots); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewReal()
	}
	if conn == nil {
		conn = NewConnectivity(logger)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "availability").Logger()
	return &AvailabilityService{
		store:    store,
		cache:    availabilityCache,
		exec:     exec,
		conn:     conn,
		slots:    opts.Slots,
		prefetch: opts.PrefetchNextDay,
		clock:    opts.Clock,
		logger:   &l,
	}, nil
}

func (s *AvailabilityService) SlotConfig() models.SlotConfig { return s.slots }

// GetAvailability never fails because of the store: when it cannot be
// reached the last cached result is returned marked stale, or an empty day
// marked degraded.
func (s *AvailabilityService) GetAvailability(ctx context.Context, q AvailabilityQuery) (*models.Availability, error) {
	date, err := models.ParseDate(q.Date)
	if err != nil {
		return nil, domain.NewValidationError("date", "must be YYYY-MM-DD, e.g. 2025-01-31")
	}
	resource := strings.TrimSpace(q.ResourceKey)
	key := cache.Key(date, resource)
	offline := q.ClientOffline || s.conn.Offline()

	if entry, ok := s.cache.Get(ctx, key, offline); ok {
		metrics.IncCache("hit")
		a := entry.Payload
		return &a, nil
	}
	metrics.IncCache("miss")

	// Readers arriving after an invalidation never share a compute that
	// started before it.
	gen := s.cache.Generation(key)
	v, err, _ := s.group.Do(flightKey(key, gen), func() (interface{}, error) {
		return s.compute(context.WithoutCancel(ctx), date, resource, gen)
	})
	if err == nil {
		a := *(v.(*models.Availability))
		s.prefetchNext(ctx, date, resource)
		return &a, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return s.degrade(ctx, key, date, resource, err), nil
}

// OccupiedSlots returns just the occupied intervals of a day.
func (s *AvailabilityService) OccupiedSlots(ctx context.Context, q AvailabilityQuery) ([]models.ReservationSummary, bool, error) {
	a, err := s.GetAvailability(ctx, q)
	if err != nil {
		return nil, false, err
	}
	return a.Occupied, a.Stale || a.Degraded, nil
}

func (s *AvailabilityService) fetch(ctx context.Context, date, resource string) ([]*models.Reservation, error) {
	return retry.Do(ctx, s.exec, "list_reservations", func(ctx context.Context) ([]*models.Reservation, error) {
		return s.store.ListReservations(ctx, date, resource)
	})
}

func flightKey(key string, gen uint64) string {
	return fmt.Sprintf("%s#%d", key, gen)
}

func (s *AvailabilityService) compute(ctx context.Context, date, resource string, gen uint64) (*models.Availability, error) {
	reservations, err := s.fetch(ctx, date, resource)
	if err != nil {
		return nil, err
	}

	a, err := s.build(date, resource, reservations)
	if err != nil {
		return nil, err
	}

	if _, err := s.cache.PutIfCurrent(ctx, cache.Key(date, resource), *a, gen); err != nil {
		s.logger.Warn().Err(err).Str("date", date).Msg("Failed to cache availability")
	}
	return a, nil
}

func (s *AvailabilityService) build(date, resource string, reservations []*models.Reservation) (*models.Availability, error) {
	slots, err := schedule.GenerateSlots(reservations, s.slots)
	if err != nil {
		return nil, err
	}
	occupied := make([]models.ReservationSummary, 0, len(reservations))
	for _, r := range reservations {
		occupied = append(occupied, r.Summary())
	}
	return &models.Availability{
		Date:        date,
		ResourceKey: resource,
		Occupied:    occupied,
		Slots:       slots,
		SlotsConfig: s.slots,
		GeneratedAt: s.clock.Now(),
	}, nil
}

func (s *AvailabilityService) degrade(ctx context.Context, key, date, resource string, cause error) *models.Availability {
	if entry, ok := s.cache.Stale(ctx, key); ok {
		metrics.IncCache("stale")
		s.logger.Warn().Err(cause).Str("date", date).Time("stored_at", entry.StoredAt).Msg("Serving stale availability")
		a := entry.Payload
		a.Stale = true
		return &a
	}

	metrics.IncCache("degraded")
	s.logger.Warn().Err(cause).Str("date", date).Msg("Serving empty availability")
	a, err := s.build(date, resource, nil)
	if err != nil {
		// slot config was validated at construction
		a = &models.Availability{Date: date, ResourceKey: resource, SlotsConfig: s.slots, Occupied: []models.ReservationSummary{}}
	}
	a.Degraded = true
	return a
}

func (s *AvailabilityService) prefetchNext(ctx context.Context, date, resource string) {
	if !s.prefetch {
		return
	}
	next, err := models.NextDate(date)
	if err != nil {
		return
	}
	key := cache.Key(next, resource)
	if _, ok := s.cache.Get(ctx, key, s.conn.Offline()); ok {
		return
	}

	bg := context.WithoutCancel(ctx)
	gen := s.cache.Generation(key)
	s.prefetchWG.Add(1)
	go func() {
		defer s.prefetchWG.Done()
		_, err, _ := s.group.Do(flightKey(key, gen), func() (interface{}, error) {
			return s.compute(bg, next, resource, gen)
		})
		if err != nil {
			s.logger.Debug().Err(err).Str("date", next).Msg("Prefetch failed")
		}
	}()
}

// WaitPrefetch blocks until background prefetches have finished.
func (s *AvailabilityService) WaitPrefetch() {
	s.prefetchWG.Wait()
}

// CheckAvailability answers whether [start, end) is free. It asks the store
// directly; if the store is unreachable it falls back to cached data and
// reports the answer as unverified.
func (s *AvailabilityService) CheckAvailability(ctx context.Context, q AvailabilityQuery, start, end string) (*models.AvailabilityCheck, error) {
	date, err := models.ParseDate(q.Date)
	if err != nil {
		return nil, domain.NewValidationError("date", "must be YYYY-MM-DD")
	}
	startT, err := models.ParseTimeOfDay(start)
	if err != nil {
		return nil, domain.NewValidationError("start_time", "must be HH:MM or HH:MM:SS")
	}
	endT, err := models.ParseTimeOfDay(end)
	if err != nil {
		return nil, domain.NewValidationError("end_time", "must be HH:MM or HH:MM:SS")
	}
	iv, err := models.NewInterval(startT, endT)
	if err != nil {
		return nil, domain.NewValidationError("end_time", "must be after start_time")
	}
	resource := strings.TrimSpace(q.ResourceKey)

	result := &models.AvailabilityCheck{
		Date:      date,
		StartTime: iv.Start,
		EndTime:   iv.End,
		CheckedAt: s.clock.Now(),
	}

	reservations, err := s.fetch(ctx, date, resource)
	if err == nil {
		result.Verified = true
		if c := schedule.FirstOverlap(iv, reservations, 0); c != nil {
			summary := c.Summary()
			result.Conflict = &summary
		}
		result.Available = result.Conflict == nil
		return result, nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil, err
	}

	s.logger.Warn().Err(err).Str("date", date).Msg("Could not verify availability with the store")
	entry, ok := s.cache.Stale(ctx, cache.Key(date, resource))
	if !ok {
		result.Available = true
		return result, nil
	}
	for _, o := range entry.Payload.Occupied {
		if schedule.Overlaps(iv, models.Interval{Start: o.StartTime, End: o.EndTime}) {
			conflict := o
			result.Conflict = &conflict
			break
		}
	}
	result.Available = result.Conflict == nil
	return result, nil
}
