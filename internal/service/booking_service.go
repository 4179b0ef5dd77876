package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"roombook/internal/cache"
	"roombook/internal/domain"
	"roombook/internal/events"
	"roombook/internal/metrics"
	"roombook/internal/models"
	"roombook/internal/retry"
	"roombook/internal/schedule"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingService owns every reservation write. Book is the conflict guard:
// an optimistic overlap check against a fresh read, then an insert that the
// store re-checks inside its write transaction.
type BookingService struct {
	store    domain.ReservationStore
	cache    domain.AvailabilityCache
	exec     *retry.Executor
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
	newKey   func() string
}

func NewBookingService(
	store domain.ReservationStore,
	availabilityCache domain.AvailabilityCache,
	exec *retry.Executor,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
) *BookingService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "booking").Logger()
	return &BookingService{
		store:    store,
		cache:    availabilityCache,
		exec:     exec,
		eventBus: eventBus,
		logger:   &l,
		newKey:   uuid.NewString,
	}
}

func validationFrom(problems []models.FieldError) error {
	return &domain.ValidationError{Fields: problems}
}

// Book validates the input, rejects overlaps and stores the reservation.
// The idempotency key is fixed before the first attempt so a retried insert
// returns the row an earlier attempt may already have written.
func (s *BookingService) Book(ctx context.Context, in models.ReservationInput) (*models.Reservation, error) {
	r, problems := in.Normalize()
	if len(problems) > 0 {
		return nil, validationFrom(problems)
	}
	if r.IdempotencyKey == "" {
		r.IdempotencyKey = s.newKey()
	}

	existing, err := s.list(ctx, r.Date, r.ResourceKey)
	if err != nil {
		return nil, err
	}
	if c := schedule.FirstOverlap(r.Interval(), existing, 0); c != nil {
		if c.IdempotencyKey == r.IdempotencyKey && c.SameContent(r) {
			s.logger.Info().Int64("id", c.ID).Msg("Booking replayed with known idempotency key")
			s.publish(events.EventReservationCreated, c, true)
			return c, nil
		}
		metrics.IncConflict("precheck")
		s.logger.Info().
			Str("date", r.Date).
			Str("requested", r.Interval().String()).
			Int64("conflict_id", c.ID).
			Msg("Booking rejected: overlap")
		return nil, &domain.ConflictError{Existing: c}
	}

	created, err := retry.Do(ctx, s.exec, "create_reservation", func(ctx context.Context) (*models.Reservation, error) {
		return s.store.CreateReservation(ctx, r)
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			metrics.IncConflict("store")
			s.logger.Info().Str("date", r.Date).Msg("Booking rejected by store: overlap")
		}
		return nil, err
	}

	s.invalidate(ctx, created.Date)
	s.publish(events.EventReservationCreated, created, false)

	s.logger.Info().
		Int64("id", created.ID).
		Str("date", created.Date).
		Str("interval", created.Interval().String()).
		Str("resource", created.ResourceKey).
		Msg("Reservation created")
	return created, nil
}

// Update replaces all fields of reservation id.
func (s *BookingService) Update(ctx context.Context, id int64, in models.ReservationInput) (*models.Reservation, error) {
	if id <= 0 {
		return nil, domain.NewValidationError("id", "must be a positive integer")
	}
	r, problems := in.Normalize()
	if len(problems) > 0 {
		return nil, validationFrom(problems)
	}
	r.ID = id

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	existing, err := s.list(ctx, r.Date, r.ResourceKey)
	if err != nil {
		return nil, err
	}
	if c := schedule.FirstOverlap(r.Interval(), existing, id); c != nil {
		metrics.IncConflict("precheck")
		return nil, &domain.ConflictError{Existing: c}
	}

	updated, err := retry.Do(ctx, s.exec, "update_reservation", func(ctx context.Context) (*models.Reservation, error) {
		return s.store.UpdateReservation(ctx, r)
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			metrics.IncConflict("store")
		}
		return nil, err
	}

	s.invalidate(ctx, current.Date)
	if updated.Date != current.Date {
		s.invalidate(ctx, updated.Date)
	}
	s.publish(events.EventReservationUpdated, updated, false)
	return updated, nil
}

// Delete removes reservation id. A retry that finds the row already gone
// after a failed attempt counts as success.
func (s *BookingService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return domain.NewValidationError("id", "must be a positive integer")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	attempts := 0
	_, err = retry.Do(ctx, s.exec, "delete_reservation", func(ctx context.Context) (struct{}, error) {
		attempts++
		err := s.store.DeleteReservation(ctx, id)
		if errors.Is(err, domain.ErrNotFound) && attempts > 1 {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, current.Date)
	s.publish(events.EventReservationDeleted, current, false)
	s.logger.Info().Int64("id", id).Str("date", current.Date).Msg("Reservation deleted")
	return nil
}

func (s *BookingService) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	if id <= 0 {
		return nil, domain.NewValidationError("id", "must be a positive integer")
	}
	return retry.Do(ctx, s.exec, "get_reservation", func(ctx context.Context) (*models.Reservation, error) {
		return s.store.GetReservation(ctx, id)
	})
}

// List returns the reservations of a day ordered by start time. Unlike
// availability reads it never degrades.
func (s *BookingService) List(ctx context.Context, date, resourceKey string) ([]*models.Reservation, error) {
	if strings.TrimSpace(date) == "" {
		return nil, domain.NewValidationError("date", "is required, e.g. 2025-01-31")
	}
	d, err := models.ParseDate(date)
	if err != nil {
		return nil, domain.NewValidationError("date", "must be YYYY-MM-DD")
	}
	return s.list(ctx, d, strings.TrimSpace(resourceKey))
}

func (s *BookingService) list(ctx context.Context, date, resourceKey string) ([]*models.Reservation, error) {
	return retry.Do(ctx, s.exec, "list_reservations", func(ctx context.Context) ([]*models.Reservation, error) {
		return s.store.ListReservations(ctx, date, resourceKey)
	})
}

// invalidate runs after the write committed, so a disconnected client must
// not cancel it.
func (s *BookingService) invalidate(ctx context.Context, date string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrefix(context.WithoutCancel(ctx), cache.DatePrefix(date)); err != nil {
		s.logger.Warn().Err(err).Str("date", date).Msg("Failed to invalidate availability cache")
	}
}

func (s *BookingService) publish(eventType string, r *models.Reservation, replayed bool) {
	if s.eventBus == nil {
		return
	}
	payload := events.ReservationEventPayload{
		ReservationID: r.ID,
		Title:         r.Title,
		Name:          r.Name,
		Date:          r.Date,
		StartTime:     r.StartTime.String(),
		EndTime:       r.EndTime.String(),
		ResourceKey:   r.ResourceKey,
		Replayed:      replayed,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}
