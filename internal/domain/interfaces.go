package domain

import (
	"context"
	"time"

	"roombook/internal/models"
)

// ReservationStore is the persistent Appointment Store.
type ReservationStore interface {
	ListReservations(ctx context.Context, date, resourceKey string) ([]*models.Reservation, error)
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	// CreateReservation inserts r unless it overlaps an existing reservation.
	// A repeated IdempotencyKey returns the row already stored.
	CreateReservation(ctx context.Context, r *models.Reservation) (*models.Reservation, error)
	UpdateReservation(ctx context.Context, r *models.Reservation) (*models.Reservation, error)
	DeleteReservation(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// CacheEntry is one cached availability computation.
type CacheEntry struct {
	Key      string              `json:"key"`
	Payload  models.Availability `json:"payload"`
	StoredAt time.Time           `json:"stored_at"`
}

// AvailabilityCache stores computed availability per date and resource.
// Get honours the online or offline TTL; Stale ignores age entirely.
// PutIfCurrent drops the write when an invalidation happened after gen was
// taken from Generation.
type AvailabilityCache interface {
	Get(ctx context.Context, key string, offline bool) (CacheEntry, bool)
	Stale(ctx context.Context, key string) (CacheEntry, bool)
	Put(ctx context.Context, key string, payload models.Availability) error
	Generation(key string) uint64
	PutIfCurrent(ctx context.Context, key string, payload models.Availability, gen uint64) (bool, error)
	Invalidate(ctx context.Context, key string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
	Len(ctx context.Context) int
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
