package service

import (
	"context"
	"time"

	"roombook/internal/domain"
)

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthReport struct {
	Status       string     `json:"status"`
	Store        string     `json:"store"`
	StoreError   string     `json:"store_error,omitempty"`
	Cache        string     `json:"cache"`
	CacheEntries int        `json:"cache_entries"`
	OfflineSince *time.Time `json:"offline_since,omitempty"`
	CheckedAt    time.Time  `json:"checked_at"`
}

type HealthChecker struct {
	store   Pinger
	cache   domain.AvailabilityCache
	conn    *Connectivity
	timeout time.Duration
}

func NewHealthChecker(store Pinger, availabilityCache domain.AvailabilityCache, conn *Connectivity, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{store: store, cache: availabilityCache, conn: conn, timeout: timeout}
}

// Check pings the store. A failed ping reports down; a reachable store that
// is still flagged offline reports degraded.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:    HealthOK,
		Store:     HealthOK,
		Cache:     HealthOK,
		CheckedAt: time.Now().UTC(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.store.Ping(pingCtx); err != nil {
		report.Status = HealthDown
		report.Store = HealthDown
		report.StoreError = err.Error()
	}

	if h.cache != nil {
		report.CacheEntries = h.cache.Len(ctx)
	}

	if h.conn != nil && h.conn.Offline() {
		since := h.conn.OfflineSince()
		report.OfflineSince = &since
		if report.Status == HealthOK {
			report.Status = HealthDegraded
		}
	}
	return report
}
