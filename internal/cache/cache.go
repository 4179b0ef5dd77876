package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"roombook/internal/clock"
	"roombook/internal/domain"
	"roombook/internal/models"

	"github.com/rs/zerolog"
)

// Backend is raw entry storage. Age policy lives in Cache.
type Backend interface {
	Load(ctx context.Context, key string) (domain.CacheEntry, bool, error)
	Store(ctx context.Context, entry domain.CacheEntry) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Sweep removes entries stored before cutoff.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}

type Options struct {
	OnlineTTL      time.Duration
	OfflineTTL     time.Duration
	SweepThreshold int
}

func DefaultOptions() Options {
	return Options{
		OnlineTTL:      3 * time.Minute,
		OfflineTTL:     30 * time.Minute,
		SweepThreshold: 50,
	}
}

// Cache applies TTL, sweep and stale-read rules on top of a Backend.
//
// Every invalidation bumps a generation for the affected date. Writers that
// computed their payload before an invalidation use PutIfCurrent and lose the
// race instead of storing pre-write data. Generations are process-local.
type Cache struct {
	backend Backend
	clock   clock.Clock
	opts    Options
	logger  *zerolog.Logger

	mu    sync.Mutex
	epoch uint64
	gens  map[string]uint64
}

var _ domain.AvailabilityCache = (*Cache)(nil)

func New(backend Backend, clk clock.Clock, opts Options, logger *zerolog.Logger) *Cache {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "availability_cache").Logger()
	return &Cache{
		backend: backend,
		clock:   clk,
		opts:    opts,
		logger:  &l,
		gens:    make(map[string]uint64),
	}
}

func (c *Cache) TTL(offline bool) time.Duration {
	if offline {
		return c.opts.OfflineTTL
	}
	return c.opts.OnlineTTL
}

// Get returns the entry only while it is younger than the TTL for the
// given connectivity.
func (c *Cache) Get(ctx context.Context, key string, offline bool) (domain.CacheEntry, bool) {
	entry, ok := c.load(ctx, key)
	if !ok {
		return domain.CacheEntry{}, false
	}
	if c.clock.Now().Sub(entry.StoredAt) >= c.TTL(offline) {
		return domain.CacheEntry{}, false
	}
	return entry, true
}

// Stale returns the last entry for key regardless of its age.
func (c *Cache) Stale(ctx context.Context, key string) (domain.CacheEntry, bool) {
	return c.load(ctx, key)
}

func (c *Cache) load(ctx context.Context, key string) (domain.CacheEntry, bool) {
	entry, ok, err := c.backend.Load(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return domain.CacheEntry{}, false
	}
	return entry, ok
}

func (c *Cache) Put(ctx context.Context, key string, payload models.Availability) error {
	if err := c.store(ctx, key, payload); err != nil {
		return err
	}
	c.sweep(ctx)
	return nil
}

// Generation returns the invalidation generation covering key.
func (c *Cache) Generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch + c.gens[scopeOf(key)]
}

// PutIfCurrent stores payload only if no invalidation touched key since gen
// was read. It reports whether the entry was written.
func (c *Cache) PutIfCurrent(ctx context.Context, key string, payload models.Availability, gen uint64) (bool, error) {
	c.mu.Lock()
	if c.epoch+c.gens[scopeOf(key)] != gen {
		c.mu.Unlock()
		c.logger.Debug().Str("key", key).Msg("cache write skipped, invalidated during compute")
		return false, nil
	}
	err := c.store(ctx, key, payload)
	c.mu.Unlock()
	if err != nil {
		return false, err
	}
	c.sweep(ctx)
	return true, nil
}

func (c *Cache) store(ctx context.Context, key string, payload models.Availability) error {
	return c.backend.Store(ctx, domain.CacheEntry{Key: key, Payload: payload, StoredAt: c.clock.Now()})
}

func (c *Cache) sweep(ctx context.Context) {
	if c.opts.SweepThreshold <= 0 {
		return
	}
	n, err := c.backend.Len(ctx)
	if err != nil || n <= c.opts.SweepThreshold {
		return
	}
	removed, err := c.backend.Sweep(ctx, c.clock.Now().Add(-2*c.opts.OnlineTTL))
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache sweep failed")
		return
	}
	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Int("size", n).Msg("cache swept")
	}
}

// bump must run before the backend delete so an in-flight PutIfCurrent either
// lands first and gets deleted or sees the new generation.
func (c *Cache) bump(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scope := scopeOf(prefix)
	if scope == "" {
		c.epoch++
		return
	}
	c.gens[scope]++
}

// scopeOf reduces a key or prefix to its date.
func scopeOf(key string) string {
	rest := strings.TrimPrefix(key, keyPrefix)
	date, _, _ := strings.Cut(rest, ":")
	return date
}

func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.bump(key)
	return c.backend.Delete(ctx, key)
}

func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.bump(prefix)
	_, err := c.backend.DeletePrefix(ctx, prefix)
	return err
}

func (c *Cache) Len(ctx context.Context) int {
	n, err := c.backend.Len(ctx)
	if err != nil {
		return 0
	}
	return n
}
