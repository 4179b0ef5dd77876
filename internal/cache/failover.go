package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"roombook/internal/clock"
	"roombook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverBackend uses primary until it errors, then serves from fallback
// and retries primary once per recovery interval.
type FailoverBackend struct {
	primary  Backend
	fallback Backend
	clock    clock.Clock
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverBackend(primary, fallback Backend, clk clock.Clock, logger *zerolog.Logger) *FailoverBackend {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverBackend{
		primary:  primary,
		fallback: fallback,
		clock:    clk,
		logger:   logger,
	}
}

func (f *FailoverBackend) markDown(err error) {
	f.logger.Error().Err(err).Msg("Primary availability cache failed, falling back to memory")
	f.mu.Lock()
	f.lastCheck = f.clock.Now()
	f.mu.Unlock()
	f.isDown.Store(true)
}

// usePrimary reports whether the next call should go to primary. Once per
// recovery interval a down primary is probed by flushing its availability
// keys: invalidations made during the outage only reached the fallback, so
// nothing written before it may be served again.
func (f *FailoverBackend) usePrimary(ctx context.Context) bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isDown.Load() {
		return true
	}
	if f.clock.Now().Sub(f.lastCheck) <= recoveryInterval {
		return false
	}
	f.lastCheck = f.clock.Now()

	n, err := f.primary.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Primary availability cache still unavailable")
		return false
	}
	f.isDown.Store(false)
	f.logger.Info().Int("flushed", n).Msg("Primary availability cache recovered")
	return true
}

func (f *FailoverBackend) Load(ctx context.Context, key string) (entry domain.CacheEntry, ok bool, err error) {
	if f.usePrimary(ctx) {
		entry, ok, err = f.primary.Load(ctx, key)
		if err == nil {
			return entry, ok, nil
		}
		f.markDown(err)
	}
	return f.fallback.Load(ctx, key)
}

func (f *FailoverBackend) Store(ctx context.Context, entry domain.CacheEntry) error {
	// The fallback always gets a copy so a later outage still has data.
	_ = f.fallback.Store(ctx, entry)
	if f.usePrimary(ctx) {
		err := f.primary.Store(ctx, entry)
		if err == nil {
			return nil
		}
		f.markDown(err)
	}
	return nil
}

func (f *FailoverBackend) Delete(ctx context.Context, key string) error {
	if err := f.fallback.Delete(ctx, key); err != nil {
		return err
	}
	if f.usePrimary(ctx) {
		if err := f.primary.Delete(ctx, key); err != nil {
			f.markDown(err)
			return nil
		}
	}
	return nil
}

func (f *FailoverBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	removed, err := f.fallback.DeletePrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if f.usePrimary(ctx) {
		n, err := f.primary.DeletePrefix(ctx, prefix)
		if err != nil {
			f.markDown(err)
			return removed, nil
		}
		if n > removed {
			removed = n
		}
	}
	return removed, nil
}

func (f *FailoverBackend) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed, err := f.fallback.Sweep(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if f.usePrimary(ctx) {
		n, err := f.primary.Sweep(ctx, cutoff)
		if err != nil {
			f.markDown(err)
			return removed, nil
		}
		if n > removed {
			removed = n
		}
	}
	return removed, nil
}

func (f *FailoverBackend) Len(ctx context.Context) (int, error) {
	if f.usePrimary(ctx) {
		n, err := f.primary.Len(ctx)
		if err == nil {
			return n, nil
		}
		f.markDown(err)
	}
	return f.fallback.Len(ctx)
}
