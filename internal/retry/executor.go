package retry

import (
	"context"
	"errors"
	"time"

	"roombook/internal/domain"
	"roombook/internal/metrics"

	"github.com/rs/zerolog"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Observer is told about the final outcome of each Do call. Used to track
// store connectivity.
type Observer interface {
	StoreSucceeded()
	StoreExhausted(op string, err error)
}

type Executor struct {
	policy   Policy
	logger   *zerolog.Logger
	sleep    SleepFunc
	observer Observer
}

type Option func(*Executor)

func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

func NewExecutor(policy Policy, logger *zerolog.Logger, opts ...Option) *Executor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "retry").Logger()
	e := &Executor{
		policy: policy,
		logger: &l,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Policy() Policy { return e.policy }

// Do runs fn under the executor's policy. Every attempt gets its own
// deadline; a timed out attempt has its context cancelled before the next
// one starts. Terminal errors are returned unchanged. When every attempt
// fails the result is a *domain.StoreUnavailableError.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	maxAttempts := e.policy.attempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		started := time.Now()
		res, err := runAttempt(ctx, e.policy.Timeout, fn)
		took := time.Since(started)

		if err == nil {
			metrics.ObserveStoreAttempt(op, "ok", took)
			if attempt > 1 {
				e.logger.Info().Str("op", op).Int("attempt", attempt).Msg("store call recovered")
			}
			if e.observer != nil {
				e.observer.StoreSucceeded()
			}
			return res, nil
		}

		if domain.IsTerminal(err) {
			metrics.ObserveStoreAttempt(op, "terminal", took)
			if e.observer != nil && !errors.Is(err, context.Canceled) {
				e.observer.StoreSucceeded()
			}
			return zero, err
		}

		outcome := "error"
		if errors.Is(err, domain.ErrTimeout) {
			outcome = "timeout"
		}
		metrics.ObserveStoreAttempt(op, outcome, took)
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == maxAttempts {
			break
		}

		delay := e.policy.NextDelay(attempt)
		e.logger.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("backoff", delay).
			Msg("store call failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	e.logger.Error().Err(lastErr).Str("op", op).Int("attempts", maxAttempts).Msg("store call exhausted retries")
	if e.observer != nil {
		e.observer.StoreExhausted(op, lastErr)
	}
	return zero, &domain.StoreUnavailableError{Op: op, Attempts: maxAttempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	res, err := fn(attemptCtx)
	if err == nil {
		return res, nil
	}
	// Only our own deadline counts as a timeout; a caller deadline is the caller's.
	if ctx.Err() == nil && (errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)) {
		return res, errors.Join(domain.ErrTimeout, err)
	}
	return res, err
}
