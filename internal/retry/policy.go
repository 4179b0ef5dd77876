package retry

import (
	"math"
	"time"
)

// Policy defines per-attempt timeout and exponential backoff parameters.
type Policy struct {
	Timeout       time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:       10 * time.Second,
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 2,
	}
}

// NextDelay returns the wait after a failed attempt (1-based) with clamping.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2
	}

	delay := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
