package service

import (
	"sync/atomic"
	"time"

	"roombook/internal/metrics"

	"github.com/rs/zerolog"
)

// Connectivity tracks whether the appointment store is reachable. It flips
// to offline when a call exhausts its retries and back on the next success.
type Connectivity struct {
	offline atomic.Bool
	since   atomic.Int64
	logger  *zerolog.Logger
}

func NewConnectivity(logger *zerolog.Logger) *Connectivity {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "connectivity").Logger()
	return &Connectivity{logger: &l}
}

func (c *Connectivity) Offline() bool {
	return c.offline.Load()
}

// OfflineSince is zero while online.
func (c *Connectivity) OfflineSince() time.Time {
	if !c.offline.Load() {
		return time.Time{}
	}
	return time.Unix(0, c.since.Load())
}

func (c *Connectivity) StoreSucceeded() {
	if c.offline.CompareAndSwap(true, false) {
		c.logger.Info().Dur("outage", time.Since(time.Unix(0, c.since.Load()))).Msg("Appointment store is reachable again")
		metrics.SetStoreOnline(true)
	}
}

func (c *Connectivity) StoreExhausted(op string, err error) {
	if c.offline.CompareAndSwap(false, true) {
		c.since.Store(time.Now().UnixNano())
		c.logger.Warn().Err(err).Str("op", op).Msg("Appointment store marked offline")
		metrics.SetStoreOnline(false)
	}
}
