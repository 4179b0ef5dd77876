package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roombook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	storeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_attempts_total",
			Help:      "Appointment store attempts by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_attempt_duration_seconds",
			Help:      "Duration of a single store attempt.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_cache_total",
			Help:      "Availability lookups by result (hit, miss, stale, degraded).",
		},
		[]string{"result"},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_conflicts_total",
			Help:      "Rejected bookings by the stage that detected the overlap.",
		},
		[]string{"stage"},
	)

	reservationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_events_total",
			Help:      "Reservation lifecycle events by type.",
		},
		[]string{"event"},
	)

	storeOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_online",
			Help:      "1 while the appointment store answers, 0 after retries were exhausted.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			storeAttempts,
			storeDuration,
			cacheResults,
			conflicts,
			reservationEvents,
			storeOnline,
		)
		storeOnline.Set(1)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

func ObserveStoreAttempt(op, outcome string, took time.Duration) {
	storeAttempts.WithLabelValues(op, outcome).Inc()
	storeDuration.WithLabelValues(op).Observe(took.Seconds())
}

func IncCache(result string) {
	cacheResults.WithLabelValues(result).Inc()
}

func IncConflict(stage string) {
	conflicts.WithLabelValues(stage).Inc()
}

func IncReservationEvent(event string) {
	reservationEvents.WithLabelValues(event).Inc()
}

func SetStoreOnline(online bool) {
	if online {
		storeOnline.Set(1)
		return
	}
	storeOnline.Set(0)
}
