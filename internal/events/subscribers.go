package events

import (
	"roombook/internal/metrics"

	"github.com/rs/zerolog"
)

// RegisterAuditLog writes every reservation event to the log.
func RegisterAuditLog(bus *EventBus, logger *zerolog.Logger) {
	l := logger.With().Str("component", "audit").Logger()
	for _, t := range ReservationEventTypes {
		bus.Subscribe(t, func(event *Event) error {
			var p ReservationEventPayload
			if err := event.Decode(&p); err != nil {
				return err
			}
			l.Info().
				Str("event", event.Type).
				Int64("reservation_id", p.ReservationID).
				Str("date", p.Date).
				Str("start_time", p.StartTime).
				Str("end_time", p.EndTime).
				Str("resource", p.ResourceKey).
				Bool("replayed", p.Replayed).
				Msg("reservation event")
			return nil
		})
	}
}

// RegisterMetrics counts reservation events.
func RegisterMetrics(bus *EventBus) {
	for _, t := range ReservationEventTypes {
		bus.Subscribe(t, func(event *Event) error {
			metrics.IncReservationEvent(event.Type)
			return nil
		})
	}
}
