package models

import "time"

const (
	DefaultStartHour    = 8
	DefaultEndHour      = 20
	DefaultSlotDuration = 30
)

type SlotConfig struct {
	StartHour    int `json:"start_hour" yaml:"start_hour"`
	EndHour      int `json:"end_hour" yaml:"end_hour"`
	SlotDuration int `json:"slot_duration" yaml:"slot_duration"`
}

func DefaultSlotConfig() SlotConfig {
	return SlotConfig{
		StartHour:    DefaultStartHour,
		EndHour:      DefaultEndHour,
		SlotDuration: DefaultSlotDuration,
	}
}

// ReservationSummary is the subset of a reservation exposed in availability views.
type ReservationSummary struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	StartTime TimeOfDay `json:"start_time"`
	EndTime   TimeOfDay `json:"end_time"`
}

type Slot struct {
	StartTime   TimeOfDay           `json:"start_time"`
	EndTime     TimeOfDay           `json:"end_time"`
	Available   bool                `json:"available"`
	Reservation *ReservationSummary `json:"reservation,omitempty"`
}

type Availability struct {
	Date        string               `json:"date"`
	ResourceKey string               `json:"resource_key,omitempty"`
	Occupied    []ReservationSummary `json:"occupied"`
	Slots       []Slot               `json:"slots"`
	SlotsConfig SlotConfig           `json:"slots_config"`
	Stale       bool                 `json:"stale"`
	Degraded    bool                 `json:"degraded"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// AvailabilityCheck answers whether a single proposed interval is free.
type AvailabilityCheck struct {
	Date      string              `json:"date"`
	StartTime TimeOfDay           `json:"start_time"`
	EndTime   TimeOfDay           `json:"end_time"`
	Available bool                `json:"available"`
	Conflict  *ReservationSummary `json:"conflict,omitempty"`
	Verified  bool                `json:"verified"`
	CheckedAt time.Time           `json:"checked_at"`
}
