package schedule

import (
	"fmt"

	"roombook/internal/models"
)

func ValidateConfig(cfg models.SlotConfig) error {
	if cfg.SlotDuration <= 0 {
		return fmt.Errorf("slot_duration must be positive, got %d", cfg.SlotDuration)
	}
	if cfg.StartHour < 0 || cfg.EndHour > 24 {
		return fmt.Errorf("business hours %d-%d must lie within 0-24", cfg.StartHour, cfg.EndHour)
	}
	if cfg.StartHour >= cfg.EndHour {
		return fmt.Errorf("start_hour %d must be before end_hour %d", cfg.StartHour, cfg.EndHour)
	}
	return nil
}

// SlotCount is the number of whole slots that fit in the business window.
func SlotCount(cfg models.SlotConfig) int {
	return (cfg.EndHour - cfg.StartHour) * 60 / cfg.SlotDuration
}

// GenerateSlots tiles the business window with fixed-length slots and marks
// each one occupied if any reservation overlaps it. A trailing partial slot
// is dropped.
func GenerateSlots(occupied []*models.Reservation, cfg models.SlotConfig) ([]models.Slot, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	startMin := cfg.StartHour * 60
	endMin := cfg.EndHour * 60

	slots := make([]models.Slot, 0, SlotCount(cfg))
	for m := startMin; m+cfg.SlotDuration <= endMin; m += cfg.SlotDuration {
		iv := models.Interval{
			Start: models.FromMinutes(m),
			End:   models.FromMinutes(m + cfg.SlotDuration),
		}
		slot := models.Slot{StartTime: iv.Start, EndTime: iv.End, Available: true}
		if r := FirstOverlap(iv, occupied, 0); r != nil {
			summary := r.Summary()
			slot.Available = false
			slot.Reservation = &summary
		}
		slots = append(slots, slot)
	}

	return slots, nil
}
