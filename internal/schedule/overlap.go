package schedule

import "roombook/internal/models"

// Overlaps reports whether two half-open intervals share any instant.
// Intervals that only touch at a boundary do not overlap.
func Overlaps(a, b models.Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// FirstOverlap returns the first reservation in existing that overlaps iv.
// Reservations with skipID are ignored; pass 0 to check all of them.
func FirstOverlap(iv models.Interval, existing []*models.Reservation, skipID int64) *models.Reservation {
	for _, r := range existing {
		if r == nil || (skipID != 0 && r.ID == skipID) {
			continue
		}
		if Overlaps(iv, r.Interval()) {
			return r
		}
	}
	return nil
}
