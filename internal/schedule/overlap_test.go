package schedule

import (
	"testing"

	"roombook/internal/models"

	"github.com/stretchr/testify/assert"
)

func iv(start, end string) models.Interval {
	return models.Interval{Start: models.MustTimeOfDay(start), End: models.MustTimeOfDay(end)}
}

func res(id int64, start, end string) *models.Reservation {
	return &models.Reservation{
		ID:        id,
		Title:     "Sync",
		Name:      "Alex",
		Date:      "2025-02-03",
		StartTime: models.MustTimeOfDay(start),
		EndTime:   models.MustTimeOfDay(end),
	}
}

func TestOverlaps(t *testing.T) {
	base := iv("09:00", "10:00")
	tests := []struct {
		name  string
		other models.Interval
		want  bool
	}{
		{"Identical", iv("09:00", "10:00"), true},
		{"Nested", iv("09:15", "09:45"), true},
		{"Enclosing", iv("08:00", "11:00"), true},
		{"OverlapsStart", iv("08:30", "09:30"), true},
		{"OverlapsEnd", iv("09:30", "10:30"), true},
		{"TouchesEnd", iv("10:00", "10:30"), false},
		{"TouchesStart", iv("08:30", "09:00"), false},
		{"Before", iv("07:00", "08:00"), false},
		{"After", iv("11:00", "12:00"), false},
		{"MixedWidth", iv("09:59:59", "10:30:00"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(base, tt.other))
			assert.Equal(t, tt.want, Overlaps(tt.other, base), "overlap must be symmetric")
		})
	}
}

func TestOverlaps_Reflexive(t *testing.T) {
	for _, i := range []models.Interval{iv("00:00", "00:01"), iv("08:00", "20:00"), iv("23:00", "24:00")} {
		assert.True(t, Overlaps(i, i), i.String())
	}
}

func TestFirstOverlap(t *testing.T) {
	existing := []*models.Reservation{res(1, "08:00", "09:00"), res(2, "09:00", "10:00"), res(3, "09:30", "11:00")}

	got := FirstOverlap(iv("09:45", "10:15"), existing, 0)
	if assert.NotNil(t, got) {
		assert.Equal(t, int64(2), got.ID)
	}

	got = FirstOverlap(iv("09:45", "10:15"), existing, 2)
	if assert.NotNil(t, got) {
		assert.Equal(t, int64(3), got.ID)
	}

	assert.Nil(t, FirstOverlap(iv("11:00", "12:00"), existing, 0))
	assert.Nil(t, FirstOverlap(iv("11:00", "12:00"), nil, 0))
}
