package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"

	secondsPerDay = 24 * 60 * 60
)

// TimeOfDay is a wall-clock time stored as seconds since midnight.
// 24:00:00 is accepted as the end of the day.
type TimeOfDay int

// ParseTimeOfDay accepts HH:MM or HH:MM:SS. Any other width is rejected.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)

	var parts []string
	switch len(s) {
	case 5:
		parts = strings.Split(s, ":")
		if len(parts) != 2 {
			return 0, fmt.Errorf("invalid time %q; expected HH:MM or HH:MM:SS", raw)
		}
		parts = append(parts, "00")
	case 8:
		parts = strings.Split(s, ":")
		if len(parts) != 3 {
			return 0, fmt.Errorf("invalid time %q; expected HH:MM or HH:MM:SS", raw)
		}
	default:
		return 0, fmt.Errorf("invalid time %q; expected HH:MM or HH:MM:SS", raw)
	}

	var values [3]int
	for i, p := range parts {
		if len(p) != 2 || !isDigit(p[0]) || !isDigit(p[1]) {
			return 0, fmt.Errorf("invalid time %q; expected HH:MM or HH:MM:SS", raw)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q; expected HH:MM or HH:MM:SS", raw)
		}
		values[i] = n
	}

	h, m, sec := values[0], values[1], values[2]
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid time %q; minutes and seconds must be below 60", raw)
	}
	if h > 24 || (h == 24 && (m != 0 || sec != 0)) {
		return 0, fmt.Errorf("invalid time %q; hour out of range", raw)
	}

	return TimeOfDay(h*3600 + m*60 + sec), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(raw string) TimeOfDay {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// FromMinutes builds a TimeOfDay from minutes since midnight.
func FromMinutes(minutes int) TimeOfDay {
	return TimeOfDay(minutes * 60)
}

func (t TimeOfDay) Seconds() int { return int(t) }

func (t TimeOfDay) Minutes() int { return int(t) / 60 }

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t <= secondsPerDay
}

// String renders the canonical HH:MM:SS form.
func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// Short renders HH:MM, used for display only.
func (t TimeOfDay) Short() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d", s/3600, (s%3600)/60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	parsed, err := ParseTimeOfDay(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseDate validates a YYYY-MM-DD calendar date and returns its canonical form.
func ParseDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) != len(DateLayout) {
		return "", fmt.Errorf("invalid date %q; expected YYYY-MM-DD", raw)
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q; expected YYYY-MM-DD", raw)
	}
	return d.Format(DateLayout), nil
}

// NextDate returns the calendar day after date. date must already be canonical.
func NextDate(date string) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, 1).Format(DateLayout), nil
}
