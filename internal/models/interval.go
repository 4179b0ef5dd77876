package models

import "fmt"

// Interval is a half-open [Start, End) range within one day.
type Interval struct {
	Start TimeOfDay
	End   TimeOfDay
}

func NewInterval(start, end TimeOfDay) (Interval, error) {
	if !start.Valid() || !end.Valid() {
		return Interval{}, fmt.Errorf("interval %s-%s is outside the day", start, end)
	}
	if start >= end {
		return Interval{}, fmt.Errorf("start time %s must be before end time %s", start, end)
	}
	return Interval{Start: start, End: end}, nil
}

func (i Interval) Duration() int {
	return int(i.End - i.Start)
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}
