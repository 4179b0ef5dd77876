package models

import (
	"strings"
	"time"
)

type Reservation struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Participants   string    `json:"participants,omitempty"`
	Date           string    `json:"date"`
	StartTime      TimeOfDay `json:"start_time"`
	EndTime        TimeOfDay `json:"end_time"`
	ResourceKey    string    `json:"resource_key,omitempty"`
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (r *Reservation) Interval() Interval {
	return Interval{Start: r.StartTime, End: r.EndTime}
}

func (r *Reservation) Summary() ReservationSummary {
	return ReservationSummary{
		ID:        r.ID,
		Name:      r.Name,
		Title:     r.Title,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
	}
}

// SameContent reports whether two reservations describe the same booking,
// ignoring store-assigned fields.
func (r *Reservation) SameContent(o *Reservation) bool {
	return r.Title == o.Title &&
		r.Name == o.Name &&
		r.Description == o.Description &&
		r.Participants == o.Participants &&
		r.Date == o.Date &&
		r.StartTime == o.StartTime &&
		r.EndTime == o.EndTime &&
		r.ResourceKey == o.ResourceKey
}

// ReservationInput is the raw booking request as received from a client.
// Times stay strings until Normalize so both accepted widths can be checked.
type ReservationInput struct {
	Title          string `json:"title"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Participants   string `json:"participants"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	ResourceKey    string `json:"resource_key"`
	IdempotencyKey string `json:"-"`
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Normalize validates the input and converts it into a Reservation.
// All problems are collected rather than stopping at the first one.
func (in ReservationInput) Normalize() (*Reservation, []FieldError) {
	var problems []FieldError
	add := func(field, msg string) {
		problems = append(problems, FieldError{Field: field, Message: msg})
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		add("title", "is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		add("name", "is required")
	}

	var date string
	if strings.TrimSpace(in.Date) == "" {
		add("date", "is required")
	} else if d, err := ParseDate(in.Date); err != nil {
		add("date", "must be YYYY-MM-DD")
	} else {
		date = d
	}

	var start, end TimeOfDay
	startOK, endOK := false, false
	if strings.TrimSpace(in.StartTime) == "" {
		add("start_time", "is required")
	} else if t, err := ParseTimeOfDay(in.StartTime); err != nil || t == TimeOfDay(secondsPerDay) {
		add("start_time", "must be HH:MM or HH:MM:SS")
	} else {
		start, startOK = t, true
	}
	if strings.TrimSpace(in.EndTime) == "" {
		add("end_time", "is required")
	} else if t, err := ParseTimeOfDay(in.EndTime); err != nil {
		add("end_time", "must be HH:MM or HH:MM:SS")
	} else {
		end, endOK = t, true
	}
	if startOK && endOK && start >= end {
		add("end_time", "must be after start_time")
	}

	if len(problems) > 0 {
		return nil, problems
	}

	return &Reservation{
		Title:          title,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		Participants:   strings.TrimSpace(in.Participants),
		Date:           date,
		StartTime:      start,
		EndTime:        end,
		ResourceKey:    strings.TrimSpace(in.ResourceKey),
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
	}, nil
}
