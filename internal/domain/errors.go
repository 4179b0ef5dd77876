package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roombook/internal/models"
)

var (
	ErrNotFound            = errors.New("reservation not found")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different reservation")
	ErrTimeout             = errors.New("store call timed out")
)

// ValidationError is returned for malformed or missing input. Never retried.
type ValidationError struct {
	Fields []models.FieldError
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: []models.FieldError{{Field: field, Message: msg}}}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError reports an overlap with an existing reservation.
type ConflictError struct {
	Existing *models.Reservation
}

func (e *ConflictError) Error() string {
	if e.Existing == nil {
		return "time range overlaps an existing reservation"
	}
	return fmt.Sprintf("time range overlaps reservation %d (%s %s-%s)",
		e.Existing.ID, e.Existing.Date, e.Existing.StartTime, e.Existing.EndTime)
}

// StoreUnavailableError is returned once every retry attempt has failed.
type StoreUnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	if err == nil {
		return true
	}
	var vErr *ValidationError
	var cErr *ConflictError
	switch {
	case errors.As(err, &vErr), errors.As(err, &cErr):
		return true
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrIdempotencyConflict):
		return true
	case errors.Is(err, context.Canceled):
		return true
	}
	return false
}

func IsStoreUnavailable(err error) bool {
	var sErr *StoreUnavailableError
	return errors.As(err, &sErr)
}
