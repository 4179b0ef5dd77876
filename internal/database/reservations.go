package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roombook/internal/domain"
	"roombook/internal/models"
)

var _ domain.ReservationStore = (*DB)(nil)

const reservationColumns = `id, title, name, description, participants, date,
    start_time, end_time, resource_key, COALESCE(idempotency_key, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r          models.Reservation
		start, end string
	)
	err := row.Scan(
		&r.ID, &r.Title, &r.Name, &r.Description, &r.Participants, &r.Date,
		&start, &end, &r.ResourceKey, &r.IdempotencyKey, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.StartTime, err = models.ParseTimeOfDay(start); err != nil {
		return nil, fmt.Errorf("reservation %d: bad start_time: %w", r.ID, err)
	}
	if r.EndTime, err = models.ParseTimeOfDay(end); err != nil {
		return nil, fmt.Errorf("reservation %d: bad end_time: %w", r.ID, err)
	}
	return &r, nil
}

func nullableKey(key string) interface{} {
	if key == "" {
		return nil
	}
	return key
}

// ListReservations returns the reservations of one date and resource ordered by start time.
func (db *DB) ListReservations(ctx context.Context, date, resourceKey string) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
        FROM reservations
        WHERE date = ? AND resource_key = ?
        ORDER BY start_time, id`

	rows, err := db.QueryContext(ctx, query, date, resourceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return out, nil
}

func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation %d: %w", id, err)
	}
	return r, nil
}

// CreateReservation re-checks overlap and inserts inside one write transaction.
// A known idempotency key returns the stored row instead of inserting again.
func (db *DB) CreateReservation(ctx context.Context, r *models.Reservation) (*models.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if r.IdempotencyKey != "" {
		existing, err := reservationByIdempotencyKey(ctx, tx, r.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if !existing.SameContent(r) {
				return nil, domain.ErrIdempotencyConflict
			}
			db.logger.Info().Int64("id", existing.ID).Str("idempotency_key", r.IdempotencyKey).Msg("Replayed reservation insert")
			return existing, nil
		}
	}

	if err := checkOverlapTx(ctx, tx, r, 0); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `INSERT INTO reservations (
            title, name, description, participants, date,
            start_time, end_time, resource_key, idempotency_key, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Title, r.Name, r.Description, r.Participants, r.Date,
		r.StartTime.String(), r.EndTime.String(), r.ResourceKey, nullableKey(r.IdempotencyKey),
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrIdempotencyConflict
		}
		if isCheckViolation(err) {
			return nil, domain.NewValidationError("end_time", "must be after start_time")
		}
		return nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	created := *r
	created.ID = id
	created.CreatedAt = now
	created.UpdatedAt = now
	return &created, nil
}

// UpdateReservation replaces every field of an existing reservation.
func (db *DB) UpdateReservation(ctx context.Context, r *models.Reservation) (*models.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := scanReservation(tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, r.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %d: %w", r.ID, err)
	}

	if err := checkOverlapTx(ctx, tx, r, r.ID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `UPDATE reservations SET
            title = ?, name = ?, description = ?, participants = ?, date = ?,
            start_time = ?, end_time = ?, resource_key = ?, updated_at = ?
        WHERE id = ?`,
		r.Title, r.Name, r.Description, r.Participants, r.Date,
		r.StartTime.String(), r.EndTime.String(), r.ResourceKey, now, r.ID,
	)
	if err != nil {
		if isCheckViolation(err) {
			return nil, domain.NewValidationError("end_time", "must be after start_time")
		}
		return nil, fmt.Errorf("failed to update reservation %d: %w", r.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation update: %w", err)
	}

	updated := *r
	updated.IdempotencyKey = current.IdempotencyKey
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = now
	return &updated, nil
}

func (db *DB) DeleteReservation(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reservation %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func reservationByIdempotencyKey(ctx context.Context, tx *sql.Tx, key string) (*models.Reservation, error) {
	r, err := scanReservation(tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE idempotency_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return r, nil
}

// checkOverlapTx is the authoritative overlap check. Times are stored as
// fixed-width HH:MM:SS so text comparison preserves order.
func checkOverlapTx(ctx context.Context, tx *sql.Tx, r *models.Reservation, skipID int64) error {
	existing, err := scanReservation(tx.QueryRowContext(ctx, `SELECT `+reservationColumns+`
        FROM reservations
        WHERE date = ? AND resource_key = ? AND id != ?
          AND start_time < ? AND end_time > ?
        ORDER BY start_time
        LIMIT 1`,
		r.Date, r.ResourceKey, skipID, r.EndTime.String(), r.StartTime.String(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check overlap: %w", err)
	}
	return &domain.ConflictError{Existing: existing}
}
