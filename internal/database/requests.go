package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtside/internal/models"
)

const dateLayout = "2006-01-02"

const requestColumns = `id, owner_id, court_id, target_date, time_slot, status,
                 attempt_count, max_attempts, next_attempt_at, last_error,
                 confirmation_code, external_booking_id, created_at, updated_at, expires_at`

// CreateRequestGuarded inserts a request only if no active request holds the
// same (owner, court, date, slot) tuple and the owner is under quota for the
// target date. Both checks run inside one transaction; the partial unique
// index catches races with other process instances.
func (db *DB) CreateRequestGuarded(ctx context.Context, req *models.BookingRequest, dailyQuota int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	dateKey := req.TargetDate.Format(dateLayout)
	activeIn := activeStatusSet()

	var dupes int
	queryDupes := `SELECT COUNT(*) FROM booking_requests
                   WHERE owner_id = ? AND court_id = ? AND target_date = ? AND time_slot = ?
                   AND status IN ` + activeIn
	if err := tx.QueryRowContext(ctx, queryDupes,
		req.OwnerID, req.CourtID, dateKey, req.TimeSlot).Scan(&dupes); err != nil {
		return fmt.Errorf("failed to check duplicates in tx: %w", err)
	}
	if dupes > 0 {
		return ErrDuplicateRequest
	}

	var active int
	queryQuota := `SELECT COUNT(*) FROM booking_requests
                   WHERE owner_id = ? AND target_date = ? AND status IN ` + activeIn
	if err := tx.QueryRowContext(ctx, queryQuota, req.OwnerID, dateKey).Scan(&active); err != nil {
		return fmt.Errorf("failed to check quota in tx: %w", err)
	}
	if dailyQuota > 0 && active >= dailyQuota {
		return ErrQuotaExceeded
	}

	now := time.Now()
	queryInsert := `INSERT INTO booking_requests (
                id, owner_id, court_id, target_date, time_slot, status,
                attempt_count, max_attempts, next_attempt_at, last_error,
                confirmation_code, external_booking_id, created_at, updated_at, expires_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, queryInsert,
		req.ID,
		req.OwnerID,
		req.CourtID,
		dateKey,
		req.TimeSlot,
		string(req.Status),
		req.AttemptCount,
		req.MaxAttempts,
		nullableTime(req.NextAttemptAt),
		req.LastError,
		req.ConfirmationCode,
		req.ExternalBookingID,
		now,
		now,
		req.ExpiresAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("failed to insert booking request in tx: %w", err)
	}

	req.CreatedAt = now
	req.UpdatedAt = now
	return tx.Commit()
}

func (db *DB) GetRequest(ctx context.Context, id string) (*models.BookingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM booking_requests WHERE id = ?`
	req, err := scanRequest(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking request: %w", err)
	}
	return req, nil
}

// MarkScheduled moves a request into the scheduled state with a wake time.
func (db *DB) MarkScheduled(ctx context.Context, id string, from models.Status, wakeAt time.Time) error {
	if err := models.CheckTransition(id, from, models.StatusScheduled); err != nil {
		return err
	}
	return db.transition(ctx, id, from,
		`status = ?, next_attempt_at = ?, updated_at = ?`,
		string(models.StatusScheduled), wakeAt, time.Now())
}

// ClaimProcessing claims a request for an execution attempt. The
// compare-and-swap on status guarantees only one dispatcher instance wins.
func (db *DB) ClaimProcessing(ctx context.Context, id string, from models.Status) error {
	if err := models.CheckTransition(id, from, models.StatusProcessing); err != nil {
		return err
	}
	return db.transition(ctx, id, from,
		`status = ?, next_attempt_at = NULL, updated_at = ?`,
		string(models.StatusProcessing), time.Now())
}

// MarkConfirmed finishes a processing request successfully. Returns
// ErrConcurrentModification when the request is no longer processing, e.g.
// it was cancelled while the attempt was in flight; the caller must discard
// the result.
func (db *DB) MarkConfirmed(ctx context.Context, id string, attemptCount int, confirmationCode, externalBookingID string) error {
	return db.transition(ctx, id, models.StatusProcessing,
		`status = ?, attempt_count = ?, confirmation_code = ?, external_booking_id = ?, last_error = '', updated_at = ?`,
		string(models.StatusConfirmed), attemptCount, confirmationCode, externalBookingID, time.Now())
}

// ScheduleRetry returns a processing request to scheduled with a backoff wake
// time after a transient failure.
func (db *DB) ScheduleRetry(ctx context.Context, id string, attemptCount int, wakeAt time.Time, lastError string) error {
	return db.transition(ctx, id, models.StatusProcessing,
		`status = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?`,
		string(models.StatusScheduled), attemptCount, wakeAt, lastError, time.Now())
}

// MarkFailed terminates a processing request, either because the attempt
// budget is spent or the failure was fatal.
func (db *DB) MarkFailed(ctx context.Context, id string, attemptCount int, lastError string) error {
	return db.transition(ctx, id, models.StatusProcessing,
		`status = ?, attempt_count = ?, next_attempt_at = NULL, last_error = ?, updated_at = ?`,
		string(models.StatusFailed), attemptCount, lastError, time.Now())
}

// MarkExpired is used by the reaper for pending/scheduled requests whose
// target date passed without success.
func (db *DB) MarkExpired(ctx context.Context, id string, from models.Status) error {
	if err := models.CheckTransition(id, from, models.StatusExpired); err != nil {
		return err
	}
	return db.transition(ctx, id, from,
		`status = ?, next_attempt_at = NULL, last_error = ?, updated_at = ?`,
		string(models.StatusExpired), "target date passed before the booking succeeded", time.Now())
}

// CancelActive cancels a request in any non-terminal state. A cancelled
// status wins over an in-flight attempt: the attempt's MarkConfirmed /
// ScheduleRetry will fail the status CAS and its result is discarded.
func (db *DB) CancelActive(ctx context.Context, id string) error {
	query := `UPDATE booking_requests
              SET status = ?, next_attempt_at = NULL, updated_at = ?
              WHERE id = ? AND status IN ` + activeStatusSet()
	result, err := db.ExecContext(ctx, query, string(models.StatusCancelled), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to cancel booking request: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// DueScheduled returns scheduled requests whose wake time has arrived.
func (db *DB) DueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.BookingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM booking_requests
              WHERE status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
              ORDER BY next_attempt_at ASC LIMIT ?`
	return db.queryRequests(ctx, query, string(models.StatusScheduled), now, limit)
}

// PendingRequests returns requests still waiting for classification. The
// dispatcher picks these up on its tick so that a crash between intake and
// dispatch never strands a request.
func (db *DB) PendingRequests(ctx context.Context, limit int) ([]*models.BookingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM booking_requests
              WHERE status = ? ORDER BY created_at ASC LIMIT ?`
	return db.queryRequests(ctx, query, string(models.StatusPending), limit)
}

// StaleProcessing returns processing requests untouched since cutoff. A live
// attempt always finishes (or times out) well inside the cutoff, so anything
// older was orphaned by an instance that died mid-attempt.
func (db *DB) StaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*models.BookingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM booking_requests
              WHERE status = ? AND updated_at <= ?
              ORDER BY updated_at ASC LIMIT ?`
	return db.queryRequests(ctx, query, string(models.StatusProcessing), cutoff, limit)
}

// StaleActive returns pending/scheduled requests past their expiry instant.
// Processing requests are excluded: their fate belongs to the dispatcher.
func (db *DB) StaleActive(ctx context.Context, now time.Time) ([]*models.BookingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM booking_requests
              WHERE status IN (?, ?) AND expires_at <= ?
              ORDER BY expires_at ASC`
	return db.queryRequests(ctx, query,
		string(models.StatusPending), string(models.StatusScheduled), now)
}

// PurgeTerminalBefore deletes terminal requests not touched since cutoff.
func (db *DB) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM booking_requests
              WHERE status IN (?, ?, ?, ?) AND updated_at < ?`
	result, err := db.ExecContext(ctx, query,
		string(models.StatusConfirmed), string(models.StatusFailed),
		string(models.StatusCancelled), string(models.StatusExpired), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal requests: %w", err)
	}
	return result.RowsAffected()
}

// ListForOwner returns the owner's requests, optionally filtered by status,
// newest first.
func (db *DB) ListForOwner(ctx context.Context, ownerID string, status *models.Status) ([]*models.BookingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM booking_requests WHERE owner_id = ?`
	args := []any{ownerID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`
	return db.queryRequests(ctx, query, args...)
}

// ListByTargetRange returns requests with target dates inside [from, to],
// ordered by date, court and slot. Used by the export.
func (db *DB) ListByTargetRange(ctx context.Context, from, to time.Time) ([]*models.BookingRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM booking_requests
              WHERE target_date >= ? AND target_date <= ?
              ORDER BY target_date ASC, court_id ASC, time_slot ASC`
	return db.queryRequests(ctx, query, from.Format(dateLayout), to.Format(dateLayout))
}

// CountByStatus returns request counts per lifecycle state.
func (db *DB) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM booking_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[models.Status(status)] = count
	}
	return counts, rows.Err()
}

// transition applies a conditional update keyed on the current status.
func (db *DB) transition(ctx context.Context, id string, from models.Status, setClause string, args ...any) error {
	query := `UPDATE booking_requests SET ` + setClause + ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking request status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) queryRequests(ctx context.Context, query string, args ...any) ([]*models.BookingRequest, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query booking requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.BookingRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.BookingRequest, error) {
	var (
		req           models.BookingRequest
		status        string
		dateStr       string
		nextAttemptAt sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.OwnerID, &req.CourtID, &dateStr, &req.TimeSlot, &status,
		&req.AttemptCount, &req.MaxAttempts, &nextAttemptAt, &req.LastError,
		&req.ConfirmationCode, &req.ExternalBookingID,
		&req.CreatedAt, &req.UpdatedAt, &req.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = models.Status(status)
	req.TargetDate, err = time.Parse(dateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse target date %s: %w", dateStr, err)
	}
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		req.NextAttemptAt = &t
	}
	return &req, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func activeStatusSet() string {
	parts := make([]string, len(models.ActiveStatuses))
	for i, status := range models.ActiveStatuses {
		parts[i] = `'` + string(status) + `'`
	}
	return `(` + strings.Join(parts, ", ") + `)`
}
