package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/emgflow/emgflow/internal/errs"
	"github.com/emgflow/emgflow/internal/persistence"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// ErrDuplicateSession is returned when a session code or fingerprint
// collides with an existing row.
var ErrDuplicateSession = errors.New("duplicate session")

type sessionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSessionsRepo creates the PostgreSQL sessions repository.
func NewSessionsRepo(db *sqlx.DB, timeout time.Duration) persistence.SessionsRepo {
	return &sessionsRepo{db: db, timeout: timeout}
}

const sessionColumns = `
	id, session_code, file_hash, bucket, object_path, patient_id, therapist_id,
	status, processing_time_ms, analytics_cache, cache_hits, last_accessed_at,
	processing_error_message, created_at, updated_at, processed_at`

// Create inserts a new session row with status pending.
func (r *sessionsRepo) Create(ctx context.Context, s *persistence.TherapySession) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO therapy_sessions
			(id, session_code, file_hash, bucket, object_path, patient_id, therapist_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		s.ID, s.SessionCode, s.Fingerprint, s.Bucket, s.ObjectPath,
		s.PatientID, s.TherapistID, s.Status).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateSession, s.SessionCode)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetByCode retrieves a session by its human-readable code.
func (r *sessionsRepo) GetByCode(ctx context.Context, code string) (*persistence.TherapySession, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var s persistence.TherapySession
	query := `SELECT ` + sessionColumns + ` FROM therapy_sessions WHERE session_code = $1`
	if err := r.db.GetContext(ctx, &s, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &errs.SessionNotFoundError{SessionCode: code}
		}
		return nil, fmt.Errorf("failed to get session by code: %w", err)
	}
	return &s, nil
}

// GetByFingerprint returns the most recent session sharing the file hash,
// or nil when none exists.
func (r *sessionsRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*persistence.TherapySession, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var s persistence.TherapySession
	query := `SELECT ` + sessionColumns + `
		FROM therapy_sessions WHERE file_hash = $1
		ORDER BY created_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &s, query, fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session by fingerprint: %w", err)
	}
	return &s, nil
}

// NextSessionOrdinal reserves the next S-ordinal for a patient code by
// counting existing sessions with that prefix.
func (r *sessionsRepo) NextSessionOrdinal(ctx context.Context, patientCode string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	query := `SELECT COUNT(*) FROM therapy_sessions WHERE session_code LIKE $1 || 'S%'`
	if err := r.db.QueryRowxContext(ctx, query, patientCode).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions for %s: %w", patientCode, err)
	}
	return count + 1, nil
}

// CountCompletedForPatient counts completed sessions under a patient code.
func (r *sessionsRepo) CountCompletedForPatient(ctx context.Context, patientCode string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	query := `SELECT COUNT(*) FROM therapy_sessions WHERE session_code LIKE $1 || 'S%' AND status = 'completed'`
	if err := r.db.QueryRowxContext(ctx, query, patientCode).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count completed sessions for %s: %w", patientCode, err)
	}
	return count, nil
}

// UpdateStatus persists a lifecycle transition, verifying legality against
// the current row so concurrent writers cannot move a session backwards.
func (r *sessionsRepo) UpdateStatus(ctx context.Context, code string, status persistence.SessionStatus, errorMessage *string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	current, err := r.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if !current.Status.CanTransition(status) {
		return fmt.Errorf("illegal status transition %s -> %s for session %s", current.Status, status, code)
	}

	query := `
		UPDATE therapy_sessions
		SET status = $2, processing_error_message = $3, updated_at = NOW()
		WHERE session_code = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, code, status, errorMessage, current.Status)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("concurrent status change detected for session %s", code)
	}
	return nil
}

// SetFingerprint records the SHA-256 of the downloaded content.
func (r *sessionsRepo) SetFingerprint(ctx context.Context, code, fingerprint string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE therapy_sessions SET file_hash = $2, updated_at = NOW() WHERE session_code = $1`,
		code, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to set fingerprint: %w", err)
	}
	return nil
}

// MarkCompleted finalizes a session with its processing duration.
func (r *sessionsRepo) MarkCompleted(ctx context.Context, code string, processingTimeMs float64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE therapy_sessions
		SET status = 'completed', processing_time_ms = $2, processing_error_message = NULL,
		    processed_at = NOW(), updated_at = NOW()
		WHERE session_code = $1 AND status IN ('processing', 'reprocessing')`
	res, err := r.db.ExecContext(ctx, query, code, processingTimeMs)
	if err != nil {
		return fmt.Errorf("failed to mark session completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not in a completable state", code)
	}
	return nil
}

// SetAnalyticsCache writes the durable cache payload on the session row.
func (r *sessionsRepo) SetAnalyticsCache(ctx context.Context, code string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE therapy_sessions SET analytics_cache = $2, updated_at = NOW() WHERE session_code = $1`,
		code, payload)
	if err != nil {
		return fmt.Errorf("failed to write analytics cache: %w", err)
	}
	return nil
}

// AnalyticsCacheByFingerprint reads the durable cache payload of any
// completed session sharing the fingerprint.
func (r *sessionsRepo) AnalyticsCacheByFingerprint(ctx context.Context, fingerprint string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	query := `
		SELECT analytics_cache FROM therapy_sessions
		WHERE file_hash = $1 AND status = 'completed' AND analytics_cache IS NOT NULL
		ORDER BY processed_at DESC LIMIT 1`
	if err := r.db.QueryRowxContext(ctx, query, fingerprint).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read analytics cache: %w", err)
	}
	return payload, nil
}

// TouchCacheHit increments the hit counter and access timestamp.
func (r *sessionsRepo) TouchCacheHit(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE therapy_sessions SET cache_hits = cache_hits + 1, last_accessed_at = NOW() WHERE session_code = $1`,
		code)
	if err != nil {
		return fmt.Errorf("failed to touch cache hit: %w", err)
	}
	return nil
}

// ClearAnalyticsCache invalidates the durable layer for every session
// sharing the fingerprint.
func (r *sessionsRepo) ClearAnalyticsCache(ctx context.Context, fingerprint string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE therapy_sessions SET analytics_cache = NULL, updated_at = NOW() WHERE file_hash = $1`,
		fingerprint)
	if err != nil {
		return fmt.Errorf("failed to clear analytics cache: %w", err)
	}
	return nil
}
