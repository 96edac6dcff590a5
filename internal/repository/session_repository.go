package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-presence-api/internal/models"
)

const sessionColumns = `id, schedule_id, location_id, qr_token, qr_token_expires_at, status, window_start, window_end, created_by, created_at, updated_at`

// SessionRepository persists attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	const query = `
INSERT INTO attendance_sessions (id, schedule_id, location_id, status, window_start, window_end, created_by, created_at, updated_at)
VALUES (:id, :schedule_id, :location_id, :status, :window_start, :window_end, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindByID loads a session. It returns sql.ErrNoRows when missing.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// UpdateStatus moves a session from one status to another. The update only applies
// while the row still has the expected status, so concurrent transitions cannot both win.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, from, to models.SessionStatus) (bool, error) {
	const query = `UPDATE attendance_sessions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("session status rows affected: %w", err)
	}
	return affected == 1, nil
}

// ListActive returns every active session.
func (r *SessionRepository) ListActive(ctx context.Context) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE status = $1 ORDER BY window_end`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, models.SessionStatusActive); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// Name identifies the repository as a token sink.
func (r *SessionRepository) Name() string {
	return "session_store"
}

// Publish records the current rotation payload on the session row.
func (r *SessionRepository) Publish(ctx context.Context, token models.RotatedToken) error {
	payload, err := token.Payload().Encode()
	if err != nil {
		return err
	}
	const query = `UPDATE attendance_sessions SET qr_token = $1, qr_token_expires_at = $2, updated_at = NOW() WHERE id = $3 AND status = 'active'`
	if _, err := r.db.ExecContext(ctx, query, payload, token.ExpiresAt, token.SessionID); err != nil {
		return fmt.Errorf("update session token: %w", err)
	}
	return nil
}
