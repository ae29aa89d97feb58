// Package repository persists the lifecycle history of terminal sessions.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/remote-agent-terminal/httpterm/internal/model"
)

// SessionRepository provides data access for session records.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const selectColumns = `instance_id, session_id, multiplexer, pid, rows, cols, status, exit_code, created_at, updated_at, closed_at`

// Create inserts a new record.
func (r *SessionRepository) Create(ctx context.Context, rec *model.SessionRecord) error {
	query := `
		INSERT INTO terminal_sessions (instance_id, session_id, multiplexer, pid, rows, cols, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.InstanceID,
		rec.SessionID,
		rec.Multiplexer,
		rec.PID,
		rec.Rows,
		rec.Cols,
		rec.Status,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// GetByInstanceID retrieves one record.
func (r *SessionRepository) GetByInstanceID(ctx context.Context, instanceID string) (*model.SessionRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM terminal_sessions WHERE instance_id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, instanceID))
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}
	return rec, nil
}

// ListBySessionID returns every instance created under sessionID, newest first.
func (r *SessionRepository) ListBySessionID(ctx context.Context, sessionID string) ([]*model.SessionRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM terminal_sessions WHERE session_id = ? ORDER BY created_at DESC, rowid DESC`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	records := []*model.SessionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session records: %w", err)
	}
	return records, nil
}

// UpdateSize records new terminal dimensions.
func (r *SessionRepository) UpdateSize(ctx context.Context, instanceID string, rows, cols int) error {
	query := `UPDATE terminal_sessions SET rows = ?, cols = ?, updated_at = ? WHERE instance_id = ?`

	return r.exec(ctx, query, rows, cols, time.Now(), instanceID)
}

// Close marks a record closed with the given status and exit code.
func (r *SessionRepository) Close(ctx context.Context, instanceID string, status model.SessionStatus, exitCode *int) error {
	query := `
		UPDATE terminal_sessions
		SET status = ?, exit_code = ?, updated_at = ?, closed_at = ?
		WHERE instance_id = ?
	`

	now := time.Now()
	return r.exec(ctx, query, status, exitCode, now, now, instanceID)
}

// MarkAbandoned closes every record still active, left behind by a process
// that did not shut down cleanly. It returns the number of records changed.
func (r *SessionRepository) MarkAbandoned(ctx context.Context) (int, error) {
	query := `
		UPDATE terminal_sessions
		SET status = ?, updated_at = ?, closed_at = ?
		WHERE status = ?
	`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query, model.SessionStatusAbandoned, now, now, model.SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to mark abandoned sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (r *SessionRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*model.SessionRecord, error) {
	rec := &model.SessionRecord{}
	var pid, exitCode sql.NullInt64
	var closedAt sql.NullTime

	err := s.Scan(
		&rec.InstanceID,
		&rec.SessionID,
		&rec.Multiplexer,
		&pid,
		&rec.Rows,
		&rec.Cols,
		&rec.Status,
		&exitCode,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	if pid.Valid {
		p := int(pid.Int64)
		rec.PID = &p
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	if closedAt.Valid {
		t := closedAt.Time
		rec.ClosedAt = &t
	}
	return rec, nil
}
