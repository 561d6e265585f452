package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// ========================================
// Sync Session Repository
// ========================================

// SQLiteSyncSessionRepository implements SyncSessionRepository for SQLite/libsql.
type SQLiteSyncSessionRepository struct {
	db *sql.DB
}

// NewSQLiteSyncSessionRepository creates a new SQLite sync session repository.
func NewSQLiteSyncSessionRepository(db *sql.DB) *SQLiteSyncSessionRepository {
	return &SQLiteSyncSessionRepository{db: db}
}

const sessionColumns = `id, app_id, status, platform, force_historical, started_at, finished_at`

// Start supersedes any active session for the app and inserts the new one.
func (r *SQLiteSyncSessionRepository) Start(ctx context.Context, session *models.SyncSession) ([]string, error) {
	now := time.Now()
	if session.ID == "" {
		session.ID = ulid.Make().String()
	}
	session.Status = models.SyncStatusActive
	session.StartedAt = now
	session.FinishedAt = nil

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM sync_sessions WHERE app_id = ? AND status = ?`, session.AppID, string(models.SyncStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to find active sessions: %w", err)
	}
	var cancelled []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		cancelled = append(cancelled, id)
	}
	_ = rows.Close()

	if len(cancelled) > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sync_sessions SET status = ?, finished_at = ? WHERE app_id = ? AND status = ?
		`, string(models.SyncStatusCancelled), formatTime(now), session.AppID, string(models.SyncStatusActive)); err != nil {
			return nil, fmt.Errorf("failed to cancel active sessions: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_sessions (id, app_id, status, platform, force_historical, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.AppID, string(session.Status), nullString(string(session.Platform)), session.ForceHistorical, formatTime(now)); err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session start: %w", err)
	}
	return cancelled, nil
}

// GetByID retrieves a session by ID.
func (r *SQLiteSyncSessionRepository) GetByID(ctx context.Context, id string) (*models.SyncSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sync_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetActive returns the app's active session, or nil.
func (r *SQLiteSyncSessionRepository) GetActive(ctx context.Context, appID string) (*models.SyncSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sync_sessions WHERE app_id = ? AND status = ?
	`, appID, string(models.SyncStatusActive))
	return scanSession(row)
}

// GetLatest returns the most recently started session of an app, or nil.
func (r *SQLiteSyncSessionRepository) GetLatest(ctx context.Context, appID string) (*models.SyncSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sync_sessions WHERE app_id = ?
		ORDER BY started_at DESC, id DESC LIMIT 1
	`, appID)
	return scanSession(row)
}

// Finish moves an active session to a terminal status.
func (r *SQLiteSyncSessionRepository) Finish(ctx context.Context, id string, status models.SyncStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_sessions SET status = ?, finished_at = ? WHERE id = ? AND status = ?
	`, string(status), formatTime(time.Now()), id, string(models.SyncStatusActive))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CancelActive cancels the app's active session and returns its id, or "" when
// nothing was running.
func (r *SQLiteSyncSessionRepository) CancelActive(ctx context.Context, appID string) (string, error) {
	active, err := r.GetActive(ctx, appID)
	if err != nil {
		return "", err
	}
	if active == nil {
		return "", nil
	}
	ok, err := r.Finish(ctx, active.ID, models.SyncStatusCancelled)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return active.ID, nil
}

// CancelStale cancels active sessions that started before the cutoff. Used at
// startup to clear sessions orphaned by a crash.
func (r *SQLiteSyncSessionRepository) CancelStale(ctx context.Context, startedBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_sessions SET status = ?, finished_at = ? WHERE status = ? AND started_at < ?
	`, string(models.SyncStatusCancelled), formatTime(time.Now()), string(models.SyncStatusActive), formatTime(startedBefore))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanSession(row rowScanner) (*models.SyncSession, error) {
	var s models.SyncSession
	var status, startedAt string
	var platform, finishedAt sql.NullString

	err := row.Scan(&s.ID, &s.AppID, &status, &platform, &s.ForceHistorical, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.Status = models.SyncStatus(status)
	s.Platform = models.Platform(platform.String)
	s.StartedAt = parseTime(startedAt)
	s.FinishedAt = parseNullTime(finishedAt)
	return &s, nil
}

// ========================================
// Sync Log Repository
// ========================================

// SQLiteSyncLogRepository implements SyncLogRepository for SQLite/libsql.
type SQLiteSyncLogRepository struct {
	db *sql.DB
}

// NewSQLiteSyncLogRepository creates a new SQLite sync log repository.
func NewSQLiteSyncLogRepository(db *sql.DB) *SQLiteSyncLogRepository {
	return &SQLiteSyncLogRepository{db: db}
}

// Append adds a log line to a session.
func (r *SQLiteSyncLogRepository) Append(ctx context.Context, log *models.SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.Make().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, session_id, app_id, level, platform, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.SessionID, log.AppID, string(log.Level), nullString(string(log.Platform)), log.Message, formatTime(log.CreatedAt))
	return err
}

// ListBySession returns a session's log lines in insertion order.
func (r *SQLiteSyncLogRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.SyncLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, app_id, level, platform, message, created_at
		FROM sync_logs WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []*models.SyncLog
	for rows.Next() {
		var l models.SyncLog
		var level, createdAt string
		var platform sql.NullString

		if err := rows.Scan(&l.ID, &l.SessionID, &l.AppID, &level, &platform, &l.Message, &createdAt); err != nil {
			return nil, err
		}

		l.Level = models.SyncLogLevel(level)
		l.Platform = models.Platform(platform.String)
		l.CreatedAt = parseTime(createdAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// SaveCounters stores (or replaces) the counters of one platform in a session.
func (r *SQLiteSyncLogRepository) SaveCounters(ctx context.Context, c *models.SyncRunCounters) error {
	data, err := json.Marshal(c.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_run_counters (session_id, platform, counters_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, platform) DO UPDATE SET
			counters_json = excluded.counters_json,
			created_at = excluded.created_at
	`, c.SessionID, string(c.Platform), string(data), formatTime(c.CreatedAt))
	return err
}

// ListCounters returns all platform counters of a session.
func (r *SQLiteSyncLogRepository) ListCounters(ctx context.Context, sessionID string) ([]*models.SyncRunCounters, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, platform, counters_json, created_at
		FROM sync_run_counters WHERE session_id = ?
		ORDER BY platform
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*models.SyncRunCounters
	for rows.Next() {
		var c models.SyncRunCounters
		var platform, data, createdAt string

		if err := rows.Scan(&c.SessionID, &platform, &data, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &c.Counters); err != nil {
			return nil, fmt.Errorf("failed to parse counters for %s: %w", platform, err)
		}

		c.Platform = models.Platform(platform)
		c.CreatedAt = parseTime(createdAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}
