package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// SQLiteNotificationRepository implements NotificationRepository for SQLite/libsql.
type SQLiteNotificationRepository struct {
	db *sql.DB
}

// NewSQLiteNotificationRepository creates a new SQLite notification repository.
func NewSQLiteNotificationRepository(db *sql.DB) *SQLiteNotificationRepository {
	return &SQLiteNotificationRepository{db: db}
}

// Insert stores a notification. Redeliveries of the same notification id are
// ignored and reported as false.
func (r *SQLiteNotificationRepository) Insert(ctx context.Context, n *models.StoreNotification) (bool, error) {
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO store_notifications (id, app_id, platform, notification_id, notification_type, subtype, signed_at, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(platform, notification_id) DO NOTHING
	`, n.ID, nullString(n.AppID), string(n.Platform), n.NotificationID, n.NotificationType, nullString(n.Subtype),
		formatTimePtr(n.SignedAt), n.Payload, formatTime(n.ReceivedAt))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListByApp returns the most recent notifications for an app.
func (r *SQLiteNotificationRepository) ListByApp(ctx context.Context, appID string, limit int) ([]*models.StoreNotification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, app_id, platform, notification_id, notification_type, subtype, signed_at, payload, received_at
		FROM store_notifications
		WHERE app_id = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, appID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*models.StoreNotification
	for rows.Next() {
		var n models.StoreNotification
		var app, subtype, signedAt sql.NullString
		var platform, receivedAt string

		if err := rows.Scan(&n.ID, &app, &platform, &n.NotificationID, &n.NotificationType, &subtype, &signedAt, &n.Payload, &receivedAt); err != nil {
			return nil, err
		}

		n.AppID = app.String
		n.Platform = models.Platform(platform)
		n.Subtype = subtype.String
		n.SignedAt = parseNullTime(signedAt)
		n.ReceivedAt = parseTime(receivedAt)
		out = append(out, &n)
	}
	return out, rows.Err()
}

// CountByApp returns how many notifications were stored for an app.
func (r *SQLiteNotificationRepository) CountByApp(ctx context.Context, appID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM store_notifications WHERE app_id = ?`, appID).Scan(&n)
	return n, err
}
