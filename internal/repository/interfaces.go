// Package repository defines repository interfaces for data access and their
// SQLite/libsql implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// ErrNotFound is returned by updates that matched no row.
var ErrNotFound = errors.New("not found")

// AppRepository defines methods for app data access.
type AppRepository interface {
	Create(ctx context.Context, app *models.App) error
	GetByID(ctx context.Context, id string) (*models.App, error)
	GetByBundleID(ctx context.Context, bundleID string) (*models.App, error)
	// ListWithActiveConnections returns apps that have at least one active connection.
	ListWithActiveConnections(ctx context.Context) ([]*models.App, error)
}

// ConnectionRepository defines methods for platform connection data access.
type ConnectionRepository interface {
	// Upsert creates or replaces the connection for (app, platform).
	Upsert(ctx context.Context, conn *models.PlatformConnection) error
	GetByID(ctx context.Context, id string) (*models.PlatformConnection, error)
	GetByAppAndPlatform(ctx context.Context, appID string, platform models.Platform) (*models.PlatformConnection, error)
	ListActiveByAppID(ctx context.Context, appID string) ([]*models.PlatformConnection, error)
	UpdateLastSync(ctx context.Context, id string, ts time.Time) error
}

// BillingBatch is one normalized chunk of platform data for an app.
type BillingBatch struct {
	AppID              string
	Platform           models.Platform
	Subscriptions      []*models.Subscription
	RevenueEvents      []*models.RevenueEvent
	SubscriptionEvents []*models.SubscriptionEvent
}

// BillingSaveResult reports what a SaveBatch call changed.
type BillingSaveResult struct {
	SubscriptionsUpserted   int
	RevenueInserted         int
	RevenueDuplicates       int
	SubscriptionEventsAdded int
}

// BillingRepository stores canonical subscriptions, revenue events and
// subscription events.
type BillingRepository interface {
	// SaveBatch persists a chunk in one transaction: subscriptions are upserted
	// first, then events are inserted only when their external id is new.
	SaveBatch(ctx context.Context, batch *BillingBatch) (*BillingSaveResult, error)
	// ListSubscriptionsActiveDuring returns subscriptions whose active interval overlaps [from, to).
	ListSubscriptionsActiveDuring(ctx context.Context, appID string, platform models.Platform, from, to time.Time) ([]*models.Subscription, error)
	ListRevenueEvents(ctx context.Context, appID string, platform models.Platform, from, to time.Time) ([]*models.RevenueEvent, error)
	ListSubscriptionEvents(ctx context.Context, appID string, platform models.Platform, from, to time.Time) ([]*models.SubscriptionEvent, error)
	CountRevenueEvents(ctx context.Context, appID string, platform models.Platform) (int, error)
	CountSubscriptions(ctx context.Context, appID string, platform models.Platform) (int, error)
	// EarliestActivity returns the oldest subscription start or event time
	// stored for a platform, or nil when it has no records.
	EarliestActivity(ctx context.Context, appID string, platform models.Platform) (*time.Time, error)
}

// SnapshotRepository stores daily metrics snapshots.
type SnapshotRepository interface {
	// SaveDay writes a platform row and recomputes the unified row for the same
	// (app, date) from the stored platform rows, atomically. Passing a unified
	// row panics.
	SaveDay(ctx context.Context, snapshot *models.MetricsSnapshot) error
	// List returns snapshots for an app in [from, to] ordered by date then platform.
	// An empty platform returns all platforms including unified.
	List(ctx context.Context, appID string, platform models.Platform, from, to time.Time) ([]*models.MetricsSnapshot, error)
	// LatestDate returns the most recent snapshot date for an app, or nil.
	LatestDate(ctx context.Context, appID string) (*time.Time, error)
}

// SyncSessionRepository manages sync session lifecycle rows.
type SyncSessionRepository interface {
	// Start cancels any active session for the app and inserts the new active
	// session in one transaction. Returns the ids of the cancelled sessions.
	Start(ctx context.Context, session *models.SyncSession) ([]string, error)
	GetByID(ctx context.Context, id string) (*models.SyncSession, error)
	GetActive(ctx context.Context, appID string) (*models.SyncSession, error)
	GetLatest(ctx context.Context, appID string) (*models.SyncSession, error)
	// Finish moves an active session to a terminal status. Returns false when
	// the session was no longer active.
	Finish(ctx context.Context, id string, status models.SyncStatus) (bool, error)
	// CancelActive cancels the app's active session, returning its id or "".
	CancelActive(ctx context.Context, appID string) (string, error)
	// CancelStale cancels active sessions started before the cutoff.
	CancelStale(ctx context.Context, startedBefore time.Time) (int64, error)
}

// SyncLogRepository stores the per-session diagnostic trail and run counters.
type SyncLogRepository interface {
	Append(ctx context.Context, log *models.SyncLog) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.SyncLog, error)
	SaveCounters(ctx context.Context, counters *models.SyncRunCounters) error
	ListCounters(ctx context.Context, sessionID string) ([]*models.SyncRunCounters, error)
}

// NotificationRepository stores inbound platform notifications.
type NotificationRepository interface {
	// Insert stores a notification unless (platform, notification id) exists.
	// Returns false for duplicates.
	Insert(ctx context.Context, n *models.StoreNotification) (bool, error)
	ListByApp(ctx context.Context, appID string, limit int) ([]*models.StoreNotification, error)
	CountByApp(ctx context.Context, appID string) (int, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	App          AppRepository
	Connection   ConnectionRepository
	Billing      BillingRepository
	Snapshot     SnapshotRepository
	SyncSession  SyncSessionRepository
	SyncLog      SyncLogRepository
	Notification NotificationRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		App:          NewSQLiteAppRepository(db),
		Connection:   NewSQLiteConnectionRepository(db),
		Billing:      NewSQLiteBillingRepository(db),
		Snapshot:     NewSQLiteSnapshotRepository(db),
		SyncSession:  NewSQLiteSyncSessionRepository(db),
		SyncLog:      NewSQLiteSyncLogRepository(db),
		Notification: NewSQLiteNotificationRepository(db),
	}
}

// formatTime renders a timestamp for storage. All stored times are UTC so that
// text comparison orders them correctly.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// parseDate reads a snapshot date column. The driver may return the stored
// "2006-01-02" text as a timestamp, which reaches a string scan target in
// RFC3339 form.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{models.DateLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return models.DayStart(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid snapshot date %q", s)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
