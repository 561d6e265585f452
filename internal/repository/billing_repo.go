package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// SQLiteBillingRepository implements BillingRepository for SQLite/libsql.
type SQLiteBillingRepository struct {
	db *sql.DB
}

// NewSQLiteBillingRepository creates a new SQLite billing repository.
func NewSQLiteBillingRepository(db *sql.DB) *SQLiteBillingRepository {
	return &SQLiteBillingRepository{db: db}
}

// ========================================
// Writes
// ========================================

// SaveBatch persists one normalized chunk atomically. Subscriptions go first so
// that events in the same batch never reference a subscription that is missing.
func (r *SQLiteBillingRepository) SaveBatch(ctx context.Context, batch *BillingBatch) (*BillingSaveResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &BillingSaveResult{}
	now := time.Now()

	for _, sub := range batch.Subscriptions {
		if err := upsertSubscription(ctx, tx, batch.AppID, batch.Platform, sub, now); err != nil {
			return nil, fmt.Errorf("failed to upsert subscription %s: %w", sub.ExternalID, err)
		}
		result.SubscriptionsUpserted++
	}

	for _, ev := range batch.RevenueEvents {
		inserted, err := insertRevenueEvent(ctx, tx, batch.AppID, batch.Platform, ev, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert revenue event %s: %w", ev.ExternalID, err)
		}
		if inserted {
			result.RevenueInserted++
		} else {
			result.RevenueDuplicates++
		}
	}

	for _, ev := range batch.SubscriptionEvents {
		inserted, err := insertSubscriptionEvent(ctx, tx, batch.AppID, batch.Platform, ev, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert subscription event %s: %w", ev.ExternalID, err)
		}
		if inserted {
			result.SubscriptionEventsAdded++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return result, nil
}

func upsertSubscription(ctx context.Context, tx *sql.Tx, appID string, platform models.Platform, sub *models.Subscription, now time.Time) error {
	if sub.ID == "" {
		sub.ID = ulid.Make().String()
	}
	sub.AppID = appID
	sub.Platform = platform
	sub.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (id, app_id, platform, external_id, status, product_id, start_date, end_date,
			is_trial, trial_end_date, will_cancel, is_in_grace, amount, billing_interval, currency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, platform, external_id) DO UPDATE SET
			status = excluded.status,
			product_id = excluded.product_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			is_trial = excluded.is_trial,
			trial_end_date = excluded.trial_end_date,
			will_cancel = excluded.will_cancel,
			is_in_grace = excluded.is_in_grace,
			amount = COALESCE(excluded.amount, subscriptions.amount),
			billing_interval = CASE WHEN excluded.billing_interval = '' THEN subscriptions.billing_interval ELSE excluded.billing_interval END,
			currency = CASE WHEN excluded.currency = '' THEN subscriptions.currency ELSE excluded.currency END,
			updated_at = excluded.updated_at
	`,
		sub.ID, appID, string(platform), sub.ExternalID, string(sub.Status), sub.ProductID,
		formatTime(sub.StartDate), formatTimePtr(sub.EndDate),
		sub.IsTrial, formatTimePtr(sub.TrialEndDate), sub.WillCancel, sub.IsInGrace,
		sub.Amount, string(sub.Interval), sub.Currency, formatTime(now),
	)
	return err
}

func insertRevenueEvent(ctx context.Context, tx *sql.Tx, appID string, platform models.Platform, ev *models.RevenueEvent, now time.Time) (bool, error) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	ev.AppID = appID
	ev.Platform = platform

	res, err := tx.ExecContext(ctx, `
		INSERT INTO revenue_events (id, app_id, platform, external_id, subscription_external_id, event_type,
			amount, amount_excluding_tax, amount_proceeds, currency, event_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, platform, external_id) DO NOTHING
	`,
		ev.ID, appID, string(platform), ev.ExternalID, ev.SubscriptionExternalID, string(ev.EventType),
		ev.Amount, ev.AmountExcludingTax, ev.AmountProceeds, ev.Currency, formatTime(ev.Timestamp), formatTime(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertSubscriptionEvent(ctx context.Context, tx *sql.Tx, appID string, platform models.Platform, ev *models.SubscriptionEvent, now time.Time) (bool, error) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	ev.AppID = appID
	ev.Platform = platform
	if ev.Quantity <= 0 {
		ev.Quantity = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO subscription_events (id, app_id, platform, external_id, subscription_external_id, event_type, quantity, event_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, platform, external_id) DO NOTHING
	`,
		ev.ID, appID, string(platform), ev.ExternalID, ev.SubscriptionExternalID, string(ev.EventType), ev.Quantity, formatTime(ev.Timestamp), formatTime(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ========================================
// Reads
// ========================================

// ListSubscriptionsActiveDuring returns subscriptions overlapping [from, to).
func (r *SQLiteBillingRepository) ListSubscriptionsActiveDuring(ctx context.Context, appID string, platform models.Platform, from, to time.Time) ([]*models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, app_id, platform, external_id, status, product_id, start_date, end_date,
			is_trial, trial_end_date, will_cancel, is_in_grace, amount, billing_interval, currency, updated_at
		FROM subscriptions
		WHERE app_id = ? AND platform = ? AND start_date < ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY external_id
	`, appID, string(platform), formatTime(to), formatTime(from))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var subs []*models.Subscription
	for rows.Next() {
		var sub models.Subscription
		var p, status, interval, startDate, updatedAt string
		var endDate, trialEnd sql.NullString
		var amount sql.NullFloat64

		if err := rows.Scan(&sub.ID, &sub.AppID, &p, &sub.ExternalID, &status, &sub.ProductID, &startDate, &endDate,
			&sub.IsTrial, &trialEnd, &sub.WillCancel, &sub.IsInGrace, &amount, &interval, &sub.Currency, &updatedAt); err != nil {
			return nil, err
		}

		sub.Platform = models.Platform(p)
		sub.Status = models.SubscriptionStatus(status)
		sub.Interval = models.BillingInterval(interval)
		sub.StartDate = parseTime(startDate)
		sub.EndDate = parseNullTime(endDate)
		sub.TrialEndDate = parseNullTime(trialEnd)
		sub.Amount = nullFloat(amount)
		sub.UpdatedAt = parseTime(updatedAt)
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// ListRevenueEvents returns revenue events with timestamps in [from, to).
func (r *SQLiteBillingRepository) ListRevenueEvents(ctx context.Context, appID string, platform models.Platform, from, to time.Time) ([]*models.RevenueEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, app_id, platform, external_id, subscription_external_id, event_type,
			amount, amount_excluding_tax, amount_proceeds, currency, event_at, created_at
		FROM revenue_events
		WHERE app_id = ? AND platform = ? AND event_at >= ? AND event_at < ?
		ORDER BY event_at, external_id
	`, appID, string(platform), formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*models.RevenueEvent
	for rows.Next() {
		var ev models.RevenueEvent
		var p, eventType, eventAt, createdAt string
		var exclTax, proceeds sql.NullFloat64

		if err := rows.Scan(&ev.ID, &ev.AppID, &p, &ev.ExternalID, &ev.SubscriptionExternalID, &eventType,
			&ev.Amount, &exclTax, &proceeds, &ev.Currency, &eventAt, &createdAt); err != nil {
			return nil, err
		}

		ev.Platform = models.Platform(p)
		ev.EventType = models.RevenueEventType(eventType)
		ev.AmountExcludingTax = nullFloat(exclTax)
		ev.AmountProceeds = nullFloat(proceeds)
		ev.Timestamp = parseTime(eventAt)
		ev.CreatedAt = parseTime(createdAt)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// ListSubscriptionEvents returns subscription events with timestamps in [from, to).
func (r *SQLiteBillingRepository) ListSubscriptionEvents(ctx context.Context, appID string, platform models.Platform, from, to time.Time) ([]*models.SubscriptionEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, app_id, platform, external_id, subscription_external_id, event_type, quantity, event_at, created_at
		FROM subscription_events
		WHERE app_id = ? AND platform = ? AND event_at >= ? AND event_at < ?
		ORDER BY event_at, external_id
	`, appID, string(platform), formatTime(from), formatTime(to))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*models.SubscriptionEvent
	for rows.Next() {
		var ev models.SubscriptionEvent
		var p, eventType, eventAt, createdAt string

		if err := rows.Scan(&ev.ID, &ev.AppID, &p, &ev.ExternalID, &ev.SubscriptionExternalID, &eventType, &ev.Quantity, &eventAt, &createdAt); err != nil {
			return nil, err
		}

		ev.Platform = models.Platform(p)
		ev.EventType = models.SubscriptionEventType(eventType)
		ev.Timestamp = parseTime(eventAt)
		ev.CreatedAt = parseTime(createdAt)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// CountRevenueEvents returns how many revenue events an app has on a platform.
func (r *SQLiteBillingRepository) CountRevenueEvents(ctx context.Context, appID string, platform models.Platform) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revenue_events WHERE app_id = ? AND platform = ?`, appID, string(platform)).Scan(&n)
	return n, err
}

// CountSubscriptions returns how many subscriptions an app has on a platform.
func (r *SQLiteBillingRepository) CountSubscriptions(ctx context.Context, appID string, platform models.Platform) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions WHERE app_id = ? AND platform = ?`, appID, string(platform)).Scan(&n)
	return n, err
}

// EarliestActivity returns the oldest timestamp across subscriptions, revenue
// events and subscription events for a platform.
func (r *SQLiteBillingRepository) EarliestActivity(ctx context.Context, appID string, platform models.Platform) (*time.Time, error) {
	var earliest sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT MIN(t) FROM (
			SELECT MIN(start_date) AS t FROM subscriptions WHERE app_id = ? AND platform = ?
			UNION ALL
			SELECT MIN(event_at) FROM revenue_events WHERE app_id = ? AND platform = ?
			UNION ALL
			SELECT MIN(event_at) FROM subscription_events WHERE app_id = ? AND platform = ?
		)
	`, appID, string(platform), appID, string(platform), appID, string(platform)).Scan(&earliest)
	if err != nil {
		return nil, err
	}
	return parseNullTime(earliest), nil
}
