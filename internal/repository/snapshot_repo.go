package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// SQLiteSnapshotRepository implements SnapshotRepository for SQLite/libsql.
type SQLiteSnapshotRepository struct {
	db *sql.DB
}

// NewSQLiteSnapshotRepository creates a new SQLite snapshot repository.
func NewSQLiteSnapshotRepository(db *sql.DB) *SQLiteSnapshotRepository {
	return &SQLiteSnapshotRepository{db: db}
}

const snapshotColumns = `app_id, snapshot_date, platform,
	active_subscribers, trial_subscribers, paid_subscribers, monthly_subscribers, yearly_subscribers, mrr,
	cancellations, grace_events, first_payments, renewals, revenue_gross, revenue_net, net_estimated`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveDay writes a platform row and rebuilds the unified row from the stored
// platform rows for that (app, date) inside one transaction.
func (r *SQLiteSnapshotRepository) SaveDay(ctx context.Context, snap *models.MetricsSnapshot) error {
	if !snap.Platform.IsSource() {
		panic(fmt.Sprintf("repository: refusing to write %q snapshot directly", snap.Platform))
	}
	snap.Date = models.DayStart(snap.Date)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := writeSnapshot(ctx, tx, snap); err != nil {
		return fmt.Errorf("failed to write %s snapshot: %w", snap.Platform, err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM metrics_snapshots
		WHERE app_id = ? AND snapshot_date = ? AND platform != ?
	`, snap.AppID, snap.DateString(), string(models.PlatformUnified))
	if err != nil {
		return fmt.Errorf("failed to read platform snapshots: %w", err)
	}
	parts, err := scanSnapshots(rows)
	_ = rows.Close()
	if err != nil {
		return fmt.Errorf("failed to scan platform snapshots: %w", err)
	}

	unified := models.SumUnified(snap.AppID, snap.Date, parts)
	if err := writeSnapshot(ctx, tx, unified); err != nil {
		return fmt.Errorf("failed to write unified snapshot: %w", err)
	}

	return tx.Commit()
}

func writeSnapshot(ctx context.Context, db execer, s *models.MetricsSnapshot) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO metrics_snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, snapshot_date, platform) DO UPDATE SET
			active_subscribers = excluded.active_subscribers,
			trial_subscribers = excluded.trial_subscribers,
			paid_subscribers = excluded.paid_subscribers,
			monthly_subscribers = excluded.monthly_subscribers,
			yearly_subscribers = excluded.yearly_subscribers,
			mrr = excluded.mrr,
			cancellations = excluded.cancellations,
			grace_events = excluded.grace_events,
			first_payments = excluded.first_payments,
			renewals = excluded.renewals,
			revenue_gross = excluded.revenue_gross,
			revenue_net = excluded.revenue_net,
			net_estimated = excluded.net_estimated
	`,
		s.AppID, s.DateString(), string(s.Platform),
		s.ActiveSubscribers, s.TrialSubscribers, s.PaidSubscribers, s.MonthlySubscribers, s.YearlySubscribers, s.MRR,
		s.Cancellations, s.GraceEvents, s.FirstPayments, s.Renewals, s.MonthlyRevenueGross, s.MonthlyRevenueNet, s.NetEstimated,
	)
	return err
}

// List returns snapshots for an app in [from, to] (inclusive dates).
func (r *SQLiteSnapshotRepository) List(ctx context.Context, appID string, platform models.Platform, from, to time.Time) ([]*models.MetricsSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM metrics_snapshots
		WHERE app_id = ? AND snapshot_date >= ? AND snapshot_date <= ?`
	args := []any{appID, from.UTC().Format(models.DateLayout), to.UTC().Format(models.DateLayout)}
	if platform != "" {
		query += ` AND platform = ?`
		args = append(args, string(platform))
	}
	query += ` ORDER BY snapshot_date, platform`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanSnapshots(rows)
}

// LatestDate returns the most recent snapshot date for an app.
func (r *SQLiteSnapshotRepository) LatestDate(ctx context.Context, appID string) (*time.Time, error) {
	var date sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT MAX(snapshot_date) FROM metrics_snapshots WHERE app_id = ?`, appID).Scan(&date)
	if err != nil {
		return nil, err
	}
	if !date.Valid {
		return nil, nil
	}
	t, err := parseDate(date.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSnapshots(rows *sql.Rows) ([]*models.MetricsSnapshot, error) {
	var out []*models.MetricsSnapshot
	for rows.Next() {
		var s models.MetricsSnapshot
		var date, platform string

		if err := rows.Scan(&s.AppID, &date, &platform,
			&s.ActiveSubscribers, &s.TrialSubscribers, &s.PaidSubscribers, &s.MonthlySubscribers, &s.YearlySubscribers, &s.MRR,
			&s.Cancellations, &s.GraceEvents, &s.FirstPayments, &s.Renewals, &s.MonthlyRevenueGross, &s.MonthlyRevenueNet, &s.NetEstimated,
		); err != nil {
			return nil, err
		}

		d, err := parseDate(date)
		if err != nil {
			return nil, err
		}
		s.Platform = models.Platform(platform)
		s.Date = d
		out = append(out, &s)
	}
	return out, rows.Err()
}
