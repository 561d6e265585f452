package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// ========================================
// App Repository
// ========================================

// SQLiteAppRepository implements AppRepository for SQLite/libsql.
type SQLiteAppRepository struct {
	db *sql.DB
}

// NewSQLiteAppRepository creates a new SQLite app repository.
func NewSQLiteAppRepository(db *sql.DB) *SQLiteAppRepository {
	return &SQLiteAppRepository{db: db}
}

const appColumns = `id, name, bundle_id, package_name, week_start_day, created_at, updated_at`

// Create inserts a new app.
func (r *SQLiteAppRepository) Create(ctx context.Context, app *models.App) error {
	now := time.Now()
	if app.ID == "" {
		app.ID = ulid.Make().String()
	}
	app.CreatedAt = now
	app.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO apps (id, name, bundle_id, package_name, week_start_day, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, app.ID, app.Name, nullString(app.BundleID), nullString(app.PackageName), int(app.WeekStartDay), formatTime(now), formatTime(now))
	return err
}

// GetByID retrieves an app by ID.
func (r *SQLiteAppRepository) GetByID(ctx context.Context, id string) (*models.App, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM apps WHERE id = ?`, id)
	return scanApp(row)
}

// GetByBundleID retrieves an app by its App Store bundle id.
func (r *SQLiteAppRepository) GetByBundleID(ctx context.Context, bundleID string) (*models.App, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM apps WHERE bundle_id = ? ORDER BY created_at LIMIT 1`, bundleID)
	return scanApp(row)
}

// ListWithActiveConnections returns apps with at least one active connection.
func (r *SQLiteAppRepository) ListWithActiveConnections(ctx context.Context) ([]*models.App, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+appColumns+` FROM apps a
		WHERE EXISTS (
			SELECT 1 FROM platform_connections c WHERE c.app_id = a.id AND c.is_active = 1
		)
		ORDER BY a.id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var apps []*models.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanApp(row rowScanner) (*models.App, error) {
	var app models.App
	var bundleID, packageName sql.NullString
	var weekStart int
	var createdAt, updatedAt string

	err := row.Scan(&app.ID, &app.Name, &bundleID, &packageName, &weekStart, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	app.BundleID = bundleID.String
	app.PackageName = packageName.String
	app.WeekStartDay = time.Weekday(weekStart)
	app.CreatedAt = parseTime(createdAt)
	app.UpdatedAt = parseTime(updatedAt)
	return &app, nil
}

// ========================================
// Connection Repository
// ========================================

// SQLiteConnectionRepository implements ConnectionRepository for SQLite/libsql.
type SQLiteConnectionRepository struct {
	db *sql.DB
}

// NewSQLiteConnectionRepository creates a new SQLite connection repository.
func NewSQLiteConnectionRepository(db *sql.DB) *SQLiteConnectionRepository {
	return &SQLiteConnectionRepository{db: db}
}

const connectionColumns = `id, app_id, platform, credentials_encrypted, is_active, last_sync_at, created_at, updated_at`

// Upsert creates or replaces the connection for (app, platform). The existing
// id and last sync timestamp survive a replace.
func (r *SQLiteConnectionRepository) Upsert(ctx context.Context, conn *models.PlatformConnection) error {
	now := time.Now()
	if conn.ID == "" {
		conn.ID = ulid.Make().String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO platform_connections (id, app_id, platform, credentials_encrypted, is_active, last_sync_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id, platform) DO UPDATE SET
			credentials_encrypted = excluded.credentials_encrypted,
			is_active = excluded.is_active,
			last_sync_at = COALESCE(excluded.last_sync_at, platform_connections.last_sync_at),
			updated_at = excluded.updated_at
	`, conn.ID, conn.AppID, string(conn.Platform), conn.CredentialsEncrypted, conn.IsActive, formatTimePtr(conn.LastSyncAt), formatTime(now), formatTime(now))
	if err != nil {
		return err
	}

	// Reload to pick up the surviving id on conflict
	stored, err := r.GetByAppAndPlatform(ctx, conn.AppID, conn.Platform)
	if err != nil {
		return err
	}
	if stored != nil {
		*conn = *stored
	}
	return nil
}

// GetByID retrieves a connection by ID.
func (r *SQLiteConnectionRepository) GetByID(ctx context.Context, id string) (*models.PlatformConnection, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM platform_connections WHERE id = ?`, id)
	return scanConnection(row)
}

// GetByAppAndPlatform retrieves the connection for one platform of an app.
func (r *SQLiteConnectionRepository) GetByAppAndPlatform(ctx context.Context, appID string, platform models.Platform) (*models.PlatformConnection, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM platform_connections WHERE app_id = ? AND platform = ?`, appID, string(platform))
	return scanConnection(row)
}

// ListActiveByAppID returns the active connections of an app.
func (r *SQLiteConnectionRepository) ListActiveByAppID(ctx context.Context, appID string) ([]*models.PlatformConnection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+connectionColumns+` FROM platform_connections
		WHERE app_id = ? AND is_active = 1
		ORDER BY platform
	`, appID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var conns []*models.PlatformConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// UpdateLastSync sets the last successful sync time of a connection.
func (r *SQLiteConnectionRepository) UpdateLastSync(ctx context.Context, id string, ts time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE platform_connections SET last_sync_at = ?, updated_at = ? WHERE id = ?
	`, formatTime(ts), formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnection(row rowScanner) (*models.PlatformConnection, error) {
	var conn models.PlatformConnection
	var platform string
	var lastSync sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&conn.ID, &conn.AppID, &platform, &conn.CredentialsEncrypted, &conn.IsActive, &lastSync, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conn.Platform = models.Platform(platform)
	conn.LastSyncAt = parseNullTime(lastSync)
	conn.CreatedAt = parseTime(createdAt)
	conn.UpdatedAt = parseTime(updatedAt)
	return &conn, nil
}
