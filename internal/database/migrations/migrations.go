// Package migrations holds the forward-only schema history. Each file named
// YYYYMMDD-HHmmss-description.go registers one Migration from init(), and
// schema_migrations records what has been applied.
package migrations

import (
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// Migration is a single forward-only schema change.
type Migration struct {
	Timestamp   string   // YYYYMMDD-HHmmss, used for ordering
	Description string   // Human-readable description
	Up          []string // SQL statements run in one transaction
}

// registry stays ordered by timestamp.
var registry []Migration

// Register adds a migration. Duplicate timestamps panic.
func Register(m Migration) {
	i, found := slices.BinarySearchFunc(registry, m.Timestamp, func(e Migration, ts string) int {
		return strings.Compare(e.Timestamp, ts)
	})
	if found {
		panic(fmt.Sprintf("migrations: duplicate timestamp %s (%s, %s)", m.Timestamp, registry[i].Description, m.Description))
	}
	registry = slices.Insert(registry, i, m)
}

// Run applies all pending migrations in timestamp order.
func Run(db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "migrations")

	pending, err := Pending(db)
	if err != nil {
		return err
	}
	for _, m := range pending {
		start := time.Now()
		if err := apply(db, m); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.Timestamp, m.Description, err)
		}
		logger.Info("migration applied",
			"timestamp", m.Timestamp,
			"description", m.Description,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return nil
}

// Pending returns registered migrations not yet applied, oldest first.
func Pending(db *sql.DB) ([]Migration, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Migration
	for _, m := range registry {
		if !applied[m.Timestamp] {
			out = append(out, m)
		}
	}
	return out, nil
}

func apply(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Up {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w\n%s", err, stmt)
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
		m.Timestamp, m.Description, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// Version returns the newest applied version ("" when none) and how many
// migrations have been applied.
func Version(db *sql.DB) (string, int, error) {
	var latest sql.NullString
	var count int
	err := db.QueryRow("SELECT MAX(version), COUNT(*) FROM schema_migrations").Scan(&latest, &count)
	if err != nil {
		return "", 0, err
	}
	return latest.String, count, nil
}
