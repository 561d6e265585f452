// Package database opens the libsql database and applies migrations.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/revsync-api/internal/database/migrations"
)

// Options configures how the database is opened.
type Options struct {
	DSN        string // file:revsync.db, :memory: or an http(s) libsql URL
	TursoURL   string // set together with TursoToken for an embedded replica
	TursoToken string
}

// New opens a database connection using libsql.
// Supports:
//   - Local files: DSN "file:path/to/db.sqlite"
//   - Embedded replica: TursoURL + TursoToken sync the local file with Turso cloud
//   - Local libsql server: `turso dev` and DSN "http://127.0.0.1:8080"
func New(opts Options) (*sql.DB, error) {
	var db *sql.DB

	if opts.TursoURL != "" && opts.TursoToken != "" {
		dbPath := strings.TrimPrefix(opts.DSN, "file:")
		dbPath = strings.Split(dbPath, "?")[0]

		connector, err := libsql.NewEmbeddedReplicaConnector(dbPath, opts.TursoURL,
			libsql.WithAuthToken(opts.TursoToken),
			libsql.WithReadYourWrites(true),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Turso connector: %w", err)
		}
		db = sql.OpenDB(connector)
	} else {
		var err error
		db, err = sql.Open("libsql", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	// In-memory databases exist per connection
	if strings.Contains(opts.DSN, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate runs pending migrations, logging each one applied.
func Migrate(db *sql.DB, logger *slog.Logger) error {
	return migrations.Run(db, logger)
}

// SchemaVersion returns the latest applied migration and the applied count.
func SchemaVersion(db *sql.DB) (string, int, error) {
	return migrations.Version(db)
}
