package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/revsync-api/internal/database/migrations"
	"github.com/jmylchreest/revsync-api/internal/models"
)

// setupTestDB creates an in-memory database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// Every connection would otherwise get its own empty database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// createTestApp inserts an app and returns it.
func createTestApp(t *testing.T, repos *Repositories, name string) *models.App {
	t.Helper()
	app := &models.App{Name: name, BundleID: "com.example." + name, WeekStartDay: time.Monday}
	if err := repos.App.Create(context.Background(), app); err != nil {
		t.Fatalf("failed to create test app: %v", err)
	}
	return app
}

// day returns UTC midnight of the given date in October 2026.
func day(d int) time.Time {
	return time.Date(2026, time.October, d, 0, 0, 0, 0, time.UTC)
}

func floatPtr(f float64) *float64 { return &f }
