package database

import (
	"testing"

	"github.com/jmylchreest/revsync-api/internal/database/migrations"
)

func TestNew_MemoryAndMigrate(t *testing.T) {
	db, err := New(Options{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db, nil); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	version, count, err := SchemaVersion(db)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version == "" {
		t.Error("expected a schema version after migrating")
	}
	if count == 0 {
		t.Error("expected applied migrations")
	}

	pending, err := migrations.Pending(db)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending migrations = %d, want 0", len(pending))
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := New(Options{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db, nil); err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	_, before, _ := SchemaVersion(db)

	if err := Migrate(db, nil); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	_, after, _ := SchemaVersion(db)

	if before != after {
		t.Errorf("migration count changed on rerun: %d -> %d", before, after)
	}
}

func TestSchema_OneActiveSessionPerApp(t *testing.T) {
	db, err := New(Options{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(db, nil); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	now := "2026-10-01T00:00:00Z"
	if _, err := db.Exec(`INSERT INTO apps (id, name, created_at, updated_at) VALUES ('app', 'App', ?, ?)`, now, now); err != nil {
		t.Fatalf("insert app: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO sync_sessions (id, app_id, status, started_at) VALUES ('s1', 'app', 'active', ?)`, now); err != nil {
		t.Fatalf("insert first session: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO sync_sessions (id, app_id, status, started_at) VALUES ('s2', 'app', 'active', ?)`, now); err == nil {
		t.Error("expected unique violation for a second active session")
	}
	if _, err := db.Exec(`INSERT INTO sync_sessions (id, app_id, status, started_at) VALUES ('s3', 'app', 'completed', ?)`, now); err != nil {
		t.Errorf("completed session should not conflict: %v", err)
	}
}
