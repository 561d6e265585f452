package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/jmylchreest/revsync-api/internal/crypto"
	"github.com/jmylchreest/revsync-api/internal/database/migrations"
	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupTestRepos creates repositories over a migrated in-memory database.
func setupTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return repository.NewRepositories(db)
}

func createTestApp(t *testing.T, repos *repository.Repositories, name string) *models.App {
	t.Helper()
	app := &models.App{Name: name, BundleID: "com.example." + name, PackageName: "com.example." + name, WeekStartDay: time.Monday}
	if err := repos.App.Create(context.Background(), app); err != nil {
		t.Fatalf("failed to create test app: %v", err)
	}
	return app
}

func testEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	return enc
}

// date returns UTC midnight of a 2026 date.
func date(month time.Month, d int) time.Time {
	return time.Date(2026, month, d, 0, 0, 0, 0, time.UTC)
}

func floatPtr(f float64) *float64 { return &f }

// ========================================
// Fake adapter
// ========================================

type fakeCredentials struct {
	Key      string `json:"key" validate:"required"`
	platform models.Platform
}

func (c *fakeCredentials) Platform() models.Platform { return c.platform }

// fakeAdapter serves canned results per fetch call. fetch receives the
// 1-based call number.
type fakeAdapter struct {
	platform models.Platform
	chunk    time.Duration
	fetch    func(call int, window platform.Window) (*platform.Result, error)

	mu      sync.Mutex
	windows []platform.Window
}

func (a *fakeAdapter) Platform() models.Platform { return a.platform }

func (a *fakeAdapter) ChunkSize() time.Duration { return a.chunk }

func (a *fakeAdapter) NewCredentials() platform.Credentials {
	return &fakeCredentials{platform: a.platform}
}

func (a *fakeAdapter) Fetch(ctx context.Context, creds platform.Credentials, window platform.Window, counters *platform.Counters) (*platform.Result, error) {
	a.mu.Lock()
	a.windows = append(a.windows, window)
	call := len(a.windows)
	a.mu.Unlock()

	counters.Inc("fetch_calls")
	if a.fetch == nil {
		return &platform.Result{}, nil
	}
	return a.fetch(call, window)
}

func (a *fakeAdapter) calls() []platform.Window {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]platform.Window(nil), a.windows...)
}

// ========================================
// Harness
// ========================================

type harness struct {
	repos    *repository.Repositories
	creds    *CredentialService
	snaps    *SnapshotService
	sync     *SyncService
	query    *MetricsQueryService
	adapters map[models.Platform]platform.Adapter
	app      *models.App
	now      time.Time
}

// newHarness wires the services over fresh repositories with the given
// adapters and a fixed clock.
func newHarness(t *testing.T, now time.Time, lookback time.Duration, adapters ...*fakeAdapter) *harness {
	t.Helper()
	repos := setupTestRepos(t)
	logger := testLogger()

	h := &harness{
		repos:    repos,
		adapters: make(map[models.Platform]platform.Adapter),
		now:      now,
	}
	for _, a := range adapters {
		h.adapters[a.platform] = a
	}
	h.creds = NewCredentialService(repos, h.adapters, testEncryptor(t), logger)
	h.snaps = NewSnapshotService(repos, DefaultNetRevenueRatio, logger)
	h.sync = NewSyncService(repos, h.creds, h.snaps, h.adapters, SyncServiceConfig{
		HistoricalLookback: lookback,
		Now:                func() time.Time { return now },
	}, logger)
	h.query = NewMetricsQueryService(repos, DefaultNetRevenueRatio, logger)
	h.query.now = func() time.Time { return now }
	h.app = createTestApp(t, repos, "demo")
	return h
}

// connect stores an active connection for p with the given key.
func (h *harness) connect(t *testing.T, p models.Platform, key string) *models.PlatformConnection {
	t.Helper()
	raw, _ := json.Marshal(map[string]string{"key": key})
	conn, err := h.creds.SaveConnection(context.Background(), h.app.ID, p, func(c platform.Credentials) error {
		return json.Unmarshal(raw, c)
	}, true)
	if err != nil {
		t.Fatalf("failed to connect %s: %v", p, err)
	}
	return conn
}

// run starts and synchronously runs a session.
func (h *harness) run(t *testing.T, forceHistorical bool, p *models.Platform) *models.SyncSession {
	t.Helper()
	ctx := context.Background()
	session, err := h.sync.StartSession(ctx, h.app.ID, forceHistorical, p)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := h.sync.RunSession(ctx, session); err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	stored, err := h.repos.SyncSession.GetByID(ctx, session.ID)
	if err != nil || stored == nil {
		t.Fatalf("failed to reload session: %v", err)
	}
	return stored
}

func (h *harness) snapshots(t *testing.T, p models.Platform, from, to time.Time) []*models.MetricsSnapshot {
	t.Helper()
	snaps, err := h.repos.Snapshot.List(context.Background(), h.app.ID, p, from, to)
	if err != nil {
		t.Fatalf("failed to list snapshots: %v", err)
	}
	return snaps
}

func (h *harness) revenueCount(t *testing.T, p models.Platform) int {
	t.Helper()
	n, err := h.repos.Billing.CountRevenueEvents(context.Background(), h.app.ID, p)
	if err != nil {
		t.Fatalf("failed to count revenue events: %v", err)
	}
	return n
}

func (h *harness) logs(t *testing.T, sessionID string) []*models.SyncLog {
	t.Helper()
	logs, err := h.repos.SyncLog.ListBySession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("failed to list logs: %v", err)
	}
	return logs
}

// monthlyResult emits one monthly subscription starting at window start and
// its first payment, keyed by the window start date.
func monthlyResult(window platform.Window, amount float64) *platform.Result {
	id := window.Start.Format("20060102")
	start := window.Start.Add(time.Hour)
	r := &platform.Result{}
	r.AddSubscription(models.PlatformGooglePlay, platform.RawSubscription{
		ExternalID: "sub-" + id,
		Status:     models.SubscriptionStatusActive,
		StartDate:  start,
		Amount:     floatPtr(amount),
		Interval:   models.IntervalMonth,
		Currency:   "usd",
	}, nil)
	r.AddRevenueEvent(models.PlatformGooglePlay, platform.RawRevenueEvent{
		ExternalID:             "order-" + id,
		SubscriptionExternalID: "sub-" + id,
		Type:                   models.RevenueFirstPayment,
		Amount:                 amount,
		AmountProceeds:         floatPtr(amount * 0.7),
		Currency:               "usd",
		Timestamp:              start,
	}, nil)
	return r
}
