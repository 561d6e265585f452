package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// ========================================
// Sync Session Repository Tests
// ========================================

func TestSyncSessionRepository_StartSupersedesActive(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	app := createTestApp(t, repos, "app")

	first := &models.SyncSession{AppID: app.ID}
	cancelled, err := repos.SyncSession.Start(ctx, first)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(cancelled) != 0 {
		t.Errorf("first Start() cancelled %v, want none", cancelled)
	}

	second := &models.SyncSession{AppID: app.ID, ForceHistorical: true, Platform: models.PlatformStripe}
	cancelled, err = repos.SyncSession.Start(ctx, second)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if len(cancelled) != 1 || cancelled[0] != first.ID {
		t.Errorf("cancelled = %v, want [%s]", cancelled, first.ID)
	}

	old, err := repos.SyncSession.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if old.Status != models.SyncStatusCancelled || old.FinishedAt == nil {
		t.Errorf("first session = %s finished %v, want cancelled with finish time", old.Status, old.FinishedAt)
	}

	active, err := repos.SyncSession.GetActive(ctx, app.ID)
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("GetActive() = %+v, want %s", active, second.ID)
	}
	if !active.ForceHistorical || active.Platform != models.PlatformStripe {
		t.Errorf("active = %+v, want forced stripe session", active)
	}
}

func TestSyncSessionRepository_FinishOnlyFromActive(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	app := createTestApp(t, repos, "app")

	session := &models.SyncSession{AppID: app.ID}
	if _, err := repos.SyncSession.Start(ctx, session); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	id, err := repos.SyncSession.CancelActive(ctx, app.ID)
	if err != nil {
		t.Fatalf("CancelActive() error = %v", err)
	}
	if id != session.ID {
		t.Errorf("CancelActive() = %q, want %q", id, session.ID)
	}

	ok, err := repos.SyncSession.Finish(ctx, session.ID, models.SyncStatusCompleted)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if ok {
		t.Error("Finish() should not move a cancelled session to completed")
	}

	got, _ := repos.SyncSession.GetByID(ctx, session.ID)
	if got.Status != models.SyncStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	id, err = repos.SyncSession.CancelActive(ctx, app.ID)
	if err != nil {
		t.Fatalf("CancelActive() error = %v", err)
	}
	if id != "" {
		t.Errorf("CancelActive() with nothing running = %q, want empty", id)
	}
}

func TestSyncSessionRepository_CancelStale(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	app := createTestApp(t, repos, "app")

	if _, err := repos.SyncSession.Start(ctx, &models.SyncSession{AppID: app.ID}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	n, err := repos.SyncSession.CancelStale(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CancelStale() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CancelStale(past) = %d, want 0", n)
	}

	n, err = repos.SyncSession.CancelStale(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("CancelStale() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CancelStale(future) = %d, want 1", n)
	}

	latest, err := repos.SyncSession.GetLatest(ctx, app.ID)
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if latest == nil || latest.Status != models.SyncStatusCancelled {
		t.Errorf("GetLatest() = %+v, want cancelled session", latest)
	}
}

// ========================================
// Sync Log Repository Tests
// ========================================

func TestSyncLogRepository_AppendAndCounters(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	app := createTestApp(t, repos, "app")

	session := &models.SyncSession{AppID: app.ID}
	if _, err := repos.SyncSession.Start(ctx, session); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	messages := []string{"starting", "stripe: 3 records", "done"}
	for _, msg := range messages {
		if err := repos.SyncLog.Append(ctx, &models.SyncLog{SessionID: session.ID, AppID: app.ID, Level: models.SyncLogInfo, Message: msg}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	logs, err := repos.SyncLog.ListBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(logs) != len(messages) {
		t.Fatalf("logs = %d, want %d", len(logs), len(messages))
	}
	for i, l := range logs {
		if l.Message != messages[i] {
			t.Errorf("log[%d] = %q, want %q", i, l.Message, messages[i])
		}
	}

	counters := &models.SyncRunCounters{SessionID: session.ID, Platform: models.PlatformStripe, Counters: map[string]int64{"invoices": 4}}
	if err := repos.SyncLog.SaveCounters(ctx, counters); err != nil {
		t.Fatalf("SaveCounters() error = %v", err)
	}
	counters.Counters["invoices"] = 7
	if err := repos.SyncLog.SaveCounters(ctx, counters); err != nil {
		t.Fatalf("SaveCounters() replace error = %v", err)
	}

	stored, err := repos.SyncLog.ListCounters(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListCounters() error = %v", err)
	}
	if len(stored) != 1 || stored[0].Counters["invoices"] != 7 {
		t.Errorf("ListCounters() = %+v, want one row with invoices=7", stored)
	}
}
