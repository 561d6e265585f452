// Package worker runs the periodic sync scheduler.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/service"
)

// AppSource lists the apps the scheduler considers.
type AppSource interface {
	ListWithActiveConnections(ctx context.Context) ([]*models.App, error)
}

// SessionSweeper cancels sessions abandoned by a crashed process.
type SessionSweeper interface {
	CancelStale(ctx context.Context, startedBefore time.Time) (int64, error)
}

// SyncTrigger is the part of the sync service the scheduler drives.
type SyncTrigger interface {
	GetActiveSyncStatus(ctx context.Context, appID string) (*service.SyncStatus, error)
	TriggerSync(ctx context.Context, appID string, forceHistorical bool, p *models.Platform) (string, error)
}

// Worker triggers an incremental sync for every connected app on a fixed
// interval. Apps that already have an active session are left alone.
type Worker struct {
	apps       AppSource
	sessions   SessionSweeper
	syncs      SyncTrigger
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// RunResult summarizes one scheduler pass.
type RunResult struct {
	StaleCancelled int64
	Triggered      int
	Skipped        int
	Failed         int
}

// New creates a new worker.
func New(apps AppSource, sessions SessionSweeper, syncs SyncTrigger, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		apps:       apps,
		sessions:   sessions,
		syncs:      syncs,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
		stop:       make(chan struct{}),
		logger:     logger.With("component", "scheduler"),
	}
}

// Start begins the schedule. The first pass runs one interval after start.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "interval", w.interval)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop gracefully stops the worker. Syncs already triggered keep running
// under the sync service.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("scheduled sync pass failed", "error", err)
			}
		}
	}
}

// RunOnce sweeps stale sessions and triggers a sync for every connected app
// without an active session.
func (w *Worker) RunOnce(ctx context.Context) (*RunResult, error) {
	res := &RunResult{}

	if w.sessions != nil {
		n, err := w.sessions.CancelStale(ctx, w.now().Add(-w.staleAfter))
		if err != nil {
			w.logger.Error("failed to cancel stale sessions", "error", err)
		}
		res.StaleCancelled = n
		if n > 0 {
			w.logger.Warn("cancelled stale sync sessions", "count", n)
		}
	}

	apps, err := w.apps.ListWithActiveConnections(ctx)
	if err != nil {
		return res, err
	}

	for _, app := range apps {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		status, err := w.syncs.GetActiveSyncStatus(ctx, app.ID)
		if err != nil {
			res.Failed++
			w.logger.Error("failed to read sync status", "app_id", app.ID, "error", err)
			continue
		}
		if status.Active {
			res.Skipped++
			w.logger.Debug("sync already running", "app_id", app.ID, "session_id", status.Session.ID)
			continue
		}

		sessionID, err := w.syncs.TriggerSync(ctx, app.ID, false, nil)
		if errors.Is(err, service.ErrShuttingDown) {
			return res, nil
		}
		if err != nil {
			res.Failed++
			w.logger.Error("failed to trigger scheduled sync", "app_id", app.ID, "error", err)
			continue
		}
		res.Triggered++
		w.logger.Info("scheduled sync triggered", "app_id", app.ID, "session_id", sessionID)
	}

	w.logger.Info("scheduler pass complete",
		"apps", len(apps),
		"triggered", res.Triggered,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}
