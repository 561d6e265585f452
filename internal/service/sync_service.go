package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/revsync-api/internal/logging"
	"github.com/jmylchreest/revsync-api/internal/metrics"
	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/repository"
)

// Sync defaults.
const (
	DefaultHistoricalLookback = 365 * 24 * time.Hour
	// IncrementalOverlap re-reads the days before the last sync because store
	// reports land one to three days late. Re-reading is safe: events are
	// insert-if-absent and subscriptions are upserted.
	IncrementalOverlap = 3 * 24 * time.Hour
)

// Sync service errors.
var (
	ErrSessionNotFound = errors.New("sync session not found")
	ErrShuttingDown    = errors.New("sync service is shutting down")
)

// SyncStatus is the trigger surface's view of an app's sync state.
type SyncStatus struct {
	Active  bool                `json:"active"`
	Session *models.SyncSession `json:"session,omitempty"`
}

// SyncServiceConfig configures the orchestrator.
type SyncServiceConfig struct {
	HistoricalLookback time.Duration
	Now                func() time.Time
	Metrics            *metrics.SyncMetrics
}

// SyncService owns the sync session lifecycle: it sequences platforms,
// chunks their windows, persists each chunk before the next and honours
// cancellation at chunk boundaries.
type SyncService struct {
	repos       *repository.Repositories
	credentials *CredentialService
	normalizer  *Normalizer
	snapshots   *SnapshotService
	adapters    map[models.Platform]platform.Adapter
	metrics     *metrics.SyncMetrics
	lookback    time.Duration
	now         func() time.Time
	logger      *slog.Logger

	baseCtx  context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopping bool
}

// NewSyncService creates the orchestrator.
func NewSyncService(repos *repository.Repositories, credentials *CredentialService, snapshots *SnapshotService, adapters map[models.Platform]platform.Adapter, cfg SyncServiceConfig, logger *slog.Logger) *SyncService {
	if cfg.HistoricalLookback <= 0 {
		cfg.HistoricalLookback = DefaultHistoricalLookback
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &SyncService{
		repos:       repos,
		credentials: credentials,
		normalizer:  NewNormalizer(repos.Billing),
		snapshots:   snapshots,
		adapters:    adapters,
		metrics:     cfg.Metrics,
		lookback:    cfg.HistoricalLookback,
		now:         cfg.Now,
		logger:      logger.With("component", "sync"),
		baseCtx:     baseCtx,
		stop:        stop,
	}
}

// ========================================
// Trigger surface
// ========================================

// TriggerSync cancels any active session for the app, starts a new one and
// runs it in the background. A nil platform syncs every connected platform.
func (s *SyncService) TriggerSync(ctx context.Context, appID string, forceHistorical bool, p *models.Platform) (string, error) {
	session, err := s.StartSession(ctx, appID, forceHistorical, p)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.finish(session, models.SyncStatusCancelled)
		return "", ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.RunSession(s.baseCtx, session); err != nil {
			s.logger.Error("sync session failed", "app_id", appID, "session_id", session.ID, "error", err)
		}
	}()

	return session.ID, nil
}

// StartSession validates the request and records a new active session,
// cancelling the app's previous one. It does not run the session.
func (s *SyncService) StartSession(ctx context.Context, appID string, forceHistorical bool, p *models.Platform) (*models.SyncSession, error) {
	app, err := s.repos.App.GetByID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	if app == nil {
		return nil, ErrAppNotFound
	}

	session := &models.SyncSession{AppID: appID, ForceHistorical: forceHistorical}
	if p != nil {
		if _, ok := s.adapters[*p]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAdapter, *p)
		}
		session.Platform = *p
	}

	cancelled, err := s.repos.SyncSession.Start(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to start sync session: %w", err)
	}
	for _, id := range cancelled {
		s.appendLog(&models.SyncSession{ID: id, AppID: appID}, models.SyncLogInfo, "", "superseded by session "+session.ID)
		s.metrics.SessionFinished(string(models.SyncStatusCancelled))
	}

	s.logger.Info("sync session started",
		"app_id", appID,
		"session_id", session.ID,
		"platform", session.Platform,
		"force_historical", forceHistorical,
		"superseded", len(cancelled),
	)
	return session, nil
}

// CancelSync cancels the app's active session. The running task notices at
// its next chunk boundary. Returns the cancelled session id, or "" when no
// session was active.
func (s *SyncService) CancelSync(ctx context.Context, appID string) (string, error) {
	id, err := s.repos.SyncSession.CancelActive(ctx, appID)
	if err != nil {
		return "", fmt.Errorf("failed to cancel sync: %w", err)
	}
	if id != "" {
		s.appendLog(&models.SyncSession{ID: id, AppID: appID}, models.SyncLogInfo, "", "cancellation requested")
		s.metrics.SessionFinished(string(models.SyncStatusCancelled))
		s.logger.Info("sync session cancelled", "app_id", appID, "session_id", id)
	}
	return id, nil
}

// GetActiveSyncStatus reports whether the app has an active session. When it
// has none, Session is the most recent finished one.
func (s *SyncService) GetActiveSyncStatus(ctx context.Context, appID string) (*SyncStatus, error) {
	active, err := s.repos.SyncSession.GetActive(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	if active != nil {
		return &SyncStatus{Active: true, Session: active}, nil
	}
	latest, err := s.repos.SyncSession.GetLatest(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest session: %w", err)
	}
	return &SyncStatus{Active: false, Session: latest}, nil
}

// SessionLogs returns the log trail of the app's most recent session.
func (s *SyncService) SessionLogs(ctx context.Context, appID string) (*models.SyncSession, []*models.SyncLog, error) {
	latest, err := s.repos.SyncSession.GetLatest(ctx, appID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest session: %w", err)
	}
	if latest == nil {
		return nil, nil, ErrSessionNotFound
	}
	logs, err := s.repos.SyncLog.ListBySession(ctx, latest.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list session logs: %w", err)
	}
	return latest, logs, nil
}

// Wait blocks until every background session has returned.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting triggers, interrupts running sessions and waits
// for them until ctx is done. Interrupted sessions end cancelled with their
// persisted chunks intact.
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sync sessions still running: %w", ctx.Err())
	}
}

// ========================================
// Session execution
// ========================================

// errSessionCancelled stops a platform loop when the session was cancelled.
var errSessionCancelled = errors.New("session cancelled")

// RunSession executes an active session synchronously. Platform failures are
// logged and skipped; the session still completes. It returns an error only
// when the session could not be run at all.
func (s *SyncService) RunSession(ctx context.Context, session *models.SyncSession) error {
	ctx = logging.WithSessionID(logging.WithAppID(ctx, session.AppID), session.ID)
	logger := logging.FromContext(ctx, s.logger)
	runStarted := s.now().UTC()

	s.metrics.SessionRunning(1)
	defer s.metrics.SessionRunning(-1)

	if cancelled, err := s.isCancelled(ctx, session); err != nil || cancelled {
		s.finish(session, models.SyncStatusCancelled)
		return err
	}

	conns, err := s.credentials.GetActiveConnections(ctx, session.AppID)
	if err != nil {
		s.appendLog(session, models.SyncLogError, "", "could not load platform connections")
		s.finish(session, models.SyncStatusCompleted)
		return err
	}
	byPlatform := make(map[models.Platform]ActiveConnection, len(conns))
	for _, c := range conns {
		byPlatform[c.Platform] = c
	}

	platforms := s.platformsFor(session)
	s.appendLog(session, models.SyncLogInfo, "", fmt.Sprintf("sync started (%s, historical=%t)", platformList(platforms), session.ForceHistorical))

	var synced, failed []models.Platform
	for _, p := range platforms {
		conn, ok := byPlatform[p]
		if !ok {
			if session.Platform != "" {
				s.appendLog(session, models.SyncLogError, p, "no active connection for platform")
				failed = append(failed, p)
			}
			continue
		}

		err := s.syncPlatform(ctx, session, conn, runStarted)
		switch {
		case errors.Is(err, errSessionCancelled), ctx.Err() != nil:
			s.appendLog(session, models.SyncLogInfo, p, "sync cancelled; completed chunks were kept")
			s.finish(session, models.SyncStatusCancelled)
			logger.Info("sync session cancelled", "platform", p)
			return nil
		case err != nil:
			failed = append(failed, p)
			s.platformFailed(session, p, err)
			continue
		}

		if err := s.credentials.UpdateLastSync(context.WithoutCancel(ctx), conn.ID, runStarted); err != nil {
			logger.Error("failed to record last sync", "platform", p, "error", err)
		}
		synced = append(synced, p)
	}

	msg := fmt.Sprintf("sync completed: %d platform(s) synced", len(synced))
	if len(failed) > 0 {
		msg += fmt.Sprintf(", %d failed (%s)", len(failed), platformList(failed))
	}
	s.appendLog(session, models.SyncLogSuccess, "", msg)
	s.finish(session, models.SyncStatusCompleted)

	logger.Info("sync session completed",
		"synced", len(synced),
		"failed", len(failed),
		"duration_ms", s.now().Sub(runStarted).Milliseconds(),
	)
	return nil
}

// syncPlatform fetches, persists and aggregates one platform chunk by chunk.
func (s *SyncService) syncPlatform(ctx context.Context, session *models.SyncSession, conn ActiveConnection, runStarted time.Time) error {
	p := conn.Platform
	if conn.Err != nil {
		return conn.Err
	}
	adapter, ok := s.adapters[p]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAdapter, p)
	}

	ctx = logging.WithPlatform(ctx, string(p))
	logger := logging.FromContext(ctx, s.logger)
	counters := platform.NewCounters()
	defer s.saveCounters(session, p, counters)

	window := s.windowFor(conn, session.ForceHistorical, runStarted)
	chunks := window.Chunks(adapter.ChunkSize())
	s.appendLog(session, models.SyncLogInfo, p, fmt.Sprintf("syncing %s to %s in %d chunk(s)",
		window.Start.Format(models.DateLayout), window.End.Format(models.DateLayout), len(chunks)))

	var total NormalizeResult
	for i, chunk := range chunks {
		fetchStart := time.Now()
		result, fetchErr := adapter.Fetch(ctx, conn.Credentials, chunk, counters)
		s.metrics.ObserveFetch(string(p), time.Since(fetchStart), fetchErr)

		// Keep whatever a failing fetch gathered; a re-run fills the rest
		partial := result != nil && !result.Empty()
		if partial {
			norm, err := s.normalizer.Normalize(ctx, session.AppID, p, result)
			if err != nil {
				return err
			}
			s.countRecords(p, norm, result.Skipped)
			addResult(&total, norm)
		}
		if fetchErr != nil {
			if partial {
				// Stored records must show up in their days' snapshots
				if err := s.buildChunk(context.WithoutCancel(ctx), session.AppID, p, chunk); err != nil {
					logger.Error("failed to build snapshots for partial chunk", "chunk", i+1, "error", err)
				}
			}
			if ctx.Err() != nil {
				return errSessionCancelled
			}
			return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), fetchErr)
		}
		if result == nil {
			result = &platform.Result{}
		}

		if err := s.buildChunk(ctx, session.AppID, p, chunk); err != nil {
			return err
		}

		logger.Debug("chunk synced",
			"chunk", i+1,
			"chunks", len(chunks),
			"subscriptions", len(result.Subscriptions),
			"revenue_events", len(result.RevenueEvents),
			"skipped", result.Skipped,
		)
		if len(chunks) > 1 {
			s.appendLog(session, models.SyncLogInfo, p, fmt.Sprintf("chunk %d/%d done (%s to %s)",
				i+1, len(chunks), chunk.Start.Format(models.DateLayout), chunk.End.Format(models.DateLayout)))
		}

		cancelled, err := s.isCancelled(ctx, session)
		if err != nil {
			return err
		}
		if cancelled {
			return errSessionCancelled
		}
	}

	s.metrics.AddRetries(string(p), sumRetries(counters))
	s.appendLog(session, models.SyncLogInfo, p, fmt.Sprintf(
		"%s synced: %d subscriptions, %d new revenue events (%d already stored), %d state events",
		p, total.SubscriptionsUpserted, total.RevenueInserted, total.RevenueDuplicate, total.EventsInserted))
	if skipped := counters.Get("parse_errors") + counters.Get("invalid_subscription") + counters.Get("invalid_revenue_event") + counters.Get("invalid_subscription_event"); skipped > 0 {
		s.appendLog(session, models.SyncLogInfo, p, fmt.Sprintf("%d malformed record(s) skipped", skipped))
	}
	return nil
}

// buildChunk rebuilds the platform snapshots for every day chunk touches.
func (s *SyncService) buildChunk(ctx context.Context, appID string, p models.Platform, chunk platform.Window) error {
	days := chunk.Days()
	if len(days) == 0 {
		return nil
	}
	_, err := s.snapshots.BuildRange(ctx, appID, p, days[0], days[len(days)-1])
	return err
}

// windowFor picks the fetch window: incremental from the last sync, or the
// historical lookback for first and forced syncs.
func (s *SyncService) windowFor(conn ActiveConnection, forceHistorical bool, now time.Time) platform.Window {
	earliest := now.Add(-s.lookback)
	if forceHistorical || conn.LastSync == nil {
		return platform.NewWindow(earliest, now)
	}
	start := conn.LastSync.Add(-IncrementalOverlap)
	if start.Before(earliest) {
		start = earliest
	}
	return platform.NewWindow(start, now)
}

// platformsFor returns the platforms a session visits, in sync order.
func (s *SyncService) platformsFor(session *models.SyncSession) []models.Platform {
	var out []models.Platform
	for _, p := range models.SyncOrder {
		if session.Platform != "" && session.Platform != p {
			continue
		}
		if _, ok := s.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// isCancelled re-reads the session row: its status is the cancellation flag
// shared with CancelSync and superseding triggers.
func (s *SyncService) isCancelled(ctx context.Context, session *models.SyncSession) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	current, err := s.repos.SyncSession.GetByID(ctx, session.ID)
	if err != nil {
		return false, fmt.Errorf("failed to read session status: %w", err)
	}
	if current == nil {
		return false, ErrSessionNotFound
	}
	return current.Status != models.SyncStatusActive, nil
}

func (s *SyncService) platformFailed(session *models.SyncSession, p models.Platform, err error) {
	kind := "other"
	msg := fmt.Sprintf("%s sync failed: %v", p, err)
	var apiErr *platform.APIError
	switch {
	case platform.IsCredentialError(err):
		kind = "credential"
		msg = fmt.Sprintf("%s credentials were rejected; update the connection and sync again (%v)", p, err)
	case errors.As(err, &apiErr):
		kind = "api"
	}
	s.metrics.PlatformFailed(string(p), kind)
	s.appendLog(session, models.SyncLogError, p, msg)
	s.logger.Error("platform sync failed",
		"app_id", session.AppID,
		"session_id", session.ID,
		"platform", p,
		"kind", kind,
		"error", err,
	)
}

// finish writes a terminal status. It runs on a fresh context so shutdown
// cannot leave the session active.
func (s *SyncService) finish(session *models.SyncSession, status models.SyncStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ok, err := s.repos.SyncSession.Finish(ctx, session.ID, status)
	if err != nil {
		s.logger.Error("failed to finish sync session", "session_id", session.ID, "status", status, "error", err)
		return
	}
	if ok {
		s.metrics.SessionFinished(string(status))
	}
}

func (s *SyncService) appendLog(session *models.SyncSession, level models.SyncLogLevel, p models.Platform, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repos.SyncLog.Append(ctx, &models.SyncLog{
		SessionID: session.ID,
		AppID:     session.AppID,
		Level:     level,
		Platform:  p,
		Message:   msg,
	}); err != nil {
		s.logger.Warn("failed to append sync log", "session_id", session.ID, "error", err)
	}
}

func (s *SyncService) saveCounters(session *models.SyncSession, p models.Platform, counters *platform.Counters) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repos.SyncLog.SaveCounters(ctx, &models.SyncRunCounters{
		SessionID: session.ID,
		Platform:  p,
		Counters:  counters.Snapshot(),
	}); err != nil {
		s.logger.Warn("failed to save sync counters", "session_id", session.ID, "platform", p, "error", err)
	}
}

func (s *SyncService) countRecords(p models.Platform, norm *NormalizeResult, skipped int) {
	name := string(p)
	s.metrics.AddRecords(name, "subscription", norm.SubscriptionsUpserted)
	s.metrics.AddRecords(name, "revenue_inserted", norm.RevenueInserted)
	s.metrics.AddRecords(name, "revenue_duplicate", norm.RevenueDuplicate)
	s.metrics.AddRecords(name, "event", norm.EventsInserted)
	s.metrics.AddRecords(name, "skipped", skipped+norm.Dropped)
}

func addResult(total, n *NormalizeResult) {
	total.SubscriptionsUpserted += n.SubscriptionsUpserted
	total.RevenueInserted += n.RevenueInserted
	total.RevenueDuplicate += n.RevenueDuplicate
	total.EventsInserted += n.EventsInserted
	total.Dropped += n.Dropped
}

func sumRetries(counters *platform.Counters) int64 {
	var n int64
	for name, v := range counters.Snapshot() {
		if strings.HasSuffix(name, "_retries") {
			n += v
		}
	}
	return n
}

func platformList(ps []models.Platform) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
