package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/repository"
)

// ErrUnknownMetric is returned for a metric name outside models.MetricKinds.
var ErrUnknownMetric = errors.New("unknown metric")

// CurrentFlowDays is the span "current" flow totals are summed over.
const CurrentFlowDays = 30

// LatestMetrics is the dashboard headline: stock values from the latest
// snapshot date and flow totals over the CurrentFlowDays ending on it.
type LatestMetrics struct {
	AppID     string                                      `json:"appId"`
	AsOf      *time.Time                                  `json:"asOf,omitempty"`
	FlowDays  int                                         `json:"flowDays"`
	Platforms map[models.Platform]*models.MetricsSnapshot `json:"platforms"`
	Connected []models.Platform                           `json:"connected"`
}

// WeeklyHistory is one metric's weekly series per platform.
type WeeklyHistory struct {
	AppID        string                            `json:"appId"`
	Metric       string                            `json:"metric"`
	Kind         models.MetricKind                 `json:"kind"`
	WeekStartDay time.Weekday                      `json:"weekStartDay"`
	Weeks        []time.Time                       `json:"weeks"`
	Series       map[models.Platform][]SeriesPoint `json:"series"`
}

// DebugData is everything stored about an app's sync state.
type DebugData struct {
	AppID           string                       `json:"appId"`
	Snapshots       []*models.MetricsSnapshot    `json:"snapshots"`
	LatestSession   *models.SyncSession          `json:"latestSession,omitempty"`
	Logs            []*models.SyncLog            `json:"logs"`
	Counters        []*models.SyncRunCounters    `json:"counters"`
	Subscriptions   map[models.Platform]int      `json:"subscriptions"`
	RevenueEvents   map[models.Platform]int      `json:"revenueEvents"`
	Notifications   int                          `json:"notifications"`
	NetRevenueRatio float64                      `json:"netRevenueRatio"`
	Connections     []*models.PlatformConnection `json:"connections"`
}

// MetricsQueryService answers read-only queries over stored snapshots.
type MetricsQueryService struct {
	repos    *repository.Repositories
	netRatio float64
	now      func() time.Time
	logger   *slog.Logger
}

// NewMetricsQueryService creates a query service.
func NewMetricsQueryService(repos *repository.Repositories, netRatio float64, logger *slog.Logger) *MetricsQueryService {
	return &MetricsQueryService{
		repos:    repos,
		netRatio: netRatio,
		now:      time.Now,
		logger:   logger.With("component", "metrics-query"),
	}
}

func (s *MetricsQueryService) app(ctx context.Context, appID string) (*models.App, error) {
	app, err := s.repos.App.GetByID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	if app == nil {
		return nil, ErrAppNotFound
	}
	return app, nil
}

func (s *MetricsQueryService) activePlatforms(ctx context.Context, appID string) ([]models.Platform, error) {
	conns, err := s.repos.Connection.ListActiveByAppID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	var out []models.Platform
	for _, c := range conns {
		out = append(out, c.Platform)
	}
	return out, nil
}

// GetLatestMetrics returns per-platform and unified headline metrics.
func (s *MetricsQueryService) GetLatestMetrics(ctx context.Context, appID string) (*LatestMetrics, error) {
	if _, err := s.app(ctx, appID); err != nil {
		return nil, err
	}
	connected, err := s.activePlatforms(ctx, appID)
	if err != nil {
		return nil, err
	}

	out := &LatestMetrics{
		AppID:     appID,
		FlowDays:  CurrentFlowDays,
		Platforms: make(map[models.Platform]*models.MetricsSnapshot),
		Connected: connected,
	}
	latest, err := s.repos.Snapshot.LatestDate(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot date: %w", err)
	}
	if latest == nil {
		return out, nil
	}
	out.AsOf = latest

	from := latest.AddDate(0, 0, -(CurrentFlowDays - 1))
	snaps, err := s.repos.Snapshot.List(ctx, appID, "", from, *latest)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	// snaps are date ordered, so SetStock leaves the last observed value
	var parts []*models.MetricsSnapshot
	for _, p := range models.SourcePlatforms {
		var agg *models.MetricsSnapshot
		for _, snap := range snaps {
			if snap.Platform != p {
				continue
			}
			if agg == nil {
				agg = &models.MetricsSnapshot{AppID: appID, Date: *latest, Platform: p}
			}
			agg.AddFlow(snap)
			agg.SetStock(snap)
		}
		if agg != nil {
			out.Platforms[p] = agg
			parts = append(parts, agg)
		}
	}
	out.Platforms[models.PlatformUnified] = models.SumUnified(appID, *latest, parts)
	return out, nil
}

// GetWeeklyMetricsHistory returns the weekly series of one metric, bucketed
// on the app's week start day and filtered to weeks where every connected
// platform has data.
func (s *MetricsQueryService) GetWeeklyMetricsHistory(ctx context.Context, appID, metric string) (*WeeklyHistory, error) {
	kind, ok := models.MetricKinds[metric]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	app, err := s.app(ctx, appID)
	if err != nil {
		return nil, err
	}
	active, err := s.activePlatforms(ctx, appID)
	if err != nil {
		return nil, err
	}

	out := &WeeklyHistory{
		AppID:        appID,
		Metric:       metric,
		Kind:         kind,
		WeekStartDay: app.WeekStartDay,
		Series:       map[models.Platform][]SeriesPoint{},
	}
	latest, err := s.repos.Snapshot.LatestDate(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot date: %w", err)
	}
	if latest == nil {
		return out, nil
	}

	// One spare week so the oldest bucket is complete after alignment
	from := WeekStart(*latest, app.WeekStartDay).AddDate(0, 0, -7*MaxWeeklyBuckets)
	snaps, err := s.repos.Snapshot.List(ctx, appID, "", from, *latest)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	buckets := WeeklyRollup(snaps, active, app.WeekStartDay, MaxWeeklyBuckets)
	for _, b := range buckets {
		out.Weeks = append(out.Weeks, b.WeekStart)
	}
	out.Series = MetricSeries(buckets, metric)
	return out, nil
}

// GetAllDebugData returns every stored snapshot plus the latest session's
// trail.
func (s *MetricsQueryService) GetAllDebugData(ctx context.Context, appID string) (*DebugData, error) {
	if _, err := s.app(ctx, appID); err != nil {
		return nil, err
	}

	out := &DebugData{
		AppID:           appID,
		Subscriptions:   make(map[models.Platform]int),
		RevenueEvents:   make(map[models.Platform]int),
		NetRevenueRatio: s.netRatio,
	}

	var err error
	out.Snapshots, err = s.repos.Snapshot.List(ctx, appID, "", time.Time{}, s.now().AddDate(1, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	for _, p := range models.SourcePlatforms {
		if out.Subscriptions[p], err = s.repos.Billing.CountSubscriptions(ctx, appID, p); err != nil {
			return nil, fmt.Errorf("failed to count subscriptions: %w", err)
		}
		if out.RevenueEvents[p], err = s.repos.Billing.CountRevenueEvents(ctx, appID, p); err != nil {
			return nil, fmt.Errorf("failed to count revenue events: %w", err)
		}
	}

	if out.Connections, err = s.repos.Connection.ListActiveByAppID(ctx, appID); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	if out.Notifications, err = s.repos.Notification.CountByApp(ctx, appID); err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	if out.LatestSession, err = s.repos.SyncSession.GetLatest(ctx, appID); err != nil {
		return nil, fmt.Errorf("failed to get latest session: %w", err)
	}
	if out.LatestSession != nil {
		if out.Logs, err = s.repos.SyncLog.ListBySession(ctx, out.LatestSession.ID); err != nil {
			return nil, fmt.Errorf("failed to list session logs: %w", err)
		}
		if out.Counters, err = s.repos.SyncLog.ListCounters(ctx, out.LatestSession.ID); err != nil {
			return nil, fmt.Errorf("failed to list session counters: %w", err)
		}
	}
	return out, nil
}
