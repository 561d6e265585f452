package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/repository"
)

// DefaultNetRevenueRatio is the share of gross revenue assumed to reach the
// developer when a platform reports no proceeds for a transaction. It is an
// estimate; snapshots that used it carry NetEstimated.
const DefaultNetRevenueRatio = 0.85

// SnapshotService builds daily metrics snapshots from stored billing records.
type SnapshotService struct {
	billing   repository.BillingRepository
	snapshots repository.SnapshotRepository
	netRatio  float64
	logger    *slog.Logger
}

// NewSnapshotService creates a snapshot service. A ratio outside (0, 1] falls
// back to DefaultNetRevenueRatio.
func NewSnapshotService(repos *repository.Repositories, netRatio float64, logger *slog.Logger) *SnapshotService {
	if netRatio <= 0 || netRatio > 1 {
		netRatio = DefaultNetRevenueRatio
	}
	return &SnapshotService{
		billing:   repos.Billing,
		snapshots: repos.Snapshot,
		netRatio:  netRatio,
		logger:    logger.With("component", "snapshots"),
	}
}

// NetRevenueRatio returns the fallback ratio in use.
func (s *SnapshotService) NetRevenueRatio() float64 {
	return s.netRatio
}

// BuildDay computes and stores the platform row for one date. The unified
// row for that date is recomputed by the repository in the same transaction.
// It returns nil when the platform has no records on or before date.
func (s *SnapshotService) BuildDay(ctx context.Context, appID string, p models.Platform, date time.Time) (*models.MetricsSnapshot, error) {
	snaps, err := s.BuildRange(ctx, appID, p, date, date)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return snaps[0], nil
}

// BuildRange computes and stores the platform rows for every day in
// [from, to], both inclusive.
func (s *SnapshotService) BuildRange(ctx context.Context, appID string, p models.Platform, from, to time.Time) ([]*models.MetricsSnapshot, error) {
	snaps, err := s.Compute(ctx, appID, p, from, to)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		if err := s.snapshots.SaveDay(ctx, snap); err != nil {
			return nil, fmt.Errorf("failed to save %s snapshot for %s: %w", p, snap.DateString(), err)
		}
	}
	s.logger.Debug("snapshots built",
		"app_id", appID,
		"platform", p,
		"from", models.DayStart(from).Format(models.DateLayout),
		"days", len(snaps),
	)
	return snaps, nil
}

// Compute derives the platform rows for [from, to] without storing them.
// Days before the platform's first stored record get no row, so a week only
// counts as covered once the platform actually had data in it.
func (s *SnapshotService) Compute(ctx context.Context, appID string, p models.Platform, from, to time.Time) ([]*models.MetricsSnapshot, error) {
	if !p.IsSource() {
		return nil, fmt.Errorf("cannot compute snapshots for platform %q", p)
	}
	first := models.DayStart(from)
	last := models.DayStart(to)
	if last.Before(first) {
		return nil, fmt.Errorf("invalid range %s..%s", first.Format(models.DateLayout), last.Format(models.DateLayout))
	}
	end := last.AddDate(0, 0, 1)

	earliest, err := s.billing.EarliestActivity(ctx, appID, p)
	if err != nil {
		return nil, fmt.Errorf("failed to find earliest %s record: %w", p, err)
	}
	if earliest == nil {
		return nil, nil
	}
	if day := models.DayStart(*earliest); day.After(first) {
		first = day
	}
	if !first.Before(end) {
		return nil, nil
	}

	subs, err := s.billing.ListSubscriptionsActiveDuring(ctx, appID, p, first, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	revenue, err := s.billing.ListRevenueEvents(ctx, appID, p, first, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list revenue events: %w", err)
	}
	events, err := s.billing.ListSubscriptionEvents(ctx, appID, p, first, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscription events: %w", err)
	}

	byDay := make(map[time.Time]*models.MetricsSnapshot)
	var out []*models.MetricsSnapshot
	for d := first; d.Before(end); d = d.AddDate(0, 0, 1) {
		snap := &models.MetricsSnapshot{AppID: appID, Date: d, Platform: p}
		s.addStock(snap, subs, d)
		byDay[d] = snap
		out = append(out, snap)
	}

	for _, ev := range revenue {
		if snap := byDay[models.DayStart(ev.Timestamp)]; snap != nil {
			s.addRevenue(snap, ev)
		}
	}
	for _, ev := range events {
		snap := byDay[models.DayStart(ev.Timestamp)]
		if snap == nil {
			continue
		}
		switch ev.EventType {
		case models.SubscriptionEventCancellation:
			snap.Cancellations += ev.Quantity
		case models.SubscriptionEventGrace:
			snap.GraceEvents += ev.Quantity
		}
	}

	for _, snap := range out {
		snap.MRR = platform.Round2(snap.MRR)
		snap.MonthlyRevenueGross = platform.Round2(snap.MonthlyRevenueGross)
		snap.MonthlyRevenueNet = platform.Round2(snap.MonthlyRevenueNet)
	}
	return out, nil
}

// addStock sets the point-in-time metrics of day d.
func (s *SnapshotService) addStock(snap *models.MetricsSnapshot, subs []*models.Subscription, d time.Time) {
	next := d.AddDate(0, 0, 1)
	for _, sub := range subs {
		if !sub.ActiveDuring(d, next) {
			continue
		}
		// A canceled subscription without an end date has no known active interval
		if sub.Status == models.SubscriptionStatusCanceled && sub.EndDate == nil {
			continue
		}

		snap.ActiveSubscribers++
		if sub.TrialAt(d) {
			snap.TrialSubscribers++
			continue
		}
		snap.PaidSubscribers++
		switch sub.Interval {
		case models.IntervalMonth:
			snap.MonthlySubscribers++
		case models.IntervalYear:
			snap.YearlySubscribers++
		}
		snap.MRR += sub.MonthlyAmount()
	}
}

// addRevenue accumulates one revenue event into its day's flow metrics.
func (s *SnapshotService) addRevenue(snap *models.MetricsSnapshot, ev *models.RevenueEvent) {
	switch ev.EventType {
	case models.RevenueFirstPayment:
		snap.FirstPayments++
	case models.RevenueRenewal:
		snap.Renewals++
	}

	snap.MonthlyRevenueGross += ev.Amount
	if ev.AmountProceeds != nil {
		snap.MonthlyRevenueNet += *ev.AmountProceeds
		return
	}
	snap.MonthlyRevenueNet += ev.Amount * s.netRatio
	if ev.Amount != 0 {
		snap.NetEstimated = true
	}
}
