package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
)

// syncedHarness runs one sync of 60 days of Google Play data ending
// 2026-10-01: monthly subscriptions of 10 starting Aug 2 and Sep 1.
func syncedHarness(t *testing.T) *harness {
	t.Helper()
	gp := &fakeAdapter{platform: models.PlatformGooglePlay, chunk: 30 * day}
	gp.fetch = func(call int, w platform.Window) (*platform.Result, error) {
		return monthlyResult(w, 10), nil
	}
	h := newHarness(t, date(time.October, 1), 60*day, gp)
	h.connect(t, models.PlatformGooglePlay, "gp")
	if s := h.run(t, true, nil); s.Status != models.SyncStatusCompleted {
		t.Fatalf("sync status = %s", s.Status)
	}
	return h
}

func TestGetLatestMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown app", func(t *testing.T) {
		h := newHarness(t, date(time.October, 1), 30*day)
		if _, err := h.query.GetLatestMetrics(ctx, "missing"); !errors.Is(err, ErrAppNotFound) {
			t.Errorf("err = %v, want ErrAppNotFound", err)
		}
	})

	t.Run("no data yet", func(t *testing.T) {
		h := newHarness(t, date(time.October, 1), 30*day)
		got, err := h.query.GetLatestMetrics(ctx, h.app.ID)
		if err != nil {
			t.Fatalf("GetLatestMetrics: %v", err)
		}
		if got.AsOf != nil || len(got.Platforms) != 0 {
			t.Errorf("latest = %+v", got)
		}
	})

	t.Run("after sync", func(t *testing.T) {
		h := syncedHarness(t)
		got, err := h.query.GetLatestMetrics(ctx, h.app.ID)
		if err != nil {
			t.Fatalf("GetLatestMetrics: %v", err)
		}
		if got.AsOf == nil || !got.AsOf.Equal(date(time.September, 30)) {
			t.Fatalf("as of = %v, want 2026-09-30", got.AsOf)
		}
		if len(got.Connected) != 1 || got.Connected[0] != models.PlatformGooglePlay {
			t.Errorf("connected = %v", got.Connected)
		}

		gp := got.Platforms[models.PlatformGooglePlay]
		if gp == nil {
			t.Fatal("missing google play metrics")
		}
		// Stock from the latest day, flow over the trailing 30 days
		if gp.ActiveSubscribers != 2 || gp.MRR != 20 {
			t.Errorf("stock = %d / %v, want 2 / 20", gp.ActiveSubscribers, gp.MRR)
		}
		if gp.FirstPayments != 1 || gp.MonthlyRevenueGross != 10 || gp.MonthlyRevenueNet != 7 {
			t.Errorf("flow = %d / %v / %v", gp.FirstPayments, gp.MonthlyRevenueGross, gp.MonthlyRevenueNet)
		}

		unified := got.Platforms[models.PlatformUnified]
		if unified == nil || unified.ActiveSubscribers != 2 || unified.MonthlyRevenueGross != 10 {
			t.Errorf("unified = %+v", unified)
		}
		if _, ok := got.Platforms[models.PlatformStripe]; ok {
			t.Error("unconnected platform reported")
		}
	})
}

func TestGetWeeklyMetricsHistory(t *testing.T) {
	h := syncedHarness(t)
	ctx := context.Background()

	if _, err := h.query.GetWeeklyMetricsHistory(ctx, h.app.ID, "ltv"); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("err = %v, want ErrUnknownMetric", err)
	}

	tests := []struct {
		metric    string
		kind      models.MetricKind
		lastValue float64
	}{
		{models.MetricMRR, models.MetricStock, 20},
		{models.MetricFirstPayments, models.MetricFlow, 0},
		{models.MetricActiveSubscribers, models.MetricStock, 2},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			got, err := h.query.GetWeeklyMetricsHistory(ctx, h.app.ID, tt.metric)
			if err != nil {
				t.Fatalf("GetWeeklyMetricsHistory: %v", err)
			}
			if got.Kind != tt.kind || got.WeekStartDay != time.Monday {
				t.Errorf("kind %s week start %v", got.Kind, got.WeekStartDay)
			}
			// 2026-08-02 is a Sunday, so the first Monday bucket starts Jul 27
			if len(got.Weeks) != 10 || !got.Weeks[0].Equal(date(time.July, 27)) {
				t.Fatalf("weeks = %v", got.Weeks)
			}
			for _, w := range got.Weeks {
				if w.Weekday() != time.Monday {
					t.Errorf("week %v does not start on Monday", w)
				}
			}
			series := got.Series[models.PlatformGooglePlay]
			if len(series) != 10 {
				t.Fatalf("google play points = %d, want 10", len(series))
			}
			if last := series[len(series)-1].Value; last != tt.lastValue {
				t.Errorf("last value = %v, want %v", last, tt.lastValue)
			}
		})
	}

	// The week holding Sep 1 carries that month's first payment
	fp, _ := h.query.GetWeeklyMetricsHistory(ctx, h.app.ID, models.MetricFirstPayments)
	var total float64
	for _, p := range fp.Series[models.PlatformGooglePlay] {
		total += p.Value
		if p.WeekStart.Equal(date(time.August, 31)) && p.Value != 1 {
			t.Errorf("week of Aug 31 first payments = %v, want 1", p.Value)
		}
	}
	if total != 2 {
		t.Errorf("first payments across weeks = %v, want 2", total)
	}
}

func TestGetWeeklyMetricsHistory_StartsWhenEveryPlatformHasData(t *testing.T) {
	now := date(time.October, 1)
	lookback := 70 * day
	stripeStart := now.Add(-lookback).Add(time.Hour)
	playStart := date(time.September, 21).Add(10 * time.Hour)

	st := &fakeAdapter{platform: models.PlatformStripe}
	st.fetch = func(call int, w platform.Window) (*platform.Result, error) {
		r := &platform.Result{}
		if w.Contains(stripeStart) {
			r.AddSubscription(models.PlatformStripe, platform.RawSubscription{
				ExternalID: "sub_old", Status: models.SubscriptionStatusActive,
				StartDate: stripeStart, Amount: floatPtr(10), Interval: models.IntervalMonth,
			}, nil)
		}
		return r, nil
	}
	gp := &fakeAdapter{platform: models.PlatformGooglePlay, chunk: 30 * day}
	gp.fetch = func(call int, w platform.Window) (*platform.Result, error) {
		r := &platform.Result{}
		if w.Contains(playStart) {
			r.AddSubscription(models.PlatformGooglePlay, platform.RawSubscription{
				ExternalID: "gp-1", Status: models.SubscriptionStatusActive,
				StartDate: playStart, Amount: floatPtr(5), Interval: models.IntervalMonth,
			}, nil)
		}
		return r, nil
	}

	h := newHarness(t, now, lookback, st, gp)
	h.connect(t, models.PlatformStripe, "st")
	h.connect(t, models.PlatformGooglePlay, "gp")
	if s := h.run(t, true, nil); s.Status != models.SyncStatusCompleted {
		t.Fatalf("sync status = %s", s.Status)
	}

	if early := h.snapshots(t, models.PlatformGooglePlay, now.Add(-lookback), date(time.September, 20)); len(early) != 0 {
		t.Errorf("google play rows before its first record = %d, want 0", len(early))
	}
	if stripeRows := h.snapshots(t, models.PlatformStripe, now.Add(-lookback), now); len(stripeRows) != 70 {
		t.Errorf("stripe rows = %d, want 70", len(stripeRows))
	}

	got, err := h.query.GetWeeklyMetricsHistory(context.Background(), h.app.ID, models.MetricMRR)
	if err != nil {
		t.Fatalf("GetWeeklyMetricsHistory: %v", err)
	}
	if len(got.Weeks) != 2 || !got.Weeks[0].Equal(date(time.September, 21)) {
		t.Fatalf("weeks = %v, want Sep 21 and Sep 28", got.Weeks)
	}
	play := got.Series[models.PlatformGooglePlay]
	if len(play) != 2 || play[0].Value != 5 {
		t.Errorf("google play series = %+v", play)
	}
	if unified := got.Series[models.PlatformUnified]; len(unified) != 2 || unified[1].Value != 15 {
		t.Errorf("unified series = %+v", unified)
	}
}

func TestGetAllDebugData(t *testing.T) {
	h := syncedHarness(t)
	ctx := context.Background()

	got, err := h.query.GetAllDebugData(ctx, h.app.ID)
	if err != nil {
		t.Fatalf("GetAllDebugData: %v", err)
	}
	if len(got.Snapshots) != 120 {
		t.Errorf("snapshots = %d, want 120", len(got.Snapshots))
	}
	if got.Subscriptions[models.PlatformGooglePlay] != 2 || got.RevenueEvents[models.PlatformGooglePlay] != 2 {
		t.Errorf("record counts = %v / %v", got.Subscriptions, got.RevenueEvents)
	}
	if got.LatestSession == nil || len(got.Logs) == 0 || len(got.Counters) != 1 {
		t.Errorf("session trail = %+v, %d logs, %d counters", got.LatestSession, len(got.Logs), len(got.Counters))
	}
	if got.NetRevenueRatio != DefaultNetRevenueRatio || len(got.Connections) != 1 {
		t.Errorf("ratio %v connections %d", got.NetRevenueRatio, len(got.Connections))
	}

	if _, err := h.query.GetAllDebugData(ctx, "missing"); !errors.Is(err, ErrAppNotFound) {
		t.Errorf("err = %v, want ErrAppNotFound", err)
	}
}
