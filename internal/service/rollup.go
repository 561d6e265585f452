package service

import (
	"sort"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
)

// MaxWeeklyBuckets is the length of the weekly history series.
const MaxWeeklyBuckets = 52

// WeeklyBucket is one calendar week of rolled-up metrics per platform.
// Flow metrics are summed over the week; stock metrics hold the value of the
// latest day observed in the week.
type WeeklyBucket struct {
	WeekStart time.Time                                   `json:"weekStart"`
	Platforms map[models.Platform]*models.MetricsSnapshot `json:"platforms"`
}

// WeekStart returns the UTC midnight starting the week that contains t.
func WeekStart(t time.Time, startDay time.Weekday) time.Time {
	d := models.DayStart(t)
	offset := (int(d.Weekday()) - int(startDay) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// WeeklyRollup buckets daily snapshots into weeks starting on weekStart.
// A week is kept only when every platform in active has at least one
// snapshot in it. The most recent limit weeks are returned oldest first;
// limit <= 0 means MaxWeeklyBuckets.
func WeeklyRollup(snapshots []*models.MetricsSnapshot, active []models.Platform, weekStart time.Weekday, limit int) []*WeeklyBucket {
	if limit <= 0 {
		limit = MaxWeeklyBuckets
	}

	sorted := make([]*models.MetricsSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	buckets := make(map[time.Time]*WeeklyBucket)
	for _, snap := range sorted {
		week := WeekStart(snap.Date, weekStart)
		b := buckets[week]
		if b == nil {
			b = &WeeklyBucket{WeekStart: week, Platforms: make(map[models.Platform]*models.MetricsSnapshot)}
			buckets[week] = b
		}
		agg := b.Platforms[snap.Platform]
		if agg == nil {
			agg = &models.MetricsSnapshot{AppID: snap.AppID, Date: week, Platform: snap.Platform}
			b.Platforms[snap.Platform] = agg
		}
		agg.AddFlow(snap)
		// Ascending order makes the last write the latest day of the week
		agg.SetStock(snap)
	}

	out := make([]*WeeklyBucket, 0, len(buckets))
	for _, b := range buckets {
		if complete(b, active) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WeekStart.Before(out[j].WeekStart)
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func complete(b *WeeklyBucket, active []models.Platform) bool {
	for _, p := range active {
		if _, ok := b.Platforms[p]; !ok {
			return false
		}
	}
	return true
}

// SeriesPoint is one week of one metric for one platform.
type SeriesPoint struct {
	WeekStart time.Time `json:"weekStart"`
	Value     float64   `json:"value"`
}

// MetricSeries extracts one metric per platform from rolled-up buckets.
// Platforms missing from a bucket contribute no point for that week.
func MetricSeries(buckets []*WeeklyBucket, metric string) map[models.Platform][]SeriesPoint {
	series := make(map[models.Platform][]SeriesPoint)
	for _, b := range buckets {
		for p, snap := range b.Platforms {
			v, ok := snap.Metric(metric)
			if !ok {
				continue
			}
			series[p] = append(series[p], SeriesPoint{WeekStart: b.WeekStart, Value: v})
		}
	}
	return series
}
