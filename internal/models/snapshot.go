package models

import (
	"fmt"
	"time"
)

// DateLayout is the storage and wire format of snapshot dates.
const DateLayout = "2006-01-02"

// MetricKind separates point-in-time metrics from accumulated ones.
type MetricKind string

const (
	MetricStock MetricKind = "stock"
	MetricFlow  MetricKind = "flow"
)

// Metric names as exposed on the query surface.
const (
	MetricActiveSubscribers   = "activeSubscribers"
	MetricTrialSubscribers    = "trialSubscribers"
	MetricPaidSubscribers     = "paidSubscribers"
	MetricMonthlySubscribers  = "monthlySubscribers"
	MetricYearlySubscribers   = "yearlySubscribers"
	MetricMRR                 = "mrr"
	MetricCancellations       = "cancellations"
	MetricGraceEvents         = "graceEvents"
	MetricFirstPayments       = "firstPayments"
	MetricRenewals            = "renewals"
	MetricMonthlyRevenueGross = "monthlyRevenueGross"
	MetricMonthlyRevenueNet   = "monthlyRevenueNet"
)

// MetricKinds maps every metric name to its rollup semantics.
var MetricKinds = map[string]MetricKind{
	MetricActiveSubscribers:   MetricStock,
	MetricTrialSubscribers:    MetricStock,
	MetricPaidSubscribers:     MetricStock,
	MetricMonthlySubscribers:  MetricStock,
	MetricYearlySubscribers:   MetricStock,
	MetricMRR:                 MetricStock,
	MetricCancellations:       MetricFlow,
	MetricGraceEvents:         MetricFlow,
	MetricFirstPayments:       MetricFlow,
	MetricRenewals:            MetricFlow,
	MetricMonthlyRevenueGross: MetricFlow,
	MetricMonthlyRevenueNet:   MetricFlow,
}

// MetricsSnapshot holds one day of metrics for one platform (or the unified sum).
type MetricsSnapshot struct {
	AppID    string    `json:"app_id"`
	Date     time.Time `json:"date"` // UTC midnight
	Platform Platform  `json:"platform"`

	// Stock metrics
	ActiveSubscribers  int     `json:"activeSubscribers"`
	TrialSubscribers   int     `json:"trialSubscribers"`
	PaidSubscribers    int     `json:"paidSubscribers"`
	MonthlySubscribers int     `json:"monthlySubscribers"`
	YearlySubscribers  int     `json:"yearlySubscribers"`
	MRR                float64 `json:"mrr"`

	// Flow metrics
	Cancellations       int     `json:"cancellations"`
	GraceEvents         int     `json:"graceEvents"`
	FirstPayments       int     `json:"firstPayments"`
	Renewals            int     `json:"renewals"`
	MonthlyRevenueGross float64 `json:"monthlyRevenueGross"`
	MonthlyRevenueNet   float64 `json:"monthlyRevenueNet"`

	// NetEstimated is set when any net revenue used the fee-ratio fallback.
	NetEstimated bool `json:"netEstimated"`
}

// DateString returns the snapshot date in DateLayout.
func (m *MetricsSnapshot) DateString() string {
	return m.Date.Format(DateLayout)
}

// Metric returns a metric value by name.
func (m *MetricsSnapshot) Metric(name string) (float64, bool) {
	switch name {
	case MetricActiveSubscribers:
		return float64(m.ActiveSubscribers), true
	case MetricTrialSubscribers:
		return float64(m.TrialSubscribers), true
	case MetricPaidSubscribers:
		return float64(m.PaidSubscribers), true
	case MetricMonthlySubscribers:
		return float64(m.MonthlySubscribers), true
	case MetricYearlySubscribers:
		return float64(m.YearlySubscribers), true
	case MetricMRR:
		return m.MRR, true
	case MetricCancellations:
		return float64(m.Cancellations), true
	case MetricGraceEvents:
		return float64(m.GraceEvents), true
	case MetricFirstPayments:
		return float64(m.FirstPayments), true
	case MetricRenewals:
		return float64(m.Renewals), true
	case MetricMonthlyRevenueGross:
		return m.MonthlyRevenueGross, true
	case MetricMonthlyRevenueNet:
		return m.MonthlyRevenueNet, true
	}
	return 0, false
}

// AddFlow accumulates other's flow metrics into m.
func (m *MetricsSnapshot) AddFlow(other *MetricsSnapshot) {
	m.Cancellations += other.Cancellations
	m.GraceEvents += other.GraceEvents
	m.FirstPayments += other.FirstPayments
	m.Renewals += other.Renewals
	m.MonthlyRevenueGross += other.MonthlyRevenueGross
	m.MonthlyRevenueNet += other.MonthlyRevenueNet
	m.NetEstimated = m.NetEstimated || other.NetEstimated
}

// SetStock replaces m's stock metrics with other's.
func (m *MetricsSnapshot) SetStock(other *MetricsSnapshot) {
	m.ActiveSubscribers = other.ActiveSubscribers
	m.TrialSubscribers = other.TrialSubscribers
	m.PaidSubscribers = other.PaidSubscribers
	m.MonthlySubscribers = other.MonthlySubscribers
	m.YearlySubscribers = other.YearlySubscribers
	m.MRR = other.MRR
}

// add accumulates every metric of other into m.
func (m *MetricsSnapshot) add(other *MetricsSnapshot) {
	m.ActiveSubscribers += other.ActiveSubscribers
	m.TrialSubscribers += other.TrialSubscribers
	m.PaidSubscribers += other.PaidSubscribers
	m.MonthlySubscribers += other.MonthlySubscribers
	m.YearlySubscribers += other.YearlySubscribers
	m.MRR += other.MRR
	m.AddFlow(other)
}

// SumUnified builds the unified row for one (app, date) from the source platform
// rows. Missing platforms count as zero. It panics when given a unified row or a
// row for another app or date: the unified row only ever exists as this sum.
func SumUnified(appID string, date time.Time, parts []*MetricsSnapshot) *MetricsSnapshot {
	byPlatform := make(map[Platform]*MetricsSnapshot, len(parts))
	for _, p := range parts {
		if !p.Platform.IsSource() {
			panic(fmt.Sprintf("models: unified snapshot cannot be summed from platform %q", p.Platform))
		}
		if p.AppID != appID || !p.Date.Equal(date) {
			panic(fmt.Sprintf("models: snapshot %s/%s does not belong to %s/%s", p.AppID, p.DateString(), appID, date.Format(DateLayout)))
		}
		if _, dup := byPlatform[p.Platform]; dup {
			panic(fmt.Sprintf("models: duplicate %s snapshot for %s", p.Platform, date.Format(DateLayout)))
		}
		byPlatform[p.Platform] = p
	}

	unified := &MetricsSnapshot{AppID: appID, Date: date, Platform: PlatformUnified}
	for _, platform := range SourcePlatforms {
		if p, ok := byPlatform[platform]; ok {
			unified.add(p)
		}
	}
	return unified
}

// DayStart truncates t to UTC midnight.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
