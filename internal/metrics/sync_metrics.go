// Package metrics exposes Prometheus instruments for the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics instruments sync sessions and platform fetches. A nil
// *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	sessions       *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	records        *prometheus.CounterVec
	platformErrors *prometheus.CounterVec
	retries        *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// NewSyncMetrics creates the instruments and registers them with registerer,
// or the default registerer when nil.
func NewSyncMetrics(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	sessions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revsync_sync_sessions_total",
			Help: "Sync sessions by terminal status.",
		},
		[]string{"status"}, // completed | cancelled
	)

	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revsync_platform_fetch_duration_seconds",
			Help:    "Duration of one platform fetch chunk.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"platform", "result"}, // ok | error
	)

	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revsync_records_processed_total",
			Help: "Normalized records by platform and outcome.",
		},
		[]string{"platform", "kind"}, // subscription | revenue_inserted | revenue_duplicate | event | skipped
	)

	platformErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revsync_platform_errors_total",
			Help: "Platforms skipped for a session by error kind.",
		},
		[]string{"platform", "kind"}, // credential | api | other
	)

	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revsync_platform_retries_total",
			Help: "Retried provider calls reported by the adapters.",
		},
		[]string{"platform"},
	)

	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "revsync_sync_sessions_running",
			Help: "Sync sessions currently running in this process.",
		},
	)

	registerer.MustRegister(sessions, fetchDuration, records, platformErrors, retries, activeSessions)

	return &SyncMetrics{
		sessions:       sessions,
		fetchDuration:  fetchDuration,
		records:        records,
		platformErrors: platformErrors,
		retries:        retries,
		activeSessions: activeSessions,
	}
}

// SessionFinished counts a session reaching status.
func (m *SyncMetrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(status).Inc()
}

// SessionRunning adjusts the running-session gauge by delta.
func (m *SyncMetrics) SessionRunning(delta int) {
	if m == nil {
		return
	}
	m.activeSessions.Add(float64(delta))
}

// ObserveFetch records one chunk fetch.
func (m *SyncMetrics) ObserveFetch(platform string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetchDuration.WithLabelValues(platform, result).Observe(d.Seconds())
}

// AddRecords counts n records of kind for platform.
func (m *SyncMetrics) AddRecords(platform, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(platform, kind).Add(float64(n))
}

// PlatformFailed counts a platform skipped for a session.
func (m *SyncMetrics) PlatformFailed(platform, kind string) {
	if m == nil {
		return
	}
	m.platformErrors.WithLabelValues(platform, kind).Inc()
}

// AddRetries counts provider retries for platform.
func (m *SyncMetrics) AddRetries(platform string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.retries.WithLabelValues(platform).Add(float64(n))
}
