package models

import "time"

// SyncStatus is the lifecycle state of a sync session.
type SyncStatus string

const (
	SyncStatusActive    SyncStatus = "active"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusCancelled SyncStatus = "cancelled"
)

// SyncSession is one sync attempt for an app. At most one is active per app.
type SyncSession struct {
	ID              string     `json:"id"`
	AppID           string     `json:"app_id"`
	Status          SyncStatus `json:"status"`
	Platform        Platform   `json:"platform,omitempty"` // empty = all platforms
	ForceHistorical bool       `json:"force_historical"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// SyncLogLevel is the severity of a sync log line.
type SyncLogLevel string

const (
	SyncLogInfo    SyncLogLevel = "info"
	SyncLogError   SyncLogLevel = "error"
	SyncLogSuccess SyncLogLevel = "success"
)

// SyncLog is an append-only diagnostic line for a session.
type SyncLog struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	AppID     string       `json:"app_id"`
	Level     SyncLogLevel `json:"level"`
	Platform  Platform     `json:"platform,omitempty"`
	Message   string       `json:"message"`
	CreatedAt time.Time    `json:"created_at"`
}

// SyncRunCounters are the debug counters one platform produced during a session.
type SyncRunCounters struct {
	SessionID string           `json:"session_id"`
	Platform  Platform         `json:"platform"`
	Counters  map[string]int64 `json:"counters"`
	CreatedAt time.Time        `json:"created_at"`
}
