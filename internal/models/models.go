// Package models defines the domain models for the sync engine.
// Apps, platform connections and their credentials are owned by an external
// collaborator; the engine reads them and writes subscriptions, revenue events,
// snapshots and sync session state.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies a billing platform (or the unified cross-platform view).
type Platform string

const (
	PlatformAppStore   Platform = "appstore"
	PlatformGooglePlay Platform = "googleplay"
	PlatformStripe     Platform = "stripe"
	PlatformUnified    Platform = "unified"
)

// SyncOrder is the fixed order in which a full sync visits platforms.
var SyncOrder = []Platform{PlatformStripe, PlatformGooglePlay, PlatformAppStore}

// SourcePlatforms are the platforms whose snapshot rows sum into the unified row.
// The order is the summation order and must stay stable.
var SourcePlatforms = []Platform{PlatformAppStore, PlatformGooglePlay, PlatformStripe}

// IsSource reports whether p is a data-producing platform (not unified).
func (p Platform) IsSource() bool {
	switch p {
	case PlatformAppStore, PlatformGooglePlay, PlatformStripe:
		return true
	}
	return false
}

// ParsePlatform parses a platform id, accepting only source platforms.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsSource() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// App is the application whose metrics are aggregated.
type App struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	BundleID     string       `json:"bundle_id,omitempty"`    // App Store bundle id
	PackageName  string       `json:"package_name,omitempty"` // Google Play package
	WeekStartDay time.Weekday `json:"week_start_day"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// PlatformConnection links an app to one platform with encrypted credentials.
type PlatformConnection struct {
	ID                   string     `json:"id"`
	AppID                string     `json:"app_id"`
	Platform             Platform   `json:"platform"`
	CredentialsEncrypted string     `json:"-"`
	IsActive             bool       `json:"is_active"`
	LastSyncAt           *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// StoreNotification is an inbound platform notification kept for later correlation.
type StoreNotification struct {
	ID               string     `json:"id"`
	AppID            string     `json:"app_id,omitempty"`
	Platform         Platform   `json:"platform"`
	NotificationID   string     `json:"notification_id"`
	NotificationType string     `json:"notification_type"`
	Subtype          string     `json:"subtype,omitempty"`
	SignedAt         *time.Time `json:"signed_at,omitempty"`
	Payload          string     `json:"payload"`
	ReceivedAt       time.Time  `json:"received_at"`
}
