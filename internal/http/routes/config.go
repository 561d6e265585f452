// Package routes provides shared route registration for the revsync API.
// The server and the OpenAPI generator both register through Register, so
// the published document always matches what is served.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/revsync-api/internal/http/mw"
	"github.com/jmylchreest/revsync-api/internal/version"
)

// NewHumaConfig creates the shared Huma configuration for the API.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("revsync API", version.Get().Short())
	cfg.Info.Description = "Synchronizes subscription and revenue data from the App Store, Google Play and Stripe into daily per-platform metrics snapshots with weekly rollups."

	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:        "http",
			Scheme:      "bearer",
			Description: "Operator token. Send ADMIN_API_TOKEN in the Authorization header as `Bearer <token>`.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Sync", Description: "Trigger, cancel and inspect sync sessions", Extensions: map[string]any{"x-displayName": "Sync"}},
		{Name: "Metrics", Description: "Latest metrics, weekly history and debug data", Extensions: map[string]any{"x-displayName": "Metrics"}},
		{Name: "Webhooks", Description: "Inbound App Store and Stripe notifications", Extensions: map[string]any{"x-displayName": "Webhooks"}},
		{Name: "Admin", Description: "Operator seeding of apps and platform connections", Extensions: map[string]any{"x-displayName": "Admin"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}
