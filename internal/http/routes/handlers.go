package routes

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/revsync-api/internal/http/handlers"
)

// SyncHandlers defines the interface for sync trigger operations.
type SyncHandlers interface {
	TriggerSync(ctx context.Context, input *handlers.TriggerSyncInput) (*handlers.TriggerSyncOutput, error)
	CancelSync(ctx context.Context, input *handlers.AppPathInput) (*handlers.CancelSyncOutput, error)
	GetSyncStatus(ctx context.Context, input *handlers.AppPathInput) (*handlers.GetSyncStatusOutput, error)
	GetSyncLogs(ctx context.Context, input *handlers.AppPathInput) (*handlers.GetSyncLogsOutput, error)
}

// MetricsHandlers defines the interface for metrics query operations.
type MetricsHandlers interface {
	GetLatestMetrics(ctx context.Context, input *handlers.AppPathInput) (*handlers.GetLatestMetricsOutput, error)
	GetWeeklyMetrics(ctx context.Context, input *handlers.GetWeeklyMetricsInput) (*handlers.GetWeeklyMetricsOutput, error)
	GetDebugData(ctx context.Context, input *handlers.AppPathInput) (*handlers.GetDebugDataOutput, error)
}

// WebhookHandlers registers the raw notification endpoints.
type WebhookHandlers interface {
	RegisterRawEndpoints(api huma.API)
}

// AdminHandlers defines the interface for operator seeding operations.
// These endpoints are hidden from public OpenAPI documentation.
type AdminHandlers interface {
	CreateApp(ctx context.Context, input *handlers.CreateAppInput) (*handlers.CreateAppOutput, error)
	PutConnection(ctx context.Context, input *handlers.PutConnectionInput) (*handlers.PutConnectionOutput, error)
}

// Handlers aggregates all handler interfaces for route registration.
// For the main server, pass real handler implementations.
// For OpenAPI generation, pass stub implementations.
type Handlers struct {
	// Public endpoints
	HealthCheck func(ctx context.Context, input *struct{}) (*handlers.HealthCheckOutput, error)

	// Kubernetes probes (hidden from docs)
	Livez  func(ctx context.Context, input *struct{}) (*handlers.LivezOutput, error)
	Readyz func(ctx context.Context, input *struct{}) (*handlers.ReadyzOutput, error)

	// Protected endpoint handlers
	Sync    SyncHandlers
	Metrics MetricsHandlers
	Admin   AdminHandlers

	// Signature-verified endpoints
	Webhooks WebhookHandlers
}
