package routes

import (
	"context"

	"github.com/jmylchreest/revsync-api/internal/http/handlers"
)

// StubHandlers returns a Handlers instance with stub implementations.
// All handlers return nil responses - these are only used for OpenAPI generation
// where Huma extracts type information from function signatures.
func StubHandlers() *Handlers {
	return &Handlers{
		HealthCheck: stubHealthCheck,
		Livez:       stubLivez,
		Readyz:      stubReadyz,

		Sync:    &stubSyncHandlers{},
		Metrics: &stubMetricsHandlers{},
		Admin:   &stubAdminHandlers{},

		// Raw endpoints only document themselves until a request arrives
		Webhooks: handlers.NewWebhookHandler(nil, nil),
	}
}

// --- Public endpoint stubs ---

func stubHealthCheck(_ context.Context, _ *struct{}) (*handlers.HealthCheckOutput, error) {
	return nil, nil
}

func stubLivez(_ context.Context, _ *struct{}) (*handlers.LivezOutput, error) {
	return nil, nil
}

func stubReadyz(_ context.Context, _ *struct{}) (*handlers.ReadyzOutput, error) {
	return nil, nil
}

// --- Sync handlers stub ---

type stubSyncHandlers struct{}

func (s *stubSyncHandlers) TriggerSync(_ context.Context, _ *handlers.TriggerSyncInput) (*handlers.TriggerSyncOutput, error) {
	return nil, nil
}

func (s *stubSyncHandlers) CancelSync(_ context.Context, _ *handlers.AppPathInput) (*handlers.CancelSyncOutput, error) {
	return nil, nil
}

func (s *stubSyncHandlers) GetSyncStatus(_ context.Context, _ *handlers.AppPathInput) (*handlers.GetSyncStatusOutput, error) {
	return nil, nil
}

func (s *stubSyncHandlers) GetSyncLogs(_ context.Context, _ *handlers.AppPathInput) (*handlers.GetSyncLogsOutput, error) {
	return nil, nil
}

// --- Metrics handlers stub ---

type stubMetricsHandlers struct{}

func (s *stubMetricsHandlers) GetLatestMetrics(_ context.Context, _ *handlers.AppPathInput) (*handlers.GetLatestMetricsOutput, error) {
	return nil, nil
}

func (s *stubMetricsHandlers) GetWeeklyMetrics(_ context.Context, _ *handlers.GetWeeklyMetricsInput) (*handlers.GetWeeklyMetricsOutput, error) {
	return nil, nil
}

func (s *stubMetricsHandlers) GetDebugData(_ context.Context, _ *handlers.AppPathInput) (*handlers.GetDebugDataOutput, error) {
	return nil, nil
}

// --- Admin handlers stub ---

type stubAdminHandlers struct{}

func (s *stubAdminHandlers) CreateApp(_ context.Context, _ *handlers.CreateAppInput) (*handlers.CreateAppOutput, error) {
	return nil, nil
}

func (s *stubAdminHandlers) PutConnection(_ context.Context, _ *handlers.PutConnectionInput) (*handlers.PutConnectionOutput, error) {
	return nil, nil
}
