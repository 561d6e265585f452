package routes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/revsync-api/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
// Pass real handler implementations for the main server, or stub implementations
// for OpenAPI generation.
func Register(api huma.API, h *Handlers) {
	// =========================================================================
	// Public Routes (no auth required)
	// =========================================================================

	mw.PublicGet(api, "/api/v1/health", h.HealthCheck,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("healthCheck"))

	// Kubernetes probes (hidden from docs - internal use only)
	mw.HiddenGet(api, "/healthz", h.Livez)
	mw.HiddenGet(api, "/readyz", h.Readyz)

	// Store notifications authenticate by signature, not by operator token
	if h.Webhooks != nil {
		h.Webhooks.RegisterRawEndpoints(api)
	}

	// =========================================================================
	// Protected Routes (require operator bearer token)
	// =========================================================================

	// --- Sync ---
	mw.ProtectedPost(api, "/api/v1/apps/{appId}/sync", h.Sync.TriggerSync,
		mw.WithTags("Sync"),
		mw.WithSummary("Trigger sync"),
		mw.WithDescription("Starts a sync session in the background and returns its id. Any session already running for the app is cancelled. Incremental by default; forceHistorical re-fetches the full lookback window."),
		mw.WithOperationID("triggerSync"),
		mw.WithStatus(http.StatusAccepted))
	mw.ProtectedDelete(api, "/api/v1/apps/{appId}/sync", h.Sync.CancelSync,
		mw.WithTags("Sync"),
		mw.WithSummary("Cancel sync"),
		mw.WithDescription("Cancels the active session. It stops at its next chunk boundary; data already persisted is kept."),
		mw.WithOperationID("cancelSync"))
	mw.ProtectedGet(api, "/api/v1/apps/{appId}/sync", h.Sync.GetSyncStatus,
		mw.WithTags("Sync"),
		mw.WithSummary("Get sync status"),
		mw.WithOperationID("getSyncStatus"))
	mw.ProtectedGet(api, "/api/v1/apps/{appId}/sync/logs", h.Sync.GetSyncLogs,
		mw.WithTags("Sync"),
		mw.WithSummary("Get latest session logs"),
		mw.WithOperationID("getSyncLogs"))

	// --- Metrics ---
	mw.ProtectedGet(api, "/api/v1/apps/{appId}/metrics/latest", h.Metrics.GetLatestMetrics,
		mw.WithTags("Metrics"),
		mw.WithSummary("Get latest metrics"),
		mw.WithDescription("Per platform and unified: stock metrics from the latest snapshot day and flow metrics summed over the trailing 30 days."),
		mw.WithOperationID("getLatestMetrics"))
	mw.ProtectedGet(api, "/api/v1/apps/{appId}/metrics/weekly", h.Metrics.GetWeeklyMetrics,
		mw.WithTags("Metrics"),
		mw.WithSummary("Get weekly metric history"),
		mw.WithDescription("Weekly series per platform for one metric. Weeks start on the app's configured week start day and begin at the first week every connected platform has data."),
		mw.WithOperationID("getWeeklyMetrics"))
	mw.ProtectedGet(api, "/api/v1/apps/{appId}/debug", h.Metrics.GetDebugData,
		mw.WithTags("Metrics"),
		mw.WithSummary("Get debug data"),
		mw.WithOperationID("getDebugData"))

	// --- Admin Routes (hidden from OpenAPI) ---
	mw.ProtectedPost(api, "/api/v1/admin/apps", h.Admin.CreateApp,
		mw.WithTags("Admin"),
		mw.WithSummary("Create app"),
		mw.WithOperationID("adminCreateApp"),
		mw.WithStatus(http.StatusCreated),
		mw.WithHidden())
	mw.ProtectedPut(api, "/api/v1/admin/apps/{appId}/connections/{platform}", h.Admin.PutConnection,
		mw.WithTags("Admin"),
		mw.WithSummary("Connect platform"),
		mw.WithOperationID("adminPutConnection"),
		mw.WithHidden())
}
