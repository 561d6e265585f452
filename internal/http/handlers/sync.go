package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/service"
)

// SyncService is the trigger surface of the sync orchestrator.
type SyncService interface {
	TriggerSync(ctx context.Context, appID string, forceHistorical bool, p *models.Platform) (string, error)
	CancelSync(ctx context.Context, appID string) (string, error)
	GetActiveSyncStatus(ctx context.Context, appID string) (*service.SyncStatus, error)
	SessionLogs(ctx context.Context, appID string) (*models.SyncSession, []*models.SyncLog, error)
}

// SyncHandler handles sync trigger endpoints.
type SyncHandler struct {
	svc SyncService
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(svc SyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

// AppPathInput identifies an app by path parameter.
type AppPathInput struct {
	AppID string `path:"appId" minLength:"1" doc:"App ID"`
}

// TriggerSyncBody is the optional body of a sync trigger.
type TriggerSyncBody struct {
	ForceHistorical bool   `json:"forceHistorical,omitempty" doc:"Re-fetch the full historical window instead of resuming from the last sync"`
	Platform        string `json:"platform,omitempty" enum:"appstore,googleplay,stripe" doc:"Sync only this platform (default: every connected platform)"`
}

// TriggerSyncInput represents the sync trigger request.
type TriggerSyncInput struct {
	AppID string           `path:"appId" minLength:"1" doc:"App ID"`
	Body  *TriggerSyncBody `required:"false"`
}

// TriggerSyncOutput represents the sync trigger response.
type TriggerSyncOutput struct {
	Body struct {
		SessionID string `json:"sessionId" doc:"ID of the started sync session"`
	}
}

// TriggerSync starts a sync session in the background. Any session already
// running for the app is cancelled first.
func (h *SyncHandler) TriggerSync(ctx context.Context, input *TriggerSyncInput) (*TriggerSyncOutput, error) {
	var forceHistorical bool
	var p *models.Platform
	if input.Body != nil {
		forceHistorical = input.Body.ForceHistorical
		if input.Body.Platform != "" {
			parsed, err := models.ParsePlatform(input.Body.Platform)
			if err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
			p = &parsed
		}
	}

	sessionID, err := h.svc.TriggerSync(ctx, input.AppID, forceHistorical, p)
	if err != nil {
		return nil, serviceError(err, "trigger sync")
	}

	out := &TriggerSyncOutput{}
	out.Body.SessionID = sessionID
	return out, nil
}

// CancelSyncOutput represents the cancel response.
type CancelSyncOutput struct {
	Body struct {
		Cancelled bool   `json:"cancelled" doc:"Whether an active session was cancelled"`
		SessionID string `json:"sessionId,omitempty" doc:"ID of the cancelled session"`
	}
}

// CancelSync cancels the app's active session. The running task stops at its
// next chunk boundary; chunks already persisted are kept.
func (h *SyncHandler) CancelSync(ctx context.Context, input *AppPathInput) (*CancelSyncOutput, error) {
	id, err := h.svc.CancelSync(ctx, input.AppID)
	if err != nil {
		return nil, serviceError(err, "cancel sync")
	}
	out := &CancelSyncOutput{}
	out.Body.Cancelled = id != ""
	out.Body.SessionID = id
	return out, nil
}

// GetSyncStatusOutput represents the sync status response.
type GetSyncStatusOutput struct {
	Body *service.SyncStatus
}

// GetSyncStatus reports the active session, or the latest finished one.
func (h *SyncHandler) GetSyncStatus(ctx context.Context, input *AppPathInput) (*GetSyncStatusOutput, error) {
	status, err := h.svc.GetActiveSyncStatus(ctx, input.AppID)
	if err != nil {
		return nil, serviceError(err, "get sync status")
	}
	return &GetSyncStatusOutput{Body: status}, nil
}

// GetSyncLogsOutput represents the session log response.
type GetSyncLogsOutput struct {
	Body struct {
		Session *models.SyncSession `json:"session"`
		Logs    []*models.SyncLog   `json:"logs"`
	}
}

// GetSyncLogs returns the log trail of the app's latest session.
func (h *SyncHandler) GetSyncLogs(ctx context.Context, input *AppPathInput) (*GetSyncLogsOutput, error) {
	session, logs, err := h.svc.SessionLogs(ctx, input.AppID)
	if err != nil {
		return nil, serviceError(err, "get sync logs")
	}
	if logs == nil {
		logs = []*models.SyncLog{}
	}
	out := &GetSyncLogsOutput{}
	out.Body.Session = session
	out.Body.Logs = logs
	return out, nil
}
