package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
)

// AppCreator persists new apps.
type AppCreator interface {
	Create(ctx context.Context, app *models.App) error
}

// ConnectionSaver validates, encrypts and stores platform credentials.
type ConnectionSaver interface {
	SaveConnection(ctx context.Context, appID string, p models.Platform, decode func(creds platform.Credentials) error, active bool) (*models.PlatformConnection, error)
}

// AdminHandler serves the operator endpoints used to seed apps and
// connections. App management proper lives outside this service.
type AdminHandler struct {
	apps        AppCreator
	connections ConnectionSaver
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(apps AppCreator, connections ConnectionSaver) *AdminHandler {
	return &AdminHandler{apps: apps, connections: connections}
}

// CreateAppInput represents the app creation request.
type CreateAppInput struct {
	Body struct {
		Name         string `json:"name" minLength:"1" maxLength:"200" doc:"Display name"`
		BundleID     string `json:"bundleId,omitempty" doc:"App Store bundle id, used to attribute store notifications"`
		PackageName  string `json:"packageName,omitempty" doc:"Google Play package name"`
		WeekStartDay *int   `json:"weekStartDay,omitempty" minimum:"0" maximum:"6" doc:"First day of reporting weeks, 0=Sunday .. 6=Saturday (default Monday)"`
	}
}

// CreateAppOutput represents the app creation response.
type CreateAppOutput struct {
	Body *models.App
}

// CreateApp creates an app.
func (h *AdminHandler) CreateApp(ctx context.Context, input *CreateAppInput) (*CreateAppOutput, error) {
	app := &models.App{
		Name:         input.Body.Name,
		BundleID:     input.Body.BundleID,
		PackageName:  input.Body.PackageName,
		WeekStartDay: time.Monday,
	}
	if input.Body.WeekStartDay != nil {
		app.WeekStartDay = time.Weekday(*input.Body.WeekStartDay)
	}
	if err := h.apps.Create(ctx, app); err != nil {
		return nil, serviceError(err, "create app")
	}
	return &CreateAppOutput{Body: app}, nil
}

// PutConnectionInput represents the connection upsert request.
type PutConnectionInput struct {
	AppID    string `path:"appId" minLength:"1" doc:"App ID"`
	Platform string `path:"platform" enum:"appstore,googleplay,stripe" doc:"Platform"`
	Body     struct {
		Credentials map[string]any `json:"credentials" doc:"Platform credential object; its shape depends on the platform"`
		Active      *bool          `json:"active,omitempty" doc:"Whether scheduled and manual syncs use this connection (default true)"`
	}
}

// PutConnectionOutput represents the connection upsert response.
type PutConnectionOutput struct {
	Body *models.PlatformConnection
}

// PutConnection validates and stores credentials for one platform of an app.
// Reconnecting keeps the connection id and its last sync timestamp.
func (h *AdminHandler) PutConnection(ctx context.Context, input *PutConnectionInput) (*PutConnectionOutput, error) {
	p, err := models.ParsePlatform(input.Platform)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	raw, err := json.Marshal(input.Body.Credentials)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid credentials: " + err.Error())
	}
	active := true
	if input.Body.Active != nil {
		active = *input.Body.Active
	}

	conn, err := h.connections.SaveConnection(ctx, input.AppID, p, func(creds platform.Credentials) error {
		return json.Unmarshal(raw, creds)
	}, active)
	if err != nil {
		return nil, serviceError(err, "save connection")
	}
	return &PutConnectionOutput{Body: conn}, nil
}
