package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/service"
)

const (
	// App Store notifications nest signed transaction and renewal JWS
	// blobs, so they run larger than Stripe events.
	maxAppStoreBodySize = 256 << 10
	maxStripeBodySize   = 64 << 10
)

// NotificationIngester verifies and stores inbound platform notifications.
type NotificationIngester interface {
	IngestAppStore(ctx context.Context, signedPayload string) (*models.StoreNotification, bool, error)
	IngestStripe(ctx context.Context, appID string, payload []byte, signature string) (*models.StoreNotification, bool, error)
}

// WebhookHandler receives store notifications. These are raw HTTP handlers
// because signature verification needs the exact request bytes.
type WebhookHandler struct {
	svc    NotificationIngester
	logger *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(svc NotificationIngester, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{svc: svc, logger: logger.With("component", "webhooks")}
}

// WebhookAck is the body returned for an accepted notification.
type WebhookAck struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate"`
	ID        string `json:"id,omitempty"`
}

// AppStoreNotificationBody is the App Store Server Notifications V2 envelope.
type AppStoreNotificationBody struct {
	SignedPayload string `json:"signedPayload" doc:"JWS signed by Apple (ES256, x5c chain)"`
}

// HandleAppStore ingests an App Store Server Notification V2.
func (h *WebhookHandler) HandleAppStore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAppStoreBodySize)
	var body AppStoreNotificationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.logger.Warn("failed to decode app store notification", "error", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.SignedPayload == "" {
		http.Error(w, "signedPayload is required", http.StatusBadRequest)
		return
	}

	n, inserted, err := h.svc.IngestAppStore(r.Context(), body.SignedPayload)
	if err != nil {
		h.writeIngestError(w, models.PlatformAppStore, err)
		return
	}
	writeAck(w, n, inserted)
}

// HandleStripe ingests a Stripe event for the app in the path. The event is
// verified with the webhook secret stored on the app's Stripe connection.
func (h *WebhookHandler) HandleStripe(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appId")
	if appID == "" {
		http.Error(w, "app id is required", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxStripeBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	n, inserted, err := h.svc.IngestStripe(r.Context(), appID, payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.writeIngestError(w, models.PlatformStripe, err)
		return
	}
	writeAck(w, n, inserted)
}

// writeIngestError answers 4xx for notifications that will never verify, so
// the sender stops retrying, and 5xx for failures worth a redelivery.
func (h *WebhookHandler) writeIngestError(w http.ResponseWriter, p models.Platform, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidNotification):
		http.Error(w, "invalid signature", http.StatusBadRequest)
	case errors.Is(err, service.ErrAppNotFound):
		http.Error(w, "no stripe connection for app", http.StatusNotFound)
	case errors.Is(err, service.ErrNoWebhookSecret):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, service.ErrNotificationsDisabled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error("failed to ingest notification", "platform", p, "error", err)
		http.Error(w, "failed to process notification", http.StatusInternalServerError)
	}
}

func writeAck(w http.ResponseWriter, n *models.StoreNotification, inserted bool) {
	ack := WebhookAck{Received: true, Duplicate: !inserted}
	if n != nil {
		ack.ID = n.NotificationID
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

// RegisterRawEndpoints adds the webhook endpoints to the API so they appear in
// the OpenAPI document. Requests are served by the raw handlers above.
func (h *WebhookHandler) RegisterRawEndpoints(api huma.API) {
	registry := api.OpenAPI().Components.Schemas
	ackSchema := registry.Schema(reflectType[WebhookAck](), true, "")

	appStore := &huma.Operation{
		OperationID: "receiveAppStoreNotification",
		Method:      http.MethodPost,
		Path:        "/api/v1/webhooks/appstore",
		Summary:     "Receive App Store Server Notification",
		Description: "App Store Server Notifications V2 endpoint. The signedPayload is verified against the configured Apple root certificate and stored once per notificationUUID.",
		Tags:        []string{"Webhooks"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {Schema: registry.Schema(reflectType[AppStoreNotificationBody](), true, "")},
			},
		},
		Responses: webhookResponses(ackSchema),
	}
	stripe := &huma.Operation{
		OperationID: "receiveStripeEvent",
		Method:      http.MethodPost,
		Path:        "/api/v1/webhooks/stripe/{appId}",
		Summary:     "Receive Stripe event",
		Description: "Stripe webhook endpoint for one app. The Stripe-Signature header is verified with the webhook secret stored on the app's Stripe connection.",
		Tags:        []string{"Webhooks"},
		Parameters: []*huma.Param{
			{Name: "appId", In: "path", Required: true, Schema: &huma.Schema{Type: huma.TypeString}},
			{Name: "Stripe-Signature", In: "header", Required: true, Schema: &huma.Schema{Type: huma.TypeString}},
		},
		Responses: webhookResponses(ackSchema),
	}

	for op, handle := range map[*huma.Operation]http.HandlerFunc{
		appStore: h.HandleAppStore,
		stripe:   h.HandleStripe,
	} {
		api.OpenAPI().AddOperation(op)
		api.Adapter().Handle(op, func(ctx huma.Context) {
			r, w := humachi.Unwrap(ctx)
			handle(w, r)
		})
	}
}

func webhookResponses(ack *huma.Schema) map[string]*huma.Response {
	return map[string]*huma.Response{
		"200": {
			Description: "Notification stored (or already stored)",
			Content:     map[string]*huma.MediaType{"application/json": {Schema: ack}},
		},
		"400": {Description: "Malformed body or invalid signature"},
		"404": {Description: "App has no Stripe connection"},
		"412": {Description: "Stripe connection has no webhook secret"},
		"503": {Description: "Notifications are not configured"},
	}
}

func reflectType[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
