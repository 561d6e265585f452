package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/jmylchreest/revsync-api/internal/models"
	stripeadapter "github.com/jmylchreest/revsync-api/internal/platform/stripe"
	"github.com/jmylchreest/revsync-api/internal/repository"
)

// Notification errors.
var (
	ErrNotificationsDisabled = errors.New("store notifications are not configured")
	ErrInvalidNotification   = errors.New("invalid notification signature")
	ErrNoWebhookSecret       = errors.New("stripe connection has no webhook secret")
)

// oidAppleReceiptSigning marks Apple's notification signing leaf certificate.
var oidAppleReceiptSigning = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 11, 1}

// appStoreNotification is the decoded App Store Server Notifications V2 payload.
type appStoreNotification struct {
	jwt.RegisteredClaims
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	SignedDate       int64  `json:"signedDate"` // unix milliseconds
	Data             struct {
		BundleID    string `json:"bundleId"`
		Environment string `json:"environment"`
	} `json:"data"`
}

// NotificationService verifies and stores inbound platform notifications.
// They are kept for later correlation and never feed the metrics directly.
type NotificationService struct {
	repos       *repository.Repositories
	credentials *CredentialService
	roots       *x509.CertPool
	now         func() time.Time
	logger      *slog.Logger
}

// NewNotificationService creates a notification service. An empty
// appleRootPEM disables App Store notifications.
func NewNotificationService(repos *repository.Repositories, credentials *CredentialService, appleRootPEM string, logger *slog.Logger) (*NotificationService, error) {
	s := &NotificationService{
		repos:       repos,
		credentials: credentials,
		now:         time.Now,
		logger:      logger.With("component", "notifications"),
	}
	if appleRootPEM != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(appleRootPEM)) {
			return nil, fmt.Errorf("APPLE_ROOT_CA_PEM contains no certificates")
		}
		s.roots = pool
	}
	return s, nil
}

// AppStoreEnabled reports whether App Store notifications can be verified.
func (s *NotificationService) AppStoreEnabled() bool {
	return s.roots != nil
}

// IngestAppStore verifies a signedPayload and stores it. The boolean is false
// when the notification was already stored.
func (s *NotificationService) IngestAppStore(ctx context.Context, signedPayload string) (*models.StoreNotification, bool, error) {
	if s.roots == nil {
		return nil, false, ErrNotificationsDisabled
	}

	claims := &appStoreNotification{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
	if _, err := parser.ParseWithClaims(signedPayload, claims, s.chainKey); err != nil {
		s.logger.Warn("rejected app store notification", "error", err)
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if claims.NotificationUUID == "" {
		return nil, false, fmt.Errorf("%w: missing notificationUUID", ErrInvalidNotification)
	}

	parts := strings.Split(signedPayload, ".")
	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}

	n := &models.StoreNotification{
		Platform:         models.PlatformAppStore,
		NotificationID:   claims.NotificationUUID,
		NotificationType: claims.NotificationType,
		Subtype:          claims.Subtype,
		Payload:          string(payload),
	}
	if claims.SignedDate > 0 {
		t := time.UnixMilli(claims.SignedDate).UTC()
		n.SignedAt = &t
	}
	if claims.Data.BundleID != "" {
		app, err := s.repos.App.GetByBundleID(ctx, claims.Data.BundleID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to resolve bundle id: %w", err)
		}
		if app != nil {
			n.AppID = app.ID
		}
	}

	return s.store(ctx, n)
}

// chainKey returns the signing key of a notification after verifying its
// x5c chain against the configured Apple root.
func (s *NotificationService) chainKey(token *jwt.Token) (any, error) {
	raw, ok := token.Header["x5c"].([]any)
	if !ok || len(raw) < 2 {
		return nil, errors.New("missing x5c certificate chain")
	}

	certs := make([]*x509.Certificate, 0, len(raw))
	for i, entry := range raw {
		b64, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("x5c[%d] is not a string", i)
		}
		der, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d]: %w", i, err)
		}
		certs = append(certs, cert)
	}

	leaf := certs[0]
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: intermediates,
		CurrentTime:   s.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return nil, fmt.Errorf("certificate chain: %w", err)
	}
	if !hasExtension(leaf, oidAppleReceiptSigning) {
		return nil, errors.New("leaf certificate is not a notification signing certificate")
	}

	key, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("leaf certificate key is not ECDSA")
	}
	return key, nil
}

func hasExtension(cert *x509.Certificate, oid asn1.ObjectIdentifier) bool {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oid) {
			return true
		}
	}
	return false
}

// IngestStripe verifies a Stripe event with the app's connection webhook
// secret and stores it.
func (s *NotificationService) IngestStripe(ctx context.Context, appID string, payload []byte, signature string) (*models.StoreNotification, bool, error) {
	creds, err := s.credentials.Credentials(ctx, appID, models.PlatformStripe)
	if err != nil {
		return nil, false, err
	}
	sc, ok := creds.(*stripeadapter.Credentials)
	if !ok || sc == nil {
		return nil, false, ErrAppNotFound
	}
	if sc.WebhookSecret == "" {
		return nil, false, ErrNoWebhookSecret
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, sc.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.logger.Warn("rejected stripe event", "app_id", appID, "error", err)
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}

	n := &models.StoreNotification{
		AppID:            appID,
		Platform:         models.PlatformStripe,
		NotificationID:   event.ID,
		NotificationType: string(event.Type),
		Payload:          string(payload),
	}
	if event.Created > 0 {
		t := time.Unix(event.Created, 0).UTC()
		n.SignedAt = &t
	}
	return s.store(ctx, n)
}

func (s *NotificationService) store(ctx context.Context, n *models.StoreNotification) (*models.StoreNotification, bool, error) {
	inserted, err := s.repos.Notification.Insert(ctx, n)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store notification: %w", err)
	}
	s.logger.Info("store notification received",
		"platform", n.Platform,
		"app_id", n.AppID,
		"type", n.NotificationType,
		"subtype", n.Subtype,
		"duplicate", !inserted,
	)
	return n, inserted, nil
}
