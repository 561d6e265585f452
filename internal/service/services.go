// Package service contains the sync engine's business logic: credential
// decoding, normalization, snapshot building, rollups, the sync orchestrator
// and notification ingestion.
package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/revsync-api/internal/config"
	"github.com/jmylchreest/revsync-api/internal/crypto"
	"github.com/jmylchreest/revsync-api/internal/metrics"
	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/platform/appstore"
	"github.com/jmylchreest/revsync-api/internal/platform/googleplay"
	"github.com/jmylchreest/revsync-api/internal/platform/stripe"
	"github.com/jmylchreest/revsync-api/internal/repository"
	"github.com/jmylchreest/revsync-api/internal/retry"
)

// Services holds all service instances.
type Services struct {
	Credentials   *CredentialService
	Snapshots     *SnapshotService
	Sync          *SyncService
	Metrics       *MetricsQueryService
	Notifications *NotificationService
	Adapters      map[models.Platform]platform.Adapter
}

// NewAdapters builds the three platform adapters from configuration.
func NewAdapters(cfg *config.Config, logger *slog.Logger) map[models.Platform]platform.Adapter {
	policy := retry.Policy{
		Attempts:       cfg.RetryMaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		AttemptTimeout: cfg.HTTPTimeout,
	}
	httpClient := platform.NewHTTPClient(cfg.HTTPTimeout)
	chunk := time.Duration(cfg.ChunkDays) * 24 * time.Hour

	return map[models.Platform]platform.Adapter{
		models.PlatformStripe: stripe.New(stripe.Options{
			HTTPClient:        httpClient,
			Retry:             policy,
			EnrichConcurrency: cfg.StripeEnrichConcurrency,
			Logger:            logger,
		}),
		models.PlatformGooglePlay: googleplay.New(googleplay.Options{
			HTTPClient: httpClient,
			Endpoint:   cfg.GCSEndpoint,
			Retry:      policy,
			ChunkSize:  chunk,
			Logger:     logger,
		}),
		models.PlatformAppStore: appstore.New(appstore.Options{
			HTTPClient: httpClient,
			BaseURL:    cfg.AppStoreAPIBaseURL,
			Retry:      policy,
			ChunkSize:  chunk,
			Logger:     logger,
		}),
	}
}

// NewServices creates all service instances. adapters may be nil to use
// NewAdapters; syncMetrics may be nil when metrics are disabled.
func NewServices(cfg *config.Config, repos *repository.Repositories, adapters map[models.Platform]platform.Adapter, syncMetrics *metrics.SyncMetrics, logger *slog.Logger) (*Services, error) {
	var encryptor *crypto.Encryptor
	if len(cfg.EncryptionKey) > 0 {
		var err error
		encryptor, err = crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
	} else {
		logger.Warn("no encryption key configured - stored credentials cannot be read")
	}

	if adapters == nil {
		adapters = NewAdapters(cfg, logger)
	}

	credentialSvc := NewCredentialService(repos, adapters, encryptor, logger)
	snapshotSvc := NewSnapshotService(repos, cfg.NetRevenueFallbackRatio, logger)
	syncSvc := NewSyncService(repos, credentialSvc, snapshotSvc, adapters, SyncServiceConfig{
		HistoricalLookback: cfg.HistoricalLookback,
		Metrics:            syncMetrics,
	}, logger)
	querySvc := NewMetricsQueryService(repos, snapshotSvc.NetRevenueRatio(), logger)

	notificationSvc, err := NewNotificationService(repos, credentialSvc, cfg.AppleRootCAPEM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification service: %w", err)
	}
	if !notificationSvc.AppStoreEnabled() {
		logger.Info("APPLE_ROOT_CA_PEM not set - app store notifications disabled")
	}

	return &Services{
		Credentials:   credentialSvc,
		Snapshots:     snapshotSvc,
		Sync:          syncSvc,
		Metrics:       querySvc,
		Notifications: notificationSvc,
		Adapters:      adapters,
	}, nil
}
