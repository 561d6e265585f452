package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/revsync-api/internal/crypto"
	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/repository"
)

// Credential service errors.
var (
	ErrAppNotFound        = errors.New("app not found")
	ErrNoEncryptor        = errors.New("credential encryption is not configured")
	ErrUnsupportedAdapter = errors.New("no adapter registered for platform")
)

// ActiveConnection is a connection with its credentials decoded. Err is set
// instead of Credentials when the stored secret could not be used; the sync
// fails that platform only.
type ActiveConnection struct {
	ID          string
	Platform    models.Platform
	Credentials platform.Credentials
	LastSync    *time.Time
	Err         error
}

// CredentialService decrypts and validates platform credentials.
type CredentialService struct {
	repos     *repository.Repositories
	adapters  map[models.Platform]platform.Adapter
	encryptor *crypto.Encryptor
	logger    *slog.Logger
}

// NewCredentialService creates a credential service.
func NewCredentialService(repos *repository.Repositories, adapters map[models.Platform]platform.Adapter, encryptor *crypto.Encryptor, logger *slog.Logger) *CredentialService {
	return &CredentialService{
		repos:     repos,
		adapters:  adapters,
		encryptor: encryptor,
		logger:    logger.With("component", "credentials"),
	}
}

// GetActiveConnections returns the app's active connections with decoded
// credentials.
func (s *CredentialService) GetActiveConnections(ctx context.Context, appID string) ([]ActiveConnection, error) {
	conns, err := s.repos.Connection.ListActiveByAppID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	out := make([]ActiveConnection, 0, len(conns))
	for _, conn := range conns {
		ac := ActiveConnection{
			ID:       conn.ID,
			Platform: conn.Platform,
			LastSync: conn.LastSyncAt,
		}
		ac.Credentials, ac.Err = s.decode(conn)
		if ac.Err != nil {
			s.logger.Warn("unusable connection credentials",
				"app_id", appID,
				"platform", conn.Platform,
				"error", ac.Err,
			)
		}
		out = append(out, ac)
	}
	return out, nil
}

func (s *CredentialService) decode(conn *models.PlatformConnection) (platform.Credentials, error) {
	adapter, ok := s.adapters[conn.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAdapter, conn.Platform)
	}
	if s.encryptor == nil {
		return nil, &platform.CredentialError{Platform: conn.Platform, Reason: "encryption not configured", Err: ErrNoEncryptor}
	}

	creds := adapter.NewCredentials()
	if err := s.encryptor.DecryptJSON(conn.CredentialsEncrypted, creds); err != nil {
		return nil, &platform.CredentialError{Platform: conn.Platform, Reason: "cannot decrypt stored credentials", Err: err}
	}
	if err := platform.Validate(creds); err != nil {
		return nil, &platform.CredentialError{Platform: conn.Platform, Reason: "invalid credentials", Err: err}
	}
	return creds, nil
}

// UpdateLastSync records a completed sync for a connection.
func (s *CredentialService) UpdateLastSync(ctx context.Context, connectionID string, ts time.Time) error {
	if err := s.repos.Connection.UpdateLastSync(ctx, connectionID, ts); err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return nil
}

// SaveConnection validates, encrypts and stores credentials for (app, platform).
// The raw payload is decoded into the adapter's credential type first so a
// malformed secret is rejected before it is stored.
func (s *CredentialService) SaveConnection(ctx context.Context, appID string, p models.Platform, decode func(creds platform.Credentials) error, active bool) (*models.PlatformConnection, error) {
	app, err := s.repos.App.GetByID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	if app == nil {
		return nil, ErrAppNotFound
	}
	adapter, ok := s.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAdapter, p)
	}
	if s.encryptor == nil {
		return nil, ErrNoEncryptor
	}

	creds := adapter.NewCredentials()
	if err := decode(creds); err != nil {
		return nil, &platform.CredentialError{Platform: p, Reason: "malformed credentials", Err: err}
	}
	if err := platform.Validate(creds); err != nil {
		return nil, &platform.CredentialError{Platform: p, Reason: "invalid credentials", Err: err}
	}

	encrypted, err := s.encryptor.EncryptJSON(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	conn := &models.PlatformConnection{
		AppID:                appID,
		Platform:             p,
		CredentialsEncrypted: encrypted,
		IsActive:             active,
	}
	if err := s.repos.Connection.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to save connection: %w", err)
	}

	s.logger.Info("connection saved", "app_id", appID, "platform", p, "active", active)
	return conn, nil
}

// Credentials returns the decoded credentials of the app's connection for p,
// or nil when there is none.
func (s *CredentialService) Credentials(ctx context.Context, appID string, p models.Platform) (platform.Credentials, error) {
	conn, err := s.repos.Connection.GetByAppAndPlatform(ctx, appID, p)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if conn == nil {
		return nil, nil
	}
	return s.decode(conn)
}
