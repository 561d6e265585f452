package appstore

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
)

const (
	tokenAudience = "appstoreconnect-v1"
	tokenLifetime = 20 * time.Minute
	// Tokens are reissued this long before they expire.
	tokenRefreshMargin = 2 * time.Minute
)

// tokenSource issues App Store Connect API tokens for one key and reuses
// them until they are close to expiry.
type tokenSource struct {
	issuerID string
	keyID    string
	key      *ecdsa.PrivateKey
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(creds *Credentials, now func() time.Time) (*tokenSource, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(creds.PrivateKey))
	if err != nil {
		return nil, &platform.CredentialError{Platform: models.PlatformAppStore, Reason: "invalid private key", Err: err}
	}
	return &tokenSource{issuerID: creds.IssuerID, keyID: creds.KeyID, key: key, now: now}, nil
}

// Token returns a valid bearer token.
func (s *tokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(tokenRefreshMargin).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(tokenLifetime)
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    s.issuerID,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	tok.Header["kid"] = s.keyID

	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app store token: %w", err)
	}
	s.token = signed
	s.expires = expires
	return signed, nil
}
