package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
	stripeadapter "github.com/jmylchreest/revsync-api/internal/platform/stripe"
	"github.com/jmylchreest/revsync-api/internal/repository"
)

// ========================================
// Certificate helpers
// ========================================

type testCert struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

var serial int64

func issueCert(t *testing.T, name string, parent *testCert, isCA bool, exts []pkix.Extension) *testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	serial++
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		ExtraExtensions:       exts,
	}
	if isCA {
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	}

	signerCert, signerKey := tmpl, key
	if parent != nil {
		signerCert, signerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return &testCert{cert: cert, key: key}
}

func pemOf(c *testCert) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.cert.Raw}))
}

// appleChain mimics Apple's signing hierarchy: root, intermediate and a
// leaf carrying the notification signing extension.
type appleChain struct {
	root, intermediate, leaf *testCert
}

func newAppleChain(t *testing.T) *appleChain {
	t.Helper()
	root := issueCert(t, "Test Root CA", nil, true, nil)
	intermediate := issueCert(t, "Test WWDR CA", root, true, nil)
	exts := []pkix.Extension{{Id: oidAppleReceiptSigning, Value: []byte{0x05, 0x00}}}
	leaf := issueCert(t, "Test Notification Signer", intermediate, false, exts)
	return &appleChain{root: root, intermediate: intermediate, leaf: leaf}
}

func (c *appleChain) sign(t *testing.T, claims *appStoreNotification, key *ecdsa.PrivateKey) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = []string{
		base64.StdEncoding.EncodeToString(c.leaf.cert.Raw),
		base64.StdEncoding.EncodeToString(c.intermediate.cert.Raw),
		base64.StdEncoding.EncodeToString(c.root.cert.Raw),
	}
	if key == nil {
		key = c.leaf.key
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign notification: %v", err)
	}
	return signed
}

func notification(uuid, bundleID string) *appStoreNotification {
	n := &appStoreNotification{
		NotificationType: "DID_RENEW",
		Subtype:          "BILLING_RECOVERY",
		NotificationUUID: uuid,
		SignedDate:       date(time.March, 1).UnixMilli(),
	}
	n.Data.BundleID = bundleID
	n.Data.Environment = "Sandbox"
	return n
}

// ========================================
// App Store
// ========================================

func TestIngestAppStore(t *testing.T) {
	repos := setupTestRepos(t)
	app := createTestApp(t, repos, "demo")
	chain := newAppleChain(t)
	ctx := context.Background()

	svc, err := NewNotificationService(repos, nil, pemOf(chain.root), testLogger())
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}
	if !svc.AppStoreEnabled() {
		t.Fatal("app store notifications not enabled")
	}

	payload := chain.sign(t, notification("uuid-1", app.BundleID), nil)

	n, inserted, err := svc.IngestAppStore(ctx, payload)
	if err != nil {
		t.Fatalf("IngestAppStore: %v", err)
	}
	if !inserted {
		t.Error("first delivery reported as duplicate")
	}
	if n.AppID != app.ID || n.NotificationID != "uuid-1" || n.NotificationType != "DID_RENEW" || n.Subtype != "BILLING_RECOVERY" {
		t.Errorf("notification = %+v", n)
	}
	if n.SignedAt == nil || !n.SignedAt.Equal(date(time.March, 1)) {
		t.Errorf("signed at = %v", n.SignedAt)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(n.Payload), &decoded); err != nil || decoded["notificationUUID"] != "uuid-1" {
		t.Errorf("stored payload = %s", n.Payload)
	}

	if _, inserted, err := svc.IngestAppStore(ctx, payload); err != nil || inserted {
		t.Errorf("redelivery = inserted %v, err %v; want duplicate", inserted, err)
	}
	if count, _ := repos.Notification.CountByApp(ctx, app.ID); count != 1 {
		t.Errorf("stored notifications = %d, want 1", count)
	}

	// Unknown bundle ids are still stored, unattributed
	other, _, err := svc.IngestAppStore(ctx, chain.sign(t, notification("uuid-2", "com.other"), nil))
	if err != nil || other.AppID != "" {
		t.Errorf("unknown bundle = %+v, %v", other, err)
	}
}

func TestIngestAppStore_Rejected(t *testing.T) {
	repos := setupTestRepos(t)
	chain := newAppleChain(t)
	svc, err := NewNotificationService(repos, nil, pemOf(chain.root), testLogger())
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}
	strangerKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	tests := []struct {
		name    string
		payload func() string
	}{
		{"signed by another key", func() string {
			return chain.sign(t, notification("u", ""), strangerKey)
		}},
		{"untrusted root", func() string {
			return newAppleChain(t).sign(t, notification("u", ""), nil)
		}},
		{"leaf without signing extension", func() string {
			c := &appleChain{
				root:         chain.root,
				intermediate: chain.intermediate,
				leaf:         issueCert(t, "plain leaf", chain.intermediate, false, nil),
			}
			return c.sign(t, notification("u", ""), nil)
		}},
		{"missing x5c", func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodES256, notification("u", "")).SignedString(chain.leaf.key)
			return s
		}},
		{"missing uuid", func() string {
			return chain.sign(t, notification("", ""), nil)
		}},
		{"garbage", func() string { return "not.a.jws" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.IngestAppStore(context.Background(), tt.payload())
			if !errors.Is(err, ErrInvalidNotification) {
				t.Errorf("err = %v, want ErrInvalidNotification", err)
			}
		})
	}
}

func TestNewNotificationService_Config(t *testing.T) {
	repos := setupTestRepos(t)

	svc, err := NewNotificationService(repos, nil, "", testLogger())
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}
	if svc.AppStoreEnabled() {
		t.Error("enabled without a root certificate")
	}
	if _, _, err := svc.IngestAppStore(context.Background(), "x.y.z"); !errors.Is(err, ErrNotificationsDisabled) {
		t.Errorf("err = %v, want ErrNotificationsDisabled", err)
	}

	if _, err := NewNotificationService(repos, nil, "not a pem", testLogger()); err == nil {
		t.Error("expected error for a root without certificates")
	}
}

// ========================================
// Stripe
// ========================================

func stripeSignature(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func stripeEnv(t *testing.T) (*repository.Repositories, *NotificationService, *CredentialService) {
	t.Helper()
	repos := setupTestRepos(t)
	adapters := map[models.Platform]platform.Adapter{
		models.PlatformStripe: stripeadapter.New(stripeadapter.Options{Logger: testLogger()}),
	}
	creds := NewCredentialService(repos, adapters, testEncryptor(t), testLogger())
	svc, err := NewNotificationService(repos, creds, "", testLogger())
	if err != nil {
		t.Fatalf("NewNotificationService: %v", err)
	}
	return repos, svc, creds
}

func TestIngestStripe(t *testing.T) {
	repos, svc, creds := stripeEnv(t)
	app := createTestApp(t, repos, "web")
	ctx := context.Background()
	secret := "whsec_test"

	if _, err := creds.SaveConnection(ctx, app.ID, models.PlatformStripe,
		decodeJSON(`{"secret_key":"sk_test_1","webhook_secret":"`+secret+`"}`), true); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.updated","created":1772323200,"api_version":"2020-08-27","data":{"object":{}}}`)

	n, inserted, err := svc.IngestStripe(ctx, app.ID, payload, stripeSignature(payload, secret, time.Now()))
	if err != nil {
		t.Fatalf("IngestStripe: %v", err)
	}
	if !inserted || n.NotificationID != "evt_1" || n.NotificationType != "customer.subscription.updated" || n.AppID != app.ID {
		t.Errorf("notification = %+v, inserted %v", n, inserted)
	}
	if n.SignedAt == nil || !n.SignedAt.Equal(date(time.March, 1)) {
		t.Errorf("signed at = %v", n.SignedAt)
	}

	if _, inserted, err := svc.IngestStripe(ctx, app.ID, payload, stripeSignature(payload, secret, time.Now())); err != nil || inserted {
		t.Errorf("redelivery = inserted %v, err %v; want duplicate", inserted, err)
	}

	t.Run("bad signature", func(t *testing.T) {
		_, _, err := svc.IngestStripe(ctx, app.ID, payload, stripeSignature(payload, "whsec_other", time.Now()))
		if !errors.Is(err, ErrInvalidNotification) {
			t.Errorf("err = %v, want ErrInvalidNotification", err)
		}
	})
	t.Run("stale timestamp", func(t *testing.T) {
		_, _, err := svc.IngestStripe(ctx, app.ID, payload, stripeSignature(payload, secret, time.Now().Add(-time.Hour)))
		if !errors.Is(err, ErrInvalidNotification) {
			t.Errorf("err = %v, want ErrInvalidNotification", err)
		}
	})
	t.Run("no connection", func(t *testing.T) {
		other := createTestApp(t, repos, "other")
		_, _, err := svc.IngestStripe(ctx, other.ID, payload, stripeSignature(payload, secret, time.Now()))
		if !errors.Is(err, ErrAppNotFound) {
			t.Errorf("err = %v, want ErrAppNotFound", err)
		}
	})
}

func TestIngestStripe_NoWebhookSecret(t *testing.T) {
	repos, svc, creds := stripeEnv(t)
	app := createTestApp(t, repos, "nosecret")
	ctx := context.Background()

	if _, err := creds.SaveConnection(ctx, app.ID, models.PlatformStripe, decodeJSON(`{"secret_key":"rk_live_1"}`), true); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}
	payload := []byte(`{"id":"evt_2","object":"event","type":"invoice.paid"}`)
	if _, _, err := svc.IngestStripe(ctx, app.ID, payload, stripeSignature(payload, "whsec_x", time.Now())); !errors.Is(err, ErrNoWebhookSecret) {
		t.Errorf("err = %v, want ErrNoWebhookSecret", err)
	}
}
