package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jmylchreest/revsync-api/internal/models"
	"github.com/jmylchreest/revsync-api/internal/platform"
)

func decodeJSON(raw string) func(platform.Credentials) error {
	return func(c platform.Credentials) error { return json.Unmarshal([]byte(raw), c) }
}

func TestCredentialService_SaveConnection(t *testing.T) {
	h := newHarness(t, date(time.October, 1), 30*day, &fakeAdapter{platform: models.PlatformStripe})
	ctx := context.Background()

	tests := []struct {
		name     string
		appID    string
		platform models.Platform
		raw      string
		wantErr  error
		wantCred bool
	}{
		{"valid", h.app.ID, models.PlatformStripe, `{"key":"sk"}`, nil, false},
		{"missing key", h.app.ID, models.PlatformStripe, `{}`, nil, true},
		{"malformed json", h.app.ID, models.PlatformStripe, `{`, nil, true},
		{"unknown app", "missing", models.PlatformStripe, `{"key":"sk"}`, ErrAppNotFound, false},
		{"no adapter", h.app.ID, models.PlatformAppStore, `{"key":"sk"}`, ErrUnsupportedAdapter, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := h.creds.SaveConnection(ctx, tt.appID, tt.platform, decodeJSON(tt.raw), true)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.wantCred:
				if !platform.IsCredentialError(err) {
					t.Errorf("err = %v, want credential error", err)
				}
			default:
				if err != nil {
					t.Fatalf("SaveConnection: %v", err)
				}
				if conn.ID == "" || conn.CredentialsEncrypted == "" || conn.CredentialsEncrypted == tt.raw {
					t.Errorf("connection = %+v", conn)
				}
			}
		})
	}
}

func TestCredentialService_RoundTrip(t *testing.T) {
	h := newHarness(t, date(time.October, 1), 30*day, &fakeAdapter{platform: models.PlatformStripe})
	ctx := context.Background()

	creds, err := h.creds.Credentials(ctx, h.app.ID, models.PlatformStripe)
	if err != nil || creds != nil {
		t.Fatalf("Credentials before connect = %v, %v; want nil, nil", creds, err)
	}

	first := h.connect(t, models.PlatformStripe, "one")
	second := h.connect(t, models.PlatformStripe, "two")
	if first.ID != second.ID {
		t.Error("reconnecting created a new connection")
	}

	creds, err = h.creds.Credentials(ctx, h.app.ID, models.PlatformStripe)
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	fc, ok := creds.(*fakeCredentials)
	if !ok || fc.Key != "two" {
		t.Errorf("credentials = %#v", creds)
	}

	conns, err := h.creds.GetActiveConnections(ctx, h.app.ID)
	if err != nil {
		t.Fatalf("GetActiveConnections: %v", err)
	}
	if len(conns) != 1 || conns[0].Err != nil || conns[0].LastSync != nil {
		t.Fatalf("connections = %+v", conns)
	}

	ts := date(time.September, 30)
	if err := h.creds.UpdateLastSync(ctx, conns[0].ID, ts); err != nil {
		t.Fatalf("UpdateLastSync: %v", err)
	}
	conns, _ = h.creds.GetActiveConnections(ctx, h.app.ID)
	if conns[0].LastSync == nil || !conns[0].LastSync.Equal(ts) {
		t.Errorf("last sync = %v, want %v", conns[0].LastSync, ts)
	}

	// A reconnect keeps the last sync timestamp
	h.connect(t, models.PlatformStripe, "three")
	conns, _ = h.creds.GetActiveConnections(ctx, h.app.ID)
	if conns[0].LastSync == nil {
		t.Error("reconnect cleared last sync")
	}
}

func TestCredentialService_Inactive(t *testing.T) {
	h := newHarness(t, date(time.October, 1), 30*day, &fakeAdapter{platform: models.PlatformStripe})
	ctx := context.Background()

	if _, err := h.creds.SaveConnection(ctx, h.app.ID, models.PlatformStripe, decodeJSON(`{"key":"sk"}`), false); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}
	conns, err := h.creds.GetActiveConnections(ctx, h.app.ID)
	if err != nil {
		t.Fatalf("GetActiveConnections: %v", err)
	}
	if len(conns) != 0 {
		t.Errorf("inactive connection listed: %+v", conns)
	}
}

func TestCredentialService_NoEncryptor(t *testing.T) {
	repos := setupTestRepos(t)
	app := createTestApp(t, repos, "plain")
	adapters := map[models.Platform]platform.Adapter{models.PlatformStripe: &fakeAdapter{platform: models.PlatformStripe}}
	svc := NewCredentialService(repos, adapters, nil, testLogger())
	ctx := context.Background()

	if _, err := svc.SaveConnection(ctx, app.ID, models.PlatformStripe, decodeJSON(`{"key":"sk"}`), true); !errors.Is(err, ErrNoEncryptor) {
		t.Errorf("err = %v, want ErrNoEncryptor", err)
	}

	// A row stored by another process still surfaces as a credential error
	if err := repos.Connection.Upsert(ctx, &models.PlatformConnection{
		AppID: app.ID, Platform: models.PlatformStripe, CredentialsEncrypted: "opaque", IsActive: true,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	conns, err := svc.GetActiveConnections(ctx, app.ID)
	if err != nil {
		t.Fatalf("GetActiveConnections: %v", err)
	}
	if len(conns) != 1 || !errors.Is(conns[0].Err, ErrNoEncryptor) {
		t.Errorf("connections = %+v", conns)
	}
}
