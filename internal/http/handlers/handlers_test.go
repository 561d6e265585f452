package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/service"
	"github.com/jmylchreest/revsync-api/internal/version"
)

// statusOf returns the HTTP status carried by a huma error, or 0.
func statusOf(t *testing.T, err error) int {
	t.Helper()
	var se huma.StatusError
	if !errors.As(err, &se) {
		return 0
	}
	return se.GetStatus()
}

// ========================================
// HealthCheck Tests
// ========================================

func TestHealthCheck(t *testing.T) {
	output, err := HealthCheck(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "healthy" {
		t.Errorf("Status = %q, want %q", output.Body.Status, "healthy")
	}
	if output.Body.Version != version.Get().Short() {
		t.Errorf("Version = %q, want %q", output.Body.Version, version.Get().Short())
	}
}

// ========================================
// Livez Tests
// ========================================

func TestLivez(t *testing.T) {
	output, err := Livez(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "ok" {
		t.Errorf("Status = %q, want %q", output.Body.Status, "ok")
	}
}

// ========================================
// Readyz Tests
// ========================================

// mockDBPinger implements DBPinger for testing
type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) PingContext(ctx context.Context) error {
	return m.err
}

func TestReadyzHandler_Readyz(t *testing.T) {
	tests := []struct {
		name       string
		db         DBPinger
		wantStatus int
	}{
		{"healthy db", &mockDBPinger{}, 0},
		{"nil db", nil, 0},
		{"db error", &mockDBPinger{err: errors.New("connection failed")}, 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := NewReadyzHandler(tt.db).Readyz(context.Background(), nil)
			if tt.wantStatus != 0 {
				if got := statusOf(t, err); got != tt.wantStatus {
					t.Errorf("status = %d, want %d (err %v)", got, tt.wantStatus, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if output.Body.Status != "ok" {
				t.Errorf("Status = %q, want %q", output.Body.Status, "ok")
			}
		})
	}
}

// ========================================
// serviceError Tests
// ========================================

func TestServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app not found", service.ErrAppNotFound, 404},
		{"wrapped app not found", errors.Join(errors.New("ctx"), service.ErrAppNotFound), 404},
		{"session not found", service.ErrSessionNotFound, 404},
		{"unsupported adapter", service.ErrUnsupportedAdapter, 400},
		{"unknown metric", service.ErrUnknownMetric, 400},
		{"credential error", &platform.CredentialError{Platform: "stripe", Reason: "missing key"}, 422},
		{"shutting down", service.ErrShuttingDown, 503},
		{"no encryptor", service.ErrNoEncryptor, 503},
		{"unexpected", errors.New("disk full"), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusOf(t, serviceError(tt.err, "do things")); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}
