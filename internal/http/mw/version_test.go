package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmylchreest/revsync-api/internal/version"
)

func TestAPIVersion(t *testing.T) {
	want := version.Get().Short()

	tests := []struct {
		name   string
		method string
		status int
	}{
		{"get ok", http.MethodGet, http.StatusOK},
		{"post accepted", http.MethodPost, http.StatusAccepted},
		{"delete not found", http.MethodDelete, http.StatusNotFound},
		{"get server error", http.MethodGet, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := APIVersion()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, "/api/v1/health", nil))

			if got := rec.Header().Get("X-API-Version"); got != want {
				t.Errorf("X-API-Version = %q, want %q", got, want)
			}
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
