package platform

import (
	"net/http"
	"time"

	"github.com/jmylchreest/revsync-api/internal/version"
)

// DefaultTimeout bounds every outbound platform request.
const DefaultTimeout = 30 * time.Second

// NewHTTPClient returns the client shared by the adapters.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: http.DefaultTransport, ua: version.Get().UserAgent()},
	}
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}
