package mw

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// CacheMaxAgeShort is for rapidly changing data (health checks).
	CacheMaxAgeShort = 30 * time.Second
	// CacheMaxAgeMetrics covers snapshot reads. Snapshots only change when a
	// sync persists a chunk.
	CacheMaxAgeMetrics = time.Minute
	// CacheMaxAgeHistory covers weekly series, which only move at the tail.
	CacheMaxAgeHistory = 5 * time.Minute
)

// CachePolicy defines caching behavior for a route pattern.
type CachePolicy struct {
	// Pattern is the route pattern to match (prefix or substring).
	Pattern string
	// CacheControl is the Cache-Control header value to set.
	CacheControl string
}

// CacheConfig holds the cache middleware configuration.
type CacheConfig struct {
	// Policies are the cache policies to apply, matched in order.
	Policies []CachePolicy
	// DefaultPolicy is applied when no policy matches (empty = no header set).
	DefaultPolicy string
}

// DefaultCacheConfig returns the cache policies for the API. App-scoped
// routes carry the app id mid-path, so they match on their suffix segment.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultPolicy: "private, no-cache",
		Policies: []CachePolicy{
			{Pattern: "/api/v1/health", CacheControl: fmt.Sprintf("public, max-age=%d", int(CacheMaxAgeShort.Seconds()))},

			// K8s probes and Prometheus scrapes must reflect real-time state
			{Pattern: "/healthz", CacheControl: "no-store"},
			{Pattern: "/readyz", CacheControl: "no-store"},

			// Snapshot reads
			{Pattern: "/metrics/latest", CacheControl: fmt.Sprintf("private, max-age=%d", int(CacheMaxAgeMetrics.Seconds()))},
			{Pattern: "/metrics/weekly", CacheControl: fmt.Sprintf("private, max-age=%d", int(CacheMaxAgeHistory.Seconds()))},
			{Pattern: "/metrics", CacheControl: "no-store"},

			// Live session state and raw records
			{Pattern: "/sync", CacheControl: "private, no-cache"},
			{Pattern: "/debug", CacheControl: "private, no-store"},
		},
	}
}

// Cache returns middleware that sets Cache-Control headers based on route patterns.
// For non-GET/HEAD requests, it sets "no-store" to prevent caching of mutations.
// For GET/HEAD requests, it matches against configured policies in order.
func Cache(cfg CacheConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.Header().Set("Cache-Control", "no-store")
				next.ServeHTTP(w, r)
				return
			}

			// First match wins
			path := r.URL.Path
			for _, policy := range cfg.Policies {
				if matchesPattern(path, policy.Pattern) {
					w.Header().Set("Cache-Control", policy.CacheControl)
					next.ServeHTTP(w, r)
					return
				}
			}

			if cfg.DefaultPolicy != "" {
				w.Header().Set("Cache-Control", cfg.DefaultPolicy)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchesPattern checks if the path matches the pattern by prefix, or by
// substring for patterns that appear mid-path (e.g. "/metrics/latest").
func matchesPattern(path, pattern string) bool {
	if path == pattern || strings.HasPrefix(path, pattern) {
		return true
	}
	return strings.Contains(path, pattern)
}
