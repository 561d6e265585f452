// Package config handles application configuration.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/revsync-api/internal/crypto"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port        int
	BaseURL     string
	CORSOrigins []string
	HTTPTimeout time.Duration // per-request timeout for inbound and outbound HTTP

	// Database
	DatabaseURL    string
	TursoURL       string // embedded replica sync target
	TursoAuthToken string

	// Security
	EncryptionKey []byte // 32-byte key for credential encryption
	AdminAPIToken string // bearer token for the operator API; empty disables it

	// Retry policy for platform calls
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Sync
	HistoricalLookback      time.Duration // window for first and forced syncs
	ChunkDays               int           // days per fetch/persist/aggregate chunk
	StripeEnrichConcurrency int           // parallel balance transaction lookups
	NetRevenueFallbackRatio float64       // net/gross ratio when a platform reports no net
	StaleSessionTimeout     time.Duration // active sessions older than this are cancelled at startup

	// Scheduler
	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	// Platform endpoints
	AppStoreAPIBaseURL string
	AppleRootCAPEM     string // trust anchor for App Store Server Notifications
	GCSEndpoint        string // S3 interoperability endpoint for Play reports

	// Observability
	MetricsEnabled bool

	// Shutdown
	ShutdownGracePeriod time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		DatabaseURL:    getEnv("DATABASE_URL", "file:revsync.db?_journal=WAL&_timeout=5000"),
		TursoURL:       getEnv("TURSO_URL", ""),
		TursoAuthToken: getEnv("TURSO_AUTH_TOKEN", ""),

		AdminAPIToken: getEnv("ADMIN_API_TOKEN", ""),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),

		HistoricalLookback:      getEnvDuration("HISTORICAL_LOOKBACK", 365*24*time.Hour),
		ChunkDays:               getEnvInt("CHUNK_DAYS", 30),
		StripeEnrichConcurrency: getEnvInt("STRIPE_ENRICH_CONCURRENCY", 10),
		NetRevenueFallbackRatio: getEnvFloat("NET_REVENUE_FALLBACK_RATIO", 0.85),
		StaleSessionTimeout:     getEnvDuration("STALE_SESSION_TIMEOUT", 6*time.Hour),

		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", 24*time.Hour),

		AppStoreAPIBaseURL: getEnv("APPSTORE_API_BASE_URL", "https://api.appstoreconnect.apple.com"),
		AppleRootCAPEM:     getEnv("APPLE_ROOT_CA_PEM", ""),
		GCSEndpoint:        getEnv("GCS_ENDPOINT", "https://storage.googleapis.com"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		ShutdownGracePeriod: getEnvDuration("SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	// Encryption key: explicit base64 key wins, otherwise derive from SECRET_KEY
	if encKey := getEnv("ENCRYPTION_KEY", ""); encKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKey)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else {
		key, err := crypto.DeriveKey(getEnv("SECRET_KEY", ""))
		if err != nil {
			return nil, fmt.Errorf("either ENCRYPTION_KEY or SECRET_KEY is required: %w", err)
		}
		cfg.EncryptionKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that env parsing cannot.
func (c *Config) Validate() error {
	if c.ChunkDays < 1 {
		return fmt.Errorf("CHUNK_DAYS must be at least 1, got %d", c.ChunkDays)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.StripeEnrichConcurrency < 1 {
		return fmt.Errorf("STRIPE_ENRICH_CONCURRENCY must be at least 1, got %d", c.StripeEnrichConcurrency)
	}
	if c.NetRevenueFallbackRatio <= 0 || c.NetRevenueFallbackRatio > 1 {
		return fmt.Errorf("NET_REVENUE_FALLBACK_RATIO must be in (0, 1], got %v", c.NetRevenueFallbackRatio)
	}
	if c.HistoricalLookback < 24*time.Hour {
		return fmt.Errorf("HISTORICAL_LOOKBACK must be at least 24h, got %s", c.HistoricalLookback)
	}
	if c.SchedulerEnabled && c.SchedulerInterval < time.Minute {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 1m, got %s", c.SchedulerInterval)
	}
	return nil
}

// AdminEnabled reports whether the operator API accepts requests.
func (c *Config) AdminEnabled() bool {
	return c.AdminAPIToken != ""
}

// NotificationsEnabled reports whether App Store notifications can be verified.
func (c *Config) NotificationsEnabled() bool {
	return c.AppleRootCAPEM != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
