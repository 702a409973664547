// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	HTTPAddr    string

	// DatabaseURL selects the Postgres ledger store. Empty means the
	// in-memory store, which is fine for development and tests.
	DatabaseURL string

	// SnapshotDB is the SQLite file for the snapshot chain. Empty means
	// the in-memory snapshot store.
	SnapshotDB string

	// VaultDB is the SQLite file for the shareholder vault. Empty means
	// an in-process :memory: database.
	VaultDB string

	// VaultKeyDir persists vault master keys across restarts. Empty
	// keeps them in memory only.
	VaultKeyDir string
	VaultKeyID  string

	// AuthClientID/AuthClientSecret seed the API client for the
	// client-credentials flow. Both empty disables bearer-token auth.
	AuthClientID     string
	AuthClientSecret string
	AuthClientScopes []string
	AuthIssuer       string
	AccessTokenTTL   time.Duration

	RedisAddr          string
	RateLimitCapacity  int
	RateLimitPerSecond float64

	IPAllowlist []string

	TLSCertFile string
	TLSKeyFile  string

	SnapshotInterval time.Duration
	MaxBodyBytes     int64
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: envOr("APP_ENV", "development"),
		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SnapshotDB:  os.Getenv("SNAPSHOT_DB"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		TLSCertFile: os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:  os.Getenv("TLS_KEY_FILE"),

		VaultDB:     os.Getenv("VAULT_DB"),
		VaultKeyDir: os.Getenv("VAULT_KEY_DIR"),
		VaultKeyID:  envOr("VAULT_KEY_ID", "vault-key-1"),

		AuthClientID:     os.Getenv("AUTH_CLIENT_ID"),
		AuthClientSecret: os.Getenv("AUTH_CLIENT_SECRET"),
		AuthIssuer:       envOr("AUTH_ISSUER", "captable-api"),
	}
	if raw := os.Getenv("AUTH_CLIENT_SCOPES"); raw != "" {
		cfg.AuthClientScopes = strings.Split(raw, ",")
	}

	var err error
	if cfg.RateLimitCapacity, err = envInt("RATE_LIMIT_CAPACITY", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerSecond, err = envFloat("RATE_LIMIT_PER_SECOND", 50); err != nil {
		return nil, err
	}
	if cfg.SnapshotInterval, err = envDuration("SNAPSHOT_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.AccessTokenTTL, err = envDuration("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	maxBody, err := envInt("MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxBodyBytes = int64(maxBody)

	if raw := os.Getenv("IP_ALLOWLIST"); raw != "" {
		cfg.IPAllowlist = strings.Split(raw, ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AuthEnabled reports whether bearer-token auth is configured.
func (c *Config) AuthEnabled() bool {
	return c.AuthClientID != ""
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "testing", "staging", "production":
	default:
		return fmt.Errorf("invalid APP_ENV: %s", c.Environment)
	}

	if c.HTTPAddr == "" {
		return errors.New("HTTP_ADDR must not be empty")
	}
	if c.RateLimitCapacity < 0 {
		return errors.New("RATE_LIMIT_CAPACITY must be non-negative")
	}
	if c.RateLimitPerSecond < 0 {
		return errors.New("RATE_LIMIT_PER_SECOND must be non-negative")
	}
	if c.SnapshotInterval <= 0 {
		return errors.New("SNAPSHOT_INTERVAL must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be positive")
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if (c.AuthClientID == "") != (c.AuthClientSecret == "") {
		return errors.New("AUTH_CLIENT_ID and AUTH_CLIENT_SECRET must be set together")
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if c.VaultKeyID == "" {
		return errors.New("VAULT_KEY_ID must not be empty")
	}

	// Production instances keep durable state and a rate limiter.
	if c.Environment == "production" {
		var missing []string
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if c.SnapshotDB == "" {
			missing = append(missing, "SNAPSHOT_DB")
		}
		if c.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
		if len(missing) > 0 {
			return errors.New("missing required environment variables for production: " + strings.Join(missing, ", "))
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
