package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 100, cfg.RateLimitCapacity)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotInterval)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, "vault-key-1", cfg.VaultKeyID)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.False(t, cfg.AuthEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SNAPSHOT_DB", "/var/lib/captable/snapshots.db")
	t.Setenv("SNAPSHOT_INTERVAL", "1h")
	t.Setenv("IP_ALLOWLIST", "10.0.0.0/8,192.168.0.0/16")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "/var/lib/captable/snapshots.db", cfg.SnapshotDB)
	assert.Equal(t, time.Hour, cfg.SnapshotInterval)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.IPAllowlist)
}

func TestLoadInvalidEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "sandbox")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_ENV")
}

func TestLoadInvalidInterval(t *testing.T) {
	t.Setenv("SNAPSHOT_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SNAPSHOT_INTERVAL")
}

func TestProductionRequiresDurableStores(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "SNAPSHOT_DB")
	assert.Contains(t, err.Error(), "REDIS_ADDR")
}

func TestTLSFilesMustPair(t *testing.T) {
	t.Setenv("TLS_CERT_FILE", "/etc/captable/server.crt")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS_CERT_FILE")
}

func TestAuthCredentialsMustPair(t *testing.T) {
	t.Setenv("AUTH_CLIENT_ID", "svc-captable")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_CLIENT_ID")
}

func TestAuthEnabled(t *testing.T) {
	t.Setenv("AUTH_CLIENT_ID", "svc-captable")
	t.Setenv("AUTH_CLIENT_SECRET", "s3cret")
	t.Setenv("AUTH_CLIENT_SCOPES", "captable:read,captable:write")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AuthEnabled())
	assert.Equal(t, []string{"captable:read", "captable:write"}, cfg.AuthClientScopes)
}
