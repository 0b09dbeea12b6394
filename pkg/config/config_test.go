package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-recovery/pkg/config"
)

var envKeys = []string{
	"RECOVERY_CONFIG_FILE", "PORT", "HEALTH_PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "DATA_DIR",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "RECOVERY_PERIOD", "MAX_PENDING_DURATION",
	"RECONCILE_INTERVAL", "SYSTEM_IDENTITY", "CALLBACK_SECRET", "UPDATER_MODE", "UPDATER_URL",
	"CALLBACK_BASE_URL", "JWT_ISSUER", "JWT_SEED", "RATE_LIMIT_RPM", "RATE_LIMIT_BURST",
	"OTEL_ENABLED", "OTEL_ENDPOINT", "AUDIT_ARCHIVE_BACKEND", "AUDIT_ARCHIVE_BUCKET",
	"AUDIT_ARCHIVE_REGION", "AUDIT_ARCHIVE_ENDPOINT", "AUDIT_ARCHIVE_PREFIX",
}

func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

// System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 7*24*time.Hour, cfg.RecoveryPeriod)
	assert.Equal(t, 24*time.Hour, cfg.MaxPendingDuration)
	assert.Equal(t, "system:recovery-coordinator", cfg.SystemIdentity)
	assert.Equal(t, config.UpdaterLocal, cfg.UpdaterMode)
	assert.True(t, cfg.LiteMode())
	assert.False(t, cfg.OTelEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("RECOVERY_PERIOD", "48h")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("UPDATER_MODE", "HTTP")
	t.Setenv("UPDATER_URL", "https://idp.internal/rotate")
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.False(t, cfg.LiteMode())
	assert.Equal(t, 48*time.Hour, cfg.RecoveryPeriod)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, config.UpdaterHTTP, cfg.UpdaterMode)
	assert.True(t, cfg.OTelEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidValues(t *testing.T) {
	for key, val := range map[string]string{
		"RECOVERY_PERIOD": "a week",
		"REDIS_DB":        "zero",
		"OTEL_ENABLED":    "sometimes",
	} {
		t.Run(key, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv(key, val)
			_, err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_ProfileThenEnv(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "recovery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7070"
recovery:
  period: 72h
  reconcile_interval: 30s
updater:
  mode: redis
redis:
  addr: redis:6379
rate_limit:
  rpm: 30
audit_archive:
  backend: gcs
  bucket: audit-trail
`), 0o600))
	t.Setenv("RECOVERY_CONFIG_FILE", path)
	t.Setenv("PORT", "6060")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "6060", cfg.Port, "env wins over profile")
	assert.Equal(t, 72*time.Hour, cfg.RecoveryPeriod)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, config.UpdaterRedis, cfg.UpdaterMode)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 30, cfg.RateLimitRPM)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Equal(t, "gcs", cfg.Archive.Backend)
	assert.Equal(t, "audit-trail", cfg.Archive.Bucket)
	assert.Equal(t, "recovery/", cfg.Archive.Prefix)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ProfileErrors(t *testing.T) {
	cleanEnv(t)
	t.Setenv("RECOVERY_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := config.Load()
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recovery:\n  period: soon\n"), 0o600))
	t.Setenv("RECOVERY_CONFIG_FILE", path)
	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovery.period")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"zero period":        func(c *config.Config) { c.RecoveryPeriod = 0 },
		"negative pending":   func(c *config.Config) { c.MaxPendingDuration = -time.Second },
		"zero reconcile":     func(c *config.Config) { c.ReconcileInterval = 0 },
		"empty identity":     func(c *config.Config) { c.SystemIdentity = "  " },
		"http without url":   func(c *config.Config) { c.UpdaterMode = config.UpdaterHTTP },
		"redis without addr": func(c *config.Config) { c.UpdaterMode = config.UpdaterRedis },
		"unknown mode":       func(c *config.Config) { c.UpdaterMode = "carrier-pigeon" },
		"zero burst":         func(c *config.Config) { c.RateLimitBurst = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Defaults()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
