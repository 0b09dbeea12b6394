// Package config loads recoveryd settings from the environment, optionally
// layered over a YAML profile.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Updater modes.
const (
	UpdaterLocal = "local"
	UpdaterHTTP  = "http"
	UpdaterRedis = "redis"
)

// Config holds server configuration.
type Config struct {
	Port        string
	HealthPort  string
	LogLevel    string
	LogFormat   string
	DatabaseURL string
	DataDir     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RecoveryPeriod     time.Duration
	MaxPendingDuration time.Duration
	ReconcileInterval  time.Duration
	SystemIdentity     string
	CallbackSecret     string

	UpdaterMode     string
	UpdaterURL      string
	CallbackBaseURL string

	JWTIssuer string
	// JWTSeed is a hex Ed25519 seed shared with `recoveryd token`. Empty
	// means an ephemeral key.
	JWTSeed string

	RateLimitRPM   int
	RateLimitBurst int

	OTelEnabled  bool
	OTelEndpoint string

	Archive ArchiveConfig
}

// ArchiveConfig selects where `recoveryd archive-audit` writes.
type ArchiveConfig struct {
	Backend  string
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:               "8080",
		HealthPort:         "8081",
		LogLevel:           "INFO",
		LogFormat:          "text",
		DataDir:            "data",
		RecoveryPeriod:     7 * 24 * time.Hour,
		MaxPendingDuration: 24 * time.Hour,
		ReconcileInterval:  time.Minute,
		SystemIdentity:     "system:recovery-coordinator",
		UpdaterMode:        UpdaterLocal,
		CallbackBaseURL:    "http://localhost:8080",
		JWTIssuer:          "helm-recovery",
		RateLimitRPM:       120,
		RateLimitBurst:     20,
		OTelEndpoint:       "localhost:4317",
		Archive: ArchiveConfig{
			Backend: "s3",
			Prefix:  "recovery/",
		},
	}
}

// Load builds the configuration from defaults, the YAML profile named by
// RECOVERY_CONFIG_FILE (if any) and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("RECOVERY_CONFIG_FILE"); path != "" {
		p, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		if err := p.apply(cfg); err != nil {
			return nil, fmt.Errorf("profile %s: %w", path, err)
		}
	}

	e := &envReader{}
	e.str("PORT", &cfg.Port)
	e.str("HEALTH_PORT", &cfg.HealthPort)
	e.str("LOG_LEVEL", &cfg.LogLevel)
	e.str("LOG_FORMAT", &cfg.LogFormat)
	e.str("DATABASE_URL", &cfg.DatabaseURL)
	e.str("DATA_DIR", &cfg.DataDir)
	e.str("REDIS_ADDR", &cfg.RedisAddr)
	e.str("REDIS_PASSWORD", &cfg.RedisPassword)
	e.integer("REDIS_DB", &cfg.RedisDB)
	e.duration("RECOVERY_PERIOD", &cfg.RecoveryPeriod)
	e.duration("MAX_PENDING_DURATION", &cfg.MaxPendingDuration)
	e.duration("RECONCILE_INTERVAL", &cfg.ReconcileInterval)
	e.str("SYSTEM_IDENTITY", &cfg.SystemIdentity)
	e.str("CALLBACK_SECRET", &cfg.CallbackSecret)
	e.str("UPDATER_MODE", &cfg.UpdaterMode)
	e.str("UPDATER_URL", &cfg.UpdaterURL)
	e.str("CALLBACK_BASE_URL", &cfg.CallbackBaseURL)
	e.str("JWT_ISSUER", &cfg.JWTIssuer)
	e.str("JWT_SEED", &cfg.JWTSeed)
	e.integer("RATE_LIMIT_RPM", &cfg.RateLimitRPM)
	e.integer("RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	e.boolean("OTEL_ENABLED", &cfg.OTelEnabled)
	e.str("OTEL_ENDPOINT", &cfg.OTelEndpoint)
	e.str("AUDIT_ARCHIVE_BACKEND", &cfg.Archive.Backend)
	e.str("AUDIT_ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	e.str("AUDIT_ARCHIVE_REGION", &cfg.Archive.Region)
	e.str("AUDIT_ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	e.str("AUDIT_ARCHIVE_PREFIX", &cfg.Archive.Prefix)
	if e.err != nil {
		return nil, e.err
	}

	cfg.UpdaterMode = strings.ToLower(cfg.UpdaterMode)
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.RecoveryPeriod <= 0 {
		return fmt.Errorf("RECOVERY_PERIOD must be positive, got %s", c.RecoveryPeriod)
	}
	if c.MaxPendingDuration <= 0 {
		return fmt.Errorf("MAX_PENDING_DURATION must be positive, got %s", c.MaxPendingDuration)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive, got %s", c.ReconcileInterval)
	}
	if strings.TrimSpace(c.SystemIdentity) == "" {
		return fmt.Errorf("SYSTEM_IDENTITY must not be empty")
	}
	switch c.UpdaterMode {
	case UpdaterLocal:
	case UpdaterHTTP:
		if c.UpdaterURL == "" {
			return fmt.Errorf("UPDATER_URL is required when UPDATER_MODE=http")
		}
	case UpdaterRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when UPDATER_MODE=redis")
		}
	default:
		return fmt.Errorf("unknown UPDATER_MODE %q", c.UpdaterMode)
	}
	if c.RateLimitRPM <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit must be positive, got rpm=%d burst=%d", c.RateLimitRPM, c.RateLimitBurst)
	}
	return nil
}

// LiteMode reports whether the server runs on embedded SQLite.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

// envReader applies set variables and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("%s: invalid integer %q", key, v)
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s: invalid duration %q", key, v)
		return
	}
	*dst = d
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" || e.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.err = fmt.Errorf("%s: invalid boolean %q", key, v)
		return
	}
	*dst = b
}
