package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the YAML form of the settings a deployment pins in a file.
// Zero values leave the default in place.
type Profile struct {
	Server struct {
		Port       string `yaml:"port"`
		HealthPort string `yaml:"health_port"`
		LogLevel   string `yaml:"log_level"`
		LogFormat  string `yaml:"log_format"`
	} `yaml:"server"`
	Storage struct {
		DatabaseURL string `yaml:"database_url"`
		DataDir     string `yaml:"data_dir"`
	} `yaml:"storage"`
	Redis struct {
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`
	Recovery struct {
		Period             string `yaml:"period"`
		MaxPendingDuration string `yaml:"max_pending_duration"`
		ReconcileInterval  string `yaml:"reconcile_interval"`
		SystemIdentity     string `yaml:"system_identity"`
	} `yaml:"recovery"`
	Updater struct {
		Mode            string `yaml:"mode"`
		URL             string `yaml:"url"`
		CallbackBaseURL string `yaml:"callback_base_url"`
	} `yaml:"updater"`
	Auth struct {
		Issuer string `yaml:"issuer"`
	} `yaml:"auth"`
	RateLimit struct {
		RPM   int `yaml:"rpm"`
		Burst int `yaml:"burst"`
	} `yaml:"rate_limit"`
	Telemetry struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"telemetry"`
	Archive struct {
		Backend  string `yaml:"backend"`
		Bucket   string `yaml:"bucket"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"audit_archive"`
}

// LoadProfile reads a YAML profile. Secrets are read from the environment only.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &p, nil
}

func (p *Profile) apply(cfg *Config) error {
	setStr(&cfg.Port, p.Server.Port)
	setStr(&cfg.HealthPort, p.Server.HealthPort)
	setStr(&cfg.LogLevel, p.Server.LogLevel)
	setStr(&cfg.LogFormat, p.Server.LogFormat)
	setStr(&cfg.DatabaseURL, p.Storage.DatabaseURL)
	setStr(&cfg.DataDir, p.Storage.DataDir)
	setStr(&cfg.RedisAddr, p.Redis.Addr)
	if p.Redis.DB != 0 {
		cfg.RedisDB = p.Redis.DB
	}
	setStr(&cfg.SystemIdentity, p.Recovery.SystemIdentity)
	setStr(&cfg.UpdaterMode, p.Updater.Mode)
	setStr(&cfg.UpdaterURL, p.Updater.URL)
	setStr(&cfg.CallbackBaseURL, p.Updater.CallbackBaseURL)
	setStr(&cfg.JWTIssuer, p.Auth.Issuer)
	if p.RateLimit.RPM != 0 {
		cfg.RateLimitRPM = p.RateLimit.RPM
	}
	if p.RateLimit.Burst != 0 {
		cfg.RateLimitBurst = p.RateLimit.Burst
	}
	if p.Telemetry.Enabled {
		cfg.OTelEnabled = true
	}
	setStr(&cfg.OTelEndpoint, p.Telemetry.Endpoint)
	setStr(&cfg.Archive.Backend, p.Archive.Backend)
	setStr(&cfg.Archive.Bucket, p.Archive.Bucket)
	setStr(&cfg.Archive.Region, p.Archive.Region)
	setStr(&cfg.Archive.Endpoint, p.Archive.Endpoint)
	setStr(&cfg.Archive.Prefix, p.Archive.Prefix)

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"recovery.period", p.Recovery.Period, &cfg.RecoveryPeriod},
		{"recovery.max_pending_duration", p.Recovery.MaxPendingDuration, &cfg.MaxPendingDuration},
		{"recovery.reconcile_interval", p.Recovery.ReconcileInterval, &cfg.ReconcileInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", d.name, d.raw)
		}
		*d.dst = v
	}
	return nil
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
