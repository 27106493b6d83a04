// Package config provides configuration management for aktibguard.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ConfigFileEnv names the environment variable pointing at an optional YAML
// file whose values sit between the defaults and the environment.
const ConfigFileEnv = "AKTIBGUARD_CONFIG"

// ServerConfig holds server-level configuration.
type ServerConfig struct {
	Environment Environment `yaml:"environment"`
	ListenAddr  string      `yaml:"listen_addr"`
	LogLevel    string      `yaml:"log_level"`

	// DatabaseURL selects the PostgreSQL store; SQLitePath is used otherwise.
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	LivenessTimeout    time.Duration `yaml:"liveness_timeout"`
	MetricRetention    time.Duration `yaml:"metric_retention"`
	ProcessRetention   time.Duration `yaml:"process_retention"`
	SweepSchedule      string        `yaml:"sweep_schedule"`
	SweepActionTimeout time.Duration `yaml:"sweep_action_timeout"`

	IngestTimeout    time.Duration `yaml:"ingest_timeout"`
	MaxProcesses     int           `yaml:"max_processes"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	BodyLimitBytes   int64         `yaml:"body_limit_bytes"`

	CORSOrigins       []string      `yaml:"cors_origins"`
	RateLimitRequests int64         `yaml:"rate_limit_requests"`
	RateLimitPeriod   time.Duration `yaml:"rate_limit_period"`
	RedisURL          string        `yaml:"redis_url"`

	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	// MetricsEnabled exposes the Prometheus registry at /metrics.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the configuration used when nothing is set.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Environment:        EnvDevelopment,
		ListenAddr:         ":3000",
		LogLevel:           "info",
		SQLitePath:         "aktibguard.db",
		LivenessTimeout:    5 * time.Minute,
		MetricRetention:    7 * 24 * time.Hour,
		ProcessRetention:   24 * time.Hour,
		SweepSchedule:      "0 * * * *",
		SweepActionTimeout: time.Minute,
		IngestTimeout:      10 * time.Second,
		MaxProcesses:       10,
		SubscriberBuffer:   64,
		BodyLimitBytes:     10 << 20,
		RateLimitRequests:  600,
		RateLimitPeriod:    time.Minute,
		NATSSubject:        "aktibguard.telemetry",
		MetricsEnabled:     true,
		ShutdownTimeout:    30 * time.Second,
	}
}

// LoadServerConfig builds the server configuration from defaults, the
// optional YAML file named by AKTIBGUARD_CONFIG and environment variables,
// in that order of increasing precedence.
func LoadServerConfig() (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return ServerConfig{}, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c *ServerConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *ServerConfig) applyEnv() {
	if env := Environment(os.Getenv("ENV")); env != "" {
		c.Environment = env
	}
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		c.Environment = EnvDevelopment
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	} else if port := os.Getenv("PORT"); port != "" {
		c.ListenAddr = ":" + port
	}

	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = getEnvString("SQLITE_PATH", c.SQLitePath)

	c.LivenessTimeout = getEnvDuration("LIVENESS_TIMEOUT", c.LivenessTimeout)
	c.MetricRetention = getEnvDuration("METRIC_RETENTION", c.MetricRetention)
	c.ProcessRetention = getEnvDuration("PROCESS_RETENTION", c.ProcessRetention)
	c.SweepSchedule = getEnvString("SWEEP_SCHEDULE", c.SweepSchedule)
	c.SweepActionTimeout = getEnvDuration("SWEEP_ACTION_TIMEOUT", c.SweepActionTimeout)

	c.IngestTimeout = getEnvDuration("INGEST_TIMEOUT", c.IngestTimeout)
	c.MaxProcesses = getEnvInt("MAX_PROCESSES", c.MaxProcesses)
	c.SubscriberBuffer = getEnvInt("SUBSCRIBER_BUFFER", c.SubscriberBuffer)
	c.BodyLimitBytes = int64(getEnvInt("BODY_LIMIT_BYTES", int(c.BodyLimitBytes)))

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.CORSOrigins = splitList(origins)
	}
	c.RateLimitRequests = int64(getEnvInt("RATE_LIMIT_REQUESTS", int(c.RateLimitRequests)))
	c.RateLimitPeriod = getEnvDuration("RATE_LIMIT_PERIOD", c.RateLimitPeriod)
	c.RedisURL = getEnvString("REDIS_URL", c.RedisURL)

	c.NATSURL = getEnvString("NATS_URL", c.NATSURL)
	c.NATSSubject = getEnvString("NATS_SUBJECT", c.NATSSubject)

	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
	c.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

// Validate rejects configurations the server cannot run with.
func (c *ServerConfig) Validate() error {
	var errs []error

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"liveness_timeout", c.LivenessTimeout},
		{"metric_retention", c.MetricRetention},
		{"process_retention", c.ProcessRetention},
		{"sweep_action_timeout", c.SweepActionTimeout},
		{"ingest_timeout", c.IngestTimeout},
		{"rate_limit_period", c.RateLimitPeriod},
		{"shutdown_timeout", c.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.d))
		}
	}

	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid sweep_schedule %q: %w", c.SweepSchedule, err))
	}
	if c.MaxProcesses <= 0 {
		errs = append(errs, fmt.Errorf("max_processes must be positive, got %d", c.MaxProcesses))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("subscriber_buffer must be positive, got %d", c.SubscriberBuffer))
	}
	if c.BodyLimitBytes <= 0 {
		errs = append(errs, fmt.Errorf("body_limit_bytes must be positive, got %d", c.BodyLimitBytes))
	}
	if c.RateLimitRequests <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit_requests must be positive, got %d", c.RateLimitRequests))
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		errs = append(errs, errors.New("either database_url or sqlite_path is required"))
	}

	return errors.Join(errs...)
}

// UsePostgres reports whether the PostgreSQL store is configured.
func (c *ServerConfig) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// IsProduction reports whether the server runs in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a Go duration string, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
