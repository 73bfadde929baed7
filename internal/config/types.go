package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Storage        StorageConfig        `yaml:"storage"`
	Merchants      MerchantsConfig      `yaml:"merchants"`
	Bank           BankConfig           `yaml:"bank"`
	Webhooks       WebhooksConfig       `yaml:"webhooks"`
	Reaper         ReaperConfig         `yaml:"reaper"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string   `yaml:"address"`
	BaseURL      string   `yaml:"base_url"` // public origin used to build hosted form URLs
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
	// AdminToken protects the /admin endpoints (webhook redelivery, merchant
	// upserts). Empty disables them entirely.
	AdminToken string `yaml:"admin_token"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// StorageConfig holds payment store configuration.
type StorageConfig struct {
	Backend         string             `yaml:"backend"` // "memory", "postgres", or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
	Archival        ArchivalConfig     `yaml:"archival"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// ArchivalConfig controls moving transition history of terminal payments out
// of the hot table.
type ArchivalConfig struct {
	Enabled         bool     `yaml:"enabled"`
	RetentionPeriod Duration `yaml:"retention_period"` // default: 90 days
	RunInterval     Duration `yaml:"run_interval"`     // default: 1 hour
}

// MerchantsConfig holds the merchant directory configuration.
type MerchantsConfig struct {
	Source      string   `yaml:"source"` // "memory" or "postgres"
	PostgresURL string   `yaml:"postgres_url"`
	CacheTTL    Duration `yaml:"cache_ttl"` // 0 = no cache in front of the directory

	Lockout LockoutConfig `yaml:"lockout"`

	// Seed merchants for the memory source; dev and test setups only.
	Seed []SeedMerchant `yaml:"seed"`
}

// LockoutConfig bounds consecutive authentication failures.
type LockoutConfig struct {
	MaxFailures int      `yaml:"max_failures"` // default: 5
	Window      Duration `yaml:"window"`       // default: 15m
	Cooldown    Duration `yaml:"cooldown"`     // default: 15m
}

// SeedMerchant is one merchant record defined directly in YAML.
type SeedMerchant struct {
	TeamID              string   `yaml:"team_id"`
	TeamSlug            string   `yaml:"team_slug"`
	Secret              string   `yaml:"secret"`
	Active              bool     `yaml:"active"`
	SupportedCurrencies []string `yaml:"supported_currencies"`
	MinPerPayment       int64    `yaml:"min_per_payment"`
	MaxPerPayment       int64    `yaml:"max_per_payment"`
	DailyTotal          int64    `yaml:"daily_total"`
	DailyCount          int      `yaml:"daily_count"`
	SuccessURL          string   `yaml:"success_url"`
	FailURL             string   `yaml:"fail_url"`
	NotificationURL     string   `yaml:"notification_url"`
}

// BankConfig tunes the acquirer simulator.
type BankConfig struct {
	Timeout Duration `yaml:"timeout"` // per-call deadline (default: 5s)
	Latency Duration `yaml:"latency"` // artificial processing delay (default: 0)
}

// WebhooksConfig tunes merchant notification delivery.
type WebhooksConfig struct {
	PollInterval      Duration `yaml:"poll_interval"`      // default: 5s
	BatchSize         int      `yaml:"batch_size"`         // default: 50
	RequestTimeout    Duration `yaml:"request_timeout"`    // default: 10s
	MaxAttempts       int      `yaml:"max_attempts"`       // default: 7
	BackoffBase       Duration `yaml:"backoff_base"`       // default: 30s
	BackoffCap        Duration `yaml:"backoff_cap"`        // default: 6h
	VisibilityTimeout Duration `yaml:"visibility_timeout"` // default: 5m
}

// ReaperConfig tunes the deadline expiry sweep.
type ReaperConfig struct {
	Interval  Duration `yaml:"interval"`   // default: 30s
	BatchSize int      `yaml:"batch_size"` // default: 1000
}

// IdempotencyConfig tunes the Confirm replay cache.
type IdempotencyConfig struct {
	TTL          Duration `yaml:"ttl"`            // default: 24h
	ShardCount   int      `yaml:"shard_count"`    // default: 16
	PerShardSize int      `yaml:"per_shard_size"` // default: 4096
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-IP rate limiting, the main defense on the token-less form endpoints
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`

	// Per-team rate limiting on the merchant API, keyed by teamSlug
	PerTeamEnabled bool     `yaml:"per_team_enabled"`
	PerTeamLimit   int      `yaml:"per_team_limit"`
	PerTeamWindow  Duration `yaml:"per_team_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"` // default: true
	Bank    BreakerServiceConfig `yaml:"bank"`
	Webhook BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // minimum requests before checking ratio (default: 10)
}
