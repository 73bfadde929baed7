package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the GATEWAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "GATEWAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.BaseURL, "GATEWAY_BASE_URL")
	setIfEnv(&c.Server.AdminToken, "GATEWAY_ADMIN_TOKEN")

	// Logging config
	setIfEnv(&c.Logging.Level, "GATEWAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "GATEWAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "GATEWAY_ENVIRONMENT")

	// Storage config
	setIfEnv(&c.Storage.Backend, "GATEWAY_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "GATEWAY_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "GATEWAY_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "GATEWAY_MONGODB_DATABASE")
	setBoolIfEnv(&c.Storage.Archival.Enabled, "GATEWAY_ARCHIVAL_ENABLED")
	setDurationIfEnv(&c.Storage.Archival.RetentionPeriod, "GATEWAY_ARCHIVAL_RETENTION")

	// Merchant directory config
	setIfEnv(&c.Merchants.Source, "GATEWAY_MERCHANTS_SOURCE")
	setIfEnv(&c.Merchants.PostgresURL, "GATEWAY_MERCHANTS_POSTGRES_URL")
	setDurationIfEnv(&c.Merchants.CacheTTL, "GATEWAY_MERCHANTS_CACHE_TTL")
	setIntIfEnv(&c.Merchants.Lockout.MaxFailures, "GATEWAY_LOCKOUT_MAX_FAILURES")
	setDurationIfEnv(&c.Merchants.Lockout.Window, "GATEWAY_LOCKOUT_WINDOW")
	setDurationIfEnv(&c.Merchants.Lockout.Cooldown, "GATEWAY_LOCKOUT_COOLDOWN")

	// Bank config
	setDurationIfEnv(&c.Bank.Timeout, "GATEWAY_BANK_TIMEOUT")
	setDurationIfEnv(&c.Bank.Latency, "GATEWAY_BANK_LATENCY")

	// Webhook delivery config
	setDurationIfEnv(&c.Webhooks.PollInterval, "GATEWAY_WEBHOOK_POLL_INTERVAL")
	setIntIfEnv(&c.Webhooks.BatchSize, "GATEWAY_WEBHOOK_BATCH_SIZE")
	setDurationIfEnv(&c.Webhooks.RequestTimeout, "GATEWAY_WEBHOOK_REQUEST_TIMEOUT")
	setIntIfEnv(&c.Webhooks.MaxAttempts, "GATEWAY_WEBHOOK_MAX_ATTEMPTS")
	setDurationIfEnv(&c.Webhooks.BackoffBase, "GATEWAY_WEBHOOK_BACKOFF_BASE")
	setDurationIfEnv(&c.Webhooks.VisibilityTimeout, "GATEWAY_WEBHOOK_VISIBILITY_TIMEOUT")

	// Reaper config
	setDurationIfEnv(&c.Reaper.Interval, "GATEWAY_REAPER_INTERVAL")
	setIntIfEnv(&c.Reaper.BatchSize, "GATEWAY_REAPER_BATCH_SIZE")

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "GATEWAY_CIRCUIT_BREAKER_ENABLED")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "GATEWAY_RATE_LIMIT_GLOBAL_ENABLED")
	setIntIfEnv(&c.RateLimit.GlobalLimit, "GATEWAY_RATE_LIMIT_GLOBAL_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "GATEWAY_RATE_LIMIT_PER_IP_ENABLED")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "GATEWAY_RATE_LIMIT_PER_IP_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerTeamEnabled, "GATEWAY_RATE_LIMIT_PER_TEAM_ENABLED")
	setIntIfEnv(&c.RateLimit.PerTeamLimit, "GATEWAY_RATE_LIMIT_PER_TEAM_LIMIT")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
