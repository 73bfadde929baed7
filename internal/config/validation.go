package config

import (
	"fmt"
	"net/url"
	"strings"
)

// finalize normalizes derived values and rejects configurations the server
// cannot start with. It runs after YAML parsing and env overrides.
func (c *Config) finalize() error {
	c.Server.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.Server.BaseURL), "/")
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateMerchants(); err != nil {
		return err
	}
	if err := c.validateWebhooks(); err != nil {
		return err
	}
	if err := c.validateBreakers(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("server.base_url must be an absolute http(s) URL, got %q", c.Server.BaseURL)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres backend")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			return fmt.Errorf("storage.mongodb_url is required for the mongodb backend")
		}
		if c.Storage.MongoDBDatabase == "" {
			return fmt.Errorf("storage.mongodb_database is required for the mongodb backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, postgres, or mongodb, got %q", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateMerchants() error {
	switch c.Merchants.Source {
	case "memory":
	case "postgres":
		if c.Merchants.PostgresURL == "" && c.Storage.PostgresURL == "" {
			return fmt.Errorf("merchants.postgres_url is required for the postgres source")
		}
	default:
		return fmt.Errorf("merchants.source must be memory or postgres, got %q", c.Merchants.Source)
	}

	if c.Merchants.Lockout.MaxFailures <= 0 {
		return fmt.Errorf("merchants.lockout.max_failures must be positive")
	}

	seen := make(map[string]bool, len(c.Merchants.Seed))
	for i, m := range c.Merchants.Seed {
		if m.TeamSlug == "" {
			return fmt.Errorf("merchants.seed[%d]: team_slug is required", i)
		}
		if m.Secret == "" {
			return fmt.Errorf("merchants.seed[%d] (%s): secret is required", i, m.TeamSlug)
		}
		if seen[m.TeamSlug] {
			return fmt.Errorf("merchants.seed: duplicate team_slug %q", m.TeamSlug)
		}
		seen[m.TeamSlug] = true
	}
	return nil
}

func (c *Config) validateWebhooks() error {
	if c.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("webhooks.max_attempts must be positive")
	}
	if c.Webhooks.BatchSize <= 0 {
		return fmt.Errorf("webhooks.batch_size must be positive")
	}
	if c.Webhooks.BackoffBase.Duration <= 0 {
		return fmt.Errorf("webhooks.backoff_base must be positive")
	}
	return nil
}

func (c *Config) validateBreakers() error {
	for name, b := range map[string]BreakerServiceConfig{
		"bank":    c.CircuitBreaker.Bank,
		"webhook": c.CircuitBreaker.Webhook,
	} {
		if b.FailureRatio < 0 || b.FailureRatio > 1 {
			return fmt.Errorf("circuit_breaker.%s.failure_ratio must be within [0, 1]", name)
		}
	}
	return nil
}
