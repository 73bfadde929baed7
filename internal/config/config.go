// Package config loads the gateway configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			BaseURL:      "http://localhost:8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Storage: StorageConfig{
			Backend: "memory",
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
			Archival: ArchivalConfig{
				Enabled:         false,
				RetentionPeriod: Duration{Duration: 90 * 24 * time.Hour},
				RunInterval:     Duration{Duration: time.Hour},
			},
		},
		Merchants: MerchantsConfig{
			Source:   "memory",
			CacheTTL: Duration{Duration: time.Minute},
			Lockout: LockoutConfig{
				MaxFailures: 5,
				Window:      Duration{Duration: 15 * time.Minute},
				Cooldown:    Duration{Duration: 15 * time.Minute},
			},
		},
		Bank: BankConfig{
			Timeout: Duration{Duration: 5 * time.Second},
		},
		Webhooks: WebhooksConfig{
			PollInterval:      Duration{Duration: 5 * time.Second},
			BatchSize:         50,
			RequestTimeout:    Duration{Duration: 10 * time.Second},
			MaxAttempts:       7,
			BackoffBase:       Duration{Duration: 30 * time.Second},
			BackoffCap:        Duration{Duration: 6 * time.Hour},
			VisibilityTimeout: Duration{Duration: 5 * time.Minute},
		},
		Reaper: ReaperConfig{
			Interval:  Duration{Duration: 30 * time.Second},
			BatchSize: 1000,
		},
		Idempotency: IdempotencyConfig{
			TTL:          Duration{Duration: 24 * time.Hour},
			ShardCount:   16,
			PerShardSize: 4096,
		},
		RateLimit: RateLimitConfig{
			// Generous limits; the point is spam prevention, not throttling
			// legitimate merchants.
			GlobalEnabled:  true,
			GlobalLimit:    1000,
			GlobalWindow:   Duration{Duration: 1 * time.Minute},
			PerIPEnabled:   true,
			PerIPLimit:     120,
			PerIPWindow:    Duration{Duration: 1 * time.Minute},
			PerTeamEnabled: true,
			PerTeamLimit:   300,
			PerTeamWindow:  Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Bank: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second}, // webhook targets recover slowly
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
