package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Merchants.Lockout.MaxFailures != 5 || cfg.Merchants.Lockout.Cooldown.Duration != 15*time.Minute {
		t.Errorf("lockout defaults = %+v", cfg.Merchants.Lockout)
	}
	if cfg.Webhooks.MaxAttempts != 7 || cfg.Webhooks.BackoffBase.Duration != 30*time.Second {
		t.Errorf("webhook defaults = %+v", cfg.Webhooks)
	}
	if cfg.Reaper.Interval.Duration != 30*time.Second || cfg.Reaper.BatchSize != 1000 {
		t.Errorf("reaper defaults = %+v", cfg.Reaper)
	}
	if !cfg.CircuitBreaker.Enabled {
		t.Error("circuit breakers should default to enabled")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
  base_url: "https://pay.example.com/"
  read_timeout: 30s
bank:
  timeout: 2s
merchants:
  source: memory
  seed:
    - team_slug: shop
      team_id: team-1
      secret: hunter2
      active: true
      supported_currencies: [RUB]
webhooks:
  max_attempts: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Server.BaseURL != "https://pay.example.com" {
		t.Errorf("base_url = %q, want trailing slash stripped", cfg.Server.BaseURL)
	}
	if cfg.Server.ReadTimeout.Duration != 30*time.Second {
		t.Errorf("read_timeout = %s", cfg.Server.ReadTimeout.Duration)
	}
	if cfg.Bank.Timeout.Duration != 2*time.Second {
		t.Errorf("bank timeout = %s", cfg.Bank.Timeout.Duration)
	}
	if cfg.Webhooks.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d", cfg.Webhooks.MaxAttempts)
	}
	if len(cfg.Merchants.Seed) != 1 || cfg.Merchants.Seed[0].TeamSlug != "shop" {
		t.Errorf("seed = %+v", cfg.Merchants.Seed)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
`)
	t.Setenv("GATEWAY_SERVER_ADDRESS", ":7070")
	t.Setenv("GATEWAY_STORAGE_BACKEND", "postgres")
	t.Setenv("GATEWAY_POSTGRES_URL", "postgres://localhost/gateway")
	t.Setenv("GATEWAY_BANK_TIMEOUT", "1s")
	t.Setenv("GATEWAY_LOCKOUT_MAX_FAILURES", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("address = %q, want the env value", cfg.Server.Address)
	}
	if cfg.Storage.Backend != "postgres" || cfg.Storage.PostgresURL != "postgres://localhost/gateway" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Bank.Timeout.Duration != time.Second {
		t.Errorf("bank timeout = %s", cfg.Bank.Timeout.Duration)
	}
	if cfg.Merchants.Lockout.MaxFailures != 3 {
		t.Errorf("max_failures = %d", cfg.Merchants.Lockout.MaxFailures)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "storage:\n  backend: dynamo\n"},
		{"postgres without url", "storage:\n  backend: postgres\n"},
		{"mongodb without database", "storage:\n  backend: mongodb\n  mongodb_url: mongodb://localhost\n"},
		{"relative base url", "server:\n  base_url: pay.example.com\n"},
		{"seed without secret", "merchants:\n  seed:\n    - team_slug: shop\n"},
		{"duplicate seed slug", "merchants:\n  seed:\n    - {team_slug: shop, secret: a}\n    - {team_slug: shop, secret: b}\n"},
		{"zero webhook attempts", "webhooks:\n  max_attempts: -1\n"},
		{"bad failure ratio", "circuit_breaker:\n  bank:\n    failure_ratio: 1.5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Fatal("Load accepted an invalid config")
			}
		})
	}
}

func TestDurationParsesBareSeconds(t *testing.T) {
	path := writeConfig(t, `
bank:
  timeout: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bank.Timeout.Duration != 10*time.Second {
		t.Fatalf("timeout = %s, want bare numbers read as seconds", cfg.Bank.Timeout.Duration)
	}
}
