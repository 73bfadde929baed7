// Package circuitbreaker isolates the gateway's external dependencies behind
// per-service circuit breakers, so a melting acquirer cannot drag webhook
// delivery down with it.
package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ServiceType identifies an external service with its own breaker.
type ServiceType string

const (
	ServiceBank    ServiceType = "bank"
	ServiceWebhook ServiceType = "webhook"
)

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts; 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// Trip conditions: either threshold fires the breaker.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// Config holds breaker configuration for all services.
type Config struct {
	Enabled bool
	Bank    BreakerConfig
	Webhook BreakerConfig
}

// DefaultConfig returns the settings the gateway ships with.
func DefaultConfig() Config {
	standard := BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
	return Config{Enabled: true, Bank: standard, Webhook: standard}
}

// Manager holds one breaker per external service.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	config   Config
}

// NewManager creates a circuit breaker manager. With Enabled false every
// Execute call passes straight through.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		config:   cfg,
	}
	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceBank] = gobreaker.NewCircuitBreaker(settings(string(ServiceBank), cfg.Bank, log))
	m.breakers[ServiceWebhook] = gobreaker.NewCircuitBreaker(settings(string(ServiceWebhook), cfg.Webhook, log))
	return m
}

// Execute wraps fn with the service's breaker. Unconfigured services pass
// through untouched.
func (m *Manager) Execute(service ServiceType, fn func() (any, error)) (any, error) {
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State reports the breaker state for metrics and health output.
func (m *Manager) State(service ServiceType) string {
	if !m.config.Enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

func settings(name string, cfg BreakerConfig, log zerolog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				rate := float64(counts.TotalFailures) / float64(counts.Requests)
				if rate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
}
