// Package ratelimit provides the request throttling middleware tiers.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/cardflow/gateway/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool
	GlobalLimit   int // requests per window
	GlobalWindow  time.Duration

	// Per-IP rate limiting; the main defense on the token-less form endpoints
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	// Per-team rate limiting on the merchant API, keyed by teamSlug
	PerTeamEnabled bool
	PerTeamLimit   int
	PerTeamWindow  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// DefaultConfig returns generous limits aimed at spam, not legitimate load.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  1 * time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  1 * time.Minute,

		PerTeamEnabled: true,
		PerTeamLimit:   300,
		PerTeamWindow:  1 * time.Minute,
	}
}

// limitResponse is the JSON body sent with 429 replies.
type limitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func limitHandler(scope string, windowSeconds int, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.RateLimitHitsTotal.WithLabelValues(scope).Inc()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(limitResponse{
			Error:             "rate_limit_exceeded",
			Message:           "Rate limit exceeded. Please try again later.",
			RetryAfterSeconds: windowSeconds,
		})
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// GlobalLimiter throttles all requests together.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(limitHandler("global", int(cfg.GlobalWindow.Seconds()), cfg.Metrics)),
	)
}

// IPLimiter throttles per client IP. This is what stands between the
// unauthenticated hosted-form endpoints and a scripted card-testing run.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), cfg.Metrics)),
	)
}

// TeamLimiter throttles the merchant API per team. The slug comes from the
// X-Team-Slug header or teamSlug query parameter; requests without either fall
// back to IP keying rather than sharing one bucket.
func TeamLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerTeamEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerTeamLimit,
		cfg.PerTeamWindow,
		httprate.WithKeyFuncs(teamKeyExtractor),
		httprate.WithLimitHandler(limitHandler("per_team", int(cfg.PerTeamWindow.Seconds()), cfg.Metrics)),
	)
}

func teamKeyExtractor(r *http.Request) (string, error) {
	if slug := teamSlugFromRequest(r); slug != "" {
		return "team:" + slug, nil
	}
	return httprate.KeyByIP(r)
}

// teamSlugFromRequest reads the slug without touching the body: parsing JSON
// inside a rate-limit key function would defeat its purpose.
func teamSlugFromRequest(r *http.Request) string {
	if slug := r.Header.Get("X-Team-Slug"); slug != "" {
		return slug
	}
	return r.URL.Query().Get("teamSlug")
}
