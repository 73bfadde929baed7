// Package httpserver exposes the gateway over HTTP: the merchant API, the
// hosted payment form, and the admin surface.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cardflow/gateway/internal/config"
	"github.com/cardflow/gateway/internal/gateway"
	"github.com/cardflow/gateway/internal/logger"
	"github.com/cardflow/gateway/internal/merchant"
	"github.com/cardflow/gateway/internal/metrics"
	"github.com/cardflow/gateway/internal/ratelimit"
	"github.com/cardflow/gateway/internal/storage"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg       *config.Config
	gateway   *gateway.Gateway
	store     storage.Store
	directory merchant.Directory
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New builds the HTTP server with the configured router.
func New(cfg *config.Config, gw *gateway.Gateway, store storage.Store, directory merchant.Directory, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:       cfg,
			gateway:   gw,
			store:     store,
			directory: directory,
			metrics:   metricsCollector,
			logger:    appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router)
	return s
}

func (s *Server) configureRouter(router chi.Router) {
	router.Use(securityHeadersMiddleware)

	// Logging middleware first so everything downstream has a request logger.
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:  s.cfg.RateLimit.GlobalEnabled,
		GlobalLimit:    s.cfg.RateLimit.GlobalLimit,
		GlobalWindow:   s.cfg.RateLimit.GlobalWindow.Duration,
		PerIPEnabled:   s.cfg.RateLimit.PerIPEnabled,
		PerIPLimit:     s.cfg.RateLimit.PerIPLimit,
		PerIPWindow:    s.cfg.RateLimit.PerIPWindow.Duration,
		PerTeamEnabled: s.cfg.RateLimit.PerTeamEnabled,
		PerTeamLimit:   s.cfg.RateLimit.PerTeamLimit,
		PerTeamWindow:  s.cfg.RateLimit.PerTeamWindow.Duration,
		Metrics:        s.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", s.health)
		r.Handle("/metrics", promhttp.Handler())
	})

	// Merchant API: token-authenticated, throttled per team.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(ratelimit.TeamLimiter(rateLimitCfg))
		r.Post("/paymentinit/init", s.paymentInit)
		r.Post("/paymentconfirm/confirm", s.paymentConfirm)
		r.Post("/paymentcancel/cancel", s.paymentCancel)
		r.Post("/paymentcheck/check", s.paymentCheck)
	})

	// Hosted form: no token, so per-IP throttling carries the weight.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(ratelimit.IPLimiter(rateLimitCfg))
		r.Get("/paymentform/{paymentId}", s.paymentFormPage)
		r.Post("/paymentform/process", s.paymentFormProcess)
	})

	// Admin surface, disabled entirely when no token is configured.
	if s.cfg.Server.AdminToken != "" {
		router.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Timeout(10 * time.Second))
			r.Use(adminAuth(s.cfg.Server.AdminToken))
			r.Get("/webhooks", s.adminListWebhooks)
			r.Get("/webhooks/{id}", s.adminGetWebhook)
			r.Post("/webhooks/{id}/retry", s.adminRetryWebhook)
			r.Delete("/webhooks/{id}", s.adminDeleteWebhook)
			r.Post("/merchants", s.adminUpsertMerchant)
		})
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
