// The gateway server: merchant API, hosted payment form, webhook delivery,
// and the expiry reaper in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cardflow/gateway/internal/bank"
	"github.com/cardflow/gateway/internal/circuitbreaker"
	"github.com/cardflow/gateway/internal/config"
	"github.com/cardflow/gateway/internal/dbpool"
	"github.com/cardflow/gateway/internal/gateway"
	"github.com/cardflow/gateway/internal/httpserver"
	"github.com/cardflow/gateway/internal/idempotency"
	"github.com/cardflow/gateway/internal/lifecycle"
	"github.com/cardflow/gateway/internal/logger"
	"github.com/cardflow/gateway/internal/merchant"
	"github.com/cardflow/gateway/internal/metrics"
	"github.com/cardflow/gateway/internal/notify"
	"github.com/cardflow/gateway/internal/reaper"
	"github.com/cardflow/gateway/internal/storage"
)

const serviceName = "cardflow-gateway"

var version = "dev" // set via -ldflags at build time

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to config YAML")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     serviceName,
		Version:     version,
		Environment: cfg.Logging.Environment,
	})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	resources := lifecycle.NewManager(log)
	defer func() {
		if err := resources.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown incomplete")
		}
	}()

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	// One postgres pool when both the store and the directory live there.
	var pool *dbpool.SharedPool
	if cfg.Storage.Backend == "postgres" && cfg.Merchants.Source == "postgres" &&
		cfg.Storage.PostgresURL == cfg.Merchants.PostgresURL {
		var err error
		pool, err = dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			return err
		}
		resources.Register("postgres-pool", pool)
		log.Info().Msg("sharing one postgres pool between store and directory")
	}

	store, err := buildStore(cfg, pool)
	if err != nil {
		return err
	}
	// Pool-sharing stores treat Close as a no-op, so this never double-closes.
	resources.Register("store", store)
	log.Info().Str("backend", storageBackend(cfg)).Msg("payment store ready")

	directory, err := buildDirectory(cfg, pool, log)
	if err != nil {
		return err
	}
	resources.Register("merchant-directory", directory)

	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		Enabled: cfg.CircuitBreaker.Enabled,
		Bank:    breakerConfig(cfg.CircuitBreaker.Bank),
		Webhook: breakerConfig(cfg.CircuitBreaker.Webhook),
	}, log)

	simulator := bank.NewSimulator()
	simulator.Latency = cfg.Bank.Latency.Duration
	acquirer := bank.NewBreakerAcquirer(simulator, breakers)

	idem := idempotency.NewStore(
		cfg.Idempotency.ShardCount,
		cfg.Idempotency.PerShardSize,
		cfg.Idempotency.TTL.Duration,
	)

	gw := gateway.New(store, directory, acquirer, idem, metricsCollector, gateway.Config{
		BaseURL:            cfg.Server.BaseURL,
		BankTimeout:        cfg.Bank.Timeout.Duration,
		WebhookMaxAttempts: cfg.Webhooks.MaxAttempts,
	})

	worker := notify.NewWorker(store, breakers, metricsCollector, notify.WorkerConfig{
		PollInterval:      cfg.Webhooks.PollInterval.Duration,
		BatchSize:         cfg.Webhooks.BatchSize,
		RequestTimeout:    cfg.Webhooks.RequestTimeout.Duration,
		BackoffBase:       cfg.Webhooks.BackoffBase.Duration,
		BackoffCap:        cfg.Webhooks.BackoffCap.Duration,
		VisibilityTimeout: cfg.Webhooks.VisibilityTimeout.Duration,
	}, log)
	worker.Start()
	resources.Register("webhook-worker", worker)

	sweeper := reaper.New(gw, store, metricsCollector, reaperConfig(cfg), log)
	sweeper.Start()
	resources.Register("reaper", sweeper)

	server := httpserver.New(cfg, gw, store, directory, metricsCollector, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func buildStore(cfg *config.Config, pool *dbpool.SharedPool) (storage.Store, error) {
	storeCfg := storage.StoreConfig{
		Backend:         cfg.Storage.Backend,
		PostgresURL:     cfg.Storage.PostgresURL,
		MongoDBURL:      cfg.Storage.MongoDBURL,
		MongoDBDatabase: cfg.Storage.MongoDBDatabase,
	}
	if pool != nil {
		return storage.NewStoreWithDB(storeCfg, pool.DB())
	}
	return storage.NewStore(storeCfg)
}

func buildDirectory(cfg *config.Config, pool *dbpool.SharedPool, log zerolog.Logger) (merchant.Directory, error) {
	policy := merchant.LockoutPolicy{
		MaxFailures: cfg.Merchants.Lockout.MaxFailures,
		Window:      cfg.Merchants.Lockout.Window.Duration,
		Cooldown:    cfg.Merchants.Lockout.Cooldown.Duration,
	}

	var (
		directory merchant.Directory
		err       error
	)
	switch cfg.Merchants.Source {
	case "postgres":
		if pool != nil {
			directory, err = merchant.NewPostgresDirectoryWithDB(pool.DB(), policy)
		} else {
			directory, err = merchant.NewPostgresDirectory(cfg.Merchants.PostgresURL, policy)
		}
		if err != nil {
			return nil, err
		}
	default:
		mem := merchant.NewMemoryDirectory(policy)
		for _, seed := range cfg.Merchants.Seed {
			m := merchant.Merchant{
				TeamID:              seed.TeamID,
				TeamSlug:            seed.TeamSlug,
				Secret:              seed.Secret,
				IsActive:            seed.Active,
				SupportedCurrencies: seed.SupportedCurrencies,
				MinPerPayment:       seed.MinPerPayment,
				MaxPerPayment:       seed.MaxPerPayment,
				DailyTotal:          seed.DailyTotal,
				DailyCount:          seed.DailyCount,
				SuccessURL:          seed.SuccessURL,
				FailURL:             seed.FailURL,
				NotificationURL:     seed.NotificationURL,
				CreatedAt:           time.Now(),
			}
			if err := mem.Upsert(context.Background(), m); err != nil {
				return nil, err
			}
			log.Info().Str("team_slug", seed.TeamSlug).Msg("seeded merchant")
		}
		directory = mem
	}

	if ttl := cfg.Merchants.CacheTTL.Duration; ttl > 0 {
		directory = merchant.NewCachedDirectory(directory, ttl)
	}
	return directory, nil
}

func breakerConfig(c config.BreakerServiceConfig) circuitbreaker.BreakerConfig {
	return circuitbreaker.BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval.Duration,
		Timeout:             c.Timeout.Duration,
		ConsecutiveFailures: c.ConsecutiveFailures,
		FailureRatio:        c.FailureRatio,
		MinRequests:         c.MinRequests,
	}
}

func reaperConfig(cfg *config.Config) reaper.Config {
	rc := reaper.Config{
		Interval:  cfg.Reaper.Interval.Duration,
		BatchSize: cfg.Reaper.BatchSize,
	}
	if cfg.Storage.Archival.Enabled {
		rc.ArchiveAfter = cfg.Storage.Archival.RetentionPeriod.Duration
		rc.ArchiveInterval = cfg.Storage.Archival.RunInterval.Duration
	}
	return rc
}

func storageBackend(cfg *config.Config) string {
	if cfg.Storage.Backend != "" {
		return cfg.Storage.Backend
	}
	switch {
	case cfg.Storage.PostgresURL != "":
		return "postgres"
	case cfg.Storage.MongoDBURL != "":
		return "mongodb"
	default:
		return "memory"
	}
}
