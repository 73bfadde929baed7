// Package reaper runs the background sweeps: deadline expiry and transition
// history archival.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardflow/gateway/internal/logger"
	"github.com/cardflow/gateway/internal/metrics"
	"github.com/cardflow/gateway/internal/storage"
)

// Expirer is the slice of the orchestrator the reaper drives.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// Config tunes the sweep cadence.
type Config struct {
	// Interval between expiry sweeps.
	Interval time.Duration
	// BatchSize caps how many payments one sweep may expire.
	BatchSize int
	// ArchiveAfter is how old a terminal payment's history must be before it
	// moves to the archive table. Zero disables archival.
	ArchiveAfter time.Duration
	// ArchiveInterval is the cadence of the archival sweep.
	ArchiveInterval time.Duration
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		BatchSize:       1000,
		ArchiveAfter:    90 * 24 * time.Hour,
		ArchiveInterval: time.Hour,
	}
}

// Reaper owns the background goroutine. Start it once; Close blocks until the
// loop drains.
type Reaper struct {
	expirer Expirer
	store   storage.Store
	metrics *metrics.Metrics
	config  Config
	log     zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a reaper. m may be nil.
func New(expirer Expirer, store storage.Store, m *metrics.Metrics, cfg Config, log zerolog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.ArchiveInterval <= 0 {
		cfg.ArchiveInterval = time.Hour
	}
	return &Reaper{
		expirer: expirer,
		store:   store,
		metrics: m,
		config:  cfg,
		log:     log.With().Str("component", "reaper").Logger(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (r *Reaper) Start() {
	go r.run()
	r.log.Info().
		Dur("interval", r.config.Interval).
		Int("batch_size", r.config.BatchSize).
		Msg("reaper started")
}

// Close stops the loop and waits for the in-flight sweep to finish.
func (r *Reaper) Close() error {
	close(r.stop)
	<-r.done
	return nil
}

func (r *Reaper) run() {
	defer close(r.done)

	expiry := time.NewTicker(r.config.Interval)
	defer expiry.Stop()
	archive := time.NewTicker(r.config.ArchiveInterval)
	defer archive.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-expiry.C:
			r.sweepExpired()
		case <-archive.C:
			r.sweepArchive()
		}
	}
}

func (r *Reaper) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.Interval)
	defer cancel()
	ctx = logger.WithContext(ctx, r.log)

	if _, err := r.expirer.ExpireDue(ctx, time.Now(), r.config.BatchSize); err != nil {
		r.log.Error().Err(err).Msg("expiry sweep failed")
	}
}

func (r *Reaper) sweepArchive() {
	if r.config.ArchiveAfter <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	moved, err := r.store.ArchiveTransitions(ctx, time.Now().Add(-r.config.ArchiveAfter))
	if err != nil {
		r.log.Error().Err(err).Msg("archival sweep failed")
		return
	}
	if r.metrics != nil {
		r.metrics.ArchivalRunsTotal.Inc()
		r.metrics.ArchivalRecordsMoved.Add(float64(moved))
	}
	if moved > 0 {
		r.log.Info().Int64("moved", moved).Msg("history archived")
	}
}
