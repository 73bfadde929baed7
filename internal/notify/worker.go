package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/cardflow/gateway/internal/circuitbreaker"
	"github.com/cardflow/gateway/internal/httputil"
	"github.com/cardflow/gateway/internal/metrics"
	"github.com/cardflow/gateway/internal/storage"
)

// WorkerConfig tunes the delivery loop.
type WorkerConfig struct {
	PollInterval      time.Duration // how often the queue is polled
	BatchSize         int           // webhooks claimed per poll
	RequestTimeout    time.Duration // per-POST deadline
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	VisibilityTimeout time.Duration // claimed webhooks older than this go back to pending
}

// DefaultWorkerConfig returns the shipped delivery settings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:      5 * time.Second,
		BatchSize:         50,
		RequestTimeout:    10 * time.Second,
		BackoffBase:       DefaultBackoffBase,
		BackoffCap:        DefaultBackoffCap,
		VisibilityTimeout: DefaultVisibilityTimeout,
	}
}

// Worker drains the durable webhook queue. Deliveries are at-least-once: a
// crash between POST and MarkWebhookSuccess leaves the webhook claimed, the
// next poll past the visibility timeout returns it to pending and re-sends,
// and the attemptId lets merchants deduplicate.
type Worker struct {
	store    storage.Store
	client   *http.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	config   WorkerConfig
	log      zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWorker builds a delivery worker. breakers and m may be nil.
func NewWorker(store storage.Store, breakers *circuitbreaker.Manager, m *metrics.Metrics, cfg WorkerConfig, log zerolog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return &Worker{
		store:    store,
		client:   httputil.NewClient(cfg.RequestTimeout),
		breakers: breakers,
		metrics:  m,
		config:   cfg,
		log:      log.With().Str("component", "webhook_worker").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (w *Worker) Start() {
	go w.run()
}

// Close stops the loop and waits for the in-flight batch to finish.
func (w *Worker) Close() error {
	close(w.stop)
	<-w.done
	return nil
}

func (w *Worker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.drainOnce(context.Background())
		}
	}
}

// drainOnce claims and delivers one batch, after freeing claims abandoned by
// a crashed worker so they stop blocking their payment's queue.
func (w *Worker) drainOnce(ctx context.Context) {
	cutoff := time.Now().Add(-w.config.VisibilityTimeout)
	if reclaimed, err := w.store.ReclaimStaleWebhooks(ctx, cutoff); err != nil {
		w.log.Error().Err(err).Msg("reclaim stale webhooks failed")
	} else if reclaimed > 0 {
		w.log.Warn().Int64("reclaimed", reclaimed).Msg("stale webhook claims returned to pending")
	}

	batch, err := w.store.DequeueWebhooks(ctx, w.config.BatchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("dequeue webhooks failed")
		return
	}

	for _, webhook := range batch {
		select {
		case <-w.stop:
			return
		default:
		}
		w.deliver(ctx, webhook)
	}
}

func (w *Worker) deliver(ctx context.Context, webhook storage.PendingWebhook) {
	if err := w.store.MarkWebhookProcessing(ctx, webhook.ID); err != nil {
		w.log.Error().Err(err).Str("webhook_id", webhook.ID).Msg("claim webhook failed")
		return
	}

	start := time.Now()
	status, err := w.post(ctx, webhook)
	elapsed := time.Since(start)
	if w.metrics != nil {
		w.metrics.WebhookDuration.Observe(elapsed.Seconds())
	}

	switch classify(status, err) {
	case deliveryOK:
		if w.metrics != nil {
			w.metrics.WebhooksTotal.WithLabelValues("success").Inc()
		}
		if err := w.store.MarkWebhookSuccess(ctx, webhook.ID); err != nil {
			w.log.Error().Err(err).Str("webhook_id", webhook.ID).Msg("mark success failed")
		}
		w.log.Debug().
			Str("webhook_id", webhook.ID).
			Str("payment_id", webhook.PaymentID).
			Dur("elapsed", elapsed).
			Msg("webhook delivered")

	case deliveryPermanentFailure:
		if w.metrics != nil {
			w.metrics.WebhooksTotal.WithLabelValues("permanent_failure").Inc()
			w.metrics.WebhookDLQTotal.Inc()
		}
		msg := deliveryError(status, err)
		if err := w.store.FailWebhookPermanently(ctx, webhook.ID, msg); err != nil {
			w.log.Error().Err(err).Str("webhook_id", webhook.ID).Msg("mark permanent failure failed")
		}
		w.log.Warn().
			Str("webhook_id", webhook.ID).
			Str("payment_id", webhook.PaymentID).
			Str("error", msg).
			Msg("webhook permanently failed")

	default:
		msg := deliveryError(status, err)
		nextAttempt := time.Now().Add(Backoff(w.config.BackoffBase, webhook.Attempts, w.config.BackoffCap))
		if w.metrics != nil {
			w.metrics.WebhooksTotal.WithLabelValues("retry").Inc()
			w.metrics.WebhookRetriesTotal.Inc()
			if webhook.Attempts+1 >= webhook.MaxAttempts {
				w.metrics.WebhookDLQTotal.Inc()
			}
		}
		if err := w.store.MarkWebhookFailed(ctx, webhook.ID, msg, nextAttempt); err != nil {
			w.log.Error().Err(err).Str("webhook_id", webhook.ID).Msg("mark failure failed")
		}
		w.log.Warn().
			Str("webhook_id", webhook.ID).
			Str("payment_id", webhook.PaymentID).
			Int("attempt", webhook.Attempts+1).
			Time("next_attempt_at", nextAttempt).
			Str("error", msg).
			Msg("webhook delivery failed")
	}
}

// post sends the webhook and returns the response status code.
func (w *Worker) post(ctx context.Context, webhook storage.PendingWebhook) (int, error) {
	send := func() (any, error) {
		reqCtx, cancel := context.WithTimeout(ctx, w.config.RequestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, webhook.URL, bytes.NewReader(webhook.Payload))
		if err != nil {
			return 0, err
		}
		for key, value := range webhook.Headers {
			req.Header.Set(key, value)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			// Count 5xx as breaker failures.
			return resp.StatusCode, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
		}
		return resp.StatusCode, nil
	}

	if w.breakers == nil {
		out, err := send()
		return statusOf(out), err
	}
	out, err := w.breakers.Execute(circuitbreaker.ServiceWebhook, send)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return 0, fmt.Errorf("webhook circuit open")
	}
	return statusOf(out), err
}

func statusOf(out any) int {
	if code, ok := out.(int); ok {
		return code
	}
	return 0
}

type deliveryResult int

const (
	deliveryOK deliveryResult = iota
	deliveryRetry
	deliveryPermanentFailure
)

// classify applies the retry policy: 2xx succeeds; 4xx other than 408/429 is
// permanent; everything else (5xx, network errors, timeouts) retries.
func classify(status int, err error) deliveryResult {
	if err == nil && status >= 200 && status < 300 {
		return deliveryOK
	}
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return deliveryPermanentFailure
	}
	return deliveryRetry
}

func deliveryError(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("webhook endpoint returned %d", status)
}
