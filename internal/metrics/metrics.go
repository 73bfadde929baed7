// Package metrics registers and exposes the gateway's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Payment lifecycle
	PaymentsInitTotal   *prometheus.CounterVec // team
	TransitionsTotal    *prometheus.CounterVec // from, to
	TransitionConflicts prometheus.Counter
	PaymentAmountTotal  *prometheus.CounterVec // team, currency
	OperationDuration   *prometheus.HistogramVec

	// Bank simulator
	BankCallsTotal   *prometheus.CounterVec // operation, outcome
	BankCallDuration *prometheus.HistogramVec

	// Webhook delivery
	WebhooksTotal       *prometheus.CounterVec // result
	WebhookRetriesTotal prometheus.Counter
	WebhookDLQTotal     prometheus.Counter
	WebhookDuration     prometheus.Histogram

	// Auth and rate limiting
	AuthFailuresTotal  *prometheus.CounterVec // reason
	RateLimitHitsTotal *prometheus.CounterVec // scope

	// Reaper and archival
	ReaperExpiredTotal   prometheus.Counter
	ArchivalRunsTotal    prometheus.Counter
	ArchivalRecordsMoved prometheus.Counter

	// Storage
	DBQueryDuration *prometheus.HistogramVec // operation, backend
}

// New creates and registers all gateway metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		PaymentsInitTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_payments_init_total",
				Help: "Payments created, by team",
			},
			[]string{"team"},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_transitions_total",
				Help: "Accepted state machine transitions",
			},
			[]string{"from", "to"},
		),
		TransitionConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_transition_conflicts_total",
				Help: "Optimistic concurrency conflicts on payment updates",
			},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_payment_amount_total",
				Help: "Confirmed payment amount in minor units",
			},
			[]string{"team", "currency"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_operation_duration_seconds",
				Help:    "End-to-end duration of public operations",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		BankCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_bank_calls_total",
				Help: "Acquirer calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		BankCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_bank_call_duration_seconds",
				Help:    "Acquirer call latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhooks_total",
				Help: "Webhook delivery attempts by result",
			},
			[]string{"result"},
		),
		WebhookRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_webhook_retries_total",
				Help: "Webhook deliveries scheduled for retry",
			},
		),
		WebhookDLQTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_webhook_dlq_total",
				Help: "Webhooks parked after exhausting retries",
			},
		),
		WebhookDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_webhook_duration_seconds",
				Help:    "Webhook POST latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		AuthFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_auth_failures_total",
				Help: "Authentication failures by reason",
			},
			[]string{"reason"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_hits_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"scope"},
		),
		ReaperExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_reaper_expired_total",
				Help: "Payments moved to DEADLINE_EXPIRED by the reaper",
			},
		),
		ArchivalRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_archival_runs_total",
				Help: "History archival sweeps executed",
			},
		),
		ArchivalRecordsMoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_archival_records_moved_total",
				Help: "Transition records moved to the archive table",
			},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_db_query_duration_seconds",
				Help:    "Storage operation latency by backend",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveOperation records one public operation's duration.
func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveBankCall records one acquirer call.
func (m *Metrics) ObserveBankCall(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BankCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.BankCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordTransition counts one accepted transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}
