// Package storage persists payments, their transition history, bank
// transactions, and the durable webhook delivery queue.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cardflow/gateway/internal/payment"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateOrder is returned when (teamId, orderId) is already taken by a
// live payment.
var ErrDuplicateOrder = errors.New("storage: duplicate orderId for team")

// ErrDuplicateID is returned when a generated paymentId collides.
var ErrDuplicateID = errors.New("storage: duplicate payment id")

// ErrVersionConflict is returned when an optimistic update lost the race:
// the stored version no longer matches the one the caller loaded.
var ErrVersionConflict = errors.New("storage: version conflict")

// Store captures the persistence requirements of the gateway.
//
// UpdatePayment is the single write path for state transitions: it is atomic
// with the history append, guarded by the payment's version column, and on
// success increments the caller's in-memory version to match the store.
type Store interface {
	// Payment lifecycle
	CreatePayment(ctx context.Context, p payment.Payment) error
	GetPayment(ctx context.Context, paymentID string) (payment.Payment, error)
	GetPaymentByOrderID(ctx context.Context, teamID, orderID string) (payment.Payment, error)
	// UpdatePayment persists p and appends tr in one atomic step, using
	// p.Version for optimistic concurrency. Returns ErrVersionConflict when a
	// concurrent writer got there first.
	UpdatePayment(ctx context.Context, p *payment.Payment, tr payment.Transition) error

	// Transition history (append-only, written via UpdatePayment)
	ListTransitions(ctx context.Context, paymentID string) ([]payment.Transition, error)
	// ArchiveTransitions moves history entries of terminal payments older than
	// the cutoff out of the hot table. Returns the archived count.
	ArchiveTransitions(ctx context.Context, olderThan time.Time) (int64, error)

	// ExpiredCandidates returns up to limit payments whose deadline has passed
	// while still in a pre-authorization status.
	ExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]payment.Payment, error)

	// DailyStats returns the amount sum of settled payments and the count of
	// all payments the team created inside [dayStart, dayEnd).
	DailyStats(ctx context.Context, teamID string, dayStart, dayEnd time.Time) (total int64, count int, err error)

	// Bank transaction log
	RecordTransaction(ctx context.Context, tx payment.Transaction) error
	ListTransactions(ctx context.Context, paymentID string) ([]payment.Transaction, error)

	// Webhook queue operations for durable at-least-once delivery.
	// EnqueueWebhook adds a webhook to the delivery queue (returns webhook ID).
	EnqueueWebhook(ctx context.Context, webhook PendingWebhook) (string, error)
	// DequeueWebhooks retrieves webhooks ready for delivery, preserving
	// per-payment FIFO: a payment's later webhooks are held back until its
	// earlier ones finish.
	DequeueWebhooks(ctx context.Context, limit int) ([]PendingWebhook, error)
	MarkWebhookProcessing(ctx context.Context, webhookID string) error
	MarkWebhookSuccess(ctx context.Context, webhookID string) error
	// ReclaimStaleWebhooks returns webhooks claimed before the cutoff but never
	// resolved back to pending, so deliveries interrupted by a crash retry
	// instead of blocking the payment's queue forever. Returns the reclaimed
	// count.
	ReclaimStaleWebhooks(ctx context.Context, cutoff time.Time) (int64, error)
	// MarkWebhookFailed records a failed attempt and schedules the retry, or
	// parks the webhook in the DLQ once attempts are exhausted.
	MarkWebhookFailed(ctx context.Context, webhookID string, errorMsg string, nextAttemptAt time.Time) error
	// FailWebhookPermanently parks the webhook in the DLQ immediately,
	// regardless of remaining attempts (non-retryable 4xx responses).
	FailWebhookPermanently(ctx context.Context, webhookID string, errorMsg string) error
	GetWebhook(ctx context.Context, webhookID string) (PendingWebhook, error)
	ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]PendingWebhook, error)
	// RetryWebhook resets a webhook to pending for manual redelivery.
	RetryWebhook(ctx context.Context, webhookID string) error
	DeleteWebhook(ctx context.Context, webhookID string) error

	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend         string // "memory", "postgres", or "mongodb"
	PostgresURL     string
	MongoDBURL      string
	MongoDBDatabase string
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store, reusing sharedDB for the postgres backend
// when non-nil so the process holds a single connection pool.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB)
		}
		return NewPostgresStore(cfg.PostgresURL)
	case "mongodb":
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
	case "":
		// Auto-detect from the provided connection strings.
		if cfg.PostgresURL != "" {
			if sharedDB != nil {
				return NewPostgresStoreWithDB(sharedDB)
			}
			return NewPostgresStore(cfg.PostgresURL)
		}
		if cfg.MongoDBURL != "" {
			return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
		}
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// expirableStatuses are the statuses the reaper may move to DEADLINE_EXPIRED.
var expirableStatuses = []payment.Status{
	payment.StatusInit,
	payment.StatusNew,
	payment.StatusFormShowed,
}

// settledStatuses count toward the merchant's daily amount total.
var settledStatuses = []payment.Status{
	payment.StatusConfirmed,
	payment.StatusRefunded,
	payment.StatusPartialRefunded,
}

func statusIn(s payment.Status, set []payment.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
