package storage

import (
	"encoding/json"
	"time"
)

// WebhookStatus represents the current state of a webhook in the queue.
type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"    // waiting for delivery
	WebhookStatusProcessing WebhookStatus = "processing" // currently being delivered
	WebhookStatusFailed     WebhookStatus = "failed"     // exhausted all retries (DLQ)
	WebhookStatusSuccess    WebhookStatus = "success"    // delivered
)

// PendingWebhook is one notification waiting for delivery or retry. Rows are
// persisted so delivery survives restarts. Seq is assigned by the store at
// enqueue time and orders webhooks of the same payment.
type PendingWebhook struct {
	ID        string            `json:"id"`
	Seq       int64             `json:"seq"`
	PaymentID string            `json:"paymentId"`
	URL       string            `json:"url"`
	Payload   json.RawMessage   `json:"payload"`
	Headers   map[string]string `json:"headers"`
	EventType string            `json:"eventType"` // the payment status being announced

	Status      WebhookStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"maxAttempts"`
	LastError   string        `json:"lastError"`

	LastAttemptAt time.Time  `json:"lastAttemptAt"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt"`
}

// IsReadyForDelivery reports whether the webhook should be processed now.
func (w PendingWebhook) IsReadyForDelivery(now time.Time) bool {
	if w.Status != WebhookStatusPending {
		return false
	}
	return w.NextAttemptAt.IsZero() || !now.Before(w.NextAttemptAt)
}

// IsFinallyFailed reports whether the webhook has exhausted all retries.
func (w PendingWebhook) IsFinallyFailed() bool {
	return w.Status == WebhookStatusFailed && w.Attempts >= w.MaxAttempts
}

// selectEligible applies the per-payment FIFO rule to webhooks sorted by Seq:
// a webhook is eligible only if it is pending, ready, and no earlier webhook
// of the same payment is still in flight. The memory and mongodb backends
// share this; postgres expresses the same rule in SQL.
func selectEligible(sorted []PendingWebhook, now time.Time, limit int) []PendingWebhook {
	var out []PendingWebhook
	seen := make(map[string]bool)
	for _, w := range sorted {
		if w.Status != WebhookStatusPending && w.Status != WebhookStatusProcessing {
			continue
		}
		if seen[w.PaymentID] {
			continue
		}
		seen[w.PaymentID] = true
		if w.IsReadyForDelivery(now) {
			out = append(out, w)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}
