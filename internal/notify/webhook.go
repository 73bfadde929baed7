// Package notify builds and delivers the signed merchant webhooks that
// announce accepted state transitions.
package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/cardflow/gateway/internal/payment"
	"github.com/cardflow/gateway/internal/storage"
)

// Webhook headers. The signature covers the exact body bytes.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
)

// DefaultMaxAttempts bounds retries per webhook.
const DefaultMaxAttempts = 7

// DefaultBackoffBase seeds the exponential retry schedule.
const DefaultBackoffBase = 30 * time.Second

// DefaultBackoffCap bounds a single retry delay so the whole schedule fits
// inside 24 hours.
const DefaultBackoffCap = 6 * time.Hour

// DefaultVisibilityTimeout is how long a claimed webhook may sit unresolved
// before the worker hands it back to the queue.
const DefaultVisibilityTimeout = 5 * time.Minute

// Payload is the webhook body the merchant receives.
type Payload struct {
	PaymentID string    `json:"paymentId"`
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
	AttemptID string    `json:"attemptId"`
}

// Sign computes the hex HMAC-SHA256 of body with the merchant secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature; merchants use the same code on
// their side.
func VerifySignature(body []byte, secret, signature string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// NewTransitionWebhook builds the queue entry announcing the payment's
// current status, signed with the merchant secret.
func NewTransitionWebhook(p payment.Payment, secret string, maxAttempts int, now time.Time) (storage.PendingWebhook, error) {
	if p.NotificationURL == "" {
		return storage.PendingWebhook{}, fmt.Errorf("notify: payment %s has no notification URL", p.ID)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	attemptID := "evt_" + uuid.NewString()
	body, err := json.Marshal(Payload{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Status:    string(p.Status),
		Amount:    p.Amount,
		Currency:  p.Currency,
		Timestamp: now.UTC(),
		AttemptID: attemptID,
	})
	if err != nil {
		return storage.PendingWebhook{}, fmt.Errorf("notify: marshal payload: %w", err)
	}

	return storage.PendingWebhook{
		ID:        attemptID,
		PaymentID: p.ID,
		URL:       p.NotificationURL,
		Payload:   body,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			HeaderSignature: Sign(body, secret),
			HeaderEvent:     string(p.Status),
			HeaderDelivery:  attemptID,
		},
		EventType:   string(p.Status),
		Status:      storage.WebhookStatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now.UTC(),
	}, nil
}

// Backoff returns the delay before the given retry: base·2^attempt plus up to
// 20% jitter, capped.
func Backoff(base time.Duration, attempt int, cap time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if cap <= 0 {
		cap = DefaultBackoffCap
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			delay = cap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	if delay+jitter > cap {
		return cap
	}
	return delay + jitter
}
