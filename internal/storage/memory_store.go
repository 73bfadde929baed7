package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cardflow/gateway/internal/payment"
)

// MemoryStore is an in-memory Store for tests and development. It loses the
// webhook queue on restart, so it must not back a production deployment.
type MemoryStore struct {
	mu sync.RWMutex

	payments   map[string]payment.Payment // by paymentID
	orderIndex map[orderKey]string        // (teamID, orderID) -> paymentID

	transitions map[string][]payment.Transition
	archived    []payment.Transition

	transactions map[string][]payment.Transaction

	webhooks map[string]PendingWebhook
	nextSeq  int64

	now func() time.Time
}

type orderKey struct {
	teamID  string
	orderID string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:     make(map[string]payment.Payment),
		orderIndex:   make(map[orderKey]string),
		transitions:  make(map[string][]payment.Transition),
		transactions: make(map[string][]payment.Transaction),
		webhooks:     make(map[string]PendingWebhook),
		now:          time.Now,
	}
}

// CreatePayment inserts a new payment, enforcing both uniqueness contracts.
func (s *MemoryStore) CreatePayment(_ context.Context, p payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return ErrDuplicateID
	}
	key := orderKey{teamID: p.TeamID, orderID: p.OrderID}
	if _, exists := s.orderIndex[key]; exists {
		return ErrDuplicateOrder
	}

	s.payments[p.ID] = p
	s.orderIndex[key] = p.ID
	return nil
}

// GetPayment returns a payment by its gateway identifier.
func (s *MemoryStore) GetPayment(_ context.Context, paymentID string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return payment.Payment{}, ErrNotFound
	}
	return p, nil
}

// GetPaymentByOrderID returns a payment by the merchant's order identifier.
func (s *MemoryStore) GetPaymentByOrderID(_ context.Context, teamID, orderID string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.orderIndex[orderKey{teamID: teamID, orderID: orderID}]
	if !ok {
		return payment.Payment{}, ErrNotFound
	}
	return s.payments[id], nil
}

// UpdatePayment saves p and appends tr atomically under optimistic locking.
func (s *MemoryStore) UpdatePayment(_ context.Context, p *payment.Payment, tr payment.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.payments[p.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != p.Version {
		return ErrVersionConflict
	}

	p.Version++
	s.payments[p.ID] = *p
	s.transitions[p.ID] = append(s.transitions[p.ID], tr)
	return nil
}

// ListTransitions returns the payment's history in append order.
func (s *MemoryStore) ListTransitions(_ context.Context, paymentID string) ([]payment.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.transitions[paymentID]
	out := make([]payment.Transition, len(history))
	copy(out, history)
	return out, nil
}

// ArchiveTransitions moves history of terminal payments past the cutoff.
func (s *MemoryStore) ArchiveTransitions(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var moved int64
	for id, history := range s.transitions {
		p, ok := s.payments[id]
		if !ok || !p.Status.IsTerminal() {
			continue
		}
		var keep []payment.Transition
		for _, tr := range history {
			if tr.Timestamp.Before(olderThan) {
				s.archived = append(s.archived, tr)
				moved++
			} else {
				keep = append(keep, tr)
			}
		}
		if len(keep) == 0 {
			delete(s.transitions, id)
		} else {
			s.transitions[id] = keep
		}
	}
	return moved, nil
}

// ExpiredCandidates returns payments past their deadline, oldest first.
func (s *MemoryStore) ExpiredCandidates(_ context.Context, now time.Time, limit int) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []payment.Payment
	for _, p := range s.payments {
		if statusIn(p.Status, expirableStatuses) && p.Expired(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DailyStats aggregates the team's settled amount and created count.
func (s *MemoryStore) DailyStats(_ context.Context, teamID string, dayStart, dayEnd time.Time) (int64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	var count int
	for _, p := range s.payments {
		if p.TeamID != teamID || p.CreatedAt.Before(dayStart) || !p.CreatedAt.Before(dayEnd) {
			continue
		}
		count++
		if statusIn(p.Status, settledStatuses) {
			total += p.Amount
		}
	}
	return total, count, nil
}

// RecordTransaction appends one bank interaction record.
func (s *MemoryStore) RecordTransaction(_ context.Context, tx payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = "txn_" + uuid.NewString()
	}
	s.transactions[tx.PaymentID] = append(s.transactions[tx.PaymentID], tx)
	return nil
}

// ListTransactions returns the payment's bank log in append order.
func (s *MemoryStore) ListTransactions(_ context.Context, paymentID string) ([]payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.transactions[paymentID]
	out := make([]payment.Transaction, len(log))
	copy(out, log)
	return out, nil
}

// EnqueueWebhook adds a webhook to the queue and returns its ID.
func (s *MemoryStore) EnqueueWebhook(_ context.Context, webhook PendingWebhook) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if webhook.ID == "" {
		webhook.ID = "wh_" + uuid.NewString()
	}
	s.nextSeq++
	webhook.Seq = s.nextSeq
	if webhook.Status == "" {
		webhook.Status = WebhookStatusPending
	}
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = s.now().UTC()
	}
	s.webhooks[webhook.ID] = webhook
	return webhook.ID, nil
}

// DequeueWebhooks returns ready webhooks respecting per-payment FIFO.
func (s *MemoryStore) DequeueWebhooks(_ context.Context, limit int) ([]PendingWebhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := make([]PendingWebhook, 0, len(s.webhooks))
	for _, w := range s.webhooks {
		sorted = append(sorted, w)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	return selectEligible(sorted, s.now(), limit), nil
}

// MarkWebhookProcessing claims a webhook for delivery. The claim time lets
// ReclaimStaleWebhooks spot abandoned claims.
func (s *MemoryStore) MarkWebhookProcessing(_ context.Context, webhookID string) error {
	return s.updateWebhook(webhookID, func(w *PendingWebhook) {
		w.Status = WebhookStatusProcessing
		w.LastAttemptAt = s.now().UTC()
	})
}

// ReclaimStaleWebhooks returns webhooks stuck in processing since before the
// cutoff to pending. Delivery is at-least-once, so the re-send is safe.
func (s *MemoryStore) ReclaimStaleWebhooks(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reclaimed int64
	for id, w := range s.webhooks {
		if w.Status == WebhookStatusProcessing && w.LastAttemptAt.Before(cutoff) {
			w.Status = WebhookStatusPending
			s.webhooks[id] = w
			reclaimed++
		}
	}
	return reclaimed, nil
}

// MarkWebhookSuccess records a completed delivery.
func (s *MemoryStore) MarkWebhookSuccess(_ context.Context, webhookID string) error {
	return s.updateWebhook(webhookID, func(w *PendingWebhook) {
		now := s.now().UTC()
		w.Status = WebhookStatusSuccess
		w.CompletedAt = &now
	})
}

// MarkWebhookFailed records a failed attempt; exhausted webhooks go to the DLQ.
func (s *MemoryStore) MarkWebhookFailed(_ context.Context, webhookID, errorMsg string, nextAttemptAt time.Time) error {
	return s.updateWebhook(webhookID, func(w *PendingWebhook) {
		now := s.now().UTC()
		w.Attempts++
		w.LastError = errorMsg
		w.LastAttemptAt = now
		if w.Attempts >= w.MaxAttempts {
			w.Status = WebhookStatusFailed
			w.CompletedAt = &now
		} else {
			w.Status = WebhookStatusPending
			w.NextAttemptAt = nextAttemptAt
		}
	})
}

// FailWebhookPermanently parks the webhook in the DLQ immediately.
func (s *MemoryStore) FailWebhookPermanently(_ context.Context, webhookID, errorMsg string) error {
	return s.updateWebhook(webhookID, func(w *PendingWebhook) {
		now := s.now().UTC()
		w.Attempts++
		w.LastError = errorMsg
		w.LastAttemptAt = now
		w.Status = WebhookStatusFailed
		w.CompletedAt = &now
	})
}

// GetWebhook returns one webhook by ID.
func (s *MemoryStore) GetWebhook(_ context.Context, webhookID string) (PendingWebhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[webhookID]
	if !ok {
		return PendingWebhook{}, ErrNotFound
	}
	return w, nil
}

// ListWebhooks lists queue entries, optionally filtered by status.
func (s *MemoryStore) ListWebhooks(_ context.Context, status WebhookStatus, limit int) ([]PendingWebhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PendingWebhook
	for _, w := range s.webhooks {
		if status != "" && w.Status != status {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RetryWebhook resets a webhook to pending for manual redelivery.
func (s *MemoryStore) RetryWebhook(_ context.Context, webhookID string) error {
	return s.updateWebhook(webhookID, func(w *PendingWebhook) {
		w.Status = WebhookStatusPending
		w.Attempts = 0
		w.LastError = ""
		w.NextAttemptAt = time.Time{}
		w.CompletedAt = nil
	})
}

// DeleteWebhook removes a webhook from the queue.
func (s *MemoryStore) DeleteWebhook(_ context.Context, webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[webhookID]; !ok {
		return ErrNotFound
	}
	delete(s.webhooks, webhookID)
	return nil
}

func (s *MemoryStore) updateWebhook(webhookID string, mutate func(*PendingWebhook)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[webhookID]
	if !ok {
		return ErrNotFound
	}
	mutate(&w)
	s.webhooks[webhookID] = w
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
