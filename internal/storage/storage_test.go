package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cardflow/gateway/internal/payment"
)

func testPayment(id, teamID, orderID string) payment.Payment {
	return payment.Payment{
		ID:            id,
		TeamID:        teamID,
		OrderID:       orderID,
		Amount:        100000,
		Currency:      "RUB",
		PayType:       payment.PayTypeSingleStage,
		PaymentExpiry: 15,
		MaxAttempts:   payment.DefaultMaxAttempts,
		CreatedAt:     time.Now().UTC(),
		Status:        payment.StatusInit,
	}
}

func TestCreatePaymentUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreatePayment(ctx, testPayment("11111111111111111111", "team-1", "order-1")); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if err := s.CreatePayment(ctx, testPayment("11111111111111111111", "team-2", "order-2")); err != ErrDuplicateID {
		t.Errorf("duplicate id error = %v, want ErrDuplicateID", err)
	}
	if err := s.CreatePayment(ctx, testPayment("22222222222222222222", "team-1", "order-1")); err != ErrDuplicateOrder {
		t.Errorf("duplicate order error = %v, want ErrDuplicateOrder", err)
	}
	// Same orderId under a different team is fine.
	if err := s.CreatePayment(ctx, testPayment("33333333333333333333", "team-2", "order-1")); err != nil {
		t.Errorf("cross-team orderId rejected: %v", err)
	}
}

func TestGetPaymentByOrderID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := testPayment("11111111111111111111", "team-1", "order-1")
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	got, err := s.GetPaymentByOrderID(ctx, "team-1", "order-1")
	if err != nil {
		t.Fatalf("GetPaymentByOrderID: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("ID = %q, want %q", got.ID, p.ID)
	}

	if _, err := s.GetPaymentByOrderID(ctx, "team-1", "missing"); err != ErrNotFound {
		t.Errorf("missing order error = %v, want ErrNotFound", err)
	}
}

func TestUpdatePaymentOptimisticLocking(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := testPayment("11111111111111111111", "team-1", "order-1")
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	now := time.Now().UTC()
	tr := payment.Transition{PaymentID: p.ID, FromStatus: payment.StatusInit, ToStatus: payment.StatusNew, Timestamp: now, Actor: "merchant"}
	p.Status = payment.StatusNew
	if err := s.UpdatePayment(ctx, &p, tr); err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}
	if p.Version != 1 {
		t.Errorf("Version = %d after update, want 1", p.Version)
	}

	// A writer holding the stale version must lose.
	stale := p
	stale.Version = 0
	stale.Status = payment.StatusCancelled
	err := s.UpdatePayment(ctx, &stale, payment.Transition{PaymentID: p.ID, FromStatus: payment.StatusNew, ToStatus: payment.StatusCancelled, Timestamp: now, Actor: "merchant"})
	if err != ErrVersionConflict {
		t.Errorf("stale update error = %v, want ErrVersionConflict", err)
	}

	history, err := s.ListTransitions(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1 (failed update must not append)", len(history))
	}
}

func TestExpiredCandidates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	expired := testPayment("11111111111111111111", "team-1", "order-1")
	expired.Status = payment.StatusNew
	expired.ExpiresAt = now.Add(-time.Minute)

	fresh := testPayment("22222222222222222222", "team-1", "order-2")
	fresh.Status = payment.StatusNew
	fresh.ExpiresAt = now.Add(time.Hour)

	settled := testPayment("33333333333333333333", "team-1", "order-3")
	settled.Status = payment.StatusConfirmed
	settled.ExpiresAt = now.Add(-time.Minute)

	for _, p := range []payment.Payment{expired, fresh, settled} {
		if err := s.CreatePayment(ctx, p); err != nil {
			t.Fatalf("CreatePayment: %v", err)
		}
	}

	got, err := s.ExpiredCandidates(ctx, now, 100)
	if err != nil {
		t.Fatalf("ExpiredCandidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != expired.ID {
		t.Errorf("candidates = %v, want only %s", got, expired.ID)
	}
}

func TestDailyStats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	dayStart := now.Truncate(24 * time.Hour)

	confirmed := testPayment("11111111111111111111", "team-1", "order-1")
	confirmed.Status = payment.StatusConfirmed
	confirmed.Amount = 60000

	pending := testPayment("22222222222222222222", "team-1", "order-2")
	pending.Status = payment.StatusNew

	otherTeam := testPayment("33333333333333333333", "team-2", "order-1")
	otherTeam.Status = payment.StatusConfirmed

	for _, p := range []payment.Payment{confirmed, pending, otherTeam} {
		p.CreatedAt = now
		if err := s.CreatePayment(ctx, p); err != nil {
			t.Fatalf("CreatePayment: %v", err)
		}
	}

	total, count, err := s.DailyStats(ctx, "team-1", dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DailyStats: %v", err)
	}
	if total != 60000 {
		t.Errorf("total = %d, want 60000 (only settled statuses count)", total)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func enqueueTest(t *testing.T, s *MemoryStore, paymentID string) string {
	t.Helper()
	id, err := s.EnqueueWebhook(context.Background(), PendingWebhook{
		PaymentID:   paymentID,
		URL:         "https://merchant.example/hook",
		Payload:     json.RawMessage(`{"ok":true}`),
		EventType:   "CONFIRMED",
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	return id
}

func TestDequeuePerPaymentFIFO(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := enqueueTest(t, s, "11111111111111111111")
	second := enqueueTest(t, s, "11111111111111111111")
	other := enqueueTest(t, s, "22222222222222222222")

	ready, err := s.DequeueWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueWebhooks: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("ready = %d webhooks, want 2 (second for same payment held back)", len(ready))
	}
	ids := map[string]bool{ready[0].ID: true, ready[1].ID: true}
	if !ids[first] || !ids[other] || ids[second] {
		t.Errorf("ready set = %v, want {%s, %s}", ids, first, other)
	}

	// While the first is processing, the second stays held back.
	if err := s.MarkWebhookProcessing(ctx, first); err != nil {
		t.Fatalf("MarkWebhookProcessing: %v", err)
	}
	ready, _ = s.DequeueWebhooks(ctx, 10)
	for _, w := range ready {
		if w.ID == second {
			t.Fatal("second webhook dequeued while first still processing")
		}
	}

	// Once the first succeeds, the second becomes eligible.
	if err := s.MarkWebhookSuccess(ctx, first); err != nil {
		t.Fatalf("MarkWebhookSuccess: %v", err)
	}
	ready, _ = s.DequeueWebhooks(ctx, 10)
	found := false
	for _, w := range ready {
		if w.ID == second {
			found = true
		}
	}
	if !found {
		t.Error("second webhook not dequeued after first delivered")
	}
}

func TestMarkWebhookFailedSchedulesRetryThenDLQ(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id := enqueueTest(t, s, "11111111111111111111")
	retryAt := time.Now().Add(time.Hour)

	for i := 0; i < 2; i++ {
		if err := s.MarkWebhookFailed(ctx, id, "connection refused", retryAt); err != nil {
			t.Fatalf("MarkWebhookFailed: %v", err)
		}
		w, _ := s.GetWebhook(ctx, id)
		if w.Status != WebhookStatusPending {
			t.Fatalf("status = %s after %d failures, want pending", w.Status, i+1)
		}
	}

	// Future retry time keeps it out of the ready set.
	ready, _ := s.DequeueWebhooks(ctx, 10)
	if len(ready) != 0 {
		t.Errorf("ready = %d webhooks before retry time, want 0", len(ready))
	}

	// Third failure exhausts maxAttempts=3.
	if err := s.MarkWebhookFailed(ctx, id, "connection refused", retryAt); err != nil {
		t.Fatalf("MarkWebhookFailed: %v", err)
	}
	w, _ := s.GetWebhook(ctx, id)
	if w.Status != WebhookStatusFailed || !w.IsFinallyFailed() {
		t.Errorf("webhook not parked in DLQ: status=%s attempts=%d", w.Status, w.Attempts)
	}
	if w.CompletedAt == nil {
		t.Error("CompletedAt not stamped on final failure")
	}

	// Manual retry resurrects it.
	if err := s.RetryWebhook(ctx, id); err != nil {
		t.Fatalf("RetryWebhook: %v", err)
	}
	ready, _ = s.DequeueWebhooks(ctx, 10)
	if len(ready) != 1 || ready[0].ID != id {
		t.Errorf("retried webhook not dequeued: %v", ready)
	}
}

func TestReclaimStaleWebhooks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := enqueueTest(t, s, "11111111111111111111")
	second := enqueueTest(t, s, "11111111111111111111")

	// A worker crash mid-delivery leaves the claim behind; the payment's later
	// webhooks are blocked behind it.
	claimed := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return claimed }
	if err := s.MarkWebhookProcessing(ctx, first); err != nil {
		t.Fatalf("MarkWebhookProcessing: %v", err)
	}
	s.now = time.Now

	ready, err := s.DequeueWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueWebhooks: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("ready = %d webhooks behind the dead claim, want 0", len(ready))
	}

	reclaimed, err := s.ReclaimStaleWebhooks(ctx, time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStaleWebhooks: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	// FIFO holds: the reclaimed webhook comes back ahead of its successor.
	ready, _ = s.DequeueWebhooks(ctx, 10)
	if len(ready) != 1 || ready[0].ID != first {
		t.Fatalf("ready = %v, want the reclaimed %s ahead of %s", ready, first, second)
	}

	// A live claim stays claimed.
	if err := s.MarkWebhookProcessing(ctx, first); err != nil {
		t.Fatalf("MarkWebhookProcessing: %v", err)
	}
	reclaimed, _ = s.ReclaimStaleWebhooks(ctx, time.Now().Add(-5*time.Minute))
	if reclaimed != 0 {
		t.Errorf("reclaimed = %d for a live claim, want 0", reclaimed)
	}
}

func TestArchiveTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	done := testPayment("11111111111111111111", "team-1", "order-1")
	live := testPayment("22222222222222222222", "team-1", "order-2")
	for _, p := range []payment.Payment{done, live} {
		if err := s.CreatePayment(ctx, p); err != nil {
			t.Fatalf("CreatePayment: %v", err)
		}
	}

	old := now.Add(-48 * time.Hour)
	step := func(p *payment.Payment, to payment.Status, ts time.Time) {
		tr := payment.Transition{PaymentID: p.ID, FromStatus: p.Status, ToStatus: to, Timestamp: ts, Actor: "merchant"}
		p.Status = to
		if err := s.UpdatePayment(ctx, p, tr); err != nil {
			t.Fatalf("UpdatePayment: %v", err)
		}
	}
	step(&done, payment.StatusNew, old)
	step(&done, payment.StatusCancelled, old)
	step(&live, payment.StatusNew, old)

	moved, err := s.ArchiveTransitions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ArchiveTransitions: %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2 (live payment history stays)", moved)
	}

	history, _ := s.ListTransitions(ctx, done.ID)
	if len(history) != 0 {
		t.Errorf("terminal payment history not archived: %d entries left", len(history))
	}
	history, _ = s.ListTransitions(ctx, live.ID)
	if len(history) != 1 {
		t.Errorf("live payment history touched: %d entries", len(history))
	}
}
