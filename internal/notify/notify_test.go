package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardflow/gateway/internal/payment"
	"github.com/cardflow/gateway/internal/storage"
)

func testWebhookPayment(url string) payment.Payment {
	return payment.Payment{
		ID:              "12345678901234567890",
		OrderID:         "order-1",
		Amount:          100000,
		Currency:        "RUB",
		Status:          payment.StatusConfirmed,
		NotificationURL: url,
	}
}

func TestNewTransitionWebhook(t *testing.T) {
	now := time.Now()
	w, err := NewTransitionWebhook(testWebhookPayment("https://merchant.example/hook"), "s3cret", 0, now)
	if err != nil {
		t.Fatalf("NewTransitionWebhook: %v", err)
	}

	if w.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", w.MaxAttempts, DefaultMaxAttempts)
	}
	if w.EventType != "CONFIRMED" || w.Headers[HeaderEvent] != "CONFIRMED" {
		t.Errorf("event = %s / %s, want CONFIRMED", w.EventType, w.Headers[HeaderEvent])
	}
	if w.Headers[HeaderDelivery] != w.ID {
		t.Errorf("delivery header %s != webhook id %s", w.Headers[HeaderDelivery], w.ID)
	}

	var body Payload
	if err := json.Unmarshal(w.Payload, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if body.PaymentID != "12345678901234567890" || body.Status != "CONFIRMED" || body.Amount != 100000 {
		t.Errorf("payload = %+v", body)
	}
	if body.AttemptID != w.ID {
		t.Errorf("attemptId %s != webhook id %s", body.AttemptID, w.ID)
	}

	if !VerifySignature(w.Payload, "s3cret", w.Headers[HeaderSignature]) {
		t.Error("signature does not verify with the merchant secret")
	}
	if VerifySignature(w.Payload, "wrong", w.Headers[HeaderSignature]) {
		t.Error("signature verifies with the wrong secret")
	}
}

func TestNewTransitionWebhookRequiresURL(t *testing.T) {
	if _, err := NewTransitionWebhook(testWebhookPayment(""), "s3cret", 3, time.Now()); err == nil {
		t.Error("webhook built without a notification URL")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	base := 30 * time.Second
	cap := 6 * time.Hour

	prev := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		d := Backoff(base, attempt, cap)
		floor := base << attempt
		if d < floor {
			t.Errorf("attempt %d: delay %s below base schedule %s", attempt, d, floor)
		}
		if d > cap {
			t.Errorf("attempt %d: delay %s above cap", attempt, d)
		}
		if d < prev/2 {
			t.Errorf("attempt %d: delay %s shrank from %s", attempt, d, prev)
		}
		prev = d
	}

	if d := Backoff(base, 60, cap); d != cap {
		t.Errorf("huge attempt delay = %s, want cap %s", d, cap)
	}
}

func newTestWorker(store storage.Store) *Worker {
	cfg := DefaultWorkerConfig()
	cfg.RequestTimeout = time.Second
	return NewWorker(store, nil, nil, cfg, zerolog.Nop())
}

func enqueue(t *testing.T, store storage.Store, url string, maxAttempts int) string {
	t.Helper()
	p := testWebhookPayment(url)
	w, err := NewTransitionWebhook(p, "s3cret", maxAttempts, time.Now())
	if err != nil {
		t.Fatalf("NewTransitionWebhook: %v", err)
	}
	id, err := store.EnqueueWebhook(context.Background(), w)
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	return id
}

func TestWorkerDeliversAndSigns(t *testing.T) {
	var gotSignature atomic.Value
	var gotBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		gotBody.Store(body)
		gotSignature.Store(r.Header.Get(HeaderSignature))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	id := enqueue(t, store, server.URL, 3)

	worker := newTestWorker(store)
	worker.drainOnce(context.Background())

	w, err := store.GetWebhook(context.Background(), id)
	if err != nil {
		t.Fatalf("GetWebhook: %v", err)
	}
	if w.Status != storage.WebhookStatusSuccess {
		t.Errorf("status = %s, want success", w.Status)
	}
	body, _ := gotBody.Load().([]byte)
	sig, _ := gotSignature.Load().(string)
	if !VerifySignature(body, "s3cret", sig) {
		t.Error("delivered signature does not verify against delivered body")
	}
}

func TestWorkerRetriesOn5xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	id := enqueue(t, store, server.URL, 3)

	worker := newTestWorker(store)
	worker.drainOnce(context.Background())

	w, _ := store.GetWebhook(context.Background(), id)
	if w.Status != storage.WebhookStatusPending {
		t.Errorf("status = %s after one 5xx, want pending", w.Status)
	}
	if w.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", w.Attempts)
	}
	if !w.NextAttemptAt.After(time.Now()) {
		t.Error("retry not scheduled in the future")
	}
}

func TestWorkerParksOn4xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	id := enqueue(t, store, server.URL, 5)

	worker := newTestWorker(store)
	worker.drainOnce(context.Background())

	w, _ := store.GetWebhook(context.Background(), id)
	if w.Status != storage.WebhookStatusFailed {
		t.Errorf("status = %s after 410, want failed (no retries)", w.Status)
	}
}

func TestWorkerRetriesOn429(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	id := enqueue(t, store, server.URL, 3)

	worker := newTestWorker(store)
	worker.drainOnce(context.Background())

	w, _ := store.GetWebhook(context.Background(), id)
	if w.Status != storage.WebhookStatusPending {
		t.Errorf("status = %s after 429, want pending (retryable)", w.Status)
	}
}

func TestWorkerRecoversInterruptedDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := storage.NewMemoryStore()
	first := enqueue(t, store, server.URL, 3)
	second := enqueue(t, store, server.URL, 3)

	// Simulate a worker that died between claiming and resolving: the webhook
	// sits in processing and holds up the payment's queue.
	if err := store.MarkWebhookProcessing(context.Background(), first); err != nil {
		t.Fatalf("MarkWebhookProcessing: %v", err)
	}
	batch, err := store.DequeueWebhooks(context.Background(), 10)
	if err != nil {
		t.Fatalf("DequeueWebhooks: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("dequeued %d webhooks behind a dead claim, want 0", len(batch))
	}

	worker := newTestWorker(store)
	worker.config.VisibilityTimeout = time.Millisecond
	time.Sleep(10 * time.Millisecond)

	// First poll reclaims and re-sends the interrupted webhook; the next one
	// delivers its successor.
	worker.drainOnce(context.Background())
	worker.drainOnce(context.Background())

	for _, id := range []string{first, second} {
		w, err := store.GetWebhook(context.Background(), id)
		if err != nil {
			t.Fatalf("GetWebhook(%s): %v", id, err)
		}
		if w.Status != storage.WebhookStatusSuccess {
			t.Errorf("webhook %s status = %s, want success", id, w.Status)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		err    error
		want   deliveryResult
	}{
		{200, nil, deliveryOK},
		{204, nil, deliveryOK},
		{400, nil, deliveryPermanentFailure},
		{404, nil, deliveryPermanentFailure},
		{408, nil, deliveryRetry},
		{429, nil, deliveryRetry},
		{500, context.DeadlineExceeded, deliveryRetry},
		{0, context.DeadlineExceeded, deliveryRetry},
	}
	for _, tt := range tests {
		if got := classify(tt.status, tt.err); got != tt.want {
			t.Errorf("classify(%d, %v) = %d, want %d", tt.status, tt.err, got, tt.want)
		}
	}
}
