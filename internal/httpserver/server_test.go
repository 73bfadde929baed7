package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/bank"
	"github.com/cardflow/gateway/internal/config"
	"github.com/cardflow/gateway/internal/gateway"
	"github.com/cardflow/gateway/internal/idempotency"
	"github.com/cardflow/gateway/internal/merchant"
	"github.com/cardflow/gateway/internal/storage"
	"github.com/cardflow/gateway/internal/token"
)

const (
	testSlug       = "shop"
	testSecret     = "test-terminal-secret"
	testAdminToken = "admin-token"
)

type testServer struct {
	srv   *httptest.Server
	store *storage.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Server.AdminToken = testAdminToken

	dir := merchant.NewMemoryDirectory(merchant.DefaultLockoutPolicy())
	seedErr := dir.Upsert(context.Background(), merchant.Merchant{
		TeamID:              "team-1",
		TeamSlug:            testSlug,
		Secret:              testSecret,
		IsActive:            true,
		SupportedCurrencies: []string{"RUB", "USD"},
		SuccessURL:          "https://shop.example.com/ok",
		FailURL:             "https://shop.example.com/fail",
		NotificationURL:     "https://shop.example.com/hook",
		CreatedAt:           time.Now(),
	})
	if seedErr != nil {
		t.Fatalf("seed merchant: %v", seedErr)
	}

	store := storage.NewMemoryStore()
	gw := gateway.New(store, dir, bank.NewSimulator(), idempotency.NewDefaultStore(), nil, gateway.Config{
		BaseURL: cfg.Server.BaseURL,
	})
	server := New(cfg, gw, store, dir, nil, zerolog.Nop())

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testServer{srv: ts, store: store}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func (ts *testServer) initPayment(t *testing.T, orderID string) string {
	t.Helper()
	req := &api.InitRequest{
		TeamSlug: testSlug,
		Amount:   150_000,
		OrderID:  orderID,
		Currency: "RUB",
	}
	req.Token = token.Sign(req.TokenParams(), testSecret)

	resp, body := ts.postJSON(t, "/paymentinit/init", req, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("init status = %d, body = %v", resp.StatusCode, body)
	}
	id, _ := body["paymentId"].(string)
	if id == "" {
		t.Fatalf("init response missing paymentId: %v", body)
	}
	return id
}

func TestPaymentFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	paymentID := ts.initPayment(t, "order-http-1")

	// The hosted form renders the amount and posts to the process endpoint.
	resp, err := ts.srv.Client().Get(ts.srv.URL + "/paymentform/" + paymentID)
	if err != nil {
		t.Fatalf("GET form: %v", err)
	}
	page, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("form status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("form content type = %q", ct)
	}
	if !strings.Contains(string(page), "1 500.00") {
		t.Fatalf("form page does not render the amount:\n%s", page)
	}

	procResp, procBody := ts.postJSON(t, "/paymentform/process", api.FormSubmitRequest{
		PaymentID:  paymentID,
		PAN:        "4111111111111111",
		ExpDate:    "1230",
		CVV:        "123",
		CardHolder: "IVAN PETROV",
	}, nil)
	if procResp.StatusCode != http.StatusOK {
		t.Fatalf("process status = %d, body = %v", procResp.StatusCode, procBody)
	}
	if procBody["status"] != "CONFIRMED" {
		t.Fatalf("status = %v, want CONFIRMED", procBody["status"])
	}
	if procBody["redirectURL"] != "https://shop.example.com/ok" {
		t.Fatalf("redirectURL = %v", procBody["redirectURL"])
	}

	checkReq := &api.CheckRequest{TeamSlug: testSlug, PaymentID: paymentID}
	checkReq.Token = token.Sign(checkReq.TokenParams(), testSecret)
	checkResp, checkBody := ts.postJSON(t, "/paymentcheck/check", checkReq, nil)
	if checkResp.StatusCode != http.StatusOK {
		t.Fatalf("check status = %d, body = %v", checkResp.StatusCode, checkBody)
	}
	if checkBody["success"] != true || checkBody["errorCode"] != "0" {
		t.Fatalf("check envelope = %v", checkBody)
	}
	if checkBody["status"] != "CONFIRMED" {
		t.Fatalf("check status field = %v", checkBody["status"])
	}
}

func TestDeclinedCardGets402(t *testing.T) {
	ts := newTestServer(t)
	paymentID := ts.initPayment(t, "order-http-decline")
	if resp, err := ts.srv.Client().Get(ts.srv.URL + "/paymentform/" + paymentID); err != nil {
		t.Fatalf("GET form: %v", err)
	} else {
		resp.Body.Close()
	}

	resp, body := ts.postJSON(t, "/paymentform/process", api.FormSubmitRequest{
		PaymentID:  paymentID,
		PAN:        "4111111111111110",
		ExpDate:    "1230",
		CVV:        "123",
		CardHolder: "IVAN PETROV",
	}, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	if body["status"] != "AUTH_FAIL" {
		t.Fatalf("status field = %v", body["status"])
	}
	if left, ok := body["attemptsLeft"].(float64); !ok || left < 1 {
		t.Fatalf("attemptsLeft = %v", body["attemptsLeft"])
	}
}

func TestInitErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)

	req := &api.InitRequest{
		TeamSlug: testSlug,
		Amount:   150_000,
		OrderID:  "order-bad-token",
		Currency: "RUB",
		Token:    "not-the-right-token",
	}
	resp, body := ts.postJSON(t, "/paymentinit/init", req, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if body["success"] != false || body["errorCode"] != "204" {
		t.Fatalf("envelope = %v", body)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.srv.Client().Post(ts.srv.URL+"/paymentinit/init", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.srv.Client().Get(ts.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.srv.Client().Get(ts.srv.URL + "/admin/webhooks?status=failed")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/admin/webhooks?status=failed", nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	resp, err = ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", resp.StatusCode)
	}
}

func TestAdminWebhookRetry(t *testing.T) {
	ts := newTestServer(t)

	id, err := ts.store.EnqueueWebhook(context.Background(), storage.PendingWebhook{
		PaymentID:   "12345678901234567890",
		URL:         "https://shop.example.com/hook",
		Payload:     json.RawMessage(`{}`),
		MaxAttempts: 7,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := ts.store.FailWebhookPermanently(context.Background(), id, "410 gone"); err != nil {
		t.Fatalf("fail permanently: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/admin/webhooks/"+id+"/retry", nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d", resp.StatusCode)
	}

	webhook, err := ts.store.GetWebhook(context.Background(), id)
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	if webhook.Status != storage.WebhookStatusPending {
		t.Fatalf("webhook status = %s, want pending", webhook.Status)
	}
}

func TestAdminUpsertMerchant(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.postJSON(t, "/admin/merchants", map[string]any{
		"teamId":              "team-2",
		"teamSlug":            "bookstore",
		"secret":              "s2",
		"supportedCurrencies": []string{"RUB"},
	}, map[string]string{"X-Admin-Token": testAdminToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}

	// The new merchant can immediately initialize payments.
	req := &api.InitRequest{
		TeamSlug: "bookstore",
		Amount:   5_000,
		OrderID:  "order-b1",
		Currency: "RUB",
	}
	req.Token = token.Sign(req.TokenParams(), "s2")
	initResp, initBody := ts.postJSON(t, "/paymentinit/init", req, nil)
	if initResp.StatusCode != http.StatusOK {
		t.Fatalf("init as new merchant = %d, body = %v", initResp.StatusCode, initBody)
	}
}

func TestAdminListRejectsBadStatus(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/admin/webhooks?status=bogus", nil)
	req.Header.Set("X-Admin-Token", testAdminToken)
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
