package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestIPLimiterBlocksAfterLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerIPLimit = 2
	cfg.PerIPWindow = time.Minute
	handler := IPLimiter(cfg)(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/paymentform/process", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/paymentform/process", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	// A different IP has its own bucket.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/paymentform/process", nil)
	req.RemoteAddr = "203.0.113.10:1234"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other IP status = %d, want 200", rec.Code)
	}
}

func TestTeamLimiterKeysBySlug(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerTeamLimit = 1
	cfg.PerTeamWindow = time.Minute
	handler := TeamLimiter(cfg)(okHandler())

	send := func(slug, addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/paymentinit/init", nil)
		req.RemoteAddr = addr
		if slug != "" {
			req.Header.Set("X-Team-Slug", slug)
		}
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("shop", "203.0.113.9:1"); got != http.StatusOK {
		t.Fatalf("first shop request: %d", got)
	}
	// Same team from another address still shares the bucket.
	if got := send("shop", "203.0.113.10:1"); got != http.StatusTooManyRequests {
		t.Fatalf("second shop request: %d, want 429", got)
	}
	// Another team is unaffected.
	if got := send("rival", "203.0.113.9:1"); got != http.StatusOK {
		t.Fatalf("rival request: %d, want 200", got)
	}
}

func TestDisabledLimiterPassesThrough(t *testing.T) {
	cfg := Config{}
	handler := GlobalLimiter(cfg)(IPLimiter(cfg)(okHandler()))

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}
}
