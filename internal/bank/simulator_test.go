package bank

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardflow/gateway/internal/circuitbreaker"
)

func testCard(pan string) Card {
	return Card{PAN: pan, ExpDate: "1230", CVV: "123", Holder: "IVAN IVANOV"}
}

func TestAuthorizeOutcomeByLastDigit(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()

	tests := []struct {
		pan     string
		outcome Outcome
		code    string
	}{
		{"4111111111111110", OutcomeDeclined, "CARD_DECLINED"},
		{"4111111111111119", Outcome3DS, "3DS_REQUIRED"},
		{"4111111111111111", OutcomeApproved, "APPROVED"},
		{"4111111111111115", OutcomeApproved, "APPROVED"},
	}
	for _, tt := range tests {
		res, err := s.Authorize(ctx, "12345678901234567890", testCard(tt.pan), 100000, "RUB")
		if err != nil {
			t.Fatalf("Authorize(%s): %v", tt.pan, err)
		}
		if res.Outcome != tt.outcome || res.ResponseCode != tt.code {
			t.Errorf("Authorize(%s) = %s/%s, want %s/%s", tt.pan, res.Outcome, res.ResponseCode, tt.outcome, tt.code)
		}
	}
}

func TestAuthorizeIssuesExternalRefOnApproval(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()

	approved, _ := s.Authorize(ctx, "12345678901234567890", testCard("4111111111111111"), 100000, "RUB")
	if approved.ExternalRef == "" {
		t.Error("approved authorization without external ref")
	}

	declined, _ := s.Authorize(ctx, "12345678901234567890", testCard("4111111111111110"), 100000, "RUB")
	if declined.ExternalRef != "" {
		t.Error("declined authorization carries an external ref")
	}
}

func TestComplete3DS(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()

	challenge, _ := s.Authorize(ctx, "12345678901234567890", testCard("4111111111111119"), 100000, "RUB")
	res, err := s.Complete3DS(ctx, "12345678901234567890", challenge.ExternalRef)
	if err != nil {
		t.Fatalf("Complete3DS: %v", err)
	}
	if res.Outcome != OutcomeApproved {
		t.Errorf("outcome = %s, want approved", res.Outcome)
	}

	// Refs are bound to the payment that created them.
	if _, err := s.Complete3DS(ctx, "00000000000000000000", challenge.ExternalRef); err == nil {
		t.Error("foreign payment completed someone else's challenge")
	}
}

func TestSimulatorHonorsDeadline(t *testing.T) {
	s := NewSimulator()
	s.Latency = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Authorize(ctx, "12345678901234567890", testCard("4111111111111111"), 100000, "RUB")
	if err != ErrTimeout {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestBreakerFailsFastWhenOpen(t *testing.T) {
	cfg := circuitbreaker.Config{
		Enabled: true,
		Bank: circuitbreaker.BreakerConfig{
			MaxRequests:         1,
			Timeout:             time.Minute,
			ConsecutiveFailures: 2,
		},
	}
	breakers := circuitbreaker.NewManager(cfg, zerolog.Nop())

	s := NewSimulator()
	s.Latency = time.Second
	acquirer := NewBreakerAcquirer(s, breakers)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		acquirer.Authorize(ctx, "12345678901234567890", testCard("4111111111111111"), 100000, "RUB")
		cancel()
	}

	// Circuit is now open: calls fail without waiting on the simulator.
	_, err := acquirer.Authorize(context.Background(), "12345678901234567890", testCard("4111111111111111"), 100000, "RUB")
	if err != ErrUnavailable {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
