// Package bank is the acquiring-bank interface the orchestrator talks to,
// plus a deterministic simulator used in every non-production environment.
package bank

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the acquirer did not answer within the
// deadline. Callers treat it as a retryable network failure.
var ErrTimeout = errors.New("bank: request timed out")

// ErrUnavailable is returned when the acquirer circuit is open.
var ErrUnavailable = errors.New("bank: acquirer unavailable")

// Outcome classifies an authorization answer.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDeclined Outcome = "declined"
	Outcome3DS      Outcome = "3ds_required"
)

// Card is the card data consumed by one authorize call. Never persisted.
type Card struct {
	PAN     string
	ExpDate string // MMYY
	CVV     string
	Holder  string
}

// Result is the acquirer's answer to any operation.
type Result struct {
	Outcome         Outcome
	ExternalRef     string
	ResponseCode    string
	ResponseMessage string
	DelayMS         int
}

// Acquirer is the bank-side contract. Errors represent transport failures;
// declines come back as a Result with OutcomeDeclined.
type Acquirer interface {
	Authorize(ctx context.Context, paymentID string, card Card, amount int64, currency string) (Result, error)
	// Complete3DS finishes a challenge started by an Authorize that returned
	// Outcome3DS.
	Complete3DS(ctx context.Context, paymentID, externalRef string) (Result, error)
	Capture(ctx context.Context, externalRef string, amount int64) (Result, error)
	Reverse(ctx context.Context, externalRef string, amount int64) (Result, error)
	Refund(ctx context.Context, externalRef string, amount int64) (Result, error)
}

// DefaultTimeout bounds every acquirer call made by the orchestrator.
const DefaultTimeout = 5 * time.Second
