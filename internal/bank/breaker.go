package bank

import (
	"context"

	"github.com/sony/gobreaker"

	"github.com/cardflow/gateway/internal/circuitbreaker"
)

// BreakerAcquirer wraps an Acquirer with the bank circuit breaker. While the
// circuit is open every call fails fast with ErrUnavailable, which the
// orchestrator maps to a retryable network error.
type BreakerAcquirer struct {
	underlying Acquirer
	breakers   *circuitbreaker.Manager
}

// NewBreakerAcquirer wraps underlying with the manager's bank breaker.
func NewBreakerAcquirer(underlying Acquirer, breakers *circuitbreaker.Manager) *BreakerAcquirer {
	return &BreakerAcquirer{underlying: underlying, breakers: breakers}
}

func (b *BreakerAcquirer) execute(fn func() (Result, error)) (Result, error) {
	out, err := b.breakers.Execute(circuitbreaker.ServiceBank, func() (any, error) {
		return fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return Result{}, ErrUnavailable
	}
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

// Authorize implements Acquirer.
func (b *BreakerAcquirer) Authorize(ctx context.Context, paymentID string, card Card, amount int64, currency string) (Result, error) {
	return b.execute(func() (Result, error) {
		return b.underlying.Authorize(ctx, paymentID, card, amount, currency)
	})
}

// Complete3DS implements Acquirer.
func (b *BreakerAcquirer) Complete3DS(ctx context.Context, paymentID, externalRef string) (Result, error) {
	return b.execute(func() (Result, error) {
		return b.underlying.Complete3DS(ctx, paymentID, externalRef)
	})
}

// Capture implements Acquirer.
func (b *BreakerAcquirer) Capture(ctx context.Context, externalRef string, amount int64) (Result, error) {
	return b.execute(func() (Result, error) {
		return b.underlying.Capture(ctx, externalRef, amount)
	})
}

// Reverse implements Acquirer.
func (b *BreakerAcquirer) Reverse(ctx context.Context, externalRef string, amount int64) (Result, error) {
	return b.execute(func() (Result, error) {
		return b.underlying.Reverse(ctx, externalRef, amount)
	})
}

// Refund implements Acquirer.
func (b *BreakerAcquirer) Refund(ctx context.Context, externalRef string, amount int64) (Result, error) {
	return b.execute(func() (Result, error) {
		return b.underlying.Refund(ctx, externalRef, amount)
	})
}
