package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/internal/merchant"
)

// businessRule is one merchant-level acceptance check run at Init, after
// syntactic validation passed.
type businessRule func(ctx context.Context, g *Gateway, m merchant.Merchant, req *api.InitRequest, now time.Time) *errors.Error

// initRules run in order; the first violation stops the operation.
var initRules = []businessRule{
	ruleCurrencySupported,
	rulePerPaymentBounds,
	ruleExpiryBounds,
	ruleDailyWindows,
}

func (g *Gateway) checkBusinessRules(ctx context.Context, m merchant.Merchant, req *api.InitRequest, now time.Time) *errors.Error {
	for _, rule := range initRules {
		if err := rule(ctx, g, m, req, now); err != nil {
			return err
		}
	}
	return nil
}

func ruleCurrencySupported(_ context.Context, _ *Gateway, m merchant.Merchant, req *api.InitRequest, _ time.Time) *errors.Error {
	if !m.SupportsCurrency(req.Currency) {
		return errors.Newf(errors.KindBusinessRule, errors.CodeValidation,
			"currency %s is not enabled for this terminal", req.Currency)
	}
	return nil
}

func rulePerPaymentBounds(_ context.Context, _ *Gateway, m merchant.Merchant, req *api.InitRequest, _ time.Time) *errors.Error {
	if m.MinPerPayment > 0 && req.Amount < m.MinPerPayment {
		return errors.Newf(errors.KindBusinessRule, errors.CodeLimitExceeded,
			"amount below the terminal minimum of %d", m.MinPerPayment)
	}
	if m.MaxPerPayment > 0 && req.Amount > m.MaxPerPayment {
		return errors.Newf(errors.KindBusinessRule, errors.CodeLimitExceeded,
			"amount above the terminal maximum of %d", m.MaxPerPayment)
	}
	return nil
}

func ruleExpiryBounds(_ context.Context, _ *Gateway, m merchant.Merchant, req *api.InitRequest, _ time.Time) *errors.Error {
	if req.PaymentExpiry == 0 {
		return nil
	}
	if m.MinExpiryMinutes > 0 && req.PaymentExpiry < m.MinExpiryMinutes {
		return errors.New(errors.KindBusinessRule, errors.CodeValidation,
			fmt.Sprintf("paymentExpiry below the terminal minimum of %d minutes", m.MinExpiryMinutes))
	}
	if m.MaxExpiryMinutes > 0 && req.PaymentExpiry > m.MaxExpiryMinutes {
		return errors.New(errors.KindBusinessRule, errors.CodeValidation,
			fmt.Sprintf("paymentExpiry above the terminal maximum of %d minutes", m.MaxExpiryMinutes))
	}
	return nil
}

// ruleDailyWindows enforces the per-day amount and count caps over the
// merchant's calendar day (UTC).
func ruleDailyWindows(ctx context.Context, g *Gateway, m merchant.Merchant, req *api.InitRequest, now time.Time) *errors.Error {
	if m.DailyTotal == 0 && m.DailyCount == 0 {
		return nil
	}

	dayStart := now.UTC().Truncate(24 * time.Hour)
	total, count, err := g.store.DailyStats(ctx, m.TeamID, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return errors.Internal(err)
	}

	if m.DailyTotal > 0 && total+req.Amount > m.DailyTotal {
		return errors.New(errors.KindBusinessRule, errors.CodeLimitExceeded,
			"daily amount limit exceeded")
	}
	if m.DailyCount > 0 && count >= m.DailyCount {
		return errors.New(errors.KindBusinessRule, errors.CodeLimitExceeded,
			"daily payment count limit exceeded")
	}
	return nil
}
