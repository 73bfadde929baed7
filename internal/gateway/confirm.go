package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/internal/idempotency"
	"github.com/cardflow/gateway/internal/logger"
	"github.com/cardflow/gateway/internal/merchant"
	"github.com/cardflow/gateway/internal/payment"
	"github.com/cardflow/gateway/internal/validate"
)

// idempotencyKeyField is the Data entry merchants set to make Confirm safe to
// retry.
const idempotencyKeyField = "idempotencyKey"

// ConfirmResult is the answer to a capture.
type ConfirmResult struct {
	PaymentID string         `json:"paymentId"`
	OrderID   string         `json:"orderId"`
	Status    payment.Status `json:"status"`
	Amount    int64          `json:"amount"`
}

// Confirm captures an authorized two-stage payment, optionally for less than
// the authorized amount.
func (g *Gateway) Confirm(ctx context.Context, req *api.ConfirmRequest) (*ConfirmResult, *errors.Error) {
	start := g.now()
	defer func() { g.metrics.ObserveOperation("confirm", time.Since(start)) }()

	m, authErr := g.auth.Authenticate(ctx, req.TeamSlug, req.Token, req.TokenParams())
	if authErr != nil {
		return nil, authErr
	}
	if verr := validate.Confirm(req); verr != nil {
		return nil, verr
	}

	idemKey := ""
	if g.idem != nil && req.Data[idempotencyKeyField] != "" {
		idemKey = idempotency.Key(m.TeamID, "confirm", req.Data[idempotencyKeyField])
		if cached, ok := g.idem.Get(idemKey); ok {
			var result ConfirmResult
			if err := json.Unmarshal(cached.Body, &result); err == nil {
				log := logger.FromContext(ctx)
				log.Debug().Str("payment_id", result.PaymentID).Msg("confirm replayed from cache")
				return &result, nil
			}
		}
	}

	unlock := g.locks.Lock(req.PaymentID)
	defer unlock()

	p, lerr := g.loadOwned(ctx, m, req.PaymentID)
	if lerr != nil {
		return nil, lerr
	}

	amount := req.Amount
	if amount == 0 {
		amount = p.Amount
	}
	if amount > p.Amount {
		return nil, errors.Newf(errors.KindBusinessRule, errors.CodeAmountExceeded,
			"confirm amount %d exceeds the authorized %d", amount, p.Amount)
	}

	result, cerr := g.capture(ctx, &p, m, amount)
	if cerr != nil {
		return nil, cerr
	}

	if idemKey != "" {
		if body, err := json.Marshal(result); err == nil {
			g.idem.Set(idemKey, idempotency.Response{Body: body, CachedAt: g.now()})
		}
	}
	return result, nil
}

// capture drives AUTHORIZED -> CONFIRMING -> CONFIRMED against the acquirer.
func (g *Gateway) capture(ctx context.Context, p *payment.Payment, m merchant.Merchant, amount int64) (*ConfirmResult, *errors.Error) {
	// Already CONFIRMING means an earlier capture lost the acquirer; re-drive
	// the bank call without a new transition.
	if p.Status != payment.StatusConfirming {
		if cerr := g.commit(ctx, p, payment.StatusConfirming, ActorMerchant, payment.Effect{Amount: amount}, m.Secret); cerr != nil {
			return nil, cerr
		}
	}

	bankStart := g.now()
	bctx, cancel := g.bankCtx(ctx)
	res, err := g.acquirer.Capture(bctx, p.Data[dataKeyBankRef], amount)
	cancel()
	g.observeBank("capture", res, err, time.Since(bankStart))
	g.recordBankCall(ctx, p, payment.TransactionCapture, res, err, amount)

	if err != nil {
		// CONFIRMING is kept: the acquirer may have received the capture, so
		// rolling back to AUTHORIZED would risk a double capture on retry.
		// The merchant re-drives via Confirm after the outage.
		return nil, bankError(err)
	}

	if cerr := g.commit(ctx, p, payment.StatusConfirmed, ActorBank, payment.Effect{}, m.Secret); cerr != nil {
		return nil, cerr
	}
	if g.metrics != nil {
		g.metrics.PaymentAmountTotal.WithLabelValues(m.TeamSlug, p.Currency).Add(float64(p.Amount))
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("payment_id", p.ID).
		Int64("amount", p.Amount).
		Msg("payment confirmed")

	return &ConfirmResult{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Status:    p.Status,
		Amount:    p.Amount,
	}, nil
}
