package gateway

import (
	"context"
	"time"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/bank"
	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/internal/logger"
	"github.com/cardflow/gateway/internal/merchant"
	"github.com/cardflow/gateway/internal/payment"
	"github.com/cardflow/gateway/internal/validate"
)

// CancelResult is the answer to a cancellation.
type CancelResult struct {
	PaymentID      string         `json:"paymentId"`
	OrderID        string         `json:"orderId"`
	Status         payment.Status `json:"status"`
	OriginalAmount int64          `json:"originalAmount"`
	NewAmount      int64          `json:"newAmount"`
}

// Cancel routes by the payment's current status: unpaid sessions are simply
// cancelled, authorized money is reversed, captured money is refunded.
// A partial amount leaves the payment in PARTIAL_REVERSED / PARTIAL_REFUNDED.
// A payment left in REVERSING or REFUNDING by an acquirer outage is accepted
// again and re-drives the bank leg.
func (g *Gateway) Cancel(ctx context.Context, req *api.CancelRequest) (*CancelResult, *errors.Error) {
	start := g.now()
	defer func() { g.metrics.ObserveOperation("cancel", time.Since(start)) }()

	m, authErr := g.auth.Authenticate(ctx, req.TeamSlug, req.Token, req.TokenParams())
	if authErr != nil {
		return nil, authErr
	}
	if verr := validate.Cancel(req); verr != nil {
		return nil, verr
	}

	unlock := g.locks.Lock(req.PaymentID)
	defer unlock()

	p, lerr := g.loadOwned(ctx, m, req.PaymentID)
	if lerr != nil {
		return nil, lerr
	}
	original := p.Amount

	var cerr *errors.Error
	switch p.Status {
	case payment.StatusNew:
		cerr = g.commit(ctx, &p, payment.StatusCancelled, ActorMerchant,
			payment.Effect{Message: req.Reason}, m.Secret)
	case payment.StatusAuthorized, payment.StatusReversing:
		cerr = g.reverse(ctx, &p, m, req.Amount)
	case payment.StatusConfirmed, payment.StatusRefunding:
		cerr = g.refund(ctx, &p, m, req.Amount)
	default:
		cerr = errors.Newf(errors.KindStateConflict, errors.CodeBadStatus,
			"payment in status %s cannot be cancelled", p.Status)
	}
	if cerr != nil {
		return nil, cerr
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("payment_id", p.ID).
		Str("status", string(p.Status)).
		Int64("amount", p.Amount).
		Msg("payment cancelled")

	return &CancelResult{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		Status:         p.Status,
		OriginalAmount: original,
		NewAmount:      p.Amount,
	}, nil
}

// reverse releases an authorization hold. amount == 0 means the full hold.
func (g *Gateway) reverse(ctx context.Context, p *payment.Payment, m merchant.Merchant, amount int64) *errors.Error {
	if amount == 0 {
		amount = p.Amount
	}
	if amount > p.Amount {
		return errors.Newf(errors.KindBusinessRule, errors.CodeAmountExceeded,
			"reversal amount %d exceeds the authorized %d", amount, p.Amount)
	}

	// Already REVERSING means an earlier cancel lost the acquirer mid-leg;
	// re-drive the bank call without a new transition.
	if p.Status != payment.StatusReversing {
		if cerr := g.commit(ctx, p, payment.StatusReversing, ActorMerchant, payment.Effect{}, m.Secret); cerr != nil {
			return cerr
		}
	}

	if _, err := g.bankSettle(ctx, p, payment.TransactionReversal, amount); err != nil {
		return bankError(err)
	}

	target := payment.StatusReversed
	if amount < p.Amount {
		target = payment.StatusPartialReversed
		p.Amount -= amount
	}
	return g.commit(ctx, p, target, ActorBank, payment.Effect{}, m.Secret)
}

// refund returns captured money. amount == 0 means everything still refundable.
func (g *Gateway) refund(ctx context.Context, p *payment.Payment, m merchant.Merchant, amount int64) *errors.Error {
	refundable := p.Amount - p.RefundedAmount
	if amount == 0 {
		amount = refundable
	}
	if amount > refundable {
		return errors.Newf(errors.KindBusinessRule, errors.CodeAmountExceeded,
			"refund amount %d exceeds the refundable %d", amount, refundable)
	}

	// Mirrors the CONFIRMING re-drive in capture: a payment stuck in REFUNDING
	// after an acquirer outage retries the bank leg, not the transition.
	if p.Status != payment.StatusRefunding {
		if cerr := g.commit(ctx, p, payment.StatusRefunding, ActorMerchant, payment.Effect{}, m.Secret); cerr != nil {
			return cerr
		}
	}

	if _, err := g.bankSettle(ctx, p, payment.TransactionRefund, amount); err != nil {
		return bankError(err)
	}

	p.RefundedAmount += amount
	target := payment.StatusRefunded
	if p.RefundedAmount < p.Amount {
		target = payment.StatusPartialRefunded
	}
	return g.commit(ctx, p, target, ActorBank, payment.Effect{}, m.Secret)
}

// bankSettle runs one reverse or refund leg against the acquirer.
func (g *Gateway) bankSettle(ctx context.Context, p *payment.Payment, txType payment.TransactionType, amount int64) (bank.Result, error) {
	bankStart := g.now()
	bctx, cancel := g.bankCtx(ctx)

	var res bank.Result
	var err error
	switch txType {
	case payment.TransactionReversal:
		res, err = g.acquirer.Reverse(bctx, p.Data[dataKeyBankRef], amount)
	default:
		res, err = g.acquirer.Refund(bctx, p.Data[dataKeyBankRef], amount)
	}
	cancel()

	operation := string(txType)
	g.observeBank(operation, res, err, time.Since(bankStart))
	g.recordBankCall(ctx, p, txType, res, err, amount)
	return res, err
}
