package gateway

import (
	"context"
	"time"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/internal/payment"
	"github.com/cardflow/gateway/internal/validate"
)

// CheckResult reports the current state of a payment, with the transition
// history when asked for.
type CheckResult struct {
	PaymentID      string               `json:"paymentId"`
	OrderID        string               `json:"orderId"`
	Status         payment.Status       `json:"status"`
	Amount         int64                `json:"amount"`
	RefundedAmount int64                `json:"refundedAmount,omitempty"`
	Currency       string               `json:"currency"`
	ErrorCode      string               `json:"errorCode,omitempty"`
	Message        string               `json:"message,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	ExpiresAt      time.Time            `json:"expiresAt,omitempty"`
	History        []payment.Transition `json:"history,omitempty"`
}

// Check looks a payment up by paymentId or by the merchant's orderId. It is a
// pure read: no transitions, no notifications.
func (g *Gateway) Check(ctx context.Context, req *api.CheckRequest) (*CheckResult, *errors.Error) {
	start := g.now()
	defer func() { g.metrics.ObserveOperation("check", time.Since(start)) }()

	m, authErr := g.auth.Authenticate(ctx, req.TeamSlug, req.Token, req.TokenParams())
	if authErr != nil {
		return nil, authErr
	}
	if verr := validate.Check(req); verr != nil {
		return nil, verr
	}

	var p payment.Payment
	if req.PaymentID != "" {
		var lerr *errors.Error
		p, lerr = g.loadOwned(ctx, m, req.PaymentID)
		if lerr != nil {
			return nil, lerr
		}
	} else {
		var err error
		p, err = g.store.GetPaymentByOrderID(ctx, m.TeamID, req.OrderID)
		if err != nil {
			return nil, g.storeError(err)
		}
	}

	result := &CheckResult{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		Status:         p.Status,
		Amount:         p.Amount,
		RefundedAmount: p.RefundedAmount,
		Currency:       p.Currency,
		ErrorCode:      p.ErrorCode,
		Message:        p.Message,
		CreatedAt:      p.CreatedAt,
		ExpiresAt:      p.ExpiresAt,
	}
	if req.IncludeHistory {
		history, err := g.store.ListTransitions(ctx, p.ID)
		if err != nil {
			return nil, g.storeError(err)
		}
		result.History = history
	}
	return result, nil
}
