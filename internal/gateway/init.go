package gateway

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cardflow/gateway/internal/api"
	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/internal/logger"
	"github.com/cardflow/gateway/internal/payment"
	"github.com/cardflow/gateway/internal/storage"
	"github.com/cardflow/gateway/internal/validate"
)

// InitResult is the answer to a successful Init.
type InitResult struct {
	PaymentID  string         `json:"paymentId"`
	PaymentURL string         `json:"paymentURL"`
	Status     payment.Status `json:"status"`
	Amount     int64          `json:"amount"`
	OrderID    string         `json:"orderId"`
}

// Init creates a payment session: INIT, then NEW (which stamps the deadline),
// and hands back the hosted form URL.
func (g *Gateway) Init(ctx context.Context, req *api.InitRequest) (*InitResult, *errors.Error) {
	start := g.now()
	defer func() { g.metrics.ObserveOperation("init", time.Since(start)) }()

	m, authErr := g.auth.Authenticate(ctx, req.TeamSlug, req.Token, req.TokenParams())
	if authErr != nil {
		return nil, authErr
	}
	if verr := validate.Init(req, g.now()); verr != nil {
		return nil, verr
	}
	if rerr := g.checkBusinessRules(ctx, m, req, g.now()); rerr != nil {
		return nil, rerr
	}

	now := g.now().UTC()
	p := payment.Payment{
		TeamID:          m.TeamID,
		OrderID:         req.OrderID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		PayType:         payment.PayType(req.PayType),
		Description:     req.Description,
		CustomerKey:     req.CustomerKey,
		Recurrent:       req.Recurrent == "Y",
		Language:        req.Language,
		SuccessURL:      firstNonEmpty(req.SuccessURL, m.SuccessURL),
		FailURL:         firstNonEmpty(req.FailURL, m.FailURL),
		NotificationURL: firstNonEmpty(req.NotificationURL, m.NotificationURL),
		PaymentExpiry:   req.PaymentExpiry,
		CreatedAt:       now,
		Status:          payment.StatusInit,
		MaxAttempts:     payment.DefaultMaxAttempts,
		Data:            req.Data,
	}
	if p.PayType == "" {
		p.PayType = payment.PayTypeSingleStage
	}
	if p.Language == "" {
		p.Language = "ru"
	}
	if p.PaymentExpiry == 0 {
		p.PaymentExpiry = DefaultPaymentExpiry
	}

	// Random IDs can collide; regenerate instead of failing the merchant.
	var createErr error
	for attempt := 0; attempt < idCollisionRetries; attempt++ {
		p.ID = payment.NewID()
		createErr = g.store.CreatePayment(ctx, p)
		if !stderrors.Is(createErr, storage.ErrDuplicateID) {
			break
		}
	}
	if createErr != nil {
		if stderrors.Is(createErr, storage.ErrDuplicateOrder) {
			return nil, errors.New(errors.KindBusinessRule, errors.CodeDuplicateOrder, "orderId already used")
		}
		return nil, errors.Internal(createErr)
	}

	if cerr := g.commit(ctx, &p, payment.StatusNew, ActorMerchant, payment.Effect{}, m.Secret); cerr != nil {
		return nil, cerr
	}

	if g.metrics != nil {
		g.metrics.PaymentsInitTotal.WithLabelValues(m.TeamSlug).Inc()
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("payment_id", p.ID).
		Str("team_slug", m.TeamSlug).
		Str("order_id", p.OrderID).
		Int64("amount", p.Amount).
		Str("currency", p.Currency).
		Msg("payment created")

	return &InitResult{
		PaymentID:  p.ID,
		PaymentURL: g.baseURL + "/paymentform/" + p.ID,
		Status:     p.Status,
		Amount:     p.Amount,
		OrderID:    p.OrderID,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
