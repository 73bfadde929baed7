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

// dataKeyBankRef stores the acquirer's reference on the payment for the
// capture/reverse/refund legs.
const dataKeyBankRef = "bankRef"

// FormData is what the hosted card-entry page renders.
type FormData struct {
	PaymentID   string
	Amount      int64
	Currency    string
	Description string
	Language    string
	Status      payment.Status
}

// ShowForm marks the form as presented (NEW -> FORM_SHOWED, idempotent on
// repeat loads) and returns the data the page needs. The endpoint carries no
// token; the unguessable paymentId is the protection.
func (g *Gateway) ShowForm(ctx context.Context, paymentID string) (*FormData, *errors.Error) {
	unlock := g.locks.Lock(paymentID)
	defer unlock()

	p, err := g.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, g.storeError(err)
	}

	switch p.Status {
	case payment.StatusFormShowed:
		// Repeat GET; nothing to record.
	case payment.StatusNew:
		secret := g.secretFor(ctx, p.TeamID)
		if cerr := g.commit(ctx, &p, payment.StatusFormShowed, ActorCustomer, payment.Effect{}, secret); cerr != nil {
			return nil, cerr
		}
	default:
		return nil, errors.Newf(errors.KindStateConflict, errors.CodeBadStatus,
			"payment is %s", p.Status)
	}

	return &FormData{
		PaymentID:   p.ID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Description: p.Description,
		Language:    p.Language,
		Status:      p.Status,
	}, nil
}

// SubmitResult is the answer to a form submission.
type SubmitResult struct {
	PaymentID   string         `json:"paymentId"`
	OrderID     string         `json:"orderId"`
	Status      payment.Status `json:"status"`
	Amount      int64          `json:"amount"`
	Success     bool           `json:"success"`
	ErrorCode   string         `json:"errorCode,omitempty"`
	Message     string         `json:"message,omitempty"`
	RedirectURL string         `json:"redirectURL,omitempty"`
	// AttemptsLeft tells the form whether re-entry is possible after a decline.
	AttemptsLeft int `json:"attemptsLeft"`
}

// SubmitForm runs the authorization: FORM_SHOWED -> AUTHORIZING -> the bank's
// verdict, with inline 3-D Secure completion and auto-capture for single-stage
// payments. Card data lives only inside this call.
func (g *Gateway) SubmitForm(ctx context.Context, req *api.FormSubmitRequest) (*SubmitResult, *errors.Error) {
	start := g.now()
	defer func() { g.metrics.ObserveOperation("form_submit", time.Since(start)) }()

	if verr := validate.FormSubmit(req); verr != nil {
		return nil, verr
	}

	unlock := g.locks.Lock(req.PaymentID)
	defer unlock()

	p, err := g.store.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, g.storeError(err)
	}
	m, merr := g.directory.LookupByTeamID(ctx, p.TeamID)
	if merr != nil {
		return nil, errors.Internal(merr)
	}

	// Re-entry after a failed attempt, and tolerance for a submission that
	// never loaded the form via GET.
	if p.Status == payment.StatusAuthFail || p.Status == payment.StatusNew {
		if cerr := g.commit(ctx, &p, payment.StatusFormShowed, ActorCustomer, payment.Effect{}, m.Secret); cerr != nil {
			return nil, cerr
		}
	}

	if cerr := g.commit(ctx, &p, payment.StatusAuthorizing, ActorCustomer, payment.Effect{}, m.Secret); cerr != nil {
		return nil, cerr
	}

	card := bank.Card{PAN: req.PAN, ExpDate: req.ExpDate, CVV: req.CVV, Holder: req.CardHolder}
	bankStart := g.now()
	bctx, cancel := g.bankCtx(ctx)
	res, bankErr := g.acquirer.Authorize(bctx, p.ID, card, p.Amount, p.Currency)
	cancel()
	g.observeBank("authorize", res, bankErr, time.Since(bankStart))
	g.recordBankCall(ctx, &p, payment.TransactionAuthorize, res, bankErr, p.Amount)

	log := logger.FromContext(ctx)
	log.Info().
		Str("payment_id", p.ID).
		Str("pan", logger.MaskPAN(req.PAN)).
		Str("outcome", outcomeLabel(res, bankErr)).
		Int("attempt", p.AttemptCount).
		Msg("authorize attempt")

	switch {
	case bankErr != nil:
		werr := bankError(bankErr)
		if cerr := g.commit(ctx, &p, payment.StatusAuthFail, ActorBank,
			payment.Effect{ErrorCode: string(werr.Code), Message: "acquirer unavailable"}, m.Secret); cerr != nil {
			return nil, cerr
		}
		return g.submitResult(&p), nil

	case res.Outcome == bank.OutcomeDeclined:
		if cerr := g.commit(ctx, &p, payment.StatusAuthFail, ActorBank,
			payment.Effect{ErrorCode: res.ResponseCode, Message: res.ResponseMessage}, m.Secret); cerr != nil {
			return nil, cerr
		}
		return g.submitResult(&p), nil

	case res.Outcome == bank.Outcome3DS:
		if cerr := g.commit(ctx, &p, payment.StatusThreeDSChecking, ActorBank, payment.Effect{}, m.Secret); cerr != nil {
			return nil, cerr
		}
		if serr := g.complete3DS(ctx, &p, m, res.ExternalRef); serr != nil {
			return nil, serr
		}

	default: // approved
		g.stampBankRef(&p, res.ExternalRef)
		if cerr := g.commit(ctx, &p, payment.StatusAuthorized, ActorBank, payment.Effect{}, m.Secret); cerr != nil {
			return nil, cerr
		}
	}

	// Single-stage payments capture immediately.
	if p.Status == payment.StatusAuthorized && p.PayType == payment.PayTypeSingleStage {
		if serr := g.autoCapture(ctx, &p, m); serr != nil {
			return nil, serr
		}
	}
	return g.submitResult(&p), nil
}

// complete3DS finishes the challenge inline: the simulator resolves it
// synchronously, so the customer never leaves the form.
func (g *Gateway) complete3DS(ctx context.Context, p *payment.Payment, m merchant.Merchant, externalRef string) *errors.Error {
	bankStart := g.now()
	bctx, cancel := g.bankCtx(ctx)
	res, err := g.acquirer.Complete3DS(bctx, p.ID, externalRef)
	cancel()
	g.observeBank("complete_3ds", res, err, time.Since(bankStart))

	if err != nil || res.Outcome != bank.OutcomeApproved {
		eff := payment.Effect{ErrorCode: res.ResponseCode, Message: res.ResponseMessage}
		if err != nil {
			werr := bankError(err)
			eff = payment.Effect{ErrorCode: string(werr.Code), Message: "3-D Secure check failed"}
		}
		return g.commit(ctx, p, payment.StatusAuthFail, ActorBank, eff, m.Secret)
	}

	if cerr := g.commit(ctx, p, payment.StatusThreeDSChecked, ActorBank, payment.Effect{}, m.Secret); cerr != nil {
		return cerr
	}
	g.stampBankRef(p, res.ExternalRef)
	return g.commit(ctx, p, payment.StatusAuthorized, ActorBank, payment.Effect{}, m.Secret)
}

// autoCapture settles a single-stage payment right after authorization.
func (g *Gateway) autoCapture(ctx context.Context, p *payment.Payment, m merchant.Merchant) *errors.Error {
	if cerr := g.commit(ctx, p, payment.StatusConfirming, ActorSystem, payment.Effect{}, m.Secret); cerr != nil {
		return cerr
	}

	bankStart := g.now()
	bctx, cancel := g.bankCtx(ctx)
	res, err := g.acquirer.Capture(bctx, p.Data[dataKeyBankRef], p.Amount)
	cancel()
	g.observeBank("capture", res, err, time.Since(bankStart))
	g.recordBankCall(ctx, p, payment.TransactionCapture, res, err, p.Amount)

	if err != nil {
		// The payment stays in CONFIRMING; Check exposes it and the merchant
		// can re-drive via Confirm once the acquirer recovers.
		return bankError(err)
	}

	if cerr := g.commit(ctx, p, payment.StatusConfirmed, ActorSystem, payment.Effect{}, m.Secret); cerr != nil {
		return cerr
	}
	if g.metrics != nil {
		g.metrics.PaymentAmountTotal.WithLabelValues(m.TeamSlug, p.Currency).Add(float64(p.Amount))
	}
	return nil
}

func (g *Gateway) stampBankRef(p *payment.Payment, ref string) {
	if ref == "" {
		return
	}
	if p.Data == nil {
		p.Data = make(map[string]string)
	}
	p.Data[dataKeyBankRef] = ref
}

func (g *Gateway) submitResult(p *payment.Payment) *SubmitResult {
	success := p.Status == payment.StatusAuthorized || p.Status == payment.StatusConfirmed
	redirect := p.FailURL
	if success {
		redirect = p.SuccessURL
	}

	attemptsLeft := p.MaxAttempts - p.AttemptCount
	if attemptsLeft < 0 {
		attemptsLeft = 0
	}
	return &SubmitResult{
		PaymentID:    p.ID,
		OrderID:      p.OrderID,
		Status:       p.Status,
		Amount:       p.Amount,
		Success:      success,
		ErrorCode:    p.ErrorCode,
		Message:      p.Message,
		RedirectURL:  redirect,
		AttemptsLeft: attemptsLeft,
	}
}

// secretFor resolves the merchant secret for webhook signing on paths that
// carry no slug. Failures degrade to an unsigned skip, not an outage.
func (g *Gateway) secretFor(ctx context.Context, teamID string) string {
	m, err := g.directory.LookupByTeamID(ctx, teamID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("team_id", teamID).Msg("merchant lookup for signing failed")
		return ""
	}
	return m.Secret
}

func outcomeLabel(res bank.Result, err error) string {
	if err != nil {
		return "network_error"
	}
	return string(res.Outcome)
}
