// Package gateway is the payment orchestrator: it drives every public
// operation through authenticate, validate, business rules, the state
// machine, the acquirer, persistence, and notification enqueue.
package gateway

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/cardflow/gateway/internal/auth"
	"github.com/cardflow/gateway/internal/bank"
	"github.com/cardflow/gateway/internal/errors"
	"github.com/cardflow/gateway/internal/idempotency"
	"github.com/cardflow/gateway/internal/logger"
	"github.com/cardflow/gateway/internal/merchant"
	"github.com/cardflow/gateway/internal/metrics"
	"github.com/cardflow/gateway/internal/notify"
	"github.com/cardflow/gateway/internal/payment"
	"github.com/cardflow/gateway/internal/storage"
)

// Actor names recorded in the transition history.
const (
	ActorMerchant = "merchant"
	ActorCustomer = "customer"
	ActorBank     = "bank"
	ActorSystem   = "system"
)

// DefaultPaymentExpiry applies when Init omits paymentExpiry.
const DefaultPaymentExpiry = 30 // minutes

// idCollisionRetries bounds regeneration when a random paymentId collides.
const idCollisionRetries = 3

// Config tunes the orchestrator.
type Config struct {
	// BaseURL is the public origin the hosted form URL is built from.
	BaseURL string
	// BankTimeout bounds every acquirer call.
	BankTimeout time.Duration
	// WebhookMaxAttempts is stamped on enqueued notifications.
	WebhookMaxAttempts int
}

// Gateway orchestrates the payment lifecycle.
type Gateway struct {
	store     storage.Store
	directory merchant.Directory
	auth      *auth.Authenticator
	acquirer  bank.Acquirer
	idem      *idempotency.Store
	metrics   *metrics.Metrics
	locks     *keyedMutex

	baseURL            string
	bankTimeout        time.Duration
	webhookMaxAttempts int

	now func() time.Time
}

// New wires an orchestrator. m may be nil.
func New(store storage.Store, directory merchant.Directory, acquirer bank.Acquirer, idem *idempotency.Store, m *metrics.Metrics, cfg Config) *Gateway {
	if cfg.BankTimeout <= 0 {
		cfg.BankTimeout = bank.DefaultTimeout
	}
	if cfg.WebhookMaxAttempts <= 0 {
		cfg.WebhookMaxAttempts = notify.DefaultMaxAttempts
	}
	return &Gateway{
		store:              store,
		directory:          directory,
		auth:               auth.NewAuthenticator(directory),
		acquirer:           acquirer,
		idem:               idem,
		metrics:            m,
		locks:              newKeyedMutex(),
		baseURL:            strings.TrimSuffix(cfg.BaseURL, "/"),
		bankTimeout:        cfg.BankTimeout,
		webhookMaxAttempts: cfg.WebhookMaxAttempts,
		now:                time.Now,
	}
}

// commit runs guard → apply → persist for one transition and enqueues the
// merchant notification. Callers hold the payment lock.
func (g *Gateway) commit(ctx context.Context, p *payment.Payment, to payment.Status, actor string, eff payment.Effect, secret string) *errors.Error {
	now := g.now().UTC()
	if gerr := payment.Guard(p, to, now); gerr != nil {
		return gerr
	}

	tr := payment.Apply(p, to, now, actor, eff)
	if err := g.store.UpdatePayment(ctx, p, tr); err != nil {
		// Apply mutated the in-memory copy; the caller must reload on error.
		return g.storeError(err)
	}

	g.metrics.RecordTransition(string(tr.FromStatus), string(tr.ToStatus))
	g.enqueueNotification(ctx, *p, secret, now)
	return nil
}

// enqueueNotification queues the signed webhook for an accepted transition.
// Enqueue failures are logged, not surfaced: the transition is already
// committed and the admin redelivery endpoint covers the gap.
func (g *Gateway) enqueueNotification(ctx context.Context, p payment.Payment, secret string, now time.Time) {
	if p.NotificationURL == "" || secret == "" {
		return
	}
	log := logger.FromContext(ctx)
	webhook, err := notify.NewTransitionWebhook(p, secret, g.webhookMaxAttempts, now)
	if err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Msg("build notification failed")
		return
	}
	if _, err := g.store.EnqueueWebhook(ctx, webhook); err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Msg("enqueue notification failed")
	}
}

// storeError maps storage failures to wire codes.
func (g *Gateway) storeError(err error) *errors.Error {
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return errors.New(errors.KindNotFound, errors.CodeNotFound, "payment not found")
	case stderrors.Is(err, storage.ErrVersionConflict):
		if g.metrics != nil {
			g.metrics.TransitionConflicts.Inc()
		}
		return errors.New(errors.KindStateConflict, errors.CodeStateConflict, "payment was modified concurrently")
	case stderrors.Is(err, storage.ErrDuplicateOrder):
		return errors.New(errors.KindBusinessRule, errors.CodeDuplicateOrder, "orderId already used")
	default:
		return errors.Internal(err)
	}
}

// bankError maps acquirer transport failures to the retryable network code.
func bankError(err error) *errors.Error {
	if stderrors.Is(err, bank.ErrTimeout) || stderrors.Is(err, bank.ErrUnavailable) ||
		stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.New(errors.KindNetwork, errors.CodeNetworkError, "acquirer unavailable")
	}
	return errors.Internal(err)
}

// loadOwned loads a payment and checks the merchant owns it. Foreign payments
// read as not-found so merchants cannot probe each other's identifiers.
func (g *Gateway) loadOwned(ctx context.Context, m merchant.Merchant, paymentID string) (payment.Payment, *errors.Error) {
	p, err := g.store.GetPayment(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, g.storeError(err)
	}
	if p.TeamID != m.TeamID {
		return payment.Payment{}, errors.New(errors.KindNotFound, errors.CodeNotFound, "payment not found")
	}
	return p, nil
}

// recordBankCall logs the acquirer interaction in the transaction table.
func (g *Gateway) recordBankCall(ctx context.Context, p *payment.Payment, txType payment.TransactionType, res bank.Result, callErr error, amount int64) {
	status := "error"
	if callErr == nil {
		status = string(res.Outcome)
	}
	tx := payment.Transaction{
		PaymentID:     p.ID,
		Type:          txType,
		Status:        status,
		Amount:        amount,
		ExternalRef:   res.ExternalRef,
		AttemptNumber: p.AttemptCount,
		CreatedAt:     g.now().UTC(),
	}
	if err := g.store.RecordTransaction(ctx, tx); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("payment_id", p.ID).Msg("record transaction failed")
	}
}

func (g *Gateway) observeBank(operation string, res bank.Result, err error, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
	}
	g.metrics.ObserveBankCall(operation, outcome, elapsed)
}

// bankCtx derives the bounded context for one acquirer call.
func (g *Gateway) bankCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.bankTimeout)
}
