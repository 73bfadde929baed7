package gateway

import (
	"context"
	"time"

	"github.com/cardflow/gateway/internal/logger"
	"github.com/cardflow/gateway/internal/payment"
)

// ActorReaper marks deadline expirations in the transition history.
const ActorReaper = "reaper"

// ExpireDue sweeps payments whose deadline passed while still waiting for the
// customer and moves them to DEADLINE_EXPIRED. Returns how many were expired.
//
// Each payment is re-read under its lock: the customer may have submitted the
// form between the candidate query and the sweep, and the version guard
// rejects the race in the store even if they slip past the status re-check.
func (g *Gateway) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := g.store.ExpiredCandidates(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	log := logger.FromContext(ctx)
	expired := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if g.expireOne(ctx, candidate.ID, now) {
			expired++
		}
	}
	if expired > 0 {
		log.Info().Int("expired", expired).Msg("deadline sweep")
	}
	return expired, nil
}

func (g *Gateway) expireOne(ctx context.Context, paymentID string, now time.Time) bool {
	unlock := g.locks.Lock(paymentID)
	defer unlock()

	p, err := g.store.GetPayment(ctx, paymentID)
	if err != nil {
		return false
	}
	if !p.Expired(now) || p.Status.IsTerminal() {
		return false
	}

	secret := g.secretFor(ctx, p.TeamID)
	eff := payment.Effect{Message: "payment deadline expired"}
	if cerr := g.commit(ctx, &p, payment.StatusDeadlineExpired, ActorReaper, eff, secret); cerr != nil {
		// Losing to a concurrent transition is fine; the next sweep decides.
		log := logger.FromContext(ctx)
		log.Debug().Str("payment_id", p.ID).Str("code", string(cerr.Code)).Msg("expire skipped")
		return false
	}
	if g.metrics != nil {
		g.metrics.ReaperExpiredTotal.Inc()
	}
	return true
}
