package payment

import (
	"time"

	"github.com/cardflow/gateway/internal/errors"
)

// Guard validates a proposed transition against the edge table and the
// runtime guards: terminal states, the authorize attempt budget, and the
// payment deadline. It returns nil when the transition may proceed.
//
// Callers run Guard and Apply inside the per-payment critical section; Guard
// itself does no I/O.
func Guard(p *Payment, to Status, now time.Time) *errors.Error {
	if p.Status.IsTerminal() {
		return errors.Newf(errors.KindStateConflict, errors.CodeBadStatus,
			"payment %s is in terminal status %s", p.ID, p.Status)
	}
	if !p.Status.CanTransitionTo(to) {
		return errors.Newf(errors.KindStateConflict, errors.CodeBadStatus,
			"transition %s -> %s is not allowed", p.Status, to)
	}
	if to == StatusAuthorizing && p.AttemptsExhausted() {
		return errors.Newf(errors.KindStateConflict, errors.CodeBadStatus,
			"payment %s exhausted its %d authorize attempts", p.ID, p.MaxAttempts)
	}
	if p.Status == StatusAuthFail && p.AttemptsExhausted() {
		return errors.Newf(errors.KindStateConflict, errors.CodeBadStatus,
			"payment %s exhausted its %d authorize attempts", p.ID, p.MaxAttempts)
	}
	// The reaper's edge is exempt from the deadline guard; everything else
	// on an expired payment is rejected.
	if to != StatusDeadlineExpired && p.Expired(now) {
		return errors.Newf(errors.KindStateConflict, errors.CodeBadStatus,
			"payment %s expired at %s", p.ID, p.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Effect carries the optional side-channel values a transition may stamp.
type Effect struct {
	ErrorCode string
	Message   string
	// Amount, when non-zero on AUTHORIZED -> CONFIRMING, replaces the payment
	// amount (partial capture).
	Amount int64
}

// Apply mutates the payment for an already-guarded transition and returns the
// history record to append. The caller persists both in one unit of work.
func Apply(p *Payment, to Status, now time.Time, actor string, eff Effect) Transition {
	from := p.Status
	p.Status = to

	switch {
	case from == StatusInit && to == StatusNew:
		p.ExpiresAt = p.CreatedAt.Add(time.Duration(p.PaymentExpiry) * time.Minute)
	case from == StatusFormShowed && to == StatusAuthorizing:
		p.AttemptCount++
	case from == StatusAuthorized && to == StatusConfirming && eff.Amount > 0 && eff.Amount < p.Amount:
		p.Amount = eff.Amount
	}

	if eff.ErrorCode != "" {
		p.ErrorCode = eff.ErrorCode
		p.Message = eff.Message
	} else if to == StatusAuthorized || to == StatusConfirmed {
		// A success clears the error left by an earlier failed attempt.
		p.ErrorCode = ""
		p.Message = ""
	}

	return Transition{
		PaymentID:  p.ID,
		FromStatus: from,
		ToStatus:   to,
		Timestamp:  now,
		Actor:      actor,
		ErrorCode:  eff.ErrorCode,
		Message:    eff.Message,
	}
}
