package bank

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Simulator maps the card PAN to a fixed outcome so integration flows are
// reproducible: last digit 0 declines, last digit 9 demands 3DS, anything
// else approves.
type Simulator struct {
	// Latency is the artificial processing delay per call; zero disables it.
	Latency time.Duration

	mu   sync.Mutex
	rng  *rand.Rand
	refs map[string]string // externalRef -> paymentID, for op validation
}

// NewSimulator constructs a simulator with no artificial latency.
func NewSimulator() *Simulator {
	return &Simulator{
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		refs: make(map[string]string),
	}
}

// Authorize answers deterministically from the PAN's last digit.
func (s *Simulator) Authorize(ctx context.Context, paymentID string, card Card, amount int64, currency string) (Result, error) {
	if err := s.sleep(ctx); err != nil {
		return Result{}, err
	}
	if card.PAN == "" {
		return Result{}, fmt.Errorf("bank: empty PAN")
	}

	delay := s.delayMS()
	switch card.PAN[len(card.PAN)-1] {
	case '0':
		return Result{
			Outcome:         OutcomeDeclined,
			ResponseCode:    "CARD_DECLINED",
			ResponseMessage: "card declined by issuer",
			DelayMS:         delay,
		}, nil
	case '9':
		ref := s.newRef(paymentID)
		return Result{
			Outcome:         Outcome3DS,
			ExternalRef:     ref,
			ResponseCode:    "3DS_REQUIRED",
			ResponseMessage: "3-D Secure challenge required",
			DelayMS:         delay,
		}, nil
	default:
		ref := s.newRef(paymentID)
		return Result{
			Outcome:         OutcomeApproved,
			ExternalRef:     ref,
			ResponseCode:    "APPROVED",
			ResponseMessage: "authorization approved",
			DelayMS:         delay,
		}, nil
	}
}

// Complete3DS always passes the challenge; the simulator models issuer
// friction at Authorize time only.
func (s *Simulator) Complete3DS(ctx context.Context, paymentID, externalRef string) (Result, error) {
	if err := s.sleep(ctx); err != nil {
		return Result{}, err
	}
	if !s.knownRef(externalRef, paymentID) {
		return Result{}, fmt.Errorf("bank: unknown external ref %q", externalRef)
	}
	return Result{
		Outcome:         OutcomeApproved,
		ExternalRef:     externalRef,
		ResponseCode:    "3DS_PASSED",
		ResponseMessage: "challenge completed",
		DelayMS:         s.delayMS(),
	}, nil
}

// Capture settles a previously authorized amount.
func (s *Simulator) Capture(ctx context.Context, externalRef string, amount int64) (Result, error) {
	return s.settle(ctx, externalRef, "CAPTURED", "capture settled")
}

// Reverse voids an uncaptured authorization.
func (s *Simulator) Reverse(ctx context.Context, externalRef string, amount int64) (Result, error) {
	return s.settle(ctx, externalRef, "REVERSED", "authorization reversed")
}

// Refund returns captured funds to the cardholder.
func (s *Simulator) Refund(ctx context.Context, externalRef string, amount int64) (Result, error) {
	return s.settle(ctx, externalRef, "REFUNDED", "refund accepted")
}

func (s *Simulator) settle(ctx context.Context, externalRef, code, message string) (Result, error) {
	if err := s.sleep(ctx); err != nil {
		return Result{}, err
	}
	if externalRef == "" {
		return Result{}, fmt.Errorf("bank: missing external ref")
	}
	return Result{
		Outcome:         OutcomeApproved,
		ExternalRef:     externalRef,
		ResponseCode:    code,
		ResponseMessage: message,
		DelayMS:         s.delayMS(),
	}, nil
}

func (s *Simulator) sleep(ctx context.Context) error {
	if s.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrTimeout
	case <-timer.C:
		return nil
	}
}

func (s *Simulator) delayMS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return 20 + s.rng.Intn(180)
}

func (s *Simulator) newRef(paymentID string) string {
	ref := "bank_" + uuid.NewString()
	s.mu.Lock()
	s.refs[ref] = paymentID
	s.mu.Unlock()
	return ref
}

func (s *Simulator) knownRef(ref, paymentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.refs[ref]
	return ok && owner == paymentID
}
