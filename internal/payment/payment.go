package payment

import (
	"crypto/rand"
	"time"
)

// PayType distinguishes the two capture flows.
type PayType string

const (
	PayTypeSingleStage PayType = "O" // authorize and capture in one step
	PayTypeTwoStage    PayType = "T" // authorize now, Confirm captures later
)

// DefaultMaxAttempts bounds the authorize retries per payment.
const DefaultMaxAttempts = 3

// Payment is the value type the gateway moves through the state machine.
// Card data never appears here: PAN, CVV, and expiry are consumed by the
// authorize call and discarded.
type Payment struct {
	ID       string // gateway-assigned, 20 ASCII digits, globally unique
	TeamID   string
	OrderID  string // merchant-assigned, unique per team
	Amount   int64  // minor units; shrinks on partial capture
	Currency string
	PayType  PayType

	Description string
	CustomerKey string
	Recurrent   bool
	Language    string // "ru" or "en"

	SuccessURL      string
	FailURL         string
	NotificationURL string

	PaymentExpiry int // minutes, 1..43200
	CreatedAt     time.Time
	ExpiresAt     time.Time // stamped on INIT -> NEW

	Status    Status
	ErrorCode string
	Message   string

	AttemptCount   int
	MaxAttempts    int
	RefundedAmount int64 // cumulative, never exceeds the confirmed amount

	Data map[string]string

	// Version supports optimistic concurrency at the store; it increments on
	// every successful save.
	Version int64
}

// Expired reports whether the payment deadline has passed.
func (p *Payment) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now)
}

// AttemptsExhausted reports whether the authorize retry budget is spent.
func (p *Payment) AttemptsExhausted() bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return p.AttemptCount >= max
}

// TransactionType labels the bank-facing operations recorded per payment.
type TransactionType string

const (
	TransactionAuthorize TransactionType = "authorize"
	TransactionCapture   TransactionType = "capture"
	TransactionReversal  TransactionType = "reversal"
	TransactionRefund    TransactionType = "refund"
)

// Transaction records one bank-simulator interaction.
type Transaction struct {
	ID            string
	PaymentID     string
	Type          TransactionType
	Status        string
	Amount        int64
	ExternalRef   string
	AttemptNumber int
	NextRetryAt   time.Time
	FraudScore    int
	CreatedAt     time.Time
}

// Transition is one append-only history record. One entry exists per
// accepted state-machine transition; entries are never deleted.
type Transition struct {
	PaymentID  string
	FromStatus Status
	ToStatus   Status
	Timestamp  time.Time
	Actor      string // "merchant", "customer", "bank", "reaper", "system"
	Reason     string
	ErrorCode  string
	Message    string
}

const idDigits = "0123456789"

// NewID generates a 20-digit payment identifier. Randomness rather than a
// sequence keeps hosted-form URLs unguessable, which is the only protection
// the form endpoint has.
func NewID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		panic("payment: crypto/rand unavailable: " + err.Error())
	}
	for i := range b {
		b[i] = idDigits[int(b[i])%len(idDigits)]
	}
	// Leading zero is fine; the ID is opaque text, not a number.
	return string(b)
}
