// Package merchant holds the merchant directory: the records a request's
// teamSlug resolves to, and the failed-auth lockout accounting.
package merchant

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no merchant exists for a teamSlug.
var ErrNotFound = errors.New("merchant: not found")

// LockoutPolicy bounds consecutive authentication failures.
type LockoutPolicy struct {
	MaxFailures int           // consecutive failures before lockout
	Window      time.Duration // rolling window the failures must fall in
	Cooldown    time.Duration // how long the lockout lasts
}

// DefaultLockoutPolicy matches the documented defaults: 5 failures within
// 15 minutes lock the merchant out for 15 minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxFailures: 5,
		Window:      15 * time.Minute,
		Cooldown:    15 * time.Minute,
	}
}

// Merchant is one registered team. The secret is stored retrievable because
// both token verification and webhook signing recompute HMACs from it.
type Merchant struct {
	TeamID   string
	TeamSlug string // unique, URL-safe
	Secret   string
	IsActive bool

	SupportedCurrencies []string

	MinPerPayment int64 // minor units
	MaxPerPayment int64
	DailyTotal    int64 // sum cap across a calendar day, 0 = unlimited
	DailyCount    int   // payment count cap per day, 0 = unlimited

	MinExpiryMinutes int
	MaxExpiryMinutes int

	SuccessURL      string // default fallbacks when Init omits them
	FailURL         string
	NotificationURL string

	FailedAuthAttempts int
	LockedUntil        time.Time
	LastAuthAt         time.Time

	CreatedAt time.Time
}

// SupportsCurrency reports whether the merchant accepts the ISO-4217 code.
func (m *Merchant) SupportsCurrency(code string) bool {
	for _, c := range m.SupportedCurrencies {
		if c == code {
			return true
		}
	}
	return false
}

// Locked reports whether the merchant is currently locked out.
func (m *Merchant) Locked(now time.Time) bool {
	return now.Before(m.LockedUntil)
}

// Directory resolves teamSlugs to merchants and records auth outcomes.
type Directory interface {
	Lookup(ctx context.Context, teamSlug string) (Merchant, error)
	// LookupByTeamID resolves the internal team identifier payments carry.
	// Customer-facing paths (hosted form, reaper) have no slug to go by.
	LookupByTeamID(ctx context.Context, teamID string) (Merchant, error)
	// RecordAuthOutcome updates the failure counter, lockout timestamp, and
	// last-auth time according to the lockout policy.
	RecordAuthOutcome(ctx context.Context, teamSlug string, success bool) error
	// Upsert creates or replaces a merchant record (admin/seed path).
	Upsert(ctx context.Context, m Merchant) error
	Close() error
}

// applyAuthOutcome is the shared lockout bookkeeping both backends use.
// Returns the updated merchant.
func applyAuthOutcome(m Merchant, success bool, now time.Time, policy LockoutPolicy) Merchant {
	if success {
		m.FailedAuthAttempts = 0
		m.LockedUntil = time.Time{}
		m.LastAuthAt = now
		return m
	}

	// Failures outside the rolling window restart the count.
	if !m.LastAuthAt.IsZero() && now.Sub(m.LastAuthAt) > policy.Window {
		m.FailedAuthAttempts = 0
	}
	m.FailedAuthAttempts++
	m.LastAuthAt = now
	if m.FailedAuthAttempts >= policy.MaxFailures {
		m.LockedUntil = now.Add(policy.Cooldown)
	}
	return m
}
