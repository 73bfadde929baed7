package merchant

import (
	"context"
	"sync"
	"time"
)

// MemoryDirectory is an in-memory Directory for tests and single-instance
// development deployments.
type MemoryDirectory struct {
	mu        sync.RWMutex
	merchants map[string]Merchant // keyed by teamSlug
	policy    LockoutPolicy
	now       func() time.Time
}

// NewMemoryDirectory constructs an empty in-memory directory.
func NewMemoryDirectory(policy LockoutPolicy) *MemoryDirectory {
	return &MemoryDirectory{
		merchants: make(map[string]Merchant),
		policy:    policy,
		now:       time.Now,
	}
}

// Lookup returns the merchant registered under teamSlug.
func (d *MemoryDirectory) Lookup(_ context.Context, teamSlug string) (Merchant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, ok := d.merchants[teamSlug]
	if !ok {
		return Merchant{}, ErrNotFound
	}
	return m, nil
}

// LookupByTeamID returns the merchant with the given internal identifier.
func (d *MemoryDirectory) LookupByTeamID(_ context.Context, teamID string) (Merchant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, m := range d.merchants {
		if m.TeamID == teamID {
			return m, nil
		}
	}
	return Merchant{}, ErrNotFound
}

// RecordAuthOutcome applies the lockout policy for one auth attempt.
func (d *MemoryDirectory) RecordAuthOutcome(_ context.Context, teamSlug string, success bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.merchants[teamSlug]
	if !ok {
		return ErrNotFound
	}
	d.merchants[teamSlug] = applyAuthOutcome(m, success, d.now().UTC(), d.policy)
	return nil
}

// Upsert creates or replaces a merchant record.
func (d *MemoryDirectory) Upsert(_ context.Context, m Merchant) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.merchants[m.TeamSlug] = m
	return nil
}

// Close implements Directory.
func (d *MemoryDirectory) Close() error { return nil }
