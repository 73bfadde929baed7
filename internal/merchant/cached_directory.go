package merchant

import (
	"context"
	"sync"
	"time"

	"github.com/cardflow/gateway/internal/cacheutil"
)

// CachedDirectory wraps a Directory with a TTL read cache. The directory is
// read on every authenticated request, so lookups are cached; auth-outcome
// writes go straight through and invalidate the cached entry because they
// change the lockout state the next lookup must see.
type CachedDirectory struct {
	underlying Directory
	ttl        time.Duration

	mu    sync.RWMutex
	cache map[string]cacheutil.CachedValue[Merchant]
}

// NewCachedDirectory wraps a directory with caching. A zero TTL disables the
// cache entirely.
func NewCachedDirectory(underlying Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		underlying: underlying,
		ttl:        ttl,
		cache:      make(map[string]cacheutil.CachedValue[Merchant]),
	}
}

// Lookup returns the cached merchant when fresh, otherwise reads through.
func (d *CachedDirectory) Lookup(ctx context.Context, teamSlug string) (Merchant, error) {
	if d.ttl == 0 {
		return d.underlying.Lookup(ctx, teamSlug)
	}
	return d.readThrough(teamSlug, func() (Merchant, error) {
		return d.underlying.Lookup(ctx, teamSlug)
	})
}

// LookupByTeamID reads through with its own cache namespace: slug and id
// entries never collide because slugs cannot contain the prefix separator.
func (d *CachedDirectory) LookupByTeamID(ctx context.Context, teamID string) (Merchant, error) {
	if d.ttl == 0 {
		return d.underlying.LookupByTeamID(ctx, teamID)
	}
	return d.readThrough(idKey(teamID), func() (Merchant, error) {
		return d.underlying.LookupByTeamID(ctx, teamID)
	})
}

func (d *CachedDirectory) readThrough(key string, fetch func() (Merchant, error)) (Merchant, error) {
	return cacheutil.ReadThrough(
		&d.mu,
		func(now time.Time) (Merchant, bool) {
			if entry, ok := d.cache[key]; ok && now.Sub(entry.FetchedAt) < d.ttl {
				return entry.Value, true
			}
			return Merchant{}, false
		},
		func(now time.Time) (Merchant, error) {
			m, err := fetch()
			if err != nil {
				return Merchant{}, err
			}
			d.cache[key] = cacheutil.CachedValue[Merchant]{Value: m, FetchedAt: now}
			return m, nil
		},
	)
}

// RecordAuthOutcome writes through and drops the cached entry.
func (d *CachedDirectory) RecordAuthOutcome(ctx context.Context, teamSlug string, success bool) error {
	return cacheutil.WriteThrough(
		func() { d.invalidate(teamSlug) },
		func() error { return d.underlying.RecordAuthOutcome(ctx, teamSlug, success) },
	)
}

// Upsert writes through and drops the cached entries under both keys.
func (d *CachedDirectory) Upsert(ctx context.Context, m Merchant) error {
	return cacheutil.WriteThrough(
		func() { d.invalidate(m.TeamSlug, idKey(m.TeamID)) },
		func() error { return d.underlying.Upsert(ctx, m) },
	)
}

// Close closes the underlying directory.
func (d *CachedDirectory) Close() error {
	return d.underlying.Close()
}

func (d *CachedDirectory) invalidate(keys ...string) {
	d.mu.Lock()
	for _, key := range keys {
		delete(d.cache, key)
	}
	d.mu.Unlock()
}

func idKey(teamID string) string {
	return "id\x00" + teamID
}
