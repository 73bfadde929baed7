// Package cacheutil holds the read-through/write-through cache primitives the
// cached repository wrappers share.
package cacheutil

import (
	"sync"
	"time"
)

// WriteThrough runs the write and invalidates the cache on success, so the
// next read sees what the backing store has.
func WriteThrough(invalidate func(), operation func() error) error {
	if err := operation(); err != nil {
		return err
	}
	invalidate()
	return nil
}

// CachedValue is one cache entry with its fetch timestamp.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough checks the cache under the read lock, and on a miss re-checks
// under the write lock before fetching: a concurrent goroutine may have
// populated the entry between the two locks.
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Fresh timestamp so a just-cached entry is not treated as expired.
	now = time.Now()
	if value, ok := checkCache(now); ok {
		return value, nil
	}
	return fetchAndCache(now)
}
