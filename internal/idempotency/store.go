// Package idempotency caches successful operation responses keyed by the
// merchant-supplied idempotency key, so a retried Confirm returns the first
// answer instead of capturing twice.
package idempotency

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"
)

// DefaultTTL is how long a cached response stays valid.
const DefaultTTL = 24 * time.Hour

// Response is one cached operation outcome.
type Response struct {
	Body     []byte
	CachedAt time.Time
}

// Store is a sharded in-memory LRU cache with per-entry TTL. Sharding keeps
// lock contention down when many teams confirm concurrently.
type Store struct {
	shards []*shard
	ttl    time.Duration
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List
	maxSize int
}

type entry struct {
	key       string
	response  Response
	expiresAt time.Time
	element   *list.Element
}

// NewStore builds a store with the given shard count and per-shard capacity.
func NewStore(shardCount, perShardSize int, ttl time.Duration) *Store {
	if shardCount < 1 {
		shardCount = 1
	}
	if perShardSize < 1 {
		perShardSize = 1024
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &Store{shards: make([]*shard, shardCount), ttl: ttl}
	for i := range s.shards {
		s.shards[i] = &shard{
			entries: make(map[string]*entry),
			lru:     list.New(),
			maxSize: perShardSize,
		}
	}
	return s
}

// NewDefaultStore returns the configuration used in production: 16 shards of
// 4096 entries, 24 hour TTL.
func NewDefaultStore() *Store {
	return NewStore(16, 4096, DefaultTTL)
}

// Key builds the cache key. Keys are scoped per team so one merchant cannot
// collide with another's keys.
func Key(teamID, operation, idempotencyKey string) string {
	return teamID + "\x00" + operation + "\x00" + idempotencyKey
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get returns the cached response for key, if present and unexpired.
func (s *Store) Get(key string) (Response, bool) {
	sh := s.shardFor(key)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return Response{}, false
	}
	if now.After(e.expiresAt) {
		sh.remove(e)
		return Response{}, false
	}
	sh.lru.MoveToFront(e.element)
	return e.response, true
}

// Set stores a response under key, evicting the least recently used entry
// when the shard is full.
func (s *Store) Set(key string, response Response) {
	sh := s.shardFor(key)
	now := time.Now()
	if response.CachedAt.IsZero() {
		response.CachedAt = now
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[key]; ok {
		e.response = response
		e.expiresAt = now.Add(s.ttl)
		sh.lru.MoveToFront(e.element)
		return
	}

	if len(sh.entries) >= sh.maxSize {
		sh.evictOldest()
	}
	e := &entry{key: key, response: response, expiresAt: now.Add(s.ttl)}
	e.element = sh.lru.PushFront(e)
	sh.entries[key] = e
}

// Delete removes a cached response.
func (s *Store) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok {
		sh.remove(e)
	}
}

// Len returns the total number of live entries across shards.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

func (sh *shard) evictOldest() {
	back := sh.lru.Back()
	if back == nil {
		return
	}
	sh.remove(back.Value.(*entry))
}

func (sh *shard) remove(e *entry) {
	sh.lru.Remove(e.element)
	delete(sh.entries, e.key)
}
