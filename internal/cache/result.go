package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/querypilot/backend/internal/retrieval"
)

// ResultCache memoizes retrieval results per (collection, normalized query,
// top_k) with a TTL. Get-then-put under a single mutex: two identical
// concurrent misses may compute the same result twice, which is accepted
// since results are idempotent and the cache is best-effort.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]resultEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	hits   int64
	misses int64
}

type resultEntry struct {
	results   []retrieval.QueryResult
	expiresAt time.Time
}

func NewResultCache(ttl time.Duration, maxSize int) *ResultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ResultCache{
		entries: make(map[string]resultEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

func cacheKey(collectionID int64, query string, topK int) string {
	return fmt.Sprintf("%d|%s|%d", collectionID, strings.ToLower(strings.TrimSpace(query)), topK)
}

func (c *ResultCache) Get(collectionID int64, query string, topK int) ([]retrieval.QueryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[cacheKey(collectionID, query, topK)]
	if !ok || c.now().After(entry.expiresAt) {
		c.misses++
		return nil, false
	}

	c.hits++
	out := make([]retrieval.QueryResult, len(entry.results))
	copy(out, entry.results)
	return out, true
}

func (c *ResultCache) Put(collectionID int64, query string, topK int, results []retrieval.QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictExpired()
	}
	if len(c.entries) >= c.maxSize {
		// Still full after sweeping: drop an arbitrary entry rather than
		// growing unbounded.
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}

	stored := make([]retrieval.QueryResult, len(results))
	copy(stored, results)
	c.entries[cacheKey(collectionID, query, topK)] = resultEntry{
		results:   stored,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Stats returns cumulative hit and miss counts.
func (c *ResultCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// evictExpired runs under the caller's lock.
func (c *ResultCache) evictExpired() {
	now := c.now()
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
}
