package dispatcher

import (
	"sort"
	"sync"
	"time"

	"github.com/morezero/editor-gateway/pkg/command"
)

type cacheEntry struct {
	result    *command.Result
	timestamp time.Time
}

// resultCache is a TTL-bounded map of command results. It never holds its lock across I/O.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	max     int
}

func newResultCache(ttl time.Duration, max int) *resultCache {
	return &resultCache{entries: make(map[string]cacheEntry), ttl: ttl, max: max}
}

// get returns a copy of a fresh entry flagged as cached.
func (c *resultCache) get(key string, now time.Time) (*command.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || now.Sub(e.timestamp) >= c.ttl {
		return nil, false
	}
	hit := *e.result
	hit.Cached = true
	return &hit, true
}

// put stores result under key and evicts the oldest entries once the bound is exceeded.
func (c *resultCache) put(key string, result *command.Result, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, timestamp: now}
	if c.max <= 0 || len(c.entries) <= c.max {
		return
	}

	type aged struct {
		key string
		ts  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, ts: e.timestamp})
	}
	// Key order first so equal timestamps evict deterministically.
	sort.Slice(all, func(i, j int) bool { return all[i].key < all[j].key })
	sort.SliceStable(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })
	for _, a := range all[:len(all)-c.max] {
		delete(c.entries, a.key)
	}
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
