package tools

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/research-agent/internal/model"
)

// DefaultCacheTTL is how long a tool result stays fresh.
const DefaultCacheTTL = 15 * time.Minute

type cacheEntry struct {
	result  model.ToolResult
	expires time.Time
}

// Cache is a TTL map from normalized (tool, query) to tool results. It is
// not size-bounded; expired entries are evicted when read or swept.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a cache. ttl <= 0 selects DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

// CacheKey normalizes a query with NFKC, case folding and whitespace
// collapsing, so trivially different spellings share an entry.
func CacheKey(tool, query string) string {
	q := norm.NFKC.String(strings.TrimSpace(query))
	q = strings.Join(strings.Fields(q), " ")
	return strings.ToLower(tool) + "\x00" + cases.Fold().String(q)
}

// Get returns a fresh result, evicting the entry if it has expired.
func (c *Cache) Get(tool, query string) (model.ToolResult, bool) {
	key := CacheKey(tool, query)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return model.ToolResult{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return model.ToolResult{}, false
	}
	return e.result, true
}

// Put stores a successful result. Error results are ignored.
func (c *Cache) Put(tool, query string, res model.ToolResult) {
	if res.IsError {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[CacheKey(tool, query)] = cacheEntry{result: res, expires: c.now().Add(c.ttl)}
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
