package proxy

import (
	"net/http"
	"sync"
	"time"
)

type cacheEntry struct {
	data    []byte
	header  http.Header
	created time.Time
}

// pageCache keeps rendered pages in memory for ttl.
type pageCache struct {
	mu   sync.RWMutex
	now  func() time.Time
	ttl  time.Duration
	data map[string]cacheEntry
}

func newPageCache(now func() time.Time, ttl time.Duration) *pageCache {
	if now == nil {
		now = time.Now
	}
	return &pageCache{
		now:  now,
		ttl:  ttl,
		data: make(map[string]cacheEntry),
	}
}

// cacheKey separates visitors with different languages; credentialed
// requests are never cached.
func cacheKey(target string, hdr http.Header) string {
	return target + "|" + hdr.Get("Accept-Language")
}

func cacheable(hdr http.Header) bool {
	return hdr.Get("Cookie") == "" && hdr.Get("Authorization") == ""
}

func (c *pageCache) Store(target string, hdr http.Header, data []byte, respHeader http.Header) {
	if c.ttl <= 0 || len(data) == 0 || !cacheable(hdr) {
		return
	}
	now := c.now()
	entry := cacheEntry{
		data:    append([]byte(nil), data...),
		header:  respHeader.Clone(),
		created: now,
	}
	c.mu.Lock()
	for k, e := range c.data {
		if now.Sub(e.created) >= c.ttl {
			delete(c.data, k)
		}
	}
	c.data[cacheKey(target, hdr)] = entry
	c.mu.Unlock()
}

func (c *pageCache) Select(target string, hdr http.Header) ([]byte, http.Header, bool) {
	if c.ttl <= 0 || !cacheable(hdr) {
		return nil, nil, false
	}
	c.mu.RLock()
	entry, ok := c.data[cacheKey(target, hdr)]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.created) >= c.ttl {
		return nil, nil, false
	}
	return append([]byte(nil), entry.data...), entry.header.Clone(), true
}

func (c *pageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
