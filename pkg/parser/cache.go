package parser

import (
	"hash/fnv"
	"sync"
)

// resultCache memoizes successful parses keyed by an FNV-1a fingerprint
// of protocol name plus buffer bytes. When full it evicts half the
// entries in one sweep, trading precision for lock-hold time.
type resultCache struct {
	mu      sync.Mutex
	max     int
	entries map[uint64]*ParseResult

	hits   uint64
	misses uint64
}

func newResultCache(max int) *resultCache {
	return &resultCache{max: max, entries: make(map[uint64]*ParseResult, max)}
}

func fingerprint(protocol string, buf []byte) uint64 {
	h := fnv.New64a()
	h.Write([]byte(protocol))
	h.Write([]byte{0})
	h.Write(buf)
	return h.Sum64()
}

func (c *resultCache) get(protocol string, buf []byte) (*ParseResult, bool) {
	key := fingerprint(protocol, buf)
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	cp := *r
	cp.FromCache = true
	return &cp, true
}

func (c *resultCache) put(protocol string, buf []byte, r *ParseResult) {
	key := fingerprint(protocol, buf)
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		drop := len(c.entries) / 2
		for k := range c.entries {
			if drop == 0 {
				break
			}
			delete(c.entries, k)
			drop--
		}
	}
	c.entries[key] = r
}

func (c *resultCache) counters() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}
