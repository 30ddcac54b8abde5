package resolver

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/atlasdns/atlas/internal/metrics"
	"github.com/atlasdns/atlas/packet"
)

// shardCount determines the number of internal shards to reduce lock
// contention.
const shardCount = 64

// CacheEntry is one cached RRset with its validation standing. An
// empty Records slice with a positive TTL expresses negative caching.
type CacheEntry struct {
	Records   []packet.DNSRecord
	Verdict   Verdict
	ExpiresAt time.Time
}

type recordShard struct {
	mu    sync.RWMutex
	items map[string]CacheEntry
}

// RecordCache maps (name, type, class) to an RRset, its verdict and an
// absolute expiry. Reads are lock-shared; stale entries are evicted
// lazily on access.
type RecordCache struct {
	shards [shardCount]*recordShard
}

// NewRecordCache initializes an empty cache.
func NewRecordCache() *RecordCache {
	c := &RecordCache{}
	for i := 0; i < shardCount; i++ {
		c.shards[i] = &recordShard{items: make(map[string]CacheEntry)}
	}
	return c
}

func cacheKey(name string, qtype packet.QueryType, qclass uint16) string {
	return fmt.Sprintf("%s|%d|%d", packet.CanonicalName(name), qtype, qclass)
}

func (c *RecordCache) getShard(key string) *recordShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get returns the live entry for a key, with record TTLs decayed to the
// remaining lifetime. TTLs never increase after insertion.
func (c *RecordCache) Get(name string, qtype packet.QueryType, qclass uint16) (CacheEntry, bool) {
	key := cacheKey(name, qtype, qclass)
	shard := c.getShard(key)

	shard.mu.RLock()
	entry, found := shard.items[key]
	shard.mu.RUnlock()

	now := time.Now()
	if !found {
		metrics.CacheOperations.WithLabelValues("record", "miss").Inc()
		return CacheEntry{}, false
	}
	if !now.Before(entry.ExpiresAt) {
		shard.mu.Lock()
		if e, ok := shard.items[key]; ok && !now.Before(e.ExpiresAt) {
			delete(shard.items, key)
		}
		shard.mu.Unlock()
		metrics.CacheOperations.WithLabelValues("record", "expired").Inc()
		return CacheEntry{}, false
	}

	remaining := uint32(entry.ExpiresAt.Sub(now) / time.Second)
	out := CacheEntry{
		Records:   make([]packet.DNSRecord, len(entry.Records)),
		Verdict:   entry.Verdict,
		ExpiresAt: entry.ExpiresAt,
	}
	for i, rec := range entry.Records {
		if rec.TTL > remaining {
			rec.TTL = remaining
		}
		out.Records[i] = rec
	}
	metrics.CacheOperations.WithLabelValues("record", "hit").Inc()
	return out, true
}

// Set replaces the entry under a key. A zero TTL is a no-op. Storing an
// empty record list with a verdict is the negative-caching form.
func (c *RecordCache) Set(name string, qtype packet.QueryType, qclass uint16, records []packet.DNSRecord, verdict Verdict, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	key := cacheKey(name, qtype, qclass)
	shard := c.getShard(key)

	entry := CacheEntry{
		Records:   append([]packet.DNSRecord(nil), records...),
		Verdict:   verdict,
		ExpiresAt: time.Now().Add(ttl),
	}
	shard.mu.Lock()
	shard.items[key] = entry
	shard.mu.Unlock()
}

// Flush removes every entry.
func (c *RecordCache) Flush() {
	for i := 0; i < shardCount; i++ {
		shard := c.shards[i]
		shard.mu.Lock()
		shard.items = make(map[string]CacheEntry)
		shard.mu.Unlock()
	}
}

// MinTTL returns the smallest TTL of an RRset, the unit that expires as
// one, or def when the set is empty.
func MinTTL(records []packet.DNSRecord, def uint32) uint32 {
	if len(records) == 0 {
		return def
	}
	min := records[0].TTL
	for _, r := range records[1:] {
		if r.TTL < min {
			min = r.TTL
		}
	}
	return min
}
