package resolver

import (
	"math/rand"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/atlasdns/atlas/internal/metrics"
	"github.com/atlasdns/atlas/packet"
)

type nsEntry struct {
	addr      net.IP
	expiresAt time.Time
}

// NameserverCache maps a zone to the addresses of its servers. It is
// separate from the record cache because selection ranks by address
// family and randomizes within it, not by DNS type.
type NameserverCache struct {
	mu    sync.RWMutex
	zones map[string][]nsEntry

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewNameserverCache initializes an empty cache.
func NewNameserverCache() *NameserverCache {
	return &NameserverCache{
		zones: make(map[string][]nsEntry),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- server shuffling, not key material
	}
}

// Add records addresses for a zone's servers with a bounded lifetime.
func (c *NameserverCache) Add(zone string, addrs []net.IP, ttl time.Duration) {
	if ttl <= 0 || len(addrs) == 0 {
		return
	}
	zone = packet.CanonicalName(zone)
	expiry := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.zones[zone]
	for _, addr := range addrs {
		exists := false
		for i := range entries {
			if entries[i].addr.Equal(addr) {
				entries[i].expiresAt = expiry
				exists = true
				break
			}
		}
		if !exists {
			entries = append(entries, nsEntry{addr: addr, expiresAt: expiry})
		}
	}
	c.zones[zone] = entries
}

// Best returns the live server addresses for the longest suffix of
// name that has any, IPv6 first and randomized within each family.
// Without a match it returns nil and the caller falls back to the
// root hints.
func (c *NameserverCache) Best(name string) (string, []net.IP) {
	now := time.Now()
	zone := packet.CanonicalName(name)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for {
		if entries, ok := c.zones[zone]; ok {
			var live []net.IP
			for _, e := range entries {
				if now.Before(e.expiresAt) {
					live = append(live, e.addr)
				}
			}
			if len(live) > 0 {
				metrics.CacheOperations.WithLabelValues("nameserver", "hit").Inc()
				return zone, c.rank(live)
			}
		}
		if zone == "." {
			break
		}
		zone = packet.ParentName(zone)
	}
	metrics.CacheOperations.WithLabelValues("nameserver", "miss").Inc()
	return "", nil
}

// rank orders addresses IPv6 first, shuffled within each family.
func (c *NameserverCache) rank(addrs []net.IP) []net.IP {
	out := make([]net.IP, len(addrs))
	copy(out, addrs)
	c.rngMu.Lock()
	c.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	c.rngMu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].To4() == nil && out[j].To4() != nil
	})
	return out
}

// Flush removes every entry.
func (c *NameserverCache) Flush() {
	c.mu.Lock()
	c.zones = make(map[string][]nsEntry)
	c.mu.Unlock()
}
