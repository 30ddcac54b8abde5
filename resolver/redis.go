package resolver

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atlasdns/atlas/internal/metrics"
	"github.com/atlasdns/atlas/packet"
)

// RedisCache is an optional second cache level behind the in-memory
// record cache, for fleets of resolvers sharing answers. Entries carry
// the verdict and the wire-encoded RRset; the remaining TTL rides on
// the Redis key expiry.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects a cache level to a Redis instance.
func NewRedisCache(addr string, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb}
}

// Ping verifies connectivity.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// encodeEntry frames an entry as verdict byte + 16-bit record count +
// wire-encoded records.
// The records travel as the answer section of a headerless message.
func encodeEntry(entry CacheEntry) ([]byte, error) {
	buf := packet.NewBytePacketBuffer()
	if err := buf.Write(byte(entry.Verdict)); err != nil {
		return nil, err
	}
	if err := buf.Writeu16(uint16(len(entry.Records))); err != nil {
		return nil, err
	}
	for i := range entry.Records {
		if _, err := entry.Records[i].Write(buf); err != nil {
			return nil, err
		}
	}
	out := make([]byte, buf.Position())
	copy(out, buf.Bytes())
	return out, nil
}

func decodeEntry(data []byte, ttl time.Duration) (CacheEntry, error) {
	buf := packet.NewBytePacketBuffer()
	buf.Load(data)
	verdictByte, err := buf.Read()
	if err != nil {
		return CacheEntry{}, err
	}
	count, err := buf.Readu16()
	if err != nil {
		return CacheEntry{}, err
	}
	entry := CacheEntry{
		Verdict:   Verdict(verdictByte),
		ExpiresAt: time.Now().Add(ttl),
	}
	for i := 0; i < int(count); i++ {
		var rec packet.DNSRecord
		if err := rec.Read(buf); err != nil {
			return CacheEntry{}, err
		}
		entry.Records = append(entry.Records, rec)
	}
	return entry, nil
}

// Get retrieves an entry, reconstructing its expiry from the key TTL.
func (r *RedisCache) Get(ctx context.Context, name string, qtype packet.QueryType, qclass uint16) (CacheEntry, bool) {
	key := "dns:" + cacheKey(name, qtype, qclass)
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.CacheOperations.WithLabelValues("redis", "miss").Inc()
		return CacheEntry{}, false
	}
	data, err := getCmd.Bytes()
	if err != nil {
		metrics.CacheOperations.WithLabelValues("redis", "miss").Inc()
		return CacheEntry{}, false
	}
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		metrics.CacheOperations.WithLabelValues("redis", "expired").Inc()
		return CacheEntry{}, false
	}
	entry, err := decodeEntry(data, ttl)
	if err != nil {
		return CacheEntry{}, false
	}
	metrics.CacheOperations.WithLabelValues("redis", "hit").Inc()
	return entry, true
}

// Set stores an entry for the given TTL. Zero TTLs are dropped, like
// the L1 cache does.
func (r *RedisCache) Set(ctx context.Context, name string, qtype packet.QueryType, qclass uint16, entry CacheEntry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return
	}
	r.client.Set(ctx, "dns:"+cacheKey(name, qtype, qclass), data, ttl)
}

// Flush clears every cached entry this prefix owns.
func (r *RedisCache) Flush(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, "dns:*", 0).Iterator()
	for iter.Next(ctx) {
		r.client.Del(ctx, iter.Val())
	}
}
