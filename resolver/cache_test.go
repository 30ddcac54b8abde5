package resolver

import (
	"testing"
	"time"

	"github.com/atlasdns/atlas/packet"
)

func aRecord(name string, ttl uint32, ip byte) packet.DNSRecord {
	return packet.DNSRecord{
		Name: name, Type: packet.A, Class: packet.ClassINET, TTL: ttl,
		IP: []byte{192, 0, 2, ip},
	}
}

func TestRecordCacheSetGet(t *testing.T) {
	cache := NewRecordCache()
	cache.Set("example.com.", packet.A, packet.ClassINET, []packet.DNSRecord{aRecord("example.com.", 300, 1)}, VerdictSecure, time.Minute)

	entry, ok := cache.Get("example.com.", packet.A, packet.ClassINET)
	if !ok {
		t.Fatal("Expected a hit")
	}
	if entry.Verdict != VerdictSecure {
		t.Errorf("Verdict lost: %v", entry.Verdict)
	}
	if len(entry.Records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(entry.Records))
	}

	// Lookups are case-insensitive.
	if _, ok := cache.Get("EXAMPLE.com.", packet.A, packet.ClassINET); !ok {
		t.Error("Expected case-insensitive hit")
	}
}

func TestRecordCacheExpiry(t *testing.T) {
	cache := NewRecordCache()
	cache.Set("fleeting.example.", packet.A, packet.ClassINET, []packet.DNSRecord{aRecord("fleeting.example.", 1, 1)}, VerdictUnsigned, 10*time.Millisecond)

	if _, ok := cache.Get("fleeting.example.", packet.A, packet.ClassINET); !ok {
		t.Fatal("Expected a hit before expiry")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := cache.Get("fleeting.example.", packet.A, packet.ClassINET); ok {
		t.Error("Entry must be unobservable after its TTL")
	}
}

func TestRecordCacheZeroTTLIsNoOp(t *testing.T) {
	cache := NewRecordCache()
	cache.Set("zero.example.", packet.A, packet.ClassINET, []packet.DNSRecord{aRecord("zero.example.", 0, 1)}, VerdictUnsigned, 0)
	if _, ok := cache.Get("zero.example.", packet.A, packet.ClassINET); ok {
		t.Error("A zero-TTL write must store nothing")
	}
}

func TestRecordCacheTTLDecays(t *testing.T) {
	cache := NewRecordCache()
	cache.Set("decay.example.", packet.A, packet.ClassINET, []packet.DNSRecord{aRecord("decay.example.", 2, 1)}, VerdictUnsigned, 2*time.Second)

	entry, ok := cache.Get("decay.example.", packet.A, packet.ClassINET)
	if !ok {
		t.Fatal("Expected a hit")
	}
	first := entry.Records[0].TTL

	time.Sleep(1100 * time.Millisecond)
	entry, ok = cache.Get("decay.example.", packet.A, packet.ClassINET)
	if !ok {
		t.Fatal("Expected a hit within the TTL")
	}
	if entry.Records[0].TTL >= first && first > 0 {
		t.Errorf("TTL must decay: was %d, still %d", first, entry.Records[0].TTL)
	}
}

func TestRecordCacheNegativeEntry(t *testing.T) {
	cache := NewRecordCache()
	cache.Set("missing.example.", packet.A, packet.ClassINET, nil, VerdictSecure, time.Minute)

	entry, ok := cache.Get("missing.example.", packet.A, packet.ClassINET)
	if !ok {
		t.Fatal("Negative entries are real entries")
	}
	if len(entry.Records) != 0 {
		t.Errorf("Expected empty RRset, got %d records", len(entry.Records))
	}
}

func TestRecordCacheReplace(t *testing.T) {
	cache := NewRecordCache()
	cache.Set("swap.example.", packet.A, packet.ClassINET, []packet.DNSRecord{aRecord("swap.example.", 60, 1)}, VerdictUnsigned, time.Minute)
	cache.Set("swap.example.", packet.A, packet.ClassINET, []packet.DNSRecord{aRecord("swap.example.", 60, 2)}, VerdictSecure, time.Minute)

	entry, _ := cache.Get("swap.example.", packet.A, packet.ClassINET)
	if len(entry.Records) != 1 || entry.Records[0].IP[3] != 2 {
		t.Errorf("Write must replace: %+v", entry.Records)
	}
	if entry.Verdict != VerdictSecure {
		t.Error("Verdict must follow the replacement")
	}
}

func TestMinTTL(t *testing.T) {
	records := []packet.DNSRecord{aRecord("x.", 300, 1), aRecord("x.", 100, 2), aRecord("x.", 200, 3)}
	if MinTTL(records, 0) != 100 {
		t.Errorf("Expected 100, got %d", MinTTL(records, 0))
	}
	if MinTTL(nil, 60) != 60 {
		t.Error("Empty set must yield the default")
	}
}

func TestRecordCacheFlush(t *testing.T) {
	cache := NewRecordCache()
	cache.Set("a.example.", packet.A, packet.ClassINET, []packet.DNSRecord{aRecord("a.example.", 60, 1)}, VerdictUnsigned, time.Minute)
	cache.Flush()
	if _, ok := cache.Get("a.example.", packet.A, packet.ClassINET); ok {
		t.Error("Flush must drop everything")
	}
}
