package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlasdns/atlas/internal/dnstest"
	"github.com/atlasdns/atlas/packet"
)

func testResolver(t *testing.T, srv *dnstest.Server, anchors []packet.DNSRecord) *Resolver {
	t.Helper()
	return New(Config{
		QueryTimeout: time.Second,
		MaxReferrals: 10,
		Hints:        &HintStore{Roots: []string{srv.Addr()}, Anchors: anchors},
		ServerPort:   srv.Port(),
		Logger:       slog.Default(),
	})
}

// TestResolveWithReferral walks a delegation: the fake server first
// answers as the root with a referral to example. plus glue, then as
// the authoritative server for example. itself.
func TestResolveWithReferral(t *testing.T) {
	var queries atomic.Int32
	srv, err := dnstest.NewServer(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		n := queries.Add(1)
		resp := dnstest.NewResponse(req)
		if n == 1 {
			resp.Header.AuthoritativeAnswer = false
			resp.Authorities = append(resp.Authorities, packet.DNSRecord{
				Name: "example.", Type: packet.NS, Class: packet.ClassINET, TTL: 3600,
				Host: "ns.example.",
			})
			resp.Resources = append(resp.Resources, packet.DNSRecord{
				Name: "ns.example.", Type: packet.A, Class: packet.ClassINET, TTL: 3600,
				IP: []byte{127, 0, 0, 1},
			})
			return resp
		}
		resp.Answers = append(resp.Answers, packet.DNSRecord{
			Name: "example.", Type: packet.A, Class: packet.ClassINET, TTL: 300,
			IP: []byte{192, 0, 2, 42},
		})
		return resp
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, nil)
	records, err := r.Resolve(context.Background(), "example.", packet.A, packet.ClassINET)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(records) != 1 || records[0].IP.String() != "192.0.2.42" {
		t.Fatalf("Unexpected records: %+v", records)
	}
	if queries.Load() != 2 {
		t.Errorf("Expected 2 queries (root + authoritative), got %d", queries.Load())
	}

	// Within the TTL a second lookup is served from cache: no traffic.
	if _, err := r.Resolve(context.Background(), "example.", packet.A, packet.ClassINET); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if queries.Load() != 2 {
		t.Errorf("Cached lookup issued network traffic: %d queries", queries.Load())
	}
}

// TestResolveCNAMEChain follows alias -> target across two responses
// and leaves both hops in the record cache.
func TestResolveCNAMEChain(t *testing.T) {
	srv, err := dnstest.NewServer(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		q := req.Questions[0]
		resp := dnstest.NewResponse(req)
		switch {
		case packet.EqualNames(q.Name, "alias.test."):
			resp.Answers = append(resp.Answers, packet.DNSRecord{
				Name: "alias.test.", Type: packet.CNAME, Class: packet.ClassINET, TTL: 300,
				Host: "target.test.",
			})
		case packet.EqualNames(q.Name, "target.test."):
			resp.Answers = append(resp.Answers, packet.DNSRecord{
				Name: "target.test.", Type: packet.A, Class: packet.ClassINET, TTL: 300,
				IP: []byte{198, 51, 100, 7},
			})
		}
		return resp
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, nil)
	records, err := r.Resolve(context.Background(), "alias.test.", packet.A, packet.ClassINET)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(records) != 1 || records[0].IP.String() != "198.51.100.7" {
		t.Fatalf("Unexpected records: %+v", records)
	}

	if _, ok := r.cache.Get("alias.test.", packet.CNAME, packet.ClassINET); !ok {
		t.Error("CNAME hop missing from cache")
	}
	if _, ok := r.cache.Get("target.test.", packet.A, packet.ClassINET); !ok {
		t.Error("Target hop missing from cache")
	}
}

// TestResolveCNAMETargetInSameResponse takes both hops from a single
// message without a second query.
func TestResolveCNAMETargetInSameResponse(t *testing.T) {
	var queries atomic.Int32
	srv, err := dnstest.NewServer(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		queries.Add(1)
		resp := dnstest.NewResponse(req)
		resp.Answers = append(resp.Answers,
			packet.DNSRecord{Name: "alias.test.", Type: packet.CNAME, Class: packet.ClassINET, TTL: 300, Host: "target.test."},
			packet.DNSRecord{Name: "target.test.", Type: packet.A, Class: packet.ClassINET, TTL: 300, IP: []byte{198, 51, 100, 8}},
		)
		return resp
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, nil)
	records, err := r.Resolve(context.Background(), "alias.test.", packet.A, packet.ClassINET)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(records) != 1 || records[0].IP.String() != "198.51.100.8" {
		t.Fatalf("Unexpected records: %+v", records)
	}
	if queries.Load() != 1 {
		t.Errorf("Expected a single query, got %d", queries.Load())
	}
}

// TestResolveNegativeCaching stores the fact of NODATA for the
// SOA-derived TTL and answers the repeat from cache.
func TestResolveNegativeCaching(t *testing.T) {
	var queries atomic.Int32
	srv, err := dnstest.NewServer(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		queries.Add(1)
		resp := dnstest.NewResponse(req)
		resp.Authorities = append(resp.Authorities, packet.DNSRecord{
			Name: "test.", Type: packet.SOA, Class: packet.ClassINET, TTL: 3600,
			MName: "ns.test.", RName: "hostmaster.test.",
			Serial: 1, Refresh: 7200, Retry: 3600, Expire: 1209600, Minimum: 60,
		})
		return resp
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, nil)
	records, err := r.Resolve(context.Background(), "missing.test.", packet.A, packet.ClassINET)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Expected an empty result, got %+v", records)
	}
	if queries.Load() != 1 {
		t.Fatalf("Expected one query, got %d", queries.Load())
	}

	// Immediately again: no network traffic.
	records, err = r.Resolve(context.Background(), "missing.test.", packet.A, packet.ClassINET)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("Expected an empty cached result, got %+v", records)
	}
	if queries.Load() != 1 {
		t.Errorf("Negative cache missed: %d queries", queries.Load())
	}
}

// TestResolveCNAMELoopDetected breaks an alias cycle with the
// per-resolution stack.
func TestResolveCNAMELoopDetected(t *testing.T) {
	srv, err := dnstest.NewServer(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		q := req.Questions[0]
		resp := dnstest.NewResponse(req)
		target := "alias2.test."
		owner := "alias1.test."
		if packet.EqualNames(q.Name, "alias2.test.") {
			owner, target = "alias2.test.", "alias1.test."
		}
		resp.Answers = append(resp.Answers, packet.DNSRecord{
			Name: owner, Type: packet.CNAME, Class: packet.ClassINET, TTL: 300, Host: target,
		})
		return resp
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, nil)
	_, err = r.Resolve(context.Background(), "alias1.test.", packet.A, packet.ClassINET)
	if !errors.Is(err, ErrLoopDetected) {
		t.Errorf("Expected ErrLoopDetected, got %v", err)
	}
}

// TestClearCache drops cached answers so the next lookup hits the
// network again.
func TestClearCache(t *testing.T) {
	var queries atomic.Int32
	srv, err := dnstest.NewServer(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		queries.Add(1)
		resp := dnstest.NewResponse(req)
		resp.Answers = append(resp.Answers, packet.DNSRecord{
			Name: req.Questions[0].Name, Type: packet.A, Class: packet.ClassINET, TTL: 300,
			IP: []byte{192, 0, 2, 5},
		})
		return resp
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, nil)
	ctx := context.Background()
	if _, err := r.Resolve(ctx, "host.test.", packet.A, packet.ClassINET); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.ClearCache()
	if _, err := r.Resolve(ctx, "host.test.", packet.A, packet.ClassINET); err != nil {
		t.Fatalf("resolve after clear: %v", err)
	}
	if queries.Load() != 2 {
		t.Errorf("Expected a fresh query after ClearCache, got %d total", queries.Load())
	}
}

// TestResolveUnreachable surfaces a clean failure when no configured
// server answers.
func TestResolveUnreachable(t *testing.T) {
	r := New(Config{
		QueryTimeout: 200 * time.Millisecond,
		MaxReferrals: 3,
		Hints:        &HintStore{Roots: []string{"127.0.0.1:1"}},
		Logger:       slog.Default(),
	})
	_, err := r.Resolve(context.Background(), "example.com.", packet.A, packet.ClassINET)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Expected ErrUnreachable, got %v", err)
	}
}
