package resolver

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/atlasdns/atlas/internal/dnstest"
	"github.com/atlasdns/atlas/packet"
)

// signedZone is a minimal self-contained signed zone for the fake
// server: one key signs both the DNSKEY RRset and the zone's data.
type signedZone struct {
	zone   string
	dnskey packet.DNSRecord
	keySig packet.DNSRecord
	ds     packet.DNSRecord
	priv   *ecdsa.PrivateKey
	keyTag uint16
}

func newSignedZone(t *testing.T, zone string) *signedZone {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dnskey, err := packet.NewDNSKEY(zone, packet.DNSKEYFlagZone|packet.DNSKEYFlagSEP, 3600, packet.AlgECDSAP256SHA256, &priv.PublicKey)
	if err != nil {
		t.Fatalf("dnskey: %v", err)
	}
	keyTag := dnskey.ComputeKeyTag()

	now := uint32(time.Now().Unix())
	keySig, err := packet.SignRRSet([]packet.DNSRecord{dnskey}, priv, packet.AlgECDSAP256SHA256, zone, keyTag, now-3600, now+86400)
	if err != nil {
		t.Fatalf("sign dnskey rrset: %v", err)
	}
	ds, err := dnskey.ComputeDS(packet.DigestSHA256)
	if err != nil {
		t.Fatalf("compute ds: %v", err)
	}
	return &signedZone{zone: zone, dnskey: dnskey, keySig: keySig, ds: ds, priv: priv, keyTag: keyTag}
}

func (z *signedZone) sign(t *testing.T, records []packet.DNSRecord, inception, expiration uint32) packet.DNSRecord {
	t.Helper()
	sig, err := packet.SignRRSet(records, z.priv, packet.AlgECDSAP256SHA256, z.zone, z.keyTag, inception, expiration)
	if err != nil {
		t.Fatalf("sign rrset: %v", err)
	}
	return sig
}

// serveSigned answers DNSKEY queries for the zone and hands everything
// else to next.
func (z *signedZone) serveSigned(next dnstest.Handler) dnstest.Handler {
	return func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		q := req.Questions[0]
		if q.QType == packet.DNSKEY && packet.EqualNames(q.Name, z.zone) {
			resp := dnstest.NewResponse(req)
			resp.Answers = append(resp.Answers, z.dnskey, z.keySig)
			return resp
		}
		return next(req, proto)
	}
}

// TestResolveSecureValidChain returns Secure for a signed record whose
// chain terminates at the configured DS trust anchor.
func TestResolveSecureValidChain(t *testing.T) {
	z := newSignedZone(t, "test.")
	now := uint32(time.Now().Unix())

	aRec := packet.DNSRecord{
		Name: "secure.test.", Type: packet.A, Class: packet.ClassINET, TTL: 300,
		IP: []byte{203, 0, 113, 5},
	}
	aSig := z.sign(t, []packet.DNSRecord{aRec}, now-3600, now+86400)

	srv, err := dnstest.NewServer(z.serveSigned(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		resp := dnstest.NewResponse(req)
		resp.Answers = append(resp.Answers, aRec, aSig)
		return resp
	}))
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, []packet.DNSRecord{z.ds})
	records, verdict, err := r.ResolveSecure(context.Background(), "secure.test.", packet.A, packet.ClassINET)
	if err != nil {
		t.Fatalf("resolve secure: %v", err)
	}
	if verdict != VerdictSecure {
		t.Fatalf("Expected Secure, got %s", verdict)
	}
	if len(records) != 1 || records[0].IP.String() != "203.0.113.5" {
		t.Errorf("Unexpected records: %+v", records)
	}
}

// TestResolveSecureExpiredSignatureIsBogus rejects a chain whose RRSIG
// expired in the past.
func TestResolveSecureExpiredSignatureIsBogus(t *testing.T) {
	z := newSignedZone(t, "test.")
	now := uint32(time.Now().Unix())

	aRec := packet.DNSRecord{
		Name: "secure.test.", Type: packet.A, Class: packet.ClassINET, TTL: 300,
		IP: []byte{203, 0, 113, 5},
	}
	// Expired a day ago.
	aSig := z.sign(t, []packet.DNSRecord{aRec}, now-172800, now-86400)

	srv, err := dnstest.NewServer(z.serveSigned(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		resp := dnstest.NewResponse(req)
		resp.Answers = append(resp.Answers, aRec, aSig)
		return resp
	}))
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, []packet.DNSRecord{z.ds})
	_, verdict, err := r.ResolveSecure(context.Background(), "secure.test.", packet.A, packet.ClassINET)
	if !errors.Is(err, ErrBogus) {
		t.Fatalf("Expected ErrBogus, got verdict=%s err=%v", verdict, err)
	}
}

// TestResolveSecureTamperedSignatureIsBogus rejects a chain whose
// signature does not verify.
func TestResolveSecureTamperedSignatureIsBogus(t *testing.T) {
	z := newSignedZone(t, "test.")
	now := uint32(time.Now().Unix())

	aRec := packet.DNSRecord{
		Name: "secure.test.", Type: packet.A, Class: packet.ClassINET, TTL: 300,
		IP: []byte{203, 0, 113, 5},
	}
	aSig := z.sign(t, []packet.DNSRecord{aRec}, now-3600, now+86400)
	aSig.Signature[0] ^= 0xFF

	srv, err := dnstest.NewServer(z.serveSigned(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		resp := dnstest.NewResponse(req)
		resp.Answers = append(resp.Answers, aRec, aSig)
		return resp
	}))
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, []packet.DNSRecord{z.ds})
	if _, _, err := r.ResolveSecure(context.Background(), "secure.test.", packet.A, packet.ClassINET); !errors.Is(err, ErrBogus) {
		t.Fatalf("Expected ErrBogus, got %v", err)
	}
}

// TestResolveSecureNoAnchorIsIndeterminate reports Indeterminate when
// no configured trust anchor covers the name.
func TestResolveSecureNoAnchorIsIndeterminate(t *testing.T) {
	z := newSignedZone(t, "test.")
	other := newSignedZone(t, "elsewhere.")
	now := uint32(time.Now().Unix())

	aRec := packet.DNSRecord{
		Name: "secure.test.", Type: packet.A, Class: packet.ClassINET, TTL: 300,
		IP: []byte{203, 0, 113, 5},
	}
	aSig := z.sign(t, []packet.DNSRecord{aRec}, now-3600, now+86400)

	srv, err := dnstest.NewServer(z.serveSigned(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		resp := dnstest.NewResponse(req)
		resp.Answers = append(resp.Answers, aRec, aSig)
		return resp
	}))
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	// An anchor exists, but for an unrelated zone.
	r := testResolver(t, srv, []packet.DNSRecord{other.ds})
	_, verdict, err := r.ResolveSecure(context.Background(), "secure.test.", packet.A, packet.ClassINET)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if verdict != VerdictIndeterminate {
		t.Errorf("Expected Indeterminate, got %s", verdict)
	}
}

// TestResolveSecureUnsignedWithoutAnchors keeps plain resolutions
// working when validation is off.
func TestResolveSecureUnsignedWithoutAnchors(t *testing.T) {
	srv, err := dnstest.NewServer(func(req *packet.DNSPacket, proto string) *packet.DNSPacket {
		resp := dnstest.NewResponse(req)
		resp.Answers = append(resp.Answers, packet.DNSRecord{
			Name: req.Questions[0].Name, Type: packet.A, Class: packet.ClassINET, TTL: 300,
			IP: []byte{192, 0, 2, 1},
		})
		return resp
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	r := testResolver(t, srv, nil)
	records, verdict, err := r.ResolveSecure(context.Background(), "plain.test.", packet.A, packet.ClassINET)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if verdict != VerdictUnsigned {
		t.Errorf("Expected Unsigned, got %s", verdict)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(records))
	}
}
