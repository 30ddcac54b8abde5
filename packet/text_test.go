package packet

import (
	"net"
	"strings"
	"testing"
)

func parseTokens(t *testing.T, qtype QueryType, rdata, origin string) DNSRecord {
	t.Helper()
	rec := DNSRecord{Type: qtype, Class: ClassINET}
	if err := rec.ParseRData(strings.Fields(rdata), origin); err != nil {
		t.Fatalf("parse %s %q: %v", qtype, rdata, err)
	}
	return rec
}

func TestParseARData(t *testing.T) {
	rec := parseTokens(t, A, "192.0.2.1", "example.com.")
	if !rec.IP.Equal(net.ParseIP("192.0.2.1")) {
		t.Errorf("Wrong address: %v", rec.IP)
	}
	if rec.RDataString() != "192.0.2.1" {
		t.Errorf("Render mismatch: %q", rec.RDataString())
	}
}

func TestParseRelativeName(t *testing.T) {
	rec := parseTokens(t, NS, "ns1", "example.com.")
	if rec.Host != "ns1.example.com." {
		t.Errorf("Relative name not qualified: %q", rec.Host)
	}
	abs := parseTokens(t, NS, "ns.other.net.", "example.com.")
	if abs.Host != "ns.other.net." {
		t.Errorf("Absolute name must pass through: %q", abs.Host)
	}
	at := parseTokens(t, NS, "@", "example.com.")
	if at.Host != "example.com." {
		t.Errorf("@ must resolve to the origin: %q", at.Host)
	}
}

func TestParseSOARData(t *testing.T) {
	rec := parseTokens(t, SOA, "ns1 hostmaster 2024010101 7200 3600 1209600 300", "example.com.")
	if rec.MName != "ns1.example.com." || rec.Serial != 2024010101 || rec.Minimum != 300 {
		t.Errorf("SOA mismatch: %+v", rec)
	}
}

func TestTXTQuoting(t *testing.T) {
	rec := DNSRecord{Type: TXT, TxtStrings: []string{"hello world", "second"}}
	if rec.RDataString() != `"hello world" "second"` {
		t.Errorf("Each TXT string must be double-quoted: %q", rec.RDataString())
	}
}

func TestParseSRVRData(t *testing.T) {
	rec := parseTokens(t, SRV, "10 60 5060 sip", "example.com.")
	if rec.Priority != 10 || rec.Weight != 60 || rec.Port != 5060 || rec.Host != "sip.example.com." {
		t.Errorf("SRV mismatch: %+v", rec)
	}
}

func TestParseDSRData(t *testing.T) {
	rec := parseTokens(t, DS, "31589 8 2 49FD46E6C4B45C55D4AC69CBD3CD34AC1AFE51DE", "example.com.")
	if rec.KeyTag != 31589 || rec.Algorithm != 8 || rec.DigestType != 2 {
		t.Errorf("DS fields mismatch: %+v", rec)
	}
	if len(rec.Digest) != 20 {
		t.Errorf("Digest length: %d", len(rec.Digest))
	}
}

func TestRRSIGTimeFormats(t *testing.T) {
	rdata := "A 13 2 300 20300101000000 20200101000000 4711 example.com. " +
		"MTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDEyMzQ1Njc4"
	rec := parseTokens(t, RRSIG, rdata, "example.com.")
	if rec.TypeCovered != uint16(A) || rec.KeyTag != 4711 {
		t.Errorf("RRSIG fields mismatch: %+v", rec)
	}
	// 2030-01-01T00:00:00Z
	if rec.Expiration != 1893456000 {
		t.Errorf("Expiration: %d", rec.Expiration)
	}
	rendered := rec.RDataString()
	if !strings.Contains(rendered, "20300101000000") || !strings.Contains(rendered, "20200101000000") {
		t.Errorf("Timestamp render mismatch: %q", rendered)
	}
}

func TestParseNSECRData(t *testing.T) {
	rec := parseTokens(t, NSEC, "beta.example.com. A MX RRSIG NSEC", "example.com.")
	if rec.NextName != "beta.example.com." {
		t.Errorf("Next name: %q", rec.NextName)
	}
	for _, qt := range []QueryType{A, MX, RRSIG, NSEC} {
		if !BitMapContains(rec.TypeBitMap, qt) {
			t.Errorf("Bitmap missing %s", qt)
		}
	}
	if BitMapContains(rec.TypeBitMap, TXT) {
		t.Error("Bitmap must not contain TXT")
	}
}

func TestUnknownTypeGenericForm(t *testing.T) {
	rec := parseTokens(t, QueryType(4242), `\# 4 CAFEBABE`, ".")
	if len(rec.Data) != 4 || rec.Data[0] != 0xCA {
		t.Errorf("Generic RDATA mismatch: %x", rec.Data)
	}
	if rec.RDataString() != `\# 4 CAFEBABE` {
		t.Errorf("Generic render mismatch: %q", rec.RDataString())
	}
}

func TestQueryTypeFromString(t *testing.T) {
	if QueryTypeFromString("aaaa") != AAAA {
		t.Error("Mnemonics are case-insensitive")
	}
	if QueryTypeFromString("TYPE4242") != QueryType(4242) {
		t.Error("TYPEnnn form must parse")
	}
	if QueryTypeFromString("bogus") != UNKNOWN {
		t.Error("Unknown mnemonics map to UNKNOWN")
	}
}
