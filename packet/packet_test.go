package packet

import (
	"net"
	"testing"
)

func TestHeaderSerialization(t *testing.T) {
	header := DNSHeader{
		ID:                  1234,
		Response:            true,
		AuthoritativeAnswer: true,
		Questions:           1,
	}

	buffer := NewBytePacketBuffer()
	if err := header.Write(buffer); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}
	if buffer.Position() != 12 {
		t.Errorf("Header should be 12 bytes, got %d", buffer.Position())
	}

	_ = buffer.Seek(0)
	readHeader := DNSHeader{}
	if err := readHeader.Read(buffer); err != nil {
		t.Fatalf("Failed to read header: %v", err)
	}

	if readHeader.ID != 1234 {
		t.Errorf("Expected ID 1234, got %d", readHeader.ID)
	}
	if !readHeader.Response {
		t.Errorf("Expected Response bit to be set")
	}
	if !readHeader.AuthoritativeAnswer {
		t.Errorf("Expected AuthoritativeAnswer bit to be set")
	}
}

func TestHeaderFlagRoundTrip(t *testing.T) {
	header := DNSHeader{
		ID:                 42,
		RecursionDesired:   true,
		CheckingDisabled:   true,
		AuthedData:         true,
		RecursionAvailable: true,
		TruncatedMessage:   true,
		Opcode:             OpcodeUpdate,
		ResCode:            uint8(RcodeRefused),
	}
	buffer := NewBytePacketBuffer()
	if err := header.Write(buffer); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = buffer.Seek(0)
	var got DNSHeader
	if err := got.Read(buffer); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != header {
		t.Errorf("Header mismatch:\n  want %+v\n  got  %+v", header, got)
	}
}

func TestQuestionRoundTrip(t *testing.T) {
	q := DNSQuestion{Name: "example.com.", QType: MX, QClass: ClassCHAOS}
	buffer := NewBytePacketBuffer()
	if err := q.Write(buffer); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = buffer.Seek(0)
	var got DNSQuestion
	if err := got.Read(buffer); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != q {
		t.Errorf("Question mismatch: want %+v, got %+v", q, got)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	p := NewDNSPacket()
	p.Header.ID = 777
	p.Header.Response = true
	p.Questions = append(p.Questions, DNSQuestion{Name: "example.com.", QType: A, QClass: ClassINET})
	p.Answers = append(p.Answers, DNSRecord{
		Name: "example.com.", Type: A, Class: ClassINET, TTL: 300,
		IP: net.ParseIP("192.0.2.42").To4(),
	})
	p.Authorities = append(p.Authorities, DNSRecord{
		Name: "example.com.", Type: NS, Class: ClassINET, TTL: 86400,
		Host: "ns1.example.com.",
	})
	p.Resources = append(p.Resources, DNSRecord{
		Name: "ns1.example.com.", Type: A, Class: ClassINET, TTL: 86400,
		IP: net.ParseIP("192.0.2.1").To4(),
	})

	buffer := NewBytePacketBuffer()
	buffer.HasNames = true
	if err := p.Write(buffer); err != nil {
		t.Fatalf("write: %v", err)
	}

	parsed := NewDNSPacket()
	parseBuf := NewBytePacketBuffer()
	parseBuf.Load(buffer.Bytes())
	if err := parsed.FromBuffer(parseBuf); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Header.ID != 777 || !parsed.Header.Response {
		t.Errorf("Header not preserved: %+v", parsed.Header)
	}
	if len(parsed.Questions) != 1 || parsed.Questions[0].Name != "example.com." {
		t.Errorf("Question not preserved: %+v", parsed.Questions)
	}
	if len(parsed.Answers) != 1 || !parsed.Answers[0].IP.Equal(net.ParseIP("192.0.2.42")) {
		t.Errorf("Answer not preserved: %+v", parsed.Answers)
	}
	if len(parsed.Authorities) != 1 || parsed.Authorities[0].Host != "ns1.example.com." {
		t.Errorf("Authority not preserved: %+v", parsed.Authorities)
	}
	if len(parsed.Resources) != 1 || parsed.Resources[0].Name != "ns1.example.com." {
		t.Errorf("Additional not preserved: %+v", parsed.Resources)
	}
}

func TestTSIGStrippedFromParsedView(t *testing.T) {
	p := NewDNSPacket()
	p.Header.ID = 99
	p.Questions = append(p.Questions, DNSQuestion{Name: "update.example.", QType: SOA, QClass: ClassINET})

	buffer := NewBytePacketBuffer()
	if err := p.Write(buffer); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := p.SignTSIG(buffer, "key.example.", TsigHMACSHA256, []byte("sekrit")); err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed := NewDNSPacket()
	parseBuf := NewBytePacketBuffer()
	parseBuf.Load(buffer.Bytes())
	if err := parsed.FromBuffer(parseBuf); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Signature == nil {
		t.Fatal("Expected surfaced TSIG record")
	}
	if parsed.TSIGStart < 0 {
		t.Error("Expected TSIGStart offset")
	}
	for _, rec := range parsed.Resources {
		if rec.Type == TSIG {
			t.Error("TSIG must be stripped from the additional section")
		}
	}
	if parsed.Signature.Name != "key.example." {
		t.Errorf("Wrong TSIG key name %q", parsed.Signature.Name)
	}
}

func TestExtendedRcodeMerge(t *testing.T) {
	p := NewDNSPacket()
	p.Header.ResCode = 0 // low nibble of 16
	p.SetEDNS(1232, false, nil)
	p.Resources[0].ExtendedRcode = 1 // high bits of BADVERS

	if p.Rcode() != RcodeBadVers {
		t.Errorf("Expected extended rcode 16, got %d", p.Rcode())
	}

	// Without an OPT record, value 16 can only mean BadSig, carried in
	// TSIG; the header rcode stays 4-bit.
	bare := NewDNSPacket()
	bare.Header.ResCode = 5
	if bare.Rcode() != RcodeRefused {
		t.Errorf("Expected plain rcode 5, got %d", bare.Rcode())
	}
}

func TestSetEDNSClampsPayloadSize(t *testing.T) {
	p := NewDNSPacket()
	p.SetEDNS(100, true, nil)
	opt := p.EDNS()
	if opt == nil {
		t.Fatal("Expected OPT record")
	}
	if opt.UDPPayloadSize < MinUDPPayloadSize {
		t.Errorf("Payload size must clamp to >= 512, got %d", opt.UDPPayloadSize)
	}
	if !opt.DNSSECOK() {
		t.Error("Expected DO bit set")
	}

	// At most one OPT per message: a second SetEDNS replaces.
	p.SetEDNS(4096, false, nil)
	count := 0
	for _, rec := range p.Resources {
		if rec.Type == OPT {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly one OPT record, got %d", count)
	}
}
