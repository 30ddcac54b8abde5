// Package packet implements the DNS wire-format codec: domain names
// with compression, the message header and sections, one coder per
// resource-record type, EDNS(0), TSIG and the DNSSEC primitives.
package packet

import (
	"fmt"
)

// QueryType represents the DNS record type field (e.g., A, NS, MX).
type QueryType uint16

const (
	// UNKNOWN represents an unrecognized DNS query type.
	UNKNOWN QueryType = 0
	// A represents an IPv4 address record.
	A QueryType = 1
	// NS represents an authoritative name server record.
	NS QueryType = 2
	// MD represents a mail destination record (obsolete).
	MD QueryType = 3
	// MF represents a mail forwarder record (obsolete).
	MF QueryType = 4
	// CNAME represents a canonical name for an alias.
	CNAME QueryType = 5
	// SOA represents the start of a zone of authority record.
	SOA QueryType = 6
	// MB represents a mailbox domain name record (experimental).
	MB QueryType = 7
	// MG represents a mail group member record (experimental).
	MG QueryType = 8
	// MR represents a mail rename domain name record (experimental).
	MR QueryType = 9
	// NULL represents a null RR (experimental).
	NULL QueryType = 10
	// WKS represents a well known service description record.
	WKS QueryType = 11
	// PTR represents a domain name pointer record.
	PTR QueryType = 12
	// HINFO represents host information records.
	HINFO QueryType = 13
	// MINFO represents mailbox or mail list information record.
	MINFO QueryType = 14
	// MX represents a mail exchange record.
	MX QueryType = 15
	// TXT represents text records.
	TXT QueryType = 16
	// SIG represents a security signature record (RFC 2535).
	SIG QueryType = 24
	// AAAA represents an IPv6 address record.
	AAAA QueryType = 28
	// SRV represents service location records (RFC 2782).
	SRV QueryType = 33
	// OPT represents an EDNS(0) pseudo-RR (RFC 6891).
	OPT QueryType = 41
	// DS represents a delegation signer record (RFC 4034).
	DS QueryType = 43
	// RRSIG represents a DNSSEC signature record (RFC 4034).
	RRSIG QueryType = 46
	// NSEC represents a next secure record (RFC 4034).
	NSEC QueryType = 47
	// DNSKEY represents a DNS public key record (RFC 4034).
	DNSKEY QueryType = 48
	// NSEC3 represents a next secure record version 3 (RFC 5155).
	NSEC3 QueryType = 50
	// NSEC3PARAM represents NSEC3 parameters (RFC 5155).
	NSEC3PARAM QueryType = 51
	// HIP represents a host identity protocol record (RFC 8005).
	HIP QueryType = 55
	// TKEY represents a transaction key record (RFC 2930).
	TKEY QueryType = 249
	// TSIG represents a transaction signature record (RFC 8945).
	TSIG QueryType = 250
	// IXFR represents a request for an incremental zone transfer.
	IXFR QueryType = 251
	// AXFR represents a request for a full zone transfer.
	AXFR QueryType = 252
	// ANY represents a request for all records.
	ANY QueryType = 255
)

// String returns the human-readable representation of a QueryType.
func (t QueryType) String() string {
	switch t {
	case A:
		return "A"
	case NS:
		return "NS"
	case MD:
		return "MD"
	case MF:
		return "MF"
	case CNAME:
		return "CNAME"
	case SOA:
		return "SOA"
	case MB:
		return "MB"
	case MG:
		return "MG"
	case MR:
		return "MR"
	case NULL:
		return "NULL"
	case WKS:
		return "WKS"
	case PTR:
		return "PTR"
	case HINFO:
		return "HINFO"
	case MINFO:
		return "MINFO"
	case MX:
		return "MX"
	case TXT:
		return "TXT"
	case SIG:
		return "SIG"
	case AAAA:
		return "AAAA"
	case SRV:
		return "SRV"
	case OPT:
		return "OPT"
	case DS:
		return "DS"
	case RRSIG:
		return "RRSIG"
	case NSEC:
		return "NSEC"
	case DNSKEY:
		return "DNSKEY"
	case NSEC3:
		return "NSEC3"
	case NSEC3PARAM:
		return "NSEC3PARAM"
	case HIP:
		return "HIP"
	case TKEY:
		return "TKEY"
	case TSIG:
		return "TSIG"
	case IXFR:
		return "IXFR"
	case AXFR:
		return "AXFR"
	case ANY:
		return "ANY"
	default:
		return fmt.Sprintf("TYPE%d", uint16(t))
	}
}

// DNS class values.
const (
	// ClassINET is the Internet class.
	ClassINET uint16 = 1
	// ClassCHAOS is the CHAOS class.
	ClassCHAOS uint16 = 3
	// ClassHESIOD is the Hesiod class.
	ClassHESIOD uint16 = 4
	// ClassNONE marks record absence in dynamic updates (RFC 2136).
	ClassNONE uint16 = 254
	// ClassANY is the wildcard class used by queries and deletions.
	ClassANY uint16 = 255
)

// Opcodes.
const (
	// OpcodeQuery represents a standard DNS query.
	OpcodeQuery uint8 = 0
	// OpcodeIQuery represents an inverse DNS query (obsolete).
	OpcodeIQuery uint8 = 1
	// OpcodeStatus represents a server status request.
	OpcodeStatus uint8 = 2
	// OpcodeNotify represents a zone change notification (RFC 1996).
	OpcodeNotify uint8 = 4
	// OpcodeUpdate represents a dynamic update request (RFC 2136).
	OpcodeUpdate uint8 = 5
)

// Response codes. Values above 15 travel in the OPT extended rcode
// field or in the TSIG error field.
const (
	// RcodeNoError indicates no error condition.
	RcodeNoError uint16 = 0
	// RcodeFormErr indicates a format error in the request.
	RcodeFormErr uint16 = 1
	// RcodeServFail indicates a server failure.
	RcodeServFail uint16 = 2
	// RcodeNxDomain indicates the domain name does not exist.
	RcodeNxDomain uint16 = 3
	// RcodeNotImp indicates the request is not implemented.
	RcodeNotImp uint16 = 4
	// RcodeRefused indicates the server refuses to perform the operation.
	RcodeRefused uint16 = 5
	// RcodeYxDomain indicates a name exists that should not (RFC 2136).
	RcodeYxDomain uint16 = 6
	// RcodeYxRRSet indicates an RRset exists that should not (RFC 2136).
	RcodeYxRRSet uint16 = 7
	// RcodeNxRRSet indicates an RRset does not exist that should (RFC 2136).
	RcodeNxRRSet uint16 = 8
	// RcodeNotAuth indicates the server is not authoritative for the zone.
	RcodeNotAuth uint16 = 9
	// RcodeNotZone indicates a name is not within the zone (RFC 2136).
	RcodeNotZone uint16 = 10
	// RcodeBadVers indicates an unsupported EDNS version (RFC 6891).
	// Shares value 16 with RcodeBadSig; a message carrying an OPT record
	// means BadVers, one carrying TSIG means BadSig.
	RcodeBadVers uint16 = 16
	// RcodeBadSig indicates a TSIG signature failure (RFC 8945).
	RcodeBadSig uint16 = 16
	// RcodeBadKey indicates an unrecognized TSIG key (RFC 8945).
	RcodeBadKey uint16 = 17
	// RcodeBadTime indicates a TSIG timestamp outside the window (RFC 8945).
	RcodeBadTime uint16 = 18
	// RcodeBadMode indicates a bad TKEY mode (RFC 2930).
	RcodeBadMode uint16 = 19
	// RcodeBadName indicates a duplicate TKEY name (RFC 2930).
	RcodeBadName uint16 = 20
	// RcodeBadAlg indicates an unsupported algorithm (RFC 2930).
	RcodeBadAlg uint16 = 21
	// RcodeBadTrunc indicates a bad truncation (RFC 8945).
	RcodeBadTrunc uint16 = 22
	// RcodeBadCookie indicates a bad or missing server cookie (RFC 7873).
	RcodeBadCookie uint16 = 23
)

// DNSHeader represents the header section of a DNS packet.
type DNSHeader struct {
	ID                  uint16
	RecursionDesired    bool
	TruncatedMessage    bool
	AuthoritativeAnswer bool
	Opcode              uint8
	Response            bool
	ResCode             uint8 // 4-bit wire RCODE; see DNSPacket.Rcode for the extended value
	CheckingDisabled    bool
	AuthedData          bool
	Z                   bool
	RecursionAvailable  bool

	Questions            uint16
	Answers              uint16
	AuthoritativeEntries uint16
	ResourceEntries      uint16
}

// NewDNSHeader creates and returns a pointer to a new DNSHeader.
func NewDNSHeader() *DNSHeader {
	return &DNSHeader{}
}

// Read populates the DNSHeader fields by reading from the provided buffer.
func (h *DNSHeader) Read(buffer *BytePacketBuffer) error {
	var err error
	h.ID, err = buffer.Readu16()
	if err != nil {
		return err
	}

	flags, err := buffer.Readu16()
	if err != nil {
		return err
	}

	a := uint8(flags >> 8)
	b := uint8(flags & 0xFF)

	h.RecursionDesired = (a & (1 << 0)) > 0
	h.TruncatedMessage = (a & (1 << 1)) > 0
	h.AuthoritativeAnswer = (a & (1 << 2)) > 0
	h.Opcode = (a >> 3) & 0x0F
	h.Response = (a & (1 << 7)) > 0

	h.ResCode = b & 0x0F
	h.CheckingDisabled = (b & (1 << 4)) > 0
	h.AuthedData = (b & (1 << 5)) > 0
	h.Z = (b & (1 << 6)) > 0
	h.RecursionAvailable = (b & (1 << 7)) > 0

	h.Questions, err = buffer.Readu16()
	if err != nil {
		return err
	}
	h.Answers, err = buffer.Readu16()
	if err != nil {
		return err
	}
	h.AuthoritativeEntries, err = buffer.Readu16()
	if err != nil {
		return err
	}
	h.ResourceEntries, err = buffer.Readu16()
	if err != nil {
		return err
	}

	return nil
}

// Write serializes the DNSHeader into the provided buffer.
func (h *DNSHeader) Write(buffer *BytePacketBuffer) error {
	if err := buffer.Writeu16(h.ID); err != nil {
		return err
	}

	var flags uint16
	if h.Response {
		flags |= (1 << 15)
	}
	flags |= (uint16(h.Opcode) << 11)
	if h.AuthoritativeAnswer {
		flags |= (1 << 10)
	}
	if h.TruncatedMessage {
		flags |= (1 << 9)
	}
	if h.RecursionDesired {
		flags |= (1 << 8)
	}
	if h.RecursionAvailable {
		flags |= (1 << 7)
	}
	if h.Z {
		flags |= (1 << 6)
	}
	if h.AuthedData {
		flags |= (1 << 5)
	}
	if h.CheckingDisabled {
		flags |= (1 << 4)
	}
	flags |= uint16(h.ResCode)

	if err := buffer.Writeu16(flags); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.Questions); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.Answers); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.AuthoritativeEntries); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.ResourceEntries); err != nil {
		return err
	}

	return nil
}

// DNSQuestion represents a single question in the DNS question section.
type DNSQuestion struct {
	Name   string
	QType  QueryType
	QClass uint16
}

// NewDNSQuestion creates a question in the Internet class.
func NewDNSQuestion(name string, qtype QueryType) *DNSQuestion {
	return &DNSQuestion{
		Name:   name,
		QType:  qtype,
		QClass: ClassINET,
	}
}

// Read populates the DNSQuestion fields by reading from the provided buffer.
func (q *DNSQuestion) Read(buffer *BytePacketBuffer) error {
	var err error
	q.Name, err = buffer.ReadName()
	if err != nil {
		return err
	}

	qtype, err := buffer.Readu16()
	if err != nil {
		return err
	}
	q.QType = QueryType(qtype)

	q.QClass, err = buffer.Readu16()
	if err != nil {
		return err
	}

	return nil
}

// Write serializes the DNSQuestion into the provided buffer.
func (q *DNSQuestion) Write(buffer *BytePacketBuffer) error {
	if err := buffer.WriteName(q.Name); err != nil {
		return err
	}
	if err := buffer.Writeu16(uint16(q.QType)); err != nil {
		return err
	}
	cls := q.QClass
	if cls == 0 {
		cls = ClassINET
	}
	return buffer.Writeu16(cls)
}

// DNSPacket represents a complete DNS packet. A TSIG record present on
// the wire is stripped from Resources during parsing and surfaced via
// the Signature field.
type DNSPacket struct {
	Header      DNSHeader
	Questions   []DNSQuestion
	Answers     []DNSRecord
	Authorities []DNSRecord
	Resources   []DNSRecord

	// Signature is the TSIG record of a signed message, nil otherwise.
	Signature *DNSRecord
	// TSIGStart is the byte offset where the TSIG record started, -1 if
	// the message was unsigned. Verification hashes the bytes before it.
	TSIGStart int
}

// NewDNSPacket creates and returns a pointer to a new DNSPacket.
func NewDNSPacket() *DNSPacket {
	return &DNSPacket{
		Header:      DNSHeader{},
		Questions:   []DNSQuestion{},
		Answers:     []DNSRecord{},
		Authorities: []DNSRecord{},
		Resources:   []DNSRecord{},
		TSIGStart:   -1,
	}
}

// FromBuffer populates the DNSPacket by reading from the provided buffer.
func (p *DNSPacket) FromBuffer(buffer *BytePacketBuffer) error {
	p.TSIGStart = -1
	if err := p.Header.Read(buffer); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	for i := 0; i < int(p.Header.Questions); i++ {
		var q DNSQuestion
		if err := q.Read(buffer); err != nil {
			return fmt.Errorf("%w: question %d: %v", ErrMalformedMessage, i, err)
		}
		p.Questions = append(p.Questions, q)
	}
	for i := 0; i < int(p.Header.Answers); i++ {
		var r DNSRecord
		if err := r.Read(buffer); err != nil {
			return fmt.Errorf("%w: answer %d: %v", ErrMalformedMessage, i, err)
		}
		p.Answers = append(p.Answers, r)
	}
	for i := 0; i < int(p.Header.AuthoritativeEntries); i++ {
		var r DNSRecord
		if err := r.Read(buffer); err != nil {
			return fmt.Errorf("%w: authority %d: %v", ErrMalformedMessage, i, err)
		}
		p.Authorities = append(p.Authorities, r)
	}
	for i := 0; i < int(p.Header.ResourceEntries); i++ {
		start := buffer.Position()
		var r DNSRecord
		if err := r.Read(buffer); err != nil {
			return fmt.Errorf("%w: additional %d: %v", ErrMalformedMessage, i, err)
		}
		if r.Type == TSIG {
			sig := r
			p.Signature = &sig
			p.TSIGStart = start
			continue
		}
		p.Resources = append(p.Resources, r)
	}
	return nil
}

// Write serializes the complete DNSPacket into the provided buffer.
func (p *DNSPacket) Write(buffer *BytePacketBuffer) error {
	p.Header.Questions = uint16(len(p.Questions))
	p.Header.Answers = uint16(len(p.Answers))
	p.Header.AuthoritativeEntries = uint16(len(p.Authorities))
	p.Header.ResourceEntries = uint16(len(p.Resources))

	if err := p.Header.Write(buffer); err != nil {
		return err
	}
	for _, q := range p.Questions {
		if err := q.Write(buffer); err != nil {
			return err
		}
	}
	for _, a := range p.Answers {
		if _, err := a.Write(buffer); err != nil {
			return err
		}
	}
	for _, a := range p.Authorities {
		if _, err := a.Write(buffer); err != nil {
			return err
		}
	}
	for _, a := range p.Resources {
		if _, err := a.Write(buffer); err != nil {
			return err
		}
	}
	return nil
}

// EDNS returns the OPT pseudo-record of the additional section, nil if
// the message carries none.
func (p *DNSPacket) EDNS() *DNSRecord {
	for i := range p.Resources {
		if p.Resources[i].Type == OPT {
			return &p.Resources[i]
		}
	}
	return nil
}

// Rcode returns the full response code with the OPT extended bits
// merged in. The 16 ambiguity (BadVers vs BadSig) resolves here: the
// extended form only exists when an OPT record is present.
func (p *DNSPacket) Rcode() uint16 {
	rc := uint16(p.Header.ResCode)
	if opt := p.EDNS(); opt != nil {
		rc |= uint16(opt.ExtendedRcode) << 4
	}
	return rc
}

// SetEDNS attaches an OPT record advertising the given UDP payload size
// and DO bit. An existing OPT record is replaced; at most one may
// appear per message.
func (p *DNSPacket) SetEDNS(payloadSize uint16, dnssecOK bool, options []EdnsOption) {
	if payloadSize < MinUDPPayloadSize {
		payloadSize = MinUDPPayloadSize
	}
	opt := DNSRecord{
		Name:           ".",
		Type:           OPT,
		UDPPayloadSize: payloadSize,
		Options:        options,
	}
	if dnssecOK {
		opt.Z = EdnsFlagDO
	}
	for i := range p.Resources {
		if p.Resources[i].Type == OPT {
			p.Resources[i] = opt
			return
		}
	}
	p.Resources = append(p.Resources, opt)
}
