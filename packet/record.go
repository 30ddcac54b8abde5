package packet

import (
	"fmt"
	"net"
)

// EdnsOption represents a single option in an OPT pseudo-RR (RFC 6891).
type EdnsOption struct {
	Code uint16
	Data []byte
}

// DNSRecord represents a single DNS resource record. The Type field
// selects which payload fields are meaningful; unregistered types
// round-trip through Data untouched.
type DNSRecord struct {
	Name  string
	Type  QueryType
	Class uint16
	TTL   uint32
	Data  []byte // opaque RDATA for unknown types

	IP       net.IP // A/AAAA
	Host     string // NS/CNAME/PTR/MD/MF/MB/MG/MR, MX exchange, SRV target
	Priority uint16 // MX preference, SRV priority
	Weight   uint16 // SRV
	Port     uint16 // SRV

	TxtStrings []string // TXT character-strings

	MName   string // SOA
	RName   string // SOA
	Serial  uint32 // SOA
	Refresh uint32 // SOA
	Retry   uint32 // SOA
	Expire  uint32 // SOA
	Minimum uint32 // SOA

	CPU string // HINFO
	OS  string // HINFO

	Protocol uint8  // WKS
	BitMap   []byte // WKS

	RMailBX string // MINFO
	EMailBX string // MINFO

	// NSEC
	NextName   string
	TypeBitMap []byte

	// DNSKEY
	Flags     uint16
	Algorithm uint8
	PublicKey []byte

	// RRSIG / SIG
	TypeCovered uint16
	Labels      uint8
	OrigTTL     uint32
	Expiration  uint32
	Inception   uint32
	KeyTag      uint16
	SignerName  string
	Signature   []byte

	// NSEC3 / NSEC3PARAM
	HashAlg    uint8
	NSEC3Flags uint8
	Iterations uint16
	Salt       []byte
	NextHash   []byte

	// DS
	DigestType uint8
	Digest     []byte

	// HIP
	HIT               []byte
	RendezvousServers []string

	// TKEY
	Mode    uint16
	KeyData []byte

	// EDNS (OPT reinterprets class and TTL)
	UDPPayloadSize uint16
	ExtendedRcode  uint8
	EDNSVersion    uint8
	Z              uint16
	Options        []EdnsOption

	// TSIG
	AlgorithmName string
	TimeSigned    uint64
	Fudge         uint16
	MAC           []byte
	OriginalID    uint16
	Error         uint16
	Other         []byte
}

// Read populates the DNSRecord fields by reading from the provided buffer.
func (r *DNSRecord) Read(buffer *BytePacketBuffer) error {
	var err error
	r.Name, err = buffer.ReadName()
	if err != nil {
		return err
	}

	typeVal, err := buffer.Readu16()
	if err != nil {
		return err
	}
	r.Type = QueryType(typeVal)

	r.Class, err = buffer.Readu16()
	if err != nil {
		return err
	}

	r.TTL, err = buffer.Readu32()
	if err != nil {
		return err
	}

	dataLen, err := buffer.Readu16()
	if err != nil {
		return err
	}
	startPos := buffer.Position()

	if dataLen == 0 && r.Type != OPT {
		return nil
	}

	switch r.Type {
	case A:
		if dataLen != 4 {
			return fmt.Errorf("%w: A rdata length %d", ErrMalformedRecord, dataLen)
		}
		rawIP, errRead := buffer.ReadRange(buffer.Position(), 4)
		if errRead != nil {
			return errRead
		}
		r.IP = net.IP(rawIP)
		if errStep := buffer.Step(4); errStep != nil {
			return errStep
		}
	case AAAA:
		if dataLen != 16 {
			return fmt.Errorf("%w: AAAA rdata length %d", ErrMalformedRecord, dataLen)
		}
		rawIP, errRead := buffer.ReadRange(buffer.Position(), 16)
		if errRead != nil {
			return errRead
		}
		r.IP = net.IP(rawIP)
		if errStep := buffer.Step(16); errStep != nil {
			return errStep
		}
	case NS, CNAME, PTR, MD, MF, MB, MG, MR:
		r.Host, err = buffer.ReadName()
		if err != nil {
			return err
		}
	case MX:
		if r.Priority, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Host, err = buffer.ReadName(); err != nil {
			return err
		}
	case SRV:
		if r.Priority, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Weight, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Port, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Host, err = buffer.ReadName(); err != nil {
			return err
		}
	case TXT:
		r.TxtStrings = nil
		for buffer.Position()-startPos < int(dataLen) {
			txtLen, errRead := buffer.Read()
			if errRead != nil {
				return errRead
			}
			txtData, errRange := buffer.ReadRange(buffer.Position(), int(txtLen))
			if errRange != nil {
				return errRange
			}
			r.TxtStrings = append(r.TxtStrings, string(txtData))
			if errStep := buffer.Step(int(txtLen)); errStep != nil {
				return errStep
			}
		}
	case SOA:
		if r.MName, err = buffer.ReadName(); err != nil {
			return err
		}
		if r.RName, err = buffer.ReadName(); err != nil {
			return err
		}
		if r.Serial, err = buffer.Readu32(); err != nil {
			return err
		}
		if r.Refresh, err = buffer.Readu32(); err != nil {
			return err
		}
		if r.Retry, err = buffer.Readu32(); err != nil {
			return err
		}
		if r.Expire, err = buffer.Readu32(); err != nil {
			return err
		}
		if r.Minimum, err = buffer.Readu32(); err != nil {
			return err
		}
	case HINFO:
		cpuLen, errRead := buffer.Read()
		if errRead != nil {
			return errRead
		}
		cpu, errRange := buffer.ReadRange(buffer.Position(), int(cpuLen))
		if errRange != nil {
			return errRange
		}
		r.CPU = string(cpu)
		if errStep := buffer.Step(int(cpuLen)); errStep != nil {
			return errStep
		}
		osLen, errRead2 := buffer.Read()
		if errRead2 != nil {
			return errRead2
		}
		osData, errRange2 := buffer.ReadRange(buffer.Position(), int(osLen))
		if errRange2 != nil {
			return errRange2
		}
		r.OS = string(osData)
		if errStep := buffer.Step(int(osLen)); errStep != nil {
			return errStep
		}
	case MINFO:
		if r.RMailBX, err = buffer.ReadName(); err != nil {
			return err
		}
		if r.EMailBX, err = buffer.ReadName(); err != nil {
			return err
		}
	case WKS:
		rawIP, errRead := buffer.ReadRange(buffer.Position(), 4)
		if errRead != nil {
			return errRead
		}
		r.IP = net.IP(rawIP)
		if errStep := buffer.Step(4); errStep != nil {
			return errStep
		}
		if r.Protocol, err = buffer.Read(); err != nil {
			return err
		}
		remaining := int(dataLen) - (buffer.Position() - startPos)
		if r.BitMap, err = buffer.ReadRange(buffer.Position(), remaining); err != nil {
			return err
		}
		if errStep := buffer.Step(remaining); errStep != nil {
			return errStep
		}
	case NSEC:
		if r.NextName, err = buffer.ReadName(); err != nil {
			return err
		}
		remaining := int(dataLen) - (buffer.Position() - startPos)
		if remaining < 0 {
			return fmt.Errorf("%w: NSEC rdata underrun", ErrMalformedRecord)
		}
		if r.TypeBitMap, err = buffer.ReadRange(buffer.Position(), remaining); err != nil {
			return err
		}
		if errStep := buffer.Step(remaining); errStep != nil {
			return errStep
		}
	case DNSKEY:
		if r.Flags, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Protocol, err = buffer.Read(); err != nil {
			return err
		}
		if r.Algorithm, err = buffer.Read(); err != nil {
			return err
		}
		remaining := int(dataLen) - (buffer.Position() - startPos)
		if remaining < 0 {
			return fmt.Errorf("%w: DNSKEY rdata underrun", ErrMalformedRecord)
		}
		if r.PublicKey, err = buffer.ReadRange(buffer.Position(), remaining); err != nil {
			return err
		}
		if errStep := buffer.Step(remaining); errStep != nil {
			return errStep
		}
	case RRSIG, SIG:
		if r.TypeCovered, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Algorithm, err = buffer.Read(); err != nil {
			return err
		}
		if r.Labels, err = buffer.Read(); err != nil {
			return err
		}
		if r.OrigTTL, err = buffer.Readu32(); err != nil {
			return err
		}
		if r.Expiration, err = buffer.Readu32(); err != nil {
			return err
		}
		if r.Inception, err = buffer.Readu32(); err != nil {
			return err
		}
		if r.KeyTag, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.SignerName, err = buffer.ReadName(); err != nil {
			return err
		}
		remaining := int(dataLen) - (buffer.Position() - startPos)
		if remaining < 0 {
			return fmt.Errorf("%w: RRSIG rdata underrun", ErrMalformedRecord)
		}
		if r.Signature, err = buffer.ReadRange(buffer.Position(), remaining); err != nil {
			return err
		}
		if errStep := buffer.Step(remaining); errStep != nil {
			return errStep
		}
	case NSEC3:
		if r.HashAlg, err = buffer.Read(); err != nil {
			return err
		}
		if r.NSEC3Flags, err = buffer.Read(); err != nil {
			return err
		}
		if r.Iterations, err = buffer.Readu16(); err != nil {
			return err
		}
		saltLen, errRead := buffer.Read()
		if errRead != nil {
			return errRead
		}
		if r.Salt, err = buffer.ReadRange(buffer.Position(), int(saltLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(saltLen)); errStep != nil {
			return errStep
		}
		hashLen, errRead2 := buffer.Read()
		if errRead2 != nil {
			return errRead2
		}
		if r.NextHash, err = buffer.ReadRange(buffer.Position(), int(hashLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(hashLen)); errStep != nil {
			return errStep
		}
		remaining := int(dataLen) - (buffer.Position() - startPos)
		if remaining < 0 {
			return fmt.Errorf("%w: NSEC3 rdata underrun", ErrMalformedRecord)
		}
		if r.TypeBitMap, err = buffer.ReadRange(buffer.Position(), remaining); err != nil {
			return err
		}
		if errStep := buffer.Step(remaining); errStep != nil {
			return errStep
		}
	case NSEC3PARAM:
		if r.HashAlg, err = buffer.Read(); err != nil {
			return err
		}
		if r.NSEC3Flags, err = buffer.Read(); err != nil {
			return err
		}
		if r.Iterations, err = buffer.Readu16(); err != nil {
			return err
		}
		saltLen, errRead := buffer.Read()
		if errRead != nil {
			return errRead
		}
		if r.Salt, err = buffer.ReadRange(buffer.Position(), int(saltLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(saltLen)); errStep != nil {
			return errStep
		}
	case DS:
		if r.KeyTag, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Algorithm, err = buffer.Read(); err != nil {
			return err
		}
		if r.DigestType, err = buffer.Read(); err != nil {
			return err
		}
		remaining := int(dataLen) - (buffer.Position() - startPos)
		if remaining < 0 {
			return fmt.Errorf("%w: DS rdata underrun", ErrMalformedRecord)
		}
		if r.Digest, err = buffer.ReadRange(buffer.Position(), remaining); err != nil {
			return err
		}
		if errStep := buffer.Step(remaining); errStep != nil {
			return errStep
		}
	case HIP:
		hitLen, errRead := buffer.Read()
		if errRead != nil {
			return errRead
		}
		if r.Algorithm, err = buffer.Read(); err != nil {
			return err
		}
		pkLen, errRead2 := buffer.Readu16()
		if errRead2 != nil {
			return errRead2
		}
		if r.HIT, err = buffer.ReadRange(buffer.Position(), int(hitLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(hitLen)); errStep != nil {
			return errStep
		}
		if r.PublicKey, err = buffer.ReadRange(buffer.Position(), int(pkLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(pkLen)); errStep != nil {
			return errStep
		}
		r.RendezvousServers = nil
		for buffer.Position()-startPos < int(dataLen) {
			var rv string
			if rv, err = buffer.ReadName(); err != nil {
				return err
			}
			r.RendezvousServers = append(r.RendezvousServers, rv)
		}
	case TKEY:
		if r.AlgorithmName, err = buffer.ReadName(); err != nil {
			return err
		}
		if r.Inception, err = buffer.Readu32(); err != nil {
			return err
		}
		if r.Expiration, err = buffer.Readu32(); err != nil {
			return err
		}
		if r.Mode, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Error, err = buffer.Readu16(); err != nil {
			return err
		}
		keyLen, errRead := buffer.Readu16()
		if errRead != nil {
			return errRead
		}
		if r.KeyData, err = buffer.ReadRange(buffer.Position(), int(keyLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(keyLen)); errStep != nil {
			return errStep
		}
		otherLen, errRead2 := buffer.Readu16()
		if errRead2 != nil {
			return errRead2
		}
		if r.Other, err = buffer.ReadRange(buffer.Position(), int(otherLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(otherLen)); errStep != nil {
			return errStep
		}
	case TSIG:
		if r.AlgorithmName, err = buffer.ReadName(); err != nil {
			return err
		}
		timeHigh, errRead := buffer.Readu16()
		if errRead != nil {
			return errRead
		}
		timeLow, errRead2 := buffer.Readu32()
		if errRead2 != nil {
			return errRead2
		}
		r.TimeSigned = uint64(timeHigh)<<32 | uint64(timeLow)
		if r.Fudge, err = buffer.Readu16(); err != nil {
			return err
		}
		macLen, errRead3 := buffer.Readu16()
		if errRead3 != nil {
			return errRead3
		}
		if r.MAC, err = buffer.ReadRange(buffer.Position(), int(macLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(macLen)); errStep != nil {
			return errStep
		}
		if r.OriginalID, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Error, err = buffer.Readu16(); err != nil {
			return err
		}
		otherLen, errRead4 := buffer.Readu16()
		if errRead4 != nil {
			return errRead4
		}
		if r.Other, err = buffer.ReadRange(buffer.Position(), int(otherLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(otherLen)); errStep != nil {
			return errStep
		}
	case OPT:
		r.UDPPayloadSize = r.Class
		r.ExtendedRcode = uint8(r.TTL >> 24)
		r.EDNSVersion = uint8((r.TTL >> 16) & 0xFF)
		r.Z = uint16(r.TTL & 0xFFFF)
		remaining := int(dataLen)
		for remaining >= 4 {
			optCode, errRead := buffer.Readu16()
			if errRead != nil {
				return errRead
			}
			optLen, errRead2 := buffer.Readu16()
			if errRead2 != nil {
				return errRead2
			}
			if int(optLen) > remaining-4 {
				break
			}
			optData, errRead3 := buffer.ReadRange(buffer.Position(), int(optLen))
			if errRead3 != nil {
				return errRead3
			}
			if errStep := buffer.Step(int(optLen)); errStep != nil {
				return errStep
			}
			r.Options = append(r.Options, EdnsOption{Code: optCode, Data: optData})
			remaining -= 4 + int(optLen)
		}
	default:
		// Unknown types round-trip as opaque RDATA.
		if r.Data, err = buffer.ReadRange(buffer.Position(), int(dataLen)); err != nil {
			return err
		}
		if errStep := buffer.Step(int(dataLen)); errStep != nil {
			return errStep
		}
	}

	if buffer.Position()-startPos != int(dataLen) {
		return fmt.Errorf("%w: %s rdata length mismatch", ErrMalformedRecord, r.Type)
	}
	return nil
}

// Write serializes the DNSRecord into the provided buffer using the
// ordinary encoding (compression permitted where the buffer allows it).
// It returns the number of bytes written.
func (r *DNSRecord) Write(buffer *BytePacketBuffer) (int, error) {
	return r.write(buffer, false)
}

// WriteCanonical serializes the record in canonical form: owner and
// RDATA names lowercased, no compression (RFC 4034 6.2).
func (r *DNSRecord) WriteCanonical(buffer *BytePacketBuffer) (int, error) {
	return r.write(buffer, true)
}

func (r *DNSRecord) write(buffer *BytePacketBuffer, canonical bool) (int, error) {
	startPos := buffer.Position()

	ownerName := func(name string) error {
		if canonical {
			return buffer.WriteCanonicalName(name)
		}
		return buffer.WriteName(name)
	}
	// Host names inside RDATA: canonicalized when signing, otherwise
	// written plain without pointers (safe for every consumer).
	rdataName := func(name string) error {
		if canonical {
			return buffer.WriteCanonicalName(name)
		}
		return buffer.WriteNameUncompressed(name)
	}
	if r.Type == OPT {
		if err := buffer.Write(0); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(uint16(r.Type)); err != nil {
			return 0, err
		}
		payload := r.UDPPayloadSize
		if payload < MinUDPPayloadSize {
			payload = MinUDPPayloadSize
		}
		if err := buffer.Writeu16(payload); err != nil {
			return 0, err
		}
		ttl := uint32(r.ExtendedRcode)<<24 | uint32(r.EDNSVersion)<<16 | uint32(r.Z)
		if err := buffer.Writeu32(ttl); err != nil {
			return 0, err
		}
		lenPos := buffer.Position()
		if err := buffer.Writeu16(0); err != nil {
			return 0, err
		}
		for _, opt := range r.Options {
			if err := buffer.Writeu16(opt.Code); err != nil {
				return 0, err
			}
			if err := buffer.Writeu16(uint16(len(opt.Data))); err != nil {
				return 0, err
			}
			if err := buffer.WriteBytes(opt.Data); err != nil {
				return 0, err
			}
		}
		return r.patchLength(buffer, startPos, lenPos)
	}

	if err := ownerName(r.Name); err != nil {
		return 0, err
	}
	if err := buffer.Writeu16(uint16(r.Type)); err != nil {
		return 0, err
	}
	class := r.Class
	if class == 0 && r.Type != TSIG {
		class = ClassINET
	}
	if err := buffer.Writeu16(class); err != nil {
		return 0, err
	}
	if err := buffer.Writeu32(r.TTL); err != nil {
		return 0, err
	}

	// RFC 2136 2.5.2: class ANY deletes an RRset, RDATA must be empty.
	if class == ClassANY && r.Type != TSIG {
		if err := buffer.Writeu16(0); err != nil {
			return 0, err
		}
		return buffer.Position() - startPos, nil
	}

	lenPos := buffer.Position()
	if err := buffer.Writeu16(0); err != nil {
		return 0, err
	}

	switch r.Type {
	case A:
		ip4 := r.IP.To4()
		if ip4 == nil {
			return 0, fmt.Errorf("%w: A record without IPv4 address", ErrMalformedRecord)
		}
		if err := buffer.WriteBytes(ip4); err != nil {
			return 0, err
		}
	case AAAA:
		ip16 := r.IP.To16()
		if ip16 == nil {
			return 0, fmt.Errorf("%w: AAAA record without IPv6 address", ErrMalformedRecord)
		}
		if err := buffer.WriteBytes(ip16); err != nil {
			return 0, err
		}
	case NS, CNAME, PTR, MD, MF, MB, MG, MR:
		if err := ownerName(r.Host); err != nil {
			return 0, err
		}
	case MX:
		if err := buffer.Writeu16(r.Priority); err != nil {
			return 0, err
		}
		if err := ownerName(r.Host); err != nil {
			return 0, err
		}
	case SRV:
		if err := buffer.Writeu16(r.Priority); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.Weight); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.Port); err != nil {
			return 0, err
		}
		if err := rdataName(r.Host); err != nil {
			return 0, err
		}
	case TXT:
		for _, s := range r.TxtStrings {
			if len(s) > 255 {
				return 0, fmt.Errorf("%w: TXT string exceeds 255 octets", ErrMalformedRecord)
			}
			if err := buffer.Write(byte(len(s))); err != nil {
				return 0, err
			}
			if err := buffer.WriteBytes([]byte(s)); err != nil {
				return 0, err
			}
		}
	case SOA:
		if err := ownerName(r.MName); err != nil {
			return 0, err
		}
		if err := ownerName(r.RName); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.Serial); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.Refresh); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.Retry); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.Expire); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.Minimum); err != nil {
			return 0, err
		}
	case HINFO:
		if err := buffer.Write(byte(len(r.CPU))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes([]byte(r.CPU)); err != nil {
			return 0, err
		}
		if err := buffer.Write(byte(len(r.OS))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes([]byte(r.OS)); err != nil {
			return 0, err
		}
	case MINFO:
		if err := ownerName(r.RMailBX); err != nil {
			return 0, err
		}
		if err := ownerName(r.EMailBX); err != nil {
			return 0, err
		}
	case WKS:
		ip4 := r.IP.To4()
		if ip4 == nil {
			return 0, fmt.Errorf("%w: WKS record without IPv4 address", ErrMalformedRecord)
		}
		if err := buffer.WriteBytes(ip4); err != nil {
			return 0, err
		}
		if err := buffer.Write(r.Protocol); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.BitMap); err != nil {
			return 0, err
		}
	case NSEC:
		if err := rdataName(r.NextName); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.TypeBitMap); err != nil {
			return 0, err
		}
	case DNSKEY:
		if err := buffer.Writeu16(r.Flags); err != nil {
			return 0, err
		}
		if err := buffer.Write(3); err != nil { // protocol MUST be 3 (RFC 4034 2.1.2)
			return 0, err
		}
		if err := buffer.Write(r.Algorithm); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.PublicKey); err != nil {
			return 0, err
		}
	case RRSIG, SIG:
		if err := buffer.Writeu16(r.TypeCovered); err != nil {
			return 0, err
		}
		if err := buffer.Write(r.Algorithm); err != nil {
			return 0, err
		}
		if err := buffer.Write(r.Labels); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.OrigTTL); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.Expiration); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.Inception); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.KeyTag); err != nil {
			return 0, err
		}
		if err := buffer.WriteNameUncompressed(r.SignerName); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.Signature); err != nil {
			return 0, err
		}
	case NSEC3:
		if err := buffer.Write(r.HashAlg); err != nil {
			return 0, err
		}
		if err := buffer.Write(r.NSEC3Flags); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.Iterations); err != nil {
			return 0, err
		}
		if err := buffer.Write(uint8(len(r.Salt))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.Salt); err != nil {
			return 0, err
		}
		if err := buffer.Write(uint8(len(r.NextHash))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.NextHash); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.TypeBitMap); err != nil {
			return 0, err
		}
	case NSEC3PARAM:
		if err := buffer.Write(r.HashAlg); err != nil {
			return 0, err
		}
		if err := buffer.Write(r.NSEC3Flags); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.Iterations); err != nil {
			return 0, err
		}
		if err := buffer.Write(uint8(len(r.Salt))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.Salt); err != nil {
			return 0, err
		}
	case DS:
		if err := buffer.Writeu16(r.KeyTag); err != nil {
			return 0, err
		}
		if err := buffer.Write(r.Algorithm); err != nil {
			return 0, err
		}
		if err := buffer.Write(r.DigestType); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.Digest); err != nil {
			return 0, err
		}
	case HIP:
		if err := buffer.Write(uint8(len(r.HIT))); err != nil {
			return 0, err
		}
		if err := buffer.Write(r.Algorithm); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(uint16(len(r.PublicKey))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.HIT); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.PublicKey); err != nil {
			return 0, err
		}
		for _, rv := range r.RendezvousServers {
			if err := rdataName(rv); err != nil {
				return 0, err
			}
		}
	case TKEY:
		if err := buffer.WriteNameUncompressed(r.AlgorithmName); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.Inception); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(r.Expiration); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.Mode); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.Error); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(uint16(len(r.KeyData))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.KeyData); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(uint16(len(r.Other))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.Other); err != nil {
			return 0, err
		}
	case TSIG:
		if err := buffer.WriteNameUncompressed(r.AlgorithmName); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(uint16(r.TimeSigned >> 32)); err != nil {
			return 0, err
		}
		if err := buffer.Writeu32(uint32(r.TimeSigned & 0xFFFFFFFF)); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.Fudge); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(uint16(len(r.MAC))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.MAC); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.OriginalID); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.Error); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(uint16(len(r.Other))); err != nil {
			return 0, err
		}
		if err := buffer.WriteBytes(r.Other); err != nil {
			return 0, err
		}
	default:
		if err := buffer.WriteBytes(r.Data); err != nil {
			return 0, err
		}
	}

	return r.patchLength(buffer, startPos, lenPos)
}

// patchLength back-fills the RDLENGTH placeholder at lenPos.
func (r *DNSRecord) patchLength(buffer *BytePacketBuffer, startPos, lenPos int) (int, error) {
	currPos := buffer.Position()
	if err := buffer.Seek(lenPos); err != nil {
		return 0, err
	}
	if err := buffer.Writeu16(uint16(currPos - (lenPos + 2))); err != nil {
		return 0, err
	}
	if err := buffer.Seek(currPos); err != nil {
		return 0, err
	}
	return currPos - startPos, nil
}
