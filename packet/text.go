package packet

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Zone-file token forms for RDATA (RFC 1035 section 5, RFC 3597 for
// unknown types). Parsing takes whitespace-split tokens plus the origin
// used to qualify relative names; rendering produces the same tokens.

// absName qualifies a possibly-relative name token against the origin.
func absName(token, origin string) string {
	if token == "@" {
		return CanonicalName(origin)
	}
	if strings.HasSuffix(token, ".") {
		return token
	}
	if origin == "" || origin == "." {
		return token + "."
	}
	return token + "." + CanonicalName(origin)
}

func parseUint(token string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(token, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer %q", ErrMalformedRecord, token)
	}
	return v, nil
}

// parseSigTime accepts the RFC 4034 presentation form YYYYMMDDHHmmSS
// (UTC) or plain seconds since the Unix epoch.
func parseSigTime(token string) (uint32, error) {
	if len(token) == 14 {
		t, err := time.Parse("20060102150405", token)
		if err != nil {
			return 0, fmt.Errorf("%w: bad timestamp %q", ErrMalformedRecord, token)
		}
		return uint32(t.UTC().Unix()), nil
	}
	v, err := parseUint(token, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func formatSigTime(v uint32) string {
	return time.Unix(int64(v), 0).UTC().Format("20060102150405")
}

// ParseRData fills a record's payload fields from zone-file tokens. The
// caller supplies the envelope (name, type, class, TTL); relative names
// inside the RDATA resolve against origin.
func (r *DNSRecord) ParseRData(tokens []string, origin string) error {
	need := func(n int) error {
		if len(tokens) < n {
			return fmt.Errorf("%w: %s needs %d fields, got %d", ErrMalformedRecord, r.Type, n, len(tokens))
		}
		return nil
	}

	switch r.Type {
	case A:
		if err := need(1); err != nil {
			return err
		}
		ip := net.ParseIP(tokens[0])
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("%w: bad IPv4 %q", ErrMalformedRecord, tokens[0])
		}
		r.IP = ip.To4()
	case AAAA:
		if err := need(1); err != nil {
			return err
		}
		ip := net.ParseIP(tokens[0])
		if ip == nil || ip.To4() != nil {
			return fmt.Errorf("%w: bad IPv6 %q", ErrMalformedRecord, tokens[0])
		}
		r.IP = ip
	case NS, CNAME, PTR, MD, MF, MB, MG, MR:
		if err := need(1); err != nil {
			return err
		}
		r.Host = absName(tokens[0], origin)
	case MX:
		if err := need(2); err != nil {
			return err
		}
		pref, err := parseUint(tokens[0], 16)
		if err != nil {
			return err
		}
		r.Priority = uint16(pref)
		r.Host = absName(tokens[1], origin)
	case SRV:
		if err := need(4); err != nil {
			return err
		}
		prio, err := parseUint(tokens[0], 16)
		if err != nil {
			return err
		}
		weight, err := parseUint(tokens[1], 16)
		if err != nil {
			return err
		}
		port, err := parseUint(tokens[2], 16)
		if err != nil {
			return err
		}
		r.Priority = uint16(prio)
		r.Weight = uint16(weight)
		r.Port = uint16(port)
		r.Host = absName(tokens[3], origin)
	case TXT:
		if err := need(1); err != nil {
			return err
		}
		r.TxtStrings = nil
		for _, tok := range tokens {
			r.TxtStrings = append(r.TxtStrings, strings.Trim(tok, `"`))
		}
	case SOA:
		if err := need(7); err != nil {
			return err
		}
		r.MName = absName(tokens[0], origin)
		r.RName = absName(tokens[1], origin)
		vals := make([]uint32, 5)
		for i := 0; i < 5; i++ {
			v, err := parseUint(tokens[2+i], 32)
			if err != nil {
				return err
			}
			vals[i] = uint32(v)
		}
		r.Serial, r.Refresh, r.Retry, r.Expire, r.Minimum = vals[0], vals[1], vals[2], vals[3], vals[4]
	case HINFO:
		if err := need(2); err != nil {
			return err
		}
		r.CPU = strings.Trim(tokens[0], `"`)
		r.OS = strings.Trim(tokens[1], `"`)
	case MINFO:
		if err := need(2); err != nil {
			return err
		}
		r.RMailBX = absName(tokens[0], origin)
		r.EMailBX = absName(tokens[1], origin)
	case DS:
		if err := need(4); err != nil {
			return err
		}
		tag, err := parseUint(tokens[0], 16)
		if err != nil {
			return err
		}
		alg, err := parseUint(tokens[1], 8)
		if err != nil {
			return err
		}
		dt, err := parseUint(tokens[2], 8)
		if err != nil {
			return err
		}
		digest, err := hex.DecodeString(strings.Join(tokens[3:], ""))
		if err != nil {
			return fmt.Errorf("%w: bad DS digest", ErrMalformedRecord)
		}
		r.KeyTag = uint16(tag)
		r.Algorithm = uint8(alg)
		r.DigestType = uint8(dt)
		r.Digest = digest
	case DNSKEY:
		if err := need(4); err != nil {
			return err
		}
		flags, err := parseUint(tokens[0], 16)
		if err != nil {
			return err
		}
		if _, err := parseUint(tokens[1], 8); err != nil { // protocol, always 3
			return err
		}
		alg, err := parseUint(tokens[2], 8)
		if err != nil {
			return err
		}
		key, err := base64.StdEncoding.DecodeString(strings.Join(tokens[3:], ""))
		if err != nil {
			return fmt.Errorf("%w: bad DNSKEY key data", ErrMalformedRecord)
		}
		r.Flags = uint16(flags)
		r.Algorithm = uint8(alg)
		r.PublicKey = key
	case RRSIG, SIG:
		if err := need(9); err != nil {
			return err
		}
		covered := QueryTypeFromString(tokens[0])
		alg, err := parseUint(tokens[1], 8)
		if err != nil {
			return err
		}
		labels, err := parseUint(tokens[2], 8)
		if err != nil {
			return err
		}
		origTTL, err := parseUint(tokens[3], 32)
		if err != nil {
			return err
		}
		expiration, err := parseSigTime(tokens[4])
		if err != nil {
			return err
		}
		inception, err := parseSigTime(tokens[5])
		if err != nil {
			return err
		}
		tag, err := parseUint(tokens[6], 16)
		if err != nil {
			return err
		}
		sigData, err := base64.StdEncoding.DecodeString(strings.Join(tokens[8:], ""))
		if err != nil {
			return fmt.Errorf("%w: bad RRSIG signature data", ErrMalformedRecord)
		}
		r.TypeCovered = uint16(covered)
		r.Algorithm = uint8(alg)
		r.Labels = uint8(labels)
		r.OrigTTL = uint32(origTTL)
		r.Expiration = expiration
		r.Inception = inception
		r.KeyTag = uint16(tag)
		r.SignerName = absName(tokens[7], origin)
		r.Signature = sigData
	case NSEC:
		if err := need(1); err != nil {
			return err
		}
		r.NextName = absName(tokens[0], origin)
		var types []QueryType
		for _, tok := range tokens[1:] {
			types = append(types, QueryTypeFromString(tok))
		}
		r.TypeBitMap = EncodeTypeBitMap(types)
	case NSEC3:
		if err := need(5); err != nil {
			return err
		}
		alg, err := parseUint(tokens[0], 8)
		if err != nil {
			return err
		}
		flags, err := parseUint(tokens[1], 8)
		if err != nil {
			return err
		}
		iter, err := parseUint(tokens[2], 16)
		if err != nil {
			return err
		}
		r.HashAlg = uint8(alg)
		r.NSEC3Flags = uint8(flags)
		r.Iterations = uint16(iter)
		if tokens[3] != "-" {
			salt, errHex := hex.DecodeString(tokens[3])
			if errHex != nil {
				return fmt.Errorf("%w: bad NSEC3 salt", ErrMalformedRecord)
			}
			r.Salt = salt
		}
		r.NextHash = Base32Decode(tokens[4])
		if r.NextHash == nil {
			return fmt.Errorf("%w: bad NSEC3 next hash", ErrMalformedRecord)
		}
		var types []QueryType
		for _, tok := range tokens[5:] {
			types = append(types, QueryTypeFromString(tok))
		}
		r.TypeBitMap = EncodeTypeBitMap(types)
	case NSEC3PARAM:
		if err := need(4); err != nil {
			return err
		}
		alg, err := parseUint(tokens[0], 8)
		if err != nil {
			return err
		}
		flags, err := parseUint(tokens[1], 8)
		if err != nil {
			return err
		}
		iter, err := parseUint(tokens[2], 16)
		if err != nil {
			return err
		}
		r.HashAlg = uint8(alg)
		r.NSEC3Flags = uint8(flags)
		r.Iterations = uint16(iter)
		if tokens[3] != "-" {
			salt, errHex := hex.DecodeString(tokens[3])
			if errHex != nil {
				return fmt.Errorf("%w: bad NSEC3 salt", ErrMalformedRecord)
			}
			r.Salt = salt
		}
	case HIP:
		if err := need(3); err != nil {
			return err
		}
		alg, err := parseUint(tokens[0], 8)
		if err != nil {
			return err
		}
		hit, err := hex.DecodeString(tokens[1])
		if err != nil {
			return fmt.Errorf("%w: bad HIP HIT", ErrMalformedRecord)
		}
		key, err := base64.StdEncoding.DecodeString(tokens[2])
		if err != nil {
			return fmt.Errorf("%w: bad HIP public key", ErrMalformedRecord)
		}
		r.Algorithm = uint8(alg)
		r.HIT = hit
		r.PublicKey = key
		for _, tok := range tokens[3:] {
			r.RendezvousServers = append(r.RendezvousServers, absName(tok, origin))
		}
	default:
		// RFC 3597 generic form: \# length hex...
		if len(tokens) >= 2 && tokens[0] == `\#` {
			length, err := parseUint(tokens[1], 16)
			if err != nil {
				return err
			}
			data, err := hex.DecodeString(strings.Join(tokens[2:], ""))
			if err != nil || len(data) != int(length) {
				return fmt.Errorf("%w: bad generic RDATA", ErrMalformedRecord)
			}
			r.Data = data
			return nil
		}
		return fmt.Errorf("%w: no text form for %s", ErrMalformedRecord, r.Type)
	}
	return nil
}

// RDataString renders the record's RDATA in zone-file token form.
func (r *DNSRecord) RDataString() string {
	switch r.Type {
	case A, AAAA:
		return r.IP.String()
	case NS, CNAME, PTR, MD, MF, MB, MG, MR:
		return r.Host
	case MX:
		return fmt.Sprintf("%d %s", r.Priority, r.Host)
	case SRV:
		return fmt.Sprintf("%d %d %d %s", r.Priority, r.Weight, r.Port, r.Host)
	case TXT:
		quoted := make([]string, 0, len(r.TxtStrings))
		for _, s := range r.TxtStrings {
			quoted = append(quoted, `"`+s+`"`)
		}
		return strings.Join(quoted, " ")
	case SOA:
		return fmt.Sprintf("%s %s %d %d %d %d %d", r.MName, r.RName, r.Serial, r.Refresh, r.Retry, r.Expire, r.Minimum)
	case HINFO:
		return fmt.Sprintf("%q %q", r.CPU, r.OS)
	case MINFO:
		return fmt.Sprintf("%s %s", r.RMailBX, r.EMailBX)
	case DS:
		return fmt.Sprintf("%d %d %d %s", r.KeyTag, r.Algorithm, r.DigestType, strings.ToUpper(hex.EncodeToString(r.Digest)))
	case DNSKEY:
		return fmt.Sprintf("%d 3 %d %s", r.Flags, r.Algorithm, base64.StdEncoding.EncodeToString(r.PublicKey))
	case RRSIG, SIG:
		return fmt.Sprintf("%s %d %d %d %s %s %d %s %s",
			QueryType(r.TypeCovered), r.Algorithm, r.Labels, r.OrigTTL,
			formatSigTime(r.Expiration), formatSigTime(r.Inception),
			r.KeyTag, r.SignerName, base64.StdEncoding.EncodeToString(r.Signature))
	case NSEC:
		parts := []string{r.NextName}
		for _, t := range DecodeTypeBitMap(r.TypeBitMap) {
			parts = append(parts, t.String())
		}
		return strings.Join(parts, " ")
	case NSEC3:
		salt := "-"
		if len(r.Salt) > 0 {
			salt = strings.ToUpper(hex.EncodeToString(r.Salt))
		}
		parts := []string{fmt.Sprintf("%d %d %d %s %s", r.HashAlg, r.NSEC3Flags, r.Iterations, salt, strings.ToUpper(Base32Encode(r.NextHash)))}
		for _, t := range DecodeTypeBitMap(r.TypeBitMap) {
			parts = append(parts, t.String())
		}
		return strings.Join(parts, " ")
	case NSEC3PARAM:
		salt := "-"
		if len(r.Salt) > 0 {
			salt = strings.ToUpper(hex.EncodeToString(r.Salt))
		}
		return fmt.Sprintf("%d %d %d %s", r.HashAlg, r.NSEC3Flags, r.Iterations, salt)
	case HIP:
		parts := []string{fmt.Sprintf("%d %s %s", r.Algorithm, strings.ToUpper(hex.EncodeToString(r.HIT)), base64.StdEncoding.EncodeToString(r.PublicKey))}
		parts = append(parts, r.RendezvousServers...)
		return strings.Join(parts, " ")
	default:
		if len(r.Data) == 0 {
			return `\# 0`
		}
		return fmt.Sprintf(`\# %d %s`, len(r.Data), strings.ToUpper(hex.EncodeToString(r.Data)))
	}
}

// String renders the full record as a zone-file line.
func (r *DNSRecord) String() string {
	return fmt.Sprintf("%s %d IN %s %s", r.Name, r.TTL, r.Type, r.RDataString())
}

// QueryTypeFromString maps a mnemonic (or TYPEnnn form) to its number.
func QueryTypeFromString(s string) QueryType {
	switch strings.ToUpper(s) {
	case "A":
		return A
	case "NS":
		return NS
	case "MD":
		return MD
	case "MF":
		return MF
	case "CNAME":
		return CNAME
	case "SOA":
		return SOA
	case "MB":
		return MB
	case "MG":
		return MG
	case "MR":
		return MR
	case "NULL":
		return NULL
	case "WKS":
		return WKS
	case "PTR":
		return PTR
	case "HINFO":
		return HINFO
	case "MINFO":
		return MINFO
	case "MX":
		return MX
	case "TXT":
		return TXT
	case "SIG":
		return SIG
	case "AAAA":
		return AAAA
	case "SRV":
		return SRV
	case "OPT":
		return OPT
	case "DS":
		return DS
	case "RRSIG":
		return RRSIG
	case "NSEC":
		return NSEC
	case "DNSKEY":
		return DNSKEY
	case "NSEC3":
		return NSEC3
	case "NSEC3PARAM":
		return NSEC3PARAM
	case "HIP":
		return HIP
	case "TKEY":
		return TKEY
	case "TSIG":
		return TSIG
	case "IXFR":
		return IXFR
	case "AXFR":
		return AXFR
	case "ANY":
		return ANY
	default:
		if strings.HasPrefix(strings.ToUpper(s), "TYPE") {
			if v, err := strconv.ParseUint(s[4:], 10, 16); err == nil {
				return QueryType(v)
			}
		}
		return UNKNOWN
	}
}
