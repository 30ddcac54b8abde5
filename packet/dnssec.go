package packet

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 -- SHA-1 required for DNSSEC algorithms 5/7 and DS digest 1 (RFC 4034)
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"sort"
	"strings"
)

// DNSSEC signing algorithm numbers (RFC 4034, RFC 5702, RFC 6605, RFC 8080).
const (
	// AlgRSASHA1 is RSA/SHA-1.
	AlgRSASHA1 uint8 = 5
	// AlgRSASHA1NSEC3 is RSA/SHA-1 with NSEC3 (identical signature scheme).
	AlgRSASHA1NSEC3 uint8 = 7
	// AlgRSASHA256 is RSA/SHA-256.
	AlgRSASHA256 uint8 = 8
	// AlgRSASHA512 is RSA/SHA-512.
	AlgRSASHA512 uint8 = 10
	// AlgECDSAP256SHA256 is ECDSA over P-256 with SHA-256.
	AlgECDSAP256SHA256 uint8 = 13
	// AlgECDSAP384SHA384 is ECDSA over P-384 with SHA-384.
	AlgECDSAP384SHA384 uint8 = 14
	// AlgED25519 is Ed25519 (RFC 8080).
	AlgED25519 uint8 = 15
)

// DS digest type numbers (RFC 4034, RFC 4509, RFC 6605).
const (
	// DigestSHA1 is SHA-1.
	DigestSHA1 uint8 = 1
	// DigestSHA256 is SHA-256.
	DigestSHA256 uint8 = 2
	// DigestSHA384 is SHA-384.
	DigestSHA384 uint8 = 4
)

// DNSKEY flag bits.
const (
	// DNSKEYFlagZone marks a zone key.
	DNSKEYFlagZone uint16 = 0x0100
	// DNSKEYFlagSEP marks a secure entry point (key-signing key).
	DNSKEYFlagSEP uint16 = 0x0001
)

// ErrUnsupportedAlgorithm is returned when no registered signature
// scheme matches a DNSKEY or RRSIG algorithm number.
var ErrUnsupportedAlgorithm = errors.New("unsupported dnssec algorithm")

// ErrSignatureInvalid is returned when a signature fails to verify over
// the canonical RRset.
var ErrSignatureInvalid = errors.New("signature verification failed")

// SupportedAlgorithms lists the signing algorithms the validator
// understands; published to servers in the DAU option.
func SupportedAlgorithms() []uint8 {
	return []uint8{AlgRSASHA1, AlgRSASHA1NSEC3, AlgRSASHA256, AlgRSASHA512, AlgECDSAP256SHA256, AlgECDSAP384SHA384, AlgED25519}
}

// SupportedDSDigests lists the DS digest types understood; published in
// the DHU option.
func SupportedDSDigests() []uint8 {
	return []uint8{DigestSHA1, DigestSHA256, DigestSHA384}
}

// SupportedNSEC3Hashes lists the NSEC3 hash algorithms understood;
// published in the N3U option.
func SupportedNSEC3Hashes() []uint8 {
	return []uint8{NSEC3HashSHA1}
}

// AlgorithmSupported reports whether the validator can check signatures
// made with the given algorithm number.
func AlgorithmSupported(alg uint8) bool {
	for _, a := range SupportedAlgorithms() {
		if a == alg {
			return true
		}
	}
	return false
}

// ComputeKeyTag calculates the key tag for a DNSKEY record according to
// RFC 4034 Appendix B. It indexes RRSIGs to the DNSKEY that made them.
func (r *DNSRecord) ComputeKeyTag() uint16 {
	if r.Type != DNSKEY {
		return 0
	}

	buf := NewBytePacketBuffer()
	if err := buf.Writeu16(r.Flags); err != nil {
		return 0
	}
	if err := buf.Write(3); err != nil { // protocol MUST be 3 (RFC 4034 2.1.2)
		return 0
	}
	if err := buf.Write(r.Algorithm); err != nil {
		return 0
	}
	if err := buf.WriteBytes(r.PublicKey); err != nil {
		return 0
	}

	data := buf.Bytes()
	var ac uint32
	for i, b := range data {
		if i%2 == 0 {
			ac += uint32(b) << 8
		} else {
			ac += uint32(b)
		}
	}
	ac += (ac >> 16) & 0xFFFF
	return uint16(ac & 0xFFFF)
}

// ComputeDS generates a delegation signer record from a DNSKEY record
// (RFC 4034 section 5.2). The digest covers the canonical owner name
// followed by the DNSKEY RDATA.
func (r *DNSRecord) ComputeDS(digestType uint8) (DNSRecord, error) {
	if r.Type != DNSKEY {
		return DNSRecord{}, fmt.Errorf("%w: DS requires a DNSKEY", ErrMalformedRecord)
	}

	buf := NewBytePacketBuffer()
	if err := buf.WriteCanonicalName(r.Name); err != nil {
		return DNSRecord{}, err
	}
	if err := buf.Writeu16(r.Flags); err != nil {
		return DNSRecord{}, err
	}
	if err := buf.Write(3); err != nil {
		return DNSRecord{}, err
	}
	if err := buf.Write(r.Algorithm); err != nil {
		return DNSRecord{}, err
	}
	if err := buf.WriteBytes(r.PublicKey); err != nil {
		return DNSRecord{}, err
	}

	var digest []byte
	switch digestType {
	case DigestSHA1:
		hashed := sha1.Sum(buf.Bytes()) // #nosec G401
		digest = hashed[:]
	case DigestSHA256:
		hashed := sha256.Sum256(buf.Bytes())
		digest = hashed[:]
	case DigestSHA384:
		hashed := sha512.Sum384(buf.Bytes())
		digest = hashed[:]
	default:
		return DNSRecord{}, fmt.Errorf("%w: DS digest type %d", ErrUnsupportedAlgorithm, digestType)
	}

	return DNSRecord{
		Name:       r.Name,
		Type:       DS,
		Class:      ClassINET,
		TTL:        r.TTL,
		KeyTag:     r.ComputeKeyTag(),
		Algorithm:  r.Algorithm,
		DigestType: digestType,
		Digest:     digest,
	}, nil
}

// MatchesDNSKEY reports whether a DS record authenticates the given
// DNSKEY: key tag, algorithm and digest must all agree.
func (r *DNSRecord) MatchesDNSKEY(key *DNSRecord) bool {
	if r.Type != DS || key.Type != DNSKEY {
		return false
	}
	if r.Algorithm != key.Algorithm || r.KeyTag != key.ComputeKeyTag() {
		return false
	}
	ds, err := key.ComputeDS(r.DigestType)
	if err != nil {
		return false
	}
	return bytes.Equal(ds.Digest, r.Digest)
}

// canonicalRData serializes a record's RDATA in canonical form.
func canonicalRData(r *DNSRecord) ([]byte, error) {
	buf := NewBytePacketBuffer()
	if _, err := r.WriteCanonical(buf); err != nil {
		return nil, err
	}
	// Skip owner, type, class, TTL and RDLENGTH to isolate the RDATA.
	skip := EncodedNameLength(r.Name) + 10
	data := buf.Bytes()
	if r.Type == OPT {
		skip = 1 + 10
	}
	if skip > len(data) {
		return nil, ErrMalformedRecord
	}
	return data[skip:], nil
}

// SortRRsetCanonical orders the members of an RRset by the bytewise
// comparison of their canonical RDATA (RFC 4034 6.3). The order is
// total and independent of insertion order. The input is not modified.
func SortRRsetCanonical(records []DNSRecord) ([]DNSRecord, error) {
	type keyed struct {
		rec   DNSRecord
		rdata []byte
	}
	ks := make([]keyed, 0, len(records))
	for _, rec := range records {
		rd, err := canonicalRData(&rec)
		if err != nil {
			return nil, err
		}
		ks = append(ks, keyed{rec: rec, rdata: rd})
	}
	sort.SliceStable(ks, func(i, j int) bool {
		return bytes.Compare(ks[i].rdata, ks[j].rdata) < 0
	})
	out := make([]DNSRecord, len(ks))
	for i, k := range ks {
		out[i] = k.rec
	}
	return out, nil
}

// signedData builds the exact byte sequence an RRSIG covers: the RRSIG
// RDATA up to and excluding the signature, followed by every member of
// the RRset in canonical order and canonical form with the original TTL
// substituted (RFC 4034 3.1.8.1).
func signedData(sig *DNSRecord, records []DNSRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty rrset", ErrMalformedRecord)
	}

	buf := NewBytePacketBuffer()
	if err := buf.Writeu16(sig.TypeCovered); err != nil {
		return nil, err
	}
	if err := buf.Write(sig.Algorithm); err != nil {
		return nil, err
	}
	if err := buf.Write(sig.Labels); err != nil {
		return nil, err
	}
	if err := buf.Writeu32(sig.OrigTTL); err != nil {
		return nil, err
	}
	if err := buf.Writeu32(sig.Expiration); err != nil {
		return nil, err
	}
	if err := buf.Writeu32(sig.Inception); err != nil {
		return nil, err
	}
	if err := buf.Writeu16(sig.KeyTag); err != nil {
		return nil, err
	}
	if err := buf.WriteCanonicalName(sig.SignerName); err != nil {
		return nil, err
	}

	sorted, err := SortRRsetCanonical(records)
	if err != nil {
		return nil, err
	}

	// A wildcard expansion signs the wildcard owner, not the expanded
	// name: when the labels field is smaller than the owner's label
	// count, the owner is re-shortened to "*." plus its rightmost labels.
	owner := CanonicalName(records[0].Name)
	ownerLabels := SplitLabels(owner)
	if int(sig.Labels) < len(ownerLabels) {
		owner = "*." + strings.Join(ownerLabels[len(ownerLabels)-int(sig.Labels):], ".") + "."
	}

	for i := range sorted {
		rec := sorted[i]
		rec.Name = owner
		rec.TTL = sig.OrigTTL
		if _, err := rec.WriteCanonical(buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func hashForAlgorithm(alg uint8) (hash.Hash, error) {
	switch alg {
	case AlgRSASHA1, AlgRSASHA1NSEC3:
		return sha1.New(), nil // #nosec G401
	case AlgRSASHA256, AlgECDSAP256SHA256:
		return sha256.New(), nil
	case AlgRSASHA512:
		return sha512.New(), nil
	case AlgECDSAP384SHA384:
		return sha512.New384(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, alg)
	}
}

// parseRSAPublicKey decodes the DNSKEY RSA public key wire format
// (RFC 3110): exponent length (one octet, or zero and two octets),
// exponent, modulus.
func parseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) < 3 {
		return nil, ErrMalformedRecord
	}
	var expLen int
	var off int
	if data[0] != 0 {
		expLen = int(data[0])
		off = 1
	} else {
		expLen = int(data[1])<<8 | int(data[2])
		off = 3
	}
	if expLen == 0 || off+expLen >= len(data) {
		return nil, ErrMalformedRecord
	}
	exp := new(big.Int).SetBytes(data[off : off+expLen])
	if !exp.IsInt64() || exp.Int64() > int64(1)<<31 {
		return nil, ErrMalformedRecord
	}
	mod := new(big.Int).SetBytes(data[off+expLen:])
	return &rsa.PublicKey{N: mod, E: int(exp.Int64())}, nil
}

// VerifyRRSIG checks sig against the RRset using the public key carried
// by the DNSKEY record. Window and key-tag checks belong to the caller;
// this is the cryptographic step only.
func VerifyRRSIG(sig *DNSRecord, key *DNSRecord, records []DNSRecord) error {
	if sig.Type != RRSIG && sig.Type != SIG {
		return fmt.Errorf("%w: not a signature record", ErrMalformedRecord)
	}
	if key.Type != DNSKEY {
		return fmt.Errorf("%w: not a DNSKEY record", ErrMalformedRecord)
	}
	if sig.Algorithm != key.Algorithm {
		return ErrSignatureInvalid
	}

	msg, err := signedData(sig, records)
	if err != nil {
		return err
	}

	switch sig.Algorithm {
	case AlgRSASHA1, AlgRSASHA1NSEC3, AlgRSASHA256, AlgRSASHA512:
		pub, errParse := parseRSAPublicKey(key.PublicKey)
		if errParse != nil {
			return errParse
		}
		h, errHash := hashForAlgorithm(sig.Algorithm)
		if errHash != nil {
			return errHash
		}
		h.Write(msg)
		var ch crypto.Hash
		switch sig.Algorithm {
		case AlgRSASHA1, AlgRSASHA1NSEC3:
			ch = crypto.SHA1
		case AlgRSASHA256:
			ch = crypto.SHA256
		default:
			ch = crypto.SHA512
		}
		if errVerify := rsa.VerifyPKCS1v15(pub, ch, h.Sum(nil), sig.Signature); errVerify != nil {
			return ErrSignatureInvalid
		}
		return nil

	case AlgECDSAP256SHA256, AlgECDSAP384SHA384:
		curve := elliptic.P256()
		size := 32
		if sig.Algorithm == AlgECDSAP384SHA384 {
			curve = elliptic.P384()
			size = 48
		}
		if len(key.PublicKey) != 2*size || len(sig.Signature) != 2*size {
			return ErrSignatureInvalid
		}
		pub := &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(key.PublicKey[:size]),
			Y:     new(big.Int).SetBytes(key.PublicKey[size:]),
		}
		h, errHash := hashForAlgorithm(sig.Algorithm)
		if errHash != nil {
			return errHash
		}
		h.Write(msg)
		rv := new(big.Int).SetBytes(sig.Signature[:size])
		sv := new(big.Int).SetBytes(sig.Signature[size:])
		if !ecdsa.Verify(pub, h.Sum(nil), rv, sv) {
			return ErrSignatureInvalid
		}
		return nil

	case AlgED25519:
		if len(key.PublicKey) != ed25519.PublicKeySize {
			return ErrSignatureInvalid
		}
		if !ed25519.Verify(ed25519.PublicKey(key.PublicKey), msg, sig.Signature) {
			return ErrSignatureInvalid
		}
		return nil

	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, sig.Algorithm)
	}
}

// ValidityWindowContains reports whether now falls inside the RRSIG
// inception/expiration window under RFC 1982 serial arithmetic.
func (r *DNSRecord) ValidityWindowContains(now uint32) bool {
	if r.Type != RRSIG && r.Type != SIG {
		return false
	}
	return SerialInRange(now, r.Inception, r.Expiration)
}

// SignRRSet generates an RRSIG over records using an ECDSA P-256 or
// Ed25519 private key. Used by the test harness and by zone tooling.
func SignRRSet(records []DNSRecord, priv interface{}, algorithm uint8, signerName string, keyTag uint16, inception, expiration uint32) (DNSRecord, error) {
	if len(records) == 0 {
		return DNSRecord{}, fmt.Errorf("%w: empty rrset", ErrMalformedRecord)
	}

	sig := DNSRecord{
		Name:        records[0].Name,
		Type:        RRSIG,
		Class:       ClassINET,
		TTL:         records[0].TTL,
		TypeCovered: uint16(records[0].Type),
		Algorithm:   algorithm,
		Labels:      uint8(CountLabels(records[0].Name)),
		OrigTTL:     records[0].TTL,
		Expiration:  expiration,
		Inception:   inception,
		KeyTag:      keyTag,
		SignerName:  signerName,
	}
	if strings.HasPrefix(CanonicalName(records[0].Name), "*.") {
		sig.Labels--
	}

	msg, err := signedData(&sig, records)
	if err != nil {
		return DNSRecord{}, err
	}

	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		size := 32
		if algorithm == AlgECDSAP384SHA384 {
			size = 48
		}
		h, errHash := hashForAlgorithm(algorithm)
		if errHash != nil {
			return DNSRecord{}, errHash
		}
		h.Write(msg)
		rv, sv, errSign := ecdsa.Sign(rand.Reader, k, h.Sum(nil))
		if errSign != nil {
			return DNSRecord{}, errSign
		}
		rb := rv.Bytes()
		sb := sv.Bytes()
		sigData := make([]byte, 2*size)
		copy(sigData[size-len(rb):], rb)
		copy(sigData[2*size-len(sb):], sb)
		sig.Signature = sigData
	case ed25519.PrivateKey:
		sig.Signature = ed25519.Sign(k, msg)
	default:
		return DNSRecord{}, fmt.Errorf("%w: unsupported private key type", ErrUnsupportedAlgorithm)
	}

	return sig, nil
}

// NewDNSKEY builds a DNSKEY record from an ECDSA or Ed25519 public key.
func NewDNSKEY(name string, flags uint16, ttl uint32, algorithm uint8, pub interface{}) (DNSRecord, error) {
	rec := DNSRecord{
		Name:      name,
		Type:      DNSKEY,
		Class:     ClassINET,
		TTL:       ttl,
		Flags:     flags,
		Algorithm: algorithm,
	}
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		size := 32
		if algorithm == AlgECDSAP384SHA384 {
			size = 48
		}
		keyData := make([]byte, 2*size)
		xb := k.X.Bytes()
		yb := k.Y.Bytes()
		copy(keyData[size-len(xb):], xb)
		copy(keyData[2*size-len(yb):], yb)
		rec.PublicKey = keyData
	case ed25519.PublicKey:
		rec.PublicKey = append([]byte(nil), k...)
	default:
		return DNSRecord{}, fmt.Errorf("%w: unsupported public key type", ErrUnsupportedAlgorithm)
	}
	return rec, nil
}
