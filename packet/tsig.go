package packet

import (
	"crypto/hmac"
	"crypto/md5" // #nosec G501 -- hmac-md5.sig-alg.reg.int is still a mandatory TSIG algorithm name
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"time"
)

// TSIG algorithm names (RFC 8945 section 6).
const (
	TsigHMACMD5    = "hmac-md5.sig-alg.reg.int."
	TsigHMACSHA1   = "hmac-sha1."
	TsigHMACSHA256 = "hmac-sha256."
)

// TSIG failures.
var (
	// ErrTsigMismatch indicates a MAC that does not match the message.
	ErrTsigMismatch = errors.New("TSIG MAC mismatch")
	// ErrTsigTime indicates a signing time outside the fudge window.
	ErrTsigTime = errors.New("TSIG time drift exceeded")
	// ErrTsigAlgorithm indicates an unrecognized TSIG algorithm. Unknown
	// algorithms fail verification; they are never skipped.
	ErrTsigAlgorithm = errors.New("unknown TSIG algorithm")
)

func tsigHashFor(algorithm string) (func() hash.Hash, error) {
	switch CanonicalName(algorithm) {
	case TsigHMACMD5:
		return md5.New, nil // #nosec G401
	case TsigHMACSHA1:
		return sha1.New, nil // #nosec G401
	case TsigHMACSHA256:
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrTsigAlgorithm, algorithm)
	}
}

// tsigVariables encodes the synthetic "TSIG variables" block that is
// appended to the unsigned message before hashing (RFC 8945 4.3.3).
// Names are in canonical form.
func tsigVariables(tsig *DNSRecord) ([]byte, error) {
	vBuf := NewBytePacketBuffer()
	if err := vBuf.WriteCanonicalName(tsig.Name); err != nil {
		return nil, err
	}
	if err := vBuf.Writeu16(tsig.Class); err != nil {
		return nil, err
	}
	if err := vBuf.Writeu32(tsig.TTL); err != nil {
		return nil, err
	}
	if err := vBuf.WriteCanonicalName(tsig.AlgorithmName); err != nil {
		return nil, err
	}
	if err := vBuf.Writeu16(uint16(tsig.TimeSigned >> 32)); err != nil {
		return nil, err
	}
	if err := vBuf.Writeu32(uint32(tsig.TimeSigned & 0xFFFFFFFF)); err != nil {
		return nil, err
	}
	if err := vBuf.Writeu16(tsig.Fudge); err != nil {
		return nil, err
	}
	if err := vBuf.Writeu16(tsig.Error); err != nil {
		return nil, err
	}
	if err := vBuf.Writeu16(uint16(len(tsig.Other))); err != nil {
		return nil, err
	}
	if err := vBuf.WriteBytes(tsig.Other); err != nil {
		return nil, err
	}
	return vBuf.Bytes(), nil
}

// VerifyTSIG checks the transaction signature of a parsed message
// against the shared secret (RFC 8945). rawBuffer holds the exact wire
// bytes the message was parsed from; the MAC covers everything before
// the TSIG record with the additional count decremented by one.
func (p *DNSPacket) VerifyTSIG(rawBuffer []byte, secret []byte) error {
	if p.Signature == nil || p.TSIGStart < 0 {
		return errors.New("message carries no TSIG record")
	}
	tsig := p.Signature

	newHash, err := tsigHashFor(tsig.AlgorithmName)
	if err != nil {
		return err
	}

	unixNow := time.Now().Unix()
	var now uint64
	if unixNow >= 0 {
		now = uint64(unixNow)
	}
	var drift uint64
	if now > tsig.TimeSigned {
		drift = now - tsig.TimeSigned
	} else {
		drift = tsig.TimeSigned - now
	}
	if drift > uint64(tsig.Fudge) {
		return ErrTsigTime
	}

	if p.TSIGStart > len(rawBuffer) {
		return ErrMalformedMessage
	}
	prefix := make([]byte, p.TSIGStart)
	copy(prefix, rawBuffer[:p.TSIGStart])
	if len(prefix) >= 12 {
		arCount := uint16(int(p.Header.ResourceEntries) - 1)
		prefix[10] = byte(arCount >> 8)
		prefix[11] = byte(arCount & 0xFF)
	}

	h := hmac.New(newHash, secret)
	h.Write(prefix)
	vars, err := tsigVariables(tsig)
	if err != nil {
		return err
	}
	h.Write(vars)

	if !hmac.Equal(tsig.MAC, h.Sum(nil)) {
		return ErrTsigMismatch
	}
	return nil
}

// SignTSIG signs the serialized packet in buffer with a transaction
// signature, appends the TSIG record and fixes up the wire ARCOUNT.
// The TSIG record is always the last record of the additional section.
func (p *DNSPacket) SignTSIG(buffer *BytePacketBuffer, keyName, algorithm string, secret []byte) error {
	if algorithm == "" {
		algorithm = TsigHMACSHA256
	}
	newHash, err := tsigHashFor(algorithm)
	if err != nil {
		return err
	}

	var timeSigned uint64
	if u := time.Now().Unix(); u > 0 {
		timeSigned = uint64(u)
	}
	tsig := DNSRecord{
		Name:          keyName,
		Type:          TSIG,
		Class:         ClassANY,
		TTL:           0,
		AlgorithmName: algorithm,
		TimeSigned:    timeSigned,
		Fudge:         300,
		OriginalID:    p.Header.ID,
	}

	h := hmac.New(newHash, secret)
	h.Write(buffer.Bytes())
	vars, err := tsigVariables(&tsig)
	if err != nil {
		return err
	}
	h.Write(vars)
	tsig.MAC = h.Sum(nil)

	p.Signature = &tsig
	p.Header.ResourceEntries = uint16(len(p.Resources) + 1)

	// Patch ARCOUNT at wire offset 10 to include the TSIG record.
	if buffer.Position() >= 12 {
		buffer.Buf[10] = byte(p.Header.ResourceEntries >> 8)
		buffer.Buf[11] = byte(p.Header.ResourceEntries & 0xFF)
	}

	p.TSIGStart = buffer.Position()
	_, err = tsig.Write(buffer)
	return err
}
