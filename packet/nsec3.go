package packet

import (
	"crypto/sha1" // #nosec G505 -- SHA-1 is the only NSEC3 hash assigned (RFC 5155)
	"strings"
)

// NSEC3HashSHA1 is the only hash algorithm assigned for NSEC3 (RFC 5155).
const NSEC3HashSHA1 uint8 = 1

// HashName performs NSEC3 name hashing according to RFC 5155: the
// canonical wire form of the name is hashed together with the salt,
// then the digest is re-hashed the configured number of iterations.
// Unassigned hash algorithms yield nil.
func HashName(name string, hashAlg uint8, iterations uint16, salt []byte) []byte {
	if hashAlg != NSEC3HashSHA1 {
		return nil
	}

	name = CanonicalName(name)
	labels := strings.Split(strings.TrimSuffix(name, "."), ".")
	wire := make([]byte, 0, len(name)+1)
	if name != "." {
		for _, l := range labels {
			wire = append(wire, byte(len(l)))
			wire = append(wire, []byte(l)...)
		}
	}
	wire = append(wire, 0)

	h := sha1.New() // #nosec G401
	h.Write(wire)
	h.Write(salt)
	res := h.Sum(nil)

	for i := uint16(0); i < iterations; i++ {
		h.Reset()
		h.Write(res)
		h.Write(salt)
		res = h.Sum(nil)
	}

	return res
}

// RFC 5155 section 3.3 base32: the extended-hex alphabet, lowercase.
const nsec3Base32Map = "0123456789abcdefghijklmnopqrstuv"

// Base32Encode encodes binary data into the NSEC3 base32 representation.
func Base32Encode(data []byte) string {
	var res strings.Builder
	var val uint32
	var bits uint8
	for _, b := range data {
		val = (val << 8) | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			res.WriteByte(nsec3Base32Map[(val>>bits)&0x1F])
		}
	}
	if bits > 0 {
		res.WriteByte(nsec3Base32Map[(val<<(5-bits))&0x1F])
	}
	return res.String()
}

// Base32Decode reverses Base32Encode. Unknown characters yield nil.
func Base32Decode(s string) []byte {
	var out []byte
	var val uint32
	var bits uint8
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(nsec3Base32Map, lowerByte(s[i]))
		if idx < 0 {
			return nil
		}
		val = (val << 5) | uint32(idx)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(val>>bits))
		}
	}
	return out
}

func lowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 0x20
	}
	return c
}
