package resolver

import (
	"bytes"
	"strings"

	"github.com/atlasdns/atlas/packet"
)

// Denial-of-existence proofs. Name non-existence needs an NSEC (or
// NSEC3) whose owner and next bracket the queried name in canonical
// order plus a proof that no wildcard could have synthesized an
// answer; type non-existence needs a matching owner whose bitmap
// excludes the type (RFC 4035 5.4, RFC 5155 8).

// nsecCovers reports whether name falls strictly between owner and
// next in canonical order, including the wrap at the end of the zone.
func nsecCovers(owner, next, name string) bool {
	co := packet.CompareCanonical(owner, name)
	cn := packet.CompareCanonical(name, next)
	if packet.CompareCanonical(owner, next) < 0 {
		return co < 0 && cn < 0
	}
	// next <= owner: the NSEC wraps back to the zone apex.
	return co < 0 || cn < 0
}

// closestEncloser returns the longest ancestor of name that provably
// exists given the NSEC owners present in the response.
func closestEncloser(nsecs []packet.DNSRecord, name string) string {
	best := "."
	for _, rec := range nsecs {
		for _, candidate := range []string{rec.Name, rec.NextName} {
			zone := packet.CanonicalName(candidate)
			for zone != "." {
				if packet.IsSubdomain(zone, name) && packet.CountLabels(zone) > packet.CountLabels(best) {
					best = zone
				}
				zone = packet.ParentName(zone)
			}
		}
	}
	return best
}

// nsecProvesNameError reports whether the NSEC set denies the very
// existence of name: one record covering the name itself and one
// covering the wildcard at the closest encloser.
func nsecProvesNameError(nsecs []packet.DNSRecord, name string) bool {
	nameCovered := false
	for _, rec := range nsecs {
		if rec.Type == packet.NSEC && nsecCovers(rec.Name, rec.NextName, name) {
			nameCovered = true
			break
		}
	}
	if !nameCovered {
		return false
	}

	wildcard := "*." + strings.TrimPrefix(closestEncloser(nsecs, name), ".")
	if wildcard == "*." {
		wildcard = "*."
	}
	for _, rec := range nsecs {
		if rec.Type != packet.NSEC {
			continue
		}
		if nsecCovers(rec.Name, rec.NextName, wildcard) || packet.EqualNames(rec.Name, wildcard) {
			return true
		}
	}
	return false
}

// nsecProvesNoData reports whether an NSEC at the queried name denies
// the queried type. A CNAME bit would mean the name answers via alias
// and voids the proof.
func nsecProvesNoData(nsecs []packet.DNSRecord, name string, qtype packet.QueryType) bool {
	for _, rec := range nsecs {
		if rec.Type != packet.NSEC || !packet.EqualNames(rec.Name, name) {
			continue
		}
		if packet.BitMapContains(rec.TypeBitMap, qtype) {
			return false
		}
		if qtype != packet.CNAME && packet.BitMapContains(rec.TypeBitMap, packet.CNAME) {
			return false
		}
		return true
	}
	return false
}

// nsec3OwnerHash extracts the base32 hash label from an NSEC3 owner.
func nsec3OwnerHash(owner string) []byte {
	labels := packet.SplitLabels(owner)
	if len(labels) == 0 {
		return nil
	}
	return packet.Base32Decode(labels[0])
}

func nsec3Matches(rec *packet.DNSRecord, name string) bool {
	h := packet.HashName(name, rec.HashAlg, rec.Iterations, rec.Salt)
	if h == nil {
		return false
	}
	return bytes.Equal(nsec3OwnerHash(rec.Name), h)
}

func nsec3Covers(rec *packet.DNSRecord, name string) bool {
	h := packet.HashName(name, rec.HashAlg, rec.Iterations, rec.Salt)
	if h == nil {
		return false
	}
	owner := nsec3OwnerHash(rec.Name)
	if owner == nil {
		return false
	}
	if bytes.Compare(owner, rec.NextHash) < 0 {
		return bytes.Compare(owner, h) < 0 && bytes.Compare(h, rec.NextHash) < 0
	}
	return bytes.Compare(owner, h) < 0 || bytes.Compare(h, rec.NextHash) < 0
}

// nsec3ProvesNameError walks the closest-encloser proof of RFC 5155
// 8.4: an NSEC3 matching the closest encloser, one covering the next
// closer name and one covering the wildcard at the encloser.
func nsec3ProvesNameError(nsec3s []packet.DNSRecord, name string) bool {
	labels := packet.SplitLabels(name)

	for i := 1; i <= len(labels); i++ {
		encloser := strings.Join(labels[i:], ".") + "."
		if encloser == "." && i < len(labels) {
			continue
		}
		if i == len(labels) {
			encloser = "."
		}

		var matched *packet.DNSRecord
		for j := range nsec3s {
			if nsec3s[j].Type == packet.NSEC3 && nsec3Matches(&nsec3s[j], encloser) {
				matched = &nsec3s[j]
				break
			}
		}
		if matched == nil {
			continue
		}

		nextCloser := labels[i-1] + "." + strings.TrimPrefix(encloser, ".")
		if encloser == "." {
			nextCloser = labels[i-1] + "."
		}
		wildcard := "*." + strings.TrimPrefix(encloser, ".")
		if encloser == "." {
			wildcard = "*."
		}

		nextCovered := false
		wildcardCovered := false
		for j := range nsec3s {
			if nsec3s[j].Type != packet.NSEC3 {
				continue
			}
			if nsec3Covers(&nsec3s[j], nextCloser) {
				nextCovered = true
			}
			if nsec3Covers(&nsec3s[j], wildcard) {
				wildcardCovered = true
			}
		}
		if nextCovered && wildcardCovered {
			return true
		}
	}
	return false
}

// nsec3ProvesNoData reports whether an NSEC3 matching the queried name
// denies the queried type.
func nsec3ProvesNoData(nsec3s []packet.DNSRecord, name string, qtype packet.QueryType) bool {
	for i := range nsec3s {
		rec := &nsec3s[i]
		if rec.Type != packet.NSEC3 || !nsec3Matches(rec, name) {
			continue
		}
		if packet.BitMapContains(rec.TypeBitMap, qtype) {
			return false
		}
		if qtype != packet.CNAME && packet.BitMapContains(rec.TypeBitMap, packet.CNAME) {
			return false
		}
		return true
	}
	return false
}

// denialProven checks either flavor of proof against the authority
// section. For NXDOMAIN the name must be denied, for NODATA the type.
func denialProven(authority []packet.DNSRecord, name string, qtype packet.QueryType, nxdomain bool) bool {
	var nsecs, nsec3s []packet.DNSRecord
	for _, rec := range authority {
		switch rec.Type {
		case packet.NSEC:
			nsecs = append(nsecs, rec)
		case packet.NSEC3:
			nsec3s = append(nsec3s, rec)
		}
	}
	if nxdomain {
		if len(nsecs) > 0 && nsecProvesNameError(nsecs, name) {
			return true
		}
		if len(nsec3s) > 0 && nsec3ProvesNameError(nsec3s, name) {
			return true
		}
		return false
	}
	if len(nsecs) > 0 && nsecProvesNoData(nsecs, name, qtype) {
		return true
	}
	if len(nsec3s) > 0 && nsec3ProvesNoData(nsec3s, name, qtype) {
		return true
	}
	return false
}
