package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/atlasdns/atlas/internal/metrics"
	"github.com/atlasdns/atlas/packet"
)

// validator authenticates RRsets against the configured trust anchors.
// It is an internal collaborator of the resolver and holds a handle
// back to it for the DNSKEY and DS fetches a chain walk needs; the
// handle is set once in New and the validator keeps no other state.
type validator struct {
	res *Resolver
}

// validate assigns a verdict to an RRset fetched from serverZone.
// sigs are the RRSIGs covering the set's type at its owner.
func (v *validator) validate(ctx context.Context, log *slog.Logger, records, sigs []packet.DNSRecord, serverZone string, stack *queryStack) Verdict {
	if len(records) == 0 {
		return VerdictUnsigned
	}
	owner := records[0].Name

	if !v.res.hints.HasAnchorAbove(owner) {
		return VerdictIndeterminate
	}

	if len(sigs) == 0 {
		return v.delegationVerdict(ctx, log, serverZone, stack)
	}

	now := uint32(time.Now().Unix())
	anySupported := false
	bogus := false

	for i := range sigs {
		sig := &sigs[i]
		if !packet.AlgorithmSupported(sig.Algorithm) {
			continue
		}
		anySupported = true

		if !packet.EqualNames(sig.Name, owner) ||
			sig.Class != records[0].Class ||
			packet.QueryType(sig.TypeCovered) != records[0].Type ||
			int(sig.Labels) > packet.CountLabels(owner) {
			bogus = true
			continue
		}
		if !sig.ValidityWindowContains(now) {
			log.Debug("rrsig outside validity window", "owner", owner, "keytag", sig.KeyTag)
			bogus = true
			continue
		}

		keys, keysVerdict := v.zoneKeys(ctx, log, sig.SignerName, stack)
		if keysVerdict == VerdictInsecure {
			return VerdictInsecure
		}
		if len(keys) == 0 {
			if keysVerdict == VerdictBogus {
				bogus = true
			}
			continue
		}

		for j := range keys {
			key := &keys[j]
			if key.ComputeKeyTag() != sig.KeyTag || key.Algorithm != sig.Algorithm {
				continue
			}
			if key.Flags&packet.DNSKEYFlagZone == 0 {
				continue
			}
			if err := packet.VerifyRRSIG(sig, key, records); err == nil {
				return CombineVerdicts(VerdictSecure, keysVerdict)
			}
		}
		bogus = true
	}

	if !anySupported {
		// No signature we can check: the zone is treated as insecure
		// rather than bogus (RFC 4035 5.2).
		return VerdictInsecure
	}
	if bogus {
		return VerdictBogus
	}
	return VerdictIndeterminate
}

// delegationVerdict decides what an unsigned answer from zone means:
// a validated proof that the zone has no DS makes it Insecure, anything
// less leaves it Unsigned.
func (v *validator) delegationVerdict(ctx context.Context, log *slog.Logger, zone string, stack *queryStack) Verdict {
	zone = packet.CanonicalName(zone)
	if zone == "." {
		return VerdictUnsigned
	}
	ds, verdict := v.zoneDS(ctx, log, zone, stack)
	if len(ds) == 0 && verdict == VerdictInsecure {
		return VerdictInsecure
	}
	if len(ds) == 0 && verdict == VerdictSecure {
		// Secure denial of the DS record: provably unsigned delegation.
		return VerdictInsecure
	}
	return VerdictUnsigned
}

// zoneKeys returns the authenticated DNSKEY RRset of a zone. The set is
// anchored either directly (a DNSKEY trust anchor) or through a DS
// RRset validated in the parent.
func (v *validator) zoneKeys(ctx context.Context, log *slog.Logger, zone string, stack *queryStack) ([]packet.DNSRecord, Verdict) {
	zone = packet.CanonicalName(zone)

	if entry, ok := v.res.cache.Get(zone, packet.DNSKEY, packet.ClassINET); ok {
		return entry.Records, entry.Verdict
	}

	release, err := stack.push(zone, packet.DNSKEY, packet.ClassINET)
	if err != nil {
		return nil, VerdictBogus
	}
	defer release()

	keys, sigs, err := v.res.fetchRRset(ctx, log, zone, packet.DNSKEY, zone, stack)
	if err != nil || len(keys) == 0 {
		return nil, VerdictIndeterminate
	}

	// Anchored directly by a configured DNSKEY?
	anchors := v.res.hints.AnchorsFor(zone)
	var dsSet []packet.DNSRecord
	dsVerdict := VerdictIndeterminate
	for _, a := range anchors {
		if a.Type == packet.DNSKEY {
			for i := range keys {
				if keys[i].Algorithm == a.Algorithm && keys[i].ComputeKeyTag() == a.ComputeKeyTag() {
					dsRec, errDS := a.ComputeDS(packet.DigestSHA256)
					if errDS == nil {
						dsSet = append(dsSet, dsRec)
						dsVerdict = VerdictSecure
					}
				}
			}
		}
		if a.Type == packet.DS {
			dsSet = append(dsSet, a)
			dsVerdict = VerdictSecure
		}
	}
	if len(dsSet) == 0 {
		dsSet, dsVerdict = v.zoneDS(ctx, log, zone, stack)
	}

	switch {
	case dsVerdict == VerdictInsecure, len(dsSet) == 0 && dsVerdict == VerdictSecure:
		v.res.storeEntry(ctx, zone, packet.DNSKEY, packet.ClassINET, keys, VerdictInsecure, MinTTL(keys, 0))
		return keys, VerdictInsecure
	case len(dsSet) == 0:
		return nil, dsVerdict
	}

	// Find a key-signing key the parent's DS vouches for, then check
	// that it signed the DNSKEY RRset itself (RFC 4035 5.2).
	for i := range keys {
		ksk := &keys[i]
		matched := false
		for j := range dsSet {
			if dsSet[j].MatchesDNSKEY(ksk) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		tag := ksk.ComputeKeyTag()
		for k := range sigs {
			sig := &sigs[k]
			if sig.KeyTag != tag || sig.Algorithm != ksk.Algorithm {
				continue
			}
			if !sig.ValidityWindowContains(uint32(time.Now().Unix())) {
				continue
			}
			if errVerify := packet.VerifyRRSIG(sig, ksk, keys); errVerify == nil {
				v.res.storeEntry(ctx, zone, packet.DNSKEY, packet.ClassINET, keys, VerdictSecure, MinTTL(keys, 0))
				return keys, VerdictSecure
			}
		}
	}

	log.Debug("dnskey rrset failed authentication", "zone", zone)
	metrics.ValidationsTotal.WithLabelValues(VerdictBogus.String()).Inc()
	return nil, VerdictBogus
}

// zoneDS returns the authenticated DS RRset of a zone, walking up from
// the trust anchors through the parents. An empty set with VerdictSecure
// (or VerdictInsecure) means the absence of a DS was proven.
func (v *validator) zoneDS(ctx context.Context, log *slog.Logger, zone string, stack *queryStack) ([]packet.DNSRecord, Verdict) {
	zone = packet.CanonicalName(zone)

	if anchors := v.res.hints.AnchorsFor(zone); len(anchors) > 0 {
		var ds []packet.DNSRecord
		for _, a := range anchors {
			if a.Type == packet.DS {
				ds = append(ds, a)
			}
		}
		if len(ds) > 0 {
			return ds, VerdictSecure
		}
	}
	if zone == "." {
		return nil, VerdictIndeterminate
	}

	if entry, ok := v.res.cache.Get(zone, packet.DS, packet.ClassINET); ok {
		return entry.Records, entry.Verdict
	}

	release, err := stack.push(zone, packet.DS, packet.ClassINET)
	if err != nil {
		return nil, VerdictBogus
	}
	defer release()

	// DS records live in the parent: query the parent's servers.
	parent := packet.ParentName(zone)
	resp, err := v.res.queryZone(ctx, log, zone, packet.DS, parent, stack)
	if err != nil || resp == nil {
		return nil, VerdictIndeterminate
	}
	pkt := resp.Packet

	ds, sigs := extractRRset(pkt.Answers, zone, packet.DS)
	if len(ds) > 0 {
		verdict := v.validate(ctx, log, ds, sigs, parent, stack)
		v.res.storeEntry(ctx, zone, packet.DS, packet.ClassINET, ds, verdict, MinTTL(ds, 0))
		return ds, verdict
	}

	// Negative answer: a validated denial proves the delegation is
	// unsigned on purpose.
	soa, soaSigs := extractSOA(pkt.Authorities)
	if soa != nil {
		negTTL := soa.Minimum
		if soa.TTL < negTTL {
			negTTL = soa.TTL
		}
		if denialProven(pkt.Authorities, zone, packet.DS, pkt.Rcode() == packet.RcodeNxDomain) {
			proofVerdict := v.validateDenial(ctx, log, pkt.Authorities, parent, stack)
			if proofVerdict == VerdictSecure {
				v.res.storeEntry(ctx, zone, packet.DS, packet.ClassINET, nil, VerdictInsecure, negTTL)
				return nil, VerdictInsecure
			}
		}
		soaVerdict := v.validate(ctx, log, []packet.DNSRecord{*soa}, soaSigs, parent, stack)
		if soaVerdict == VerdictUnsigned || soaVerdict == VerdictInsecure {
			v.res.storeEntry(ctx, zone, packet.DS, packet.ClassINET, nil, VerdictUnsigned, negTTL)
			return nil, VerdictUnsigned
		}
	}
	return nil, VerdictIndeterminate
}

// extractRRset pulls the records of one (owner, type) pair and the
// RRSIGs covering them out of a message section.
func extractRRset(section []packet.DNSRecord, owner string, qtype packet.QueryType) (records, sigs []packet.DNSRecord) {
	for _, rec := range section {
		if !packet.EqualNames(rec.Name, owner) {
			continue
		}
		switch {
		case rec.Type == qtype:
			records = append(records, rec)
		case rec.Type == packet.RRSIG && packet.QueryType(rec.TypeCovered) == qtype:
			sigs = append(sigs, rec)
		}
	}
	return records, sigs
}

// extractSOA finds the authority SOA and its signatures.
func extractSOA(authority []packet.DNSRecord) (*packet.DNSRecord, []packet.DNSRecord) {
	for i := range authority {
		if authority[i].Type == packet.SOA {
			_, sigs := extractRRset(authority, authority[i].Name, packet.SOA)
			return &authority[i], sigs
		}
	}
	return nil, nil
}

// validateDenial validates every NSEC/NSEC3 RRset of a negative
// response individually and combines the verdicts; a denial proof is
// only as strong as its weakest RRset.
func (v *validator) validateDenial(ctx context.Context, log *slog.Logger, authority []packet.DNSRecord, serverZone string, stack *queryStack) Verdict {
	combined := VerdictSecure
	found := false
	seen := make(map[string]struct{})
	for _, rec := range authority {
		if rec.Type != packet.NSEC && rec.Type != packet.NSEC3 {
			continue
		}
		key := cacheKey(rec.Name, rec.Type, rec.Class)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		records, sigs := extractRRset(authority, rec.Name, rec.Type)
		combined = CombineVerdicts(combined, v.validate(ctx, log, records, sigs, serverZone, stack))
		found = true
	}
	if !found {
		return VerdictUnsigned
	}
	return combined
}
