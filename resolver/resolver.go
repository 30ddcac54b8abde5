// Package resolver walks the DNS tree iteratively from the root hints
// toward an authoritative answer, learns and caches delegations,
// follows CNAME chains with loop protection, and validates what it
// finds against the configured trust anchors.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/atlasdns/atlas/client"
	"github.com/atlasdns/atlas/internal/metrics"
	"github.com/atlasdns/atlas/packet"
)

// Config tunes a Resolver. The zero value is usable.
type Config struct {
	// QueryTimeout bounds one outbound exchange; zero means 5s.
	QueryTimeout time.Duration
	// MaxReferrals bounds the referral chain per resolution; zero means 30.
	MaxReferrals int
	// Enable0x20 randomizes question-name case against off-path spoofing.
	Enable0x20 bool
	// ValidateResponseIdentity rejects responses echoing the wrong question.
	ValidateResponseIdentity bool
	// Hints supplies root servers and trust anchors; nil means the IANA
	// roots without anchors.
	Hints *HintStore
	// L2 is an optional shared cache level behind the in-memory one.
	L2 *RedisCache
	// ServerPort is the port queries go to; empty means "53".
	ServerPort string
	// RateLimit caps outbound queries per second per server; zero means 100.
	RateLimit rate.Limit
	// RateBurst is the limiter burst; zero means 20.
	RateBurst int
	Logger    *slog.Logger
}

// result carries an RRset and its verdict through a resolution.
type result struct {
	records []packet.DNSRecord
	verdict Verdict
}

// Resolver is a cache-aware iterative resolver. It is safe for
// concurrent use; concurrent resolutions share only the caches.
type Resolver struct {
	cfg     Config
	client  *client.Client
	cache   *RecordCache
	nsCache *NameserverCache
	hints   *HintStore
	logger  *slog.Logger
	val     *validator

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a resolver from a config.
func New(cfg Config) *Resolver {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.MaxReferrals <= 0 {
		cfg.MaxReferrals = 30
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "53"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hints := cfg.Hints
	if hints == nil {
		hints = DefaultHints()
	}
	r := &Resolver{
		cfg:      cfg,
		client:   client.New(cfg.Logger),
		cache:    NewRecordCache(),
		nsCache:  NewNameserverCache(),
		hints:    hints,
		logger:   cfg.Logger,
		limiters: make(map[string]*rate.Limiter),
	}
	r.val = &validator{res: r}
	return r
}

// validating reports whether a chain of trust can exist at all.
func (r *Resolver) validating() bool {
	return len(r.hints.Anchors) > 0
}

// Resolve looks a name up iteratively and returns its records without
// a validation verdict. NxDomain and NoData both come back as an empty
// list; transport and limit failures raise an error.
func (r *Resolver) Resolve(ctx context.Context, name string, qtype packet.QueryType, qclass uint16) ([]packet.DNSRecord, error) {
	res, _, err := r.resolveTop(ctx, name, qtype, qclass)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ResolveSecure looks a name up and returns the records together with
// the DNSSEC verdict. A bogus chain is an error, not a result.
func (r *Resolver) ResolveSecure(ctx context.Context, name string, qtype packet.QueryType, qclass uint16) ([]packet.DNSRecord, Verdict, error) {
	records, verdict, err := r.resolveTop(ctx, name, qtype, qclass)
	if err != nil {
		return nil, verdict, err
	}
	if verdict == VerdictBogus {
		return nil, verdict, ErrBogus
	}
	return records, verdict, nil
}

// ClearCache drops every cached record and delegation.
func (r *Resolver) ClearCache() {
	r.cache.Flush()
	r.nsCache.Flush()
	if r.cfg.L2 != nil {
		r.cfg.L2.Flush(context.Background())
	}
}

func (r *Resolver) resolveTop(ctx context.Context, name string, qtype packet.QueryType, qclass uint16) ([]packet.DNSRecord, Verdict, error) {
	start := time.Now()
	metrics.ResolutionsInFlight.Inc()
	defer metrics.ResolutionsInFlight.Dec()

	log := r.logger.With("trace", uuid.NewString(), "name", name, "qtype", qtype.String())
	res, err := r.run(ctx, log, name, qtype, qclass, newQueryStack())

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ResolutionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, VerdictUnsigned, err
	}
	metrics.ValidationsTotal.WithLabelValues(res.verdict.String()).Inc()
	return res.records, res.verdict, nil
}

// run is the per-triple resolution: loop guard, cache consult, query,
// classification. The stack travels through CNAME chases, glue lookups
// and validator fetches alike.
func (r *Resolver) run(ctx context.Context, log *slog.Logger, name string, qtype packet.QueryType, qclass uint16, stack *queryStack) (*result, error) {
	release, err := stack.push(name, qtype, qclass)
	if err != nil {
		return nil, err
	}
	defer release()

	if entry, ok := r.lookupCache(ctx, name, qtype, qclass); ok {
		return &result{records: entry.Records, verdict: entry.Verdict}, nil
	}

	// A cached CNAME redirects the whole resolution.
	if qtype != packet.CNAME {
		if entry, ok := r.lookupCache(ctx, name, packet.CNAME, qclass); ok && len(entry.Records) > 0 {
			log.Debug("cached cname redirect", "target", entry.Records[0].Host)
			sub, err := r.run(ctx, log, entry.Records[0].Host, qtype, qclass, stack)
			if err != nil {
				return nil, err
			}
			return &result{records: sub.records, verdict: CombineVerdicts(entry.Verdict, sub.verdict)}, nil
		}
	}

	startZone := name
	if qtype == packet.DS {
		// The parent holds the DS of a zone cut.
		startZone = packet.ParentName(name)
	}

	resp, err := r.queryZone(ctx, log, name, qtype, startZone, stack)
	if err != nil {
		return nil, err
	}
	return r.classify(ctx, log, resp.Packet, name, qtype, qclass, stack)
}

// queryZone walks referrals from the closest cached delegation of
// startZone until a server answers authoritatively (or negatively),
// populating the nameserver cache along the way.
func (r *Resolver) queryZone(ctx context.Context, log *slog.Logger, name string, qtype packet.QueryType, startZone string, stack *queryStack) (*client.Response, error) {
	for i := 0; i < r.cfg.MaxReferrals; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		zone, addrs := r.nsCache.Best(startZone)
		servers := r.serverAddrs(addrs)
		if len(servers) == 0 {
			zone = "."
			servers = r.rootServers()
		}
		log.Debug("querying zone servers", "zone", zone, "servers", len(servers))

		resp, err := r.querySingle(ctx, name, qtype, servers)
		if err != nil || resp == nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		pkt := resp.Packet
		rcode := pkt.Rcode()
		metrics.QueriesTotal.WithLabelValues(qtype.String(), fmt.Sprintf("%d", rcode), resp.Proto).Inc()

		if rcode != packet.RcodeNoError && rcode != packet.RcodeNxDomain {
			return nil, fmt.Errorf("%w: rcode %d from %s", ErrUnreachable, rcode, resp.Server)
		}

		if pkt.Header.AuthoritativeAnswer {
			return resp, nil
		}
		// Negative answers from the delegation's own servers arrive
		// without AA from some implementations; a SOA in authority and
		// no deeper referral means there is nothing further to walk.
		if referralZone, ok := r.followReferral(ctx, log, pkt, name, zone, stack); ok {
			startZone = referralZone
			continue
		}
		if hasSOAAuthority(pkt, name) || len(pkt.Answers) > 0 {
			return resp, nil
		}
		return nil, ErrNoDelegation
	}
	return nil, ErrReferralLimitExceeded
}

// querySingle rate-limits and issues one client query with the
// resolver's standing options: iterative (RD=0), CD=1, EDNS with DO and
// the algorithm-understood options.
func (r *Resolver) querySingle(ctx context.Context, name string, qtype packet.QueryType, servers []string) (*client.Response, error) {
	for _, s := range servers {
		if err := r.limiterFor(s).Wait(ctx); err != nil {
			return nil, err
		}
	}
	q := packet.DNSQuestion{Name: name, QType: qtype, QClass: packet.ClassINET}
	opts := client.Options{
		Timeout:                  r.cfg.QueryTimeout,
		RecursionDesired:         false,
		CheckingDisabled:         true,
		UseEDNS:                  true,
		DNSSECOK:                 true,
		UDPPayloadSize:           packet.MaxUDPPayloadSize,
		EDNSOptions:              packet.AlgorithmUnderstoodOptions(packet.SupportedAlgorithms(), packet.SupportedDSDigests(), packet.SupportedNSEC3Hashes()),
		Use0x20:                  r.cfg.Enable0x20,
		ValidateIdentity:         r.cfg.ValidateResponseIdentity,
	}
	return r.client.Query(ctx, q, servers, opts)
}

func (r *Resolver) limiterFor(server string) *rate.Limiter {
	r.limMu.Lock()
	defer r.limMu.Unlock()
	lim, ok := r.limiters[server]
	if !ok {
		lim = rate.NewLimiter(r.cfg.RateLimit, r.cfg.RateBurst)
		r.limiters[server] = lim
	}
	return lim
}

func (r *Resolver) serverAddrs(addrs []net.IP) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, net.JoinHostPort(a.String(), r.cfg.ServerPort))
	}
	return out
}

func (r *Resolver) rootServers() []string {
	out := make([]string, 0, len(r.hints.Roots))
	for _, root := range r.hints.Roots {
		if _, _, err := net.SplitHostPort(root); err == nil {
			out = append(out, root)
			continue
		}
		out = append(out, net.JoinHostPort(root, r.cfg.ServerPort))
	}
	return out
}

// followReferral digests a referral response: the NS RRset of the
// closest ancestor of name, joined with its glue (or a recursive
// address lookup for glueless targets), lands in the nameserver cache.
func (r *Resolver) followReferral(ctx context.Context, log *slog.Logger, pkt *packet.DNSPacket, name, currentZone string, stack *queryStack) (string, bool) {
	var owner string
	var hosts []string
	var ttl uint32
	for _, rec := range pkt.Authorities {
		if rec.Type != packet.NS || !packet.IsSubdomain(rec.Name, name) {
			continue
		}
		if owner == "" || packet.CountLabels(rec.Name) > packet.CountLabels(owner) {
			owner = rec.Name
			hosts = nil
		}
		if packet.EqualNames(rec.Name, owner) {
			hosts = append(hosts, rec.Host)
			ttl = rec.TTL
		}
	}
	if owner == "" || len(hosts) == 0 {
		return "", false
	}
	// A referral must descend; reusing the current zone would loop.
	if packet.CountLabels(owner) <= packet.CountLabels(currentZone) {
		return "", false
	}

	var ips []net.IP
	for _, host := range hosts {
		for _, rec := range pkt.Resources {
			if (rec.Type == packet.A || rec.Type == packet.AAAA) && packet.EqualNames(rec.Name, host) {
				ips = append(ips, rec.IP)
			}
		}
	}

	if len(ips) == 0 {
		// Glueless delegation: chase the NS target addresses through a
		// nested resolution, loop-protected by the shared stack.
		for _, host := range hosts {
			sub, err := r.run(ctx, log, host, packet.A, packet.ClassINET, stack)
			if err != nil {
				log.Debug("glueless ns target lookup failed", "host", host, "error", err)
				continue
			}
			for _, rec := range sub.records {
				if rec.Type == packet.A || rec.Type == packet.AAAA {
					ips = append(ips, rec.IP)
				}
			}
			if len(ips) > 0 {
				break
			}
		}
	}
	if len(ips) == 0 {
		return "", false
	}

	r.nsCache.Add(owner, ips, time.Duration(ttl)*time.Second)
	log.Debug("followed referral", "zone", owner, "servers", len(ips))
	return owner, true
}

func hasSOAAuthority(pkt *packet.DNSPacket, name string) bool {
	for _, rec := range pkt.Authorities {
		if rec.Type == packet.SOA && packet.IsSubdomain(rec.Name, name) {
			return true
		}
	}
	return false
}

// classify interprets an authoritative response per the control loop:
// CNAME chain, requested RRset, negative answer, or nothing.
func (r *Resolver) classify(ctx context.Context, log *slog.Logger, pkt *packet.DNSPacket, name string, qtype packet.QueryType, qclass uint16, stack *queryStack) (*result, error) {
	serverZone := authorityZone(pkt, name)

	// CNAME chain.
	if qtype != packet.CNAME {
		cnames, cnameSigs := extractRRset(pkt.Answers, name, packet.CNAME)
		if len(cnames) > 0 {
			cnameVerdict := r.validateRRset(ctx, log, cnames, cnameSigs, serverZone, stack)
			r.storeEntry(ctx, name, packet.CNAME, qclass, cnames, cnameVerdict, MinTTL(cnames, 0))

			target := cnames[0].Host
			log.Debug("following cname", "target", target)

			// The target's records often travel in the same response.
			targetRecords, targetSigs := extractRRset(pkt.Answers, target, qtype)
			if len(targetRecords) > 0 {
				targetVerdict := r.validateRRset(ctx, log, targetRecords, targetSigs, serverZone, stack)
				r.storeEntry(ctx, target, qtype, qclass, targetRecords, targetVerdict, MinTTL(targetRecords, 0))
				return &result{records: targetRecords, verdict: CombineVerdicts(cnameVerdict, targetVerdict)}, nil
			}

			sub, err := r.run(ctx, log, target, qtype, qclass, stack)
			if err != nil {
				return nil, err
			}
			return &result{records: sub.records, verdict: CombineVerdicts(cnameVerdict, sub.verdict)}, nil
		}
	}

	// The requested RRset.
	records, sigs := answerRRset(pkt.Answers, name, qtype)
	if len(records) > 0 {
		verdict := r.validateRRset(ctx, log, records, sigs, serverZone, stack)
		r.storeEntry(ctx, name, qtype, qclass, records, verdict, MinTTL(records, 0))
		return &result{records: records, verdict: verdict}, nil
	}

	// Negative answer: SOA of an ancestor in authority.
	if soa, _ := extractSOA(pkt.Authorities); soa != nil && packet.IsSubdomain(soa.Name, name) {
		negTTL := soa.Minimum
		if soa.TTL < negTTL {
			negTTL = soa.TTL
		}
		nxdomain := pkt.Rcode() == packet.RcodeNxDomain
		verdict := r.validateNegative(ctx, log, pkt, name, qtype, soa.Name, nxdomain, stack)
		r.storeEntry(ctx, name, qtype, qclass, nil, verdict, negTTL)
		log.Debug("negative answer cached", "nxdomain", nxdomain, "ttl", negTTL)
		return &result{records: nil, verdict: verdict}, nil
	}

	return nil, ErrNoAnswer
}

// validateNegative assigns a verdict to a negative answer: the denial
// proofs must validate and actually deny the question.
func (r *Resolver) validateNegative(ctx context.Context, log *slog.Logger, pkt *packet.DNSPacket, name string, qtype packet.QueryType, zone string, nxdomain bool, stack *queryStack) Verdict {
	if !r.validating() {
		return VerdictUnsigned
	}
	soa, soaSigs := extractSOA(pkt.Authorities)
	if soa == nil {
		return VerdictUnsigned
	}
	soaVerdict := r.val.validate(ctx, log, []packet.DNSRecord{*soa}, soaSigs, zone, stack)
	if soaVerdict != VerdictSecure {
		return soaVerdict
	}
	if !denialProven(pkt.Authorities, name, qtype, nxdomain) {
		return VerdictBogus
	}
	proofVerdict := r.val.validateDenial(ctx, log, pkt.Authorities, zone, stack)
	return CombineVerdicts(soaVerdict, proofVerdict)
}

func (r *Resolver) validateRRset(ctx context.Context, log *slog.Logger, records, sigs []packet.DNSRecord, serverZone string, stack *queryStack) Verdict {
	if !r.validating() {
		return VerdictUnsigned
	}
	return r.val.validate(ctx, log, records, sigs, serverZone, stack)
}

// lookupCache consults L1 then the optional shared L2.
func (r *Resolver) lookupCache(ctx context.Context, name string, qtype packet.QueryType, qclass uint16) (CacheEntry, bool) {
	if entry, ok := r.cache.Get(name, qtype, qclass); ok {
		return entry, true
	}
	if r.cfg.L2 != nil {
		if entry, ok := r.cfg.L2.Get(ctx, name, qtype, qclass); ok {
			ttl := time.Until(entry.ExpiresAt)
			r.cache.Set(name, qtype, qclass, entry.Records, entry.Verdict, ttl)
			return entry, true
		}
	}
	return CacheEntry{}, false
}

// storeEntry writes both cache levels. A zero TTL stores nothing.
func (r *Resolver) storeEntry(ctx context.Context, name string, qtype packet.QueryType, qclass uint16, records []packet.DNSRecord, verdict Verdict, ttl uint32) {
	d := time.Duration(ttl) * time.Second
	r.cache.Set(name, qtype, qclass, records, verdict, d)
	if r.cfg.L2 != nil && d > 0 {
		entry := CacheEntry{Records: records, Verdict: verdict, ExpiresAt: time.Now().Add(d)}
		r.cfg.L2.Set(ctx, name, qtype, qclass, entry, d)
	}
}

// fetchRRset queries for one (name, type) pair starting at serverZone
// and returns the RRset with its covering signatures.
func (r *Resolver) fetchRRset(ctx context.Context, log *slog.Logger, name string, qtype packet.QueryType, serverZone string, stack *queryStack) ([]packet.DNSRecord, []packet.DNSRecord, error) {
	resp, err := r.queryZone(ctx, log, name, qtype, serverZone, stack)
	if err != nil {
		return nil, nil, err
	}
	records, sigs := extractRRset(resp.Packet.Answers, name, qtype)
	return records, sigs, nil
}

// answerRRset matches the requested type, treating ANY as a wildcard.
func answerRRset(answers []packet.DNSRecord, name string, qtype packet.QueryType) (records, sigs []packet.DNSRecord) {
	if qtype != packet.ANY {
		return extractRRset(answers, name, qtype)
	}
	for _, rec := range answers {
		if !packet.EqualNames(rec.Name, name) {
			continue
		}
		if rec.Type == packet.RRSIG {
			sigs = append(sigs, rec)
			continue
		}
		records = append(records, rec)
	}
	return records, sigs
}

// authorityZone guesses which zone answered: the SOA or NS owner in the
// authority section, falling back to the name itself.
func authorityZone(pkt *packet.DNSPacket, name string) string {
	for _, rec := range pkt.Authorities {
		if rec.Type == packet.SOA || rec.Type == packet.NS {
			return rec.Name
		}
	}
	return name
}
