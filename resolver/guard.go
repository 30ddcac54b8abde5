package resolver

import (
	"fmt"

	"github.com/atlasdns/atlas/packet"
)

// queryStack tracks the (name, type, class) triples active in one
// resolution so that CNAME chains, glue chases and DNSKEY fetches
// cannot circle back into themselves. A stack belongs to a single
// resolution and is never shared across goroutines.
type queryStack struct {
	active map[string]struct{}
}

func newQueryStack() *queryStack {
	return &queryStack{active: make(map[string]struct{})}
}

func stackKey(name string, qtype packet.QueryType, qclass uint16) string {
	return fmt.Sprintf("%s|%d|%d", packet.CanonicalName(name), qtype, qclass)
}

// push registers a triple and returns a release func to be deferred;
// every exit path pops its slot. A duplicate triple reports a loop.
func (s *queryStack) push(name string, qtype packet.QueryType, qclass uint16) (func(), error) {
	key := stackKey(name, qtype, qclass)
	if _, ok := s.active[key]; ok {
		return nil, fmt.Errorf("%w: %s %s", ErrLoopDetected, name, qtype)
	}
	s.active[key] = struct{}{}
	return func() { delete(s.active, key) }, nil
}
