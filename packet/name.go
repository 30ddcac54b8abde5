package packet

import (
	"math/rand"
	"strings"
)

// Domain name helpers. Names are dot-terminated strings ("example.com.");
// the root is ".". Comparison is case-insensitive ASCII, per RFC 1035.

// CanonicalName lowercases a name and ensures the trailing dot.
func CanonicalName(name string) string {
	if name == "" {
		return "."
	}
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	return strings.ToLower(name)
}

// ParentName strips the leftmost label. The parent of the root is the root.
func ParentName(name string) string {
	name = CanonicalName(name)
	if name == "." {
		return "."
	}
	idx := strings.IndexByte(strings.TrimSuffix(name, "."), '.')
	if idx < 0 {
		return "."
	}
	return name[idx+1:]
}

// EqualNames reports whether two names are the same domain, ignoring
// ASCII case.
func EqualNames(a, b string) bool {
	return CanonicalName(a) == CanonicalName(b)
}

// IsSubdomain reports whether child is equal to or below parent.
func IsSubdomain(parent, child string) bool {
	p := CanonicalName(parent)
	c := CanonicalName(child)
	if p == "." {
		return true
	}
	return c == p || strings.HasSuffix(c, "."+p)
}

// CountLabels returns the number of labels in a name; the root has zero.
func CountLabels(name string) int {
	name = strings.TrimSuffix(CanonicalName(name), ".")
	if name == "" {
		return 0
	}
	return strings.Count(name, ".") + 1
}

// SplitLabels returns the labels of a name, leftmost first.
func SplitLabels(name string) []string {
	name = strings.TrimSuffix(CanonicalName(name), ".")
	if name == "" {
		return nil
	}
	return strings.Split(name, ".")
}

// EncodedNameLength returns the wire size of a name encoded without
// compression, including length octets and the terminator.
func EncodedNameLength(name string) int {
	if name == "" || name == "." {
		return 1
	}
	name = strings.TrimSuffix(name, ".")
	n := 1 // terminator
	for _, label := range strings.Split(name, ".") {
		n += 1 + len(label)
	}
	return n
}

// Randomize0x20 flips the case of ASCII letters at random. The result
// names the same domain; a resolver that echoes it byte-for-byte proves
// it saw the query (draft-vixie-dnsext-dns0x20).
func Randomize0x20(name string, rng *rand.Rand) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			if rng.Intn(2) == 1 {
				c -= 0x20
			}
		case c >= 'A' && c <= 'Z':
			if rng.Intn(2) == 1 {
				c += 0x20
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// CompareCanonical orders two names canonically (RFC 4034 6.1): labels
// are compared right to left, case-insensitively, byte by byte; an
// absent label sorts first.
func CompareCanonical(a, b string) int {
	la := SplitLabels(a)
	lb := SplitLabels(b)
	for i := 1; i <= len(la) && i <= len(lb); i++ {
		x := la[len(la)-i]
		y := lb[len(lb)-i]
		if c := strings.Compare(x, y); c != 0 {
			return c
		}
	}
	switch {
	case len(la) < len(lb):
		return -1
	case len(la) > len(lb):
		return 1
	}
	return 0
}
