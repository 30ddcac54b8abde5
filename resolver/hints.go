package resolver

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atlasdns/atlas/packet"
)

// HintStore holds the resolver's bootstrap data: root-server addresses
// to fall back on when no delegation is cached, and the trust anchors
// the chain-of-trust walk terminates at. It is read-only after
// construction.
type HintStore struct {
	Roots   []string
	Anchors []packet.DNSRecord
}

// hintFile is the YAML shape of a hint store on disk.
type hintFile struct {
	Roots   []string `yaml:"roots"`
	Anchors []struct {
		Zone       string `yaml:"zone"`
		KeyTag     uint16 `yaml:"key_tag"`
		Algorithm  uint8  `yaml:"algorithm"`
		DigestType uint8  `yaml:"digest_type"`
		Digest     string `yaml:"digest"`
		// PublicKey holds a base64 DNSKEY instead of a DS digest.
		PublicKey string `yaml:"public_key"`
		Flags     uint16 `yaml:"flags"`
	} `yaml:"trust_anchors"`
}

// DefaultHints returns the IANA root servers with no trust anchors.
func DefaultHints() *HintStore {
	return &HintStore{
		Roots: []string{
			"198.41.0.4",     // a.root-servers.net
			"170.247.170.2",  // b.root-servers.net
			"192.33.4.12",    // c.root-servers.net
			"199.7.91.13",    // d.root-servers.net
			"192.203.230.10", // e.root-servers.net
			"192.5.5.241",    // f.root-servers.net
			"192.112.36.4",   // g.root-servers.net
			"198.97.190.53",  // h.root-servers.net
			"192.36.148.17",  // i.root-servers.net
			"192.58.128.30",  // j.root-servers.net
			"193.0.14.129",   // k.root-servers.net
			"199.7.83.42",    // l.root-servers.net
			"202.12.27.33",   // m.root-servers.net
		},
	}
}

// LoadHints reads a YAML hint store.
func LoadHints(r io.Reader) (*HintStore, error) {
	var file hintFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding hint store: %w", err)
	}

	store := &HintStore{Roots: file.Roots}
	for _, a := range file.Anchors {
		if a.PublicKey != "" {
			key, err := base64.StdEncoding.DecodeString(a.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("trust anchor %s: bad public key: %w", a.Zone, err)
			}
			store.Anchors = append(store.Anchors, packet.DNSRecord{
				Name:      packet.CanonicalName(a.Zone),
				Type:      packet.DNSKEY,
				Class:     packet.ClassINET,
				Flags:     a.Flags,
				Algorithm: a.Algorithm,
				PublicKey: key,
			})
			continue
		}
		digest, err := hex.DecodeString(a.Digest)
		if err != nil {
			return nil, fmt.Errorf("trust anchor %s: bad digest: %w", a.Zone, err)
		}
		store.Anchors = append(store.Anchors, packet.DNSRecord{
			Name:       packet.CanonicalName(a.Zone),
			Type:       packet.DS,
			Class:      packet.ClassINET,
			KeyTag:     a.KeyTag,
			Algorithm:  a.Algorithm,
			DigestType: a.DigestType,
			Digest:     digest,
		})
	}
	if len(store.Roots) == 0 {
		store.Roots = DefaultHints().Roots
	}
	return store, nil
}

// LoadHintsFile reads a YAML hint store from disk.
func LoadHintsFile(path string) (*HintStore, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied hint file
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return LoadHints(f)
}

// AnchorsFor returns the trust anchors configured for an exact zone.
func (h *HintStore) AnchorsFor(zone string) []packet.DNSRecord {
	zone = packet.CanonicalName(zone)
	var out []packet.DNSRecord
	for _, a := range h.Anchors {
		if packet.EqualNames(a.Name, zone) {
			out = append(out, a)
		}
	}
	return out
}

// HasAnchorAbove reports whether any trust anchor covers name or one of
// its ancestors. When anchors are configured, the validator reports
// Indeterminate for names without one.
func (h *HintStore) HasAnchorAbove(name string) bool {
	for _, a := range h.Anchors {
		if packet.IsSubdomain(a.Name, name) {
			return true
		}
	}
	return false
}
