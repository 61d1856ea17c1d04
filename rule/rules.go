// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rule defines IntermediateRules, the append-only, in-memory
// rule set external ingesters build and the container writers (see
// package container) consume. It owns insert-time validation and
// normalization only: case-folding domains, uppercasing country codes,
// and rejecting malformed entries before they ever reach the wire
// format.
package rule

import (
	"net/netip"
	"strings"

	k2rule "grimm.is/k2rule"
	kerrors "grimm.is/k2rule/internal/errors"
)

// DomainEntry is one exact or suffix domain rule. Suffix is stored
// without its leading dot, e.g. the pattern ".google.com" becomes
// Pattern="google.com", Suffix=true.
type DomainEntry struct {
	Pattern string
	Suffix  bool
	Target  Target
}

// CIDREntry is one IPv4 or IPv6 network rule. Family is determined by
// Prefix.Addr().Is4() / Is6(); the writer splits these into the
// appropriate typed section (V1) or per-family slices (V2).
type CIDREntry struct {
	Prefix netip.Prefix
	Target Target
}

// GeoIPEntry is one ISO-3166-1 alpha-2 country rule.
type GeoIPEntry struct {
	Code   string
	Target Target
}

// ExactIPEntry is one single-address rule (a /32 or /128 that the
// ingester wants to carry as an exact-match record rather than a CIDR,
// per the data model's separate exact-IPv4/exact-IPv6 categories).
type ExactIPEntry struct {
	Addr   netip.Addr
	Target Target
}

// Target is re-exported so callers of this package don't need a
// second import for the routing decision type.
type Target = k2rule.Target

const (
	Direct = k2rule.Direct
	Proxy  = k2rule.Proxy
	Reject = k2rule.Reject
)

// IntermediateRules is the append-only collection described in the
// data model: typed entries plus an optional fallback, produced by
// external ingesters and consumed by container writers. It is not
// safe for concurrent writers; build it on one goroutine, then hand
// it to a writer.
type IntermediateRules struct {
	Domains  []DomainEntry
	CIDRs    []CIDREntry
	GeoIPs   []GeoIPEntry
	ExactIPs []ExactIPEntry
	Fallback Target
}

// New returns an empty IntermediateRules with the default fallback
// (Proxy), matching the data model's stated default.
func New() *IntermediateRules {
	return &IntermediateRules{Fallback: Proxy}
}

// AddDomain adds a domain rule. A pattern beginning with "." is a
// suffix rule (stored without the leading dot); any other pattern is
// an exact rule. Patterns are trimmed and lowercased before storage.
// An exact pattern must contain at least one dot -- single-label
// exact domains like "localhost" aren't representable, matching the
// ingestion contract external rule-set authors already rely on.
func (r *IntermediateRules) AddDomain(pattern string, target Target) error {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		return kerrors.New(kerrors.KindValidation, "domain pattern is empty")
	}

	if suffix, ok := strings.CutPrefix(p, "."); ok {
		if suffix == "" {
			return kerrors.Errorf(kerrors.KindValidation, "domain suffix pattern %q has no label", pattern)
		}
		r.Domains = append(r.Domains, DomainEntry{Pattern: suffix, Suffix: true, Target: target})
		return nil
	}

	if !strings.Contains(p, ".") {
		return kerrors.Errorf(kerrors.KindValidation, "exact domain pattern %q must contain a dot", pattern)
	}
	r.Domains = append(r.Domains, DomainEntry{Pattern: p, Suffix: false, Target: target})
	return nil
}

// AddV4CIDR adds an IPv4 network rule from a big-endian 32-bit network
// address and a prefix length in [0,32].
func (r *IntermediateRules) AddV4CIDR(network uint32, prefixLen uint8, target Target) error {
	if prefixLen > 32 {
		return kerrors.Errorf(kerrors.KindValidation, "ipv4 prefix length %d out of range [0,32]", prefixLen)
	}
	addr := netip.AddrFrom4([4]byte{byte(network >> 24), byte(network >> 16), byte(network >> 8), byte(network)})
	prefix := netip.PrefixFrom(addr, int(prefixLen)).Masked()
	r.CIDRs = append(r.CIDRs, CIDREntry{Prefix: prefix, Target: target})
	return nil
}

// AddV6CIDR adds an IPv6 network rule from a 16-byte network address
// and a prefix length in [0,128].
func (r *IntermediateRules) AddV6CIDR(network [16]byte, prefixLen uint8, target Target) error {
	if prefixLen > 128 {
		return kerrors.Errorf(kerrors.KindValidation, "ipv6 prefix length %d out of range [0,128]", prefixLen)
	}
	prefix := netip.PrefixFrom(netip.AddrFrom16(network), int(prefixLen)).Masked()
	r.CIDRs = append(r.CIDRs, CIDREntry{Prefix: prefix, Target: target})
	return nil
}

// AddCIDR is a convenience wrapper for ingesters that already have a
// textual CIDR (e.g. "10.0.0.0/8" or "2001:db8::/32").
func (r *IntermediateRules) AddCIDR(cidr string, target Target) error {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return kerrors.Wrapf(err, kerrors.KindValidation, "malformed CIDR %q", cidr)
	}
	r.CIDRs = append(r.CIDRs, CIDREntry{Prefix: prefix.Masked(), Target: target})
	return nil
}

// AddGeoIP adds a GeoIP country rule. The code is uppercased and must
// be exactly two ASCII letters (ISO-3166-1 alpha-2).
func (r *IntermediateRules) AddGeoIP(code string, target Target) error {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 2 || !isASCIIAlpha(c[0]) || !isASCIIAlpha(c[1]) {
		return kerrors.Errorf(kerrors.KindValidation, "invalid country code %q, want two ASCII letters", code)
	}
	r.GeoIPs = append(r.GeoIPs, GeoIPEntry{Code: c, Target: target})
	return nil
}

// AddExactIP adds a single-address rule from a textual IPv4 or IPv6
// address.
func (r *IntermediateRules) AddExactIP(ip string, target Target) error {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return kerrors.Wrapf(err, kerrors.KindValidation, "malformed IP address %q", ip)
	}
	r.ExactIPs = append(r.ExactIPs, ExactIPEntry{Addr: addr, Target: target})
	return nil
}

// SetFallback overrides the default fallback Target (Proxy).
func (r *IntermediateRules) SetFallback(target Target) {
	r.Fallback = target
}

// DomainCount returns the number of domain entries (exact + suffix).
func (r *IntermediateRules) DomainCount() int { return len(r.Domains) }

// CIDRCount returns the number of CIDR entries across both families.
func (r *IntermediateRules) CIDRCount() int { return len(r.CIDRs) }

// GeoIPCount returns the number of GeoIP entries.
func (r *IntermediateRules) GeoIPCount() int { return len(r.GeoIPs) }

// ExactIPCount returns the number of exact-IP entries.
func (r *IntermediateRules) ExactIPCount() int { return len(r.ExactIPs) }

func isASCIIAlpha(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
