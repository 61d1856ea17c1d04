// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package reader implements the read-only rule container reader:
// schema detection, matcher assembly, and the class-order (V1) /
// slice-order (V2) lookup semantics. A Reader is immutable once built
// and safe to share across goroutines; package cache owns swapping one
// Reader for another under load.
package reader

import (
	"bytes"
	"net/netip"
	"os"
	"strings"

	"grimm.is/k2rule/container"
	kerrors "grimm.is/k2rule/internal/errors"
	"grimm.is/k2rule/match"
	"grimm.is/k2rule/rule"
)

// Reader answers domain, IP, and GeoIP queries against one immutable
// snapshot of a rule container, in either schema.
//
// Rather than memory-mapping the file, Open loads the whole file into
// one immutable []byte and treats it exactly like a mapped region:
// never mutated, released when the Reader is garbage
// collected.
type Reader struct {
	schema Schema

	// V1 matchers.
	v1Exact   *match.DomainHashMatcher
	v1CIDR    *match.CIDRLPMMatcher
	v1GeoIP   *match.GeoIPMatcher
	v1ExactIP *match.ExactIPMatcher

	// V2 ordered matchers, one per slice, same order as the file.
	v2Slices []v2CompiledSlice
}

// Schema identifies which on-disk layout a Reader was built from.
type Schema int

const (
	SchemaV1 Schema = iota
	SchemaV2
)

type v2CompiledSlice struct {
	typ       container.SliceType
	target    rule.Target
	domain    *match.DomainFSTMatcher
	cidr      *match.CIDRSliceMatcher
	geoip     *match.GeoIPMatcher
	exactIPv4 *match.ExactIPMatcher
	exactIPv6 *match.ExactIPMatcher
}

// Open reads path and builds a Reader, auto-detecting V1 vs V2 by
// magic bytes.
func Open(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerrors.Wrapf(err, kerrors.KindUnavailable, "open rule container %q", path)
	}
	return FromBytes(data)
}

// FromBytes builds a Reader from an in-memory buffer, auto-detecting
// V1 vs V2 by magic bytes.
func FromBytes(data []byte) (*Reader, error) {
	if len(data) < 8 {
		return nil, kerrors.New(kerrors.KindMalformedContainer, "container too short to carry a magic")
	}

	switch {
	case bytes.Equal(data[0:8], container.V1Magic[:]):
		return fromV1(data)
	case bytes.Equal(data[0:8], container.V2Magic[:]):
		return fromV2(data)
	default:
		return nil, kerrors.New(kerrors.KindMalformedContainer, "unrecognized container magic")
	}
}

func fromV1(data []byte) (*Reader, error) {
	v1, err := container.OpenV1(data)
	if err != nil {
		return nil, err
	}
	return &Reader{
		schema:    SchemaV1,
		v1Exact:   match.NewDomainHashMatcher(v1.DomainExactEntries(), v1.DomainSuffixEntries()),
		v1CIDR:    match.NewCIDRLPMMatcher(v1.CIDRV4Entries(), v1.CIDRV6Entries()),
		v1GeoIP:   match.NewGeoIPMatcher(v1.GeoIPEntries()),
		v1ExactIP: match.NewExactIPMatcherV1(v1.ExactIPV4Entries(), v1.ExactIPV6Entries()),
	}, nil
}

func fromV2(data []byte) (*Reader, error) {
	v2, err := container.OpenV2(data)
	if err != nil {
		return nil, err
	}

	slices := make([]v2CompiledSlice, len(v2.Slices()))
	for i, s := range v2.Slices() {
		compiled := v2CompiledSlice{typ: s.Type, target: s.Target}
		switch s.Type {
		case container.SliceFstDomain:
			fst, err := match.NewDomainFSTMatcher(s.Data)
			if err != nil {
				return nil, err
			}
			compiled.domain = fst
		case container.SliceCidrV4:
			entries := match.DecodeCIDRv4Slice(s.Data, s.Count)
			compiled.cidr = match.NewCIDRSliceMatcher(entries, s.Target)
		case container.SliceCidrV6:
			entries := match.DecodeCIDRv6Slice(s.Data, s.Count)
			compiled.cidr = match.NewCIDRSliceMatcher(entries, s.Target)
		case container.SliceGeoIP:
			m := match.NewGeoIPSliceMatcher(s.Data, s.Count)
			m.SetUniformTarget(s.Target)
			compiled.geoip = m
		case container.SliceExactIPv4:
			compiled.exactIPv4 = match.NewExactIPv4SliceMatcher(s.Data, s.Count, s.Target)
		case container.SliceExactIPv6:
			compiled.exactIPv6 = match.NewExactIPv6SliceMatcher(s.Data, s.Count, s.Target)
		default:
			return nil, kerrors.Errorf(kerrors.KindCorruptIndex, "unknown v2 slice type 0x%02x", s.Type)
		}
		slices[i] = compiled
	}

	return &Reader{schema: SchemaV2, v2Slices: slices}, nil
}

// Schema reports which on-disk layout this Reader was built from.
func (r *Reader) Schema() Schema { return r.schema }

// MatchDomain validates non-empty, lowercases, and consults matchers
// in class order (V1) or slice order (V2). Returns ok=false on no
// match; callers substitute their own fallback.
func (r *Reader) MatchDomain(query string) (rule.Target, bool) {
	if query == "" {
		return 0, false
	}
	if r.schema == SchemaV1 {
		return r.v1Exact.Match(query)
	}

	lower := strings.ToLower(query)
	for _, s := range r.v2Slices {
		if s.typ != container.SliceFstDomain {
			continue
		}
		if s.domain.Contains(lower) {
			return s.target, true
		}
	}
	return 0, false
}

// MatchIP tests exact-IP first, then CIDR (V1), or walks slices in
// file order (V2).
func (r *Reader) MatchIP(ip netip.Addr) (rule.Target, bool) {
	if r.schema == SchemaV1 {
		if ip.Is4() {
			if t, ok := r.v1ExactIP.MatchV4(ip.As4()); ok {
				return t, true
			}
		} else {
			if t, ok := r.v1ExactIP.MatchV6(ip.As16()); ok {
				return t, true
			}
		}
		return r.v1CIDR.Match(ip)
	}

	for _, s := range r.v2Slices {
		switch {
		case s.typ == container.SliceCidrV4 && ip.Is4():
			if t, ok := s.cidr.Match(ip); ok {
				return t, true
			}
		case s.typ == container.SliceCidrV6 && ip.Is6() && !ip.Is4In6():
			if t, ok := s.cidr.Match(ip); ok {
				return t, true
			}
		case s.typ == container.SliceExactIPv4 && ip.Is4():
			if t, ok := s.exactIPv4.MatchV4(ip.As4()); ok {
				return t, true
			}
		case s.typ == container.SliceExactIPv6 && ip.Is6() && !ip.Is4In6():
			if t, ok := s.exactIPv6.MatchV6(ip.As16()); ok {
				return t, true
			}
		}
	}
	return 0, false
}

// MatchGeoIP tests a resolved ISO-3166-1 alpha-2 country code. Unlike
// MatchDomain/MatchIP this is not part of the default MatchInput
// dispatch: it's a dedicated entry point the caller reaches only after
// resolving an IP to a country via an external collaborator (see
// package geoip).
func (r *Reader) MatchGeoIP(code string) (rule.Target, bool) {
	if r.schema == SchemaV1 {
		return r.v1GeoIP.Match(code)
	}
	for _, s := range r.v2Slices {
		if s.typ != container.SliceGeoIP {
			continue
		}
		if t, ok := s.geoip.Match(code); ok {
			return t, true
		}
	}
	return 0, false
}

// MatchInput dispatches to MatchIP if query parses as an IP literal,
// otherwise MatchDomain.
func (r *Reader) MatchInput(query string) (rule.Target, bool) {
	if ip, err := netip.ParseAddr(query); err == nil {
		return r.MatchIP(ip)
	}
	return r.MatchDomain(query)
}
