// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package match implements the matcher types behind both container
// schemas: domain (hash-table for V1, FST for V2), CIDR (longest-
// prefix for V1, per-slice membership for V2), GeoIP, and exact-IP.
package match

import (
	"net/netip"

	"github.com/gaissmai/bart"

	"grimm.is/k2rule/container"
	"grimm.is/k2rule/rule"
)

// CIDRLPMMatcher answers the V1 combined cross-family longest-prefix
// query: among every CIDR of either family, the Target of the longest
// prefix covering the query IP wins. Built once from a V1Reader's
// decoded CIDR arrays and backed by a routing trie so repeated
// queries are O(log n) rather than the source's O(n) linear scan.
type CIDRLPMMatcher struct {
	table *bart.Table[rule.Target]
}

// NewCIDRLPMMatcher builds a matcher from decoded V1 CIDR entries.
func NewCIDRLPMMatcher(v4 []container.DecodedCIDRV4, v6 []container.DecodedCIDRV6) *CIDRLPMMatcher {
	t := &bart.Table[rule.Target]{}
	for _, e := range v4 {
		prefix := netip.PrefixFrom(netip.AddrFrom4(e.Network), int(e.PrefixLen))
		t.Insert(prefix, rule.Target(e.Target))
	}
	for _, e := range v6 {
		prefix := netip.PrefixFrom(netip.AddrFrom16(e.Network), int(e.PrefixLen))
		t.Insert(prefix, rule.Target(e.Target))
	}
	return &CIDRLPMMatcher{table: t}
}

// Match returns the Target of the longest matching prefix, if any.
func (m *CIDRLPMMatcher) Match(ip netip.Addr) (rule.Target, bool) {
	return m.table.Lookup(ip)
}

// CIDRSliceMatcher answers the V2 per-slice question: does any entry
// in this slice cover the query IP? A hit returns the slice's single
// Target -- there's no longest-prefix election within a slice, so a
// membership-only table (queried via Contains) is enough.
type CIDRSliceMatcher struct {
	table  *bart.Table[struct{}]
	target rule.Target
}

// NewCIDRSliceMatcher builds a single-family, single-Target slice
// matcher from a decoded V2 CIDR slice's raw entries.
func NewCIDRSliceMatcher(entries []SliceCIDREntry, target rule.Target) *CIDRSliceMatcher {
	t := &bart.Table[struct{}]{}
	for _, e := range entries {
		t.Insert(e.Prefix, struct{}{})
	}
	return &CIDRSliceMatcher{table: t, target: target}
}

// Match reports whether ip is covered by any entry in the slice, and
// if so the slice's Target.
func (m *CIDRSliceMatcher) Match(ip netip.Addr) (rule.Target, bool) {
	if m.table.Contains(ip) {
		return m.target, true
	}
	return 0, false
}

// SliceCIDREntry is a decoded single-family V2 CIDR slice entry.
type SliceCIDREntry struct {
	Prefix netip.Prefix
}

// DecodeCIDRv4Slice decodes a V2 CidrV4 slice's raw 8-byte records.
func DecodeCIDRv4Slice(data []byte, count int) []SliceCIDREntry {
	out := make([]SliceCIDREntry, count)
	for i := 0; i < count; i++ {
		e := data[i*8:]
		var network [4]byte
		copy(network[:], e[0:4])
		out[i] = SliceCIDREntry{Prefix: netip.PrefixFrom(netip.AddrFrom4(network), int(e[4]))}
	}
	return out
}

// DecodeCIDRv6Slice decodes a V2 CidrV6 slice's raw 24-byte records.
func DecodeCIDRv6Slice(data []byte, count int) []SliceCIDREntry {
	out := make([]SliceCIDREntry, count)
	for i := 0; i < count; i++ {
		e := data[i*24:]
		var network [16]byte
		copy(network[:], e[0:16])
		out[i] = SliceCIDREntry{Prefix: netip.PrefixFrom(netip.AddrFrom16(network), int(e[16]))}
	}
	return out
}
