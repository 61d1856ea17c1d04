// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package match

import (
	"bytes"
	"sort"

	"grimm.is/k2rule/container"
	"grimm.is/k2rule/rule"
)

// ExactIPMatcher implements the exact-IP matcher shared by V1 and V2:
// a sorted table of packed address bytes, probed by binary search.
// The V1 reader in the reference implementation left this unwired
// (a stub always returning "no match"); this type completes it using
// the same sorted-array layout the container already stores, per the
// container's documented contract for that gap.
type ExactIPMatcher struct {
	v4    [][4]byte
	v4Tgt []rule.Target
	v6    [][16]byte
	v6Tgt []rule.Target
}

// NewExactIPMatcherV1 builds a matcher from a V1Reader's decoded
// exact-IP tables (already sorted ascending by the writer).
func NewExactIPMatcherV1(v4 []container.DecodedExactIPV4, v6 []container.DecodedExactIPV6) *ExactIPMatcher {
	m := &ExactIPMatcher{
		v4:    make([][4]byte, len(v4)),
		v4Tgt: make([]rule.Target, len(v4)),
		v6:    make([][16]byte, len(v6)),
		v6Tgt: make([]rule.Target, len(v6)),
	}
	for i, e := range v4 {
		m.v4[i] = e.IP
		m.v4Tgt[i] = rule.Target(e.Target)
	}
	for i, e := range v6 {
		m.v6[i] = e.IP
		m.v6Tgt[i] = rule.Target(e.Target)
	}
	return m
}

// NewExactIPv4SliceMatcher builds a matcher from a decoded V2
// ExactIpV4 slice's raw 8-byte records (4 address bytes, then
// padding), all sharing one Target.
func NewExactIPv4SliceMatcher(data []byte, count int, target rule.Target) *ExactIPMatcher {
	m := &ExactIPMatcher{v4: make([][4]byte, count), v4Tgt: make([]rule.Target, count)}
	for i := 0; i < count; i++ {
		copy(m.v4[i][:], data[i*8:i*8+4])
		m.v4Tgt[i] = target
	}
	return m
}

// NewExactIPv6SliceMatcher builds a matcher from a decoded V2
// ExactIpV6 slice's raw 24-byte records (16 address bytes, then
// padding), all sharing one Target.
func NewExactIPv6SliceMatcher(data []byte, count int, target rule.Target) *ExactIPMatcher {
	m := &ExactIPMatcher{v6: make([][16]byte, count), v6Tgt: make([]rule.Target, count)}
	for i := 0; i < count; i++ {
		copy(m.v6[i][:], data[i*24:i*24+16])
		m.v6Tgt[i] = target
	}
	return m
}

// MatchV4 binary-searches the sorted IPv4 table.
func (m *ExactIPMatcher) MatchV4(ip [4]byte) (rule.Target, bool) {
	i := sort.Search(len(m.v4), func(i int) bool { return bytes.Compare(m.v4[i][:], ip[:]) >= 0 })
	if i < len(m.v4) && m.v4[i] == ip {
		return m.v4Tgt[i], true
	}
	return 0, false
}

// MatchV6 binary-searches the sorted IPv6 table.
func (m *ExactIPMatcher) MatchV6(ip [16]byte) (rule.Target, bool) {
	i := sort.Search(len(m.v6), func(i int) bool { return bytes.Compare(m.v6[i][:], ip[:]) >= 0 })
	if i < len(m.v6) && m.v6[i] == ip {
		return m.v6Tgt[i], true
	}
	return 0, false
}
