// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package match

import (
	"sort"
	"strings"

	"grimm.is/k2rule/container"
	"grimm.is/k2rule/rule"
)

// DomainHashMatcher implements the V1 domain matcher: an exact-match
// hash table probed by FNV-1a hash alone (a 64-bit collision is
// accepted without verification, per the container's documented
// contract) and a hash-sorted suffix array verified against its
// payload string to resolve collisions.
type DomainHashMatcher struct {
	exact map[uint64]rule.Target

	suffixHashes []uint64
	suffixText   []string
	suffixTarget []rule.Target
}

// NewDomainHashMatcher builds a matcher from a V1Reader's decoded
// domain tables.
func NewDomainHashMatcher(exact []container.DecodedDomainExact, suffix []container.DecodedDomainSuffix) *DomainHashMatcher {
	m := &DomainHashMatcher{exact: make(map[uint64]rule.Target, len(exact))}
	for _, e := range exact {
		m.exact[e.Hash] = rule.Target(e.Target)
	}

	order := make([]int, len(suffix))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return suffix[order[i]].Hash < suffix[order[j]].Hash })

	m.suffixHashes = make([]uint64, len(suffix))
	m.suffixText = make([]string, len(suffix))
	m.suffixTarget = make([]rule.Target, len(suffix))
	for i, idx := range order {
		m.suffixHashes[i] = suffix[idx].Hash
		m.suffixText[i] = suffix[idx].Text
		m.suffixTarget[i] = rule.Target(suffix[idx].Target)
	}

	return m
}

// Match performs case-folding internally; callers may pass a query in
// any case. Empty queries never match.
func (m *DomainHashMatcher) Match(query string) (rule.Target, bool) {
	if query == "" {
		return 0, false
	}
	lower := strings.ToLower(query)

	if t, ok := m.exact[container.FNV1a64([]byte(lower))]; ok {
		return t, true
	}

	// The full query is itself the first candidate suffix, so a
	// suffix rule authored as ".x.y" still matches the bare query
	// "x.y" -- then walk each proper parent left to right.
	candidate := lower
	for {
		if t, ok := m.lookupSuffix(candidate); ok {
			return t, true
		}
		pos := strings.IndexByte(candidate, '.')
		if pos < 0 {
			break
		}
		candidate = candidate[pos+1:]
	}
	return 0, false
}

func (m *DomainHashMatcher) lookupSuffix(candidate string) (rule.Target, bool) {
	hash := container.FNV1a64([]byte(candidate))
	i := sort.Search(len(m.suffixHashes), func(i int) bool { return m.suffixHashes[i] >= hash })
	for ; i < len(m.suffixHashes) && m.suffixHashes[i] == hash; i++ {
		if m.suffixText[i] == candidate {
			return m.suffixTarget[i], true
		}
	}
	return 0, false
}
