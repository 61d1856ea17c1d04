// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package match

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/k2rule/container"
	"grimm.is/k2rule/internal/clock"
	"grimm.is/k2rule/rule"
)

func buildV1Reader(t *testing.T, build func(r *rule.IntermediateRules)) *container.V1Reader {
	t.Helper()
	r := rule.New()
	build(r)
	data, err := container.WriteV1(r, clock.Frozen{})
	require.NoError(t, err)
	reader, err := container.OpenV1(data)
	require.NoError(t, err)
	return reader
}

func TestExactVsSuffixPriority(t *testing.T) {
	reader := buildV1Reader(t, func(r *rule.IntermediateRules) {
		require.NoError(t, r.AddDomain("api.google.com", rule.Direct))
		require.NoError(t, r.AddDomain(".google.com", rule.Proxy))
	})
	m := NewDomainHashMatcher(reader.DomainExactEntries(), reader.DomainSuffixEntries())

	target, ok := m.Match("api.google.com")
	require.True(t, ok)
	assert.Equal(t, rule.Direct, target)

	target, ok = m.Match("www.google.com")
	require.True(t, ok)
	assert.Equal(t, rule.Proxy, target)

	target, ok = m.Match("google.com")
	require.True(t, ok)
	assert.Equal(t, rule.Proxy, target)

	_, ok = m.Match("")
	assert.False(t, ok)
}

func TestDomainCaseInsensitive(t *testing.T) {
	reader := buildV1Reader(t, func(r *rule.IntermediateRules) {
		require.NoError(t, r.AddDomain("Example.com", rule.Direct))
	})
	m := NewDomainHashMatcher(reader.DomainExactEntries(), reader.DomainSuffixEntries())

	for _, q := range []string{"example.com", "EXAMPLE.COM", "ExAmPlE.cOm"} {
		target, ok := m.Match(q)
		require.True(t, ok)
		assert.Equal(t, rule.Direct, target)
	}
}

func TestTLDSuffixMatchesAnyDepth(t *testing.T) {
	reader := buildV1Reader(t, func(r *rule.IntermediateRules) {
		require.NoError(t, r.AddDomain(".cn", rule.Direct))
	})
	m := NewDomainHashMatcher(reader.DomainExactEntries(), reader.DomainSuffixEntries())

	for _, q := range []string{"cn", "example.cn", "a.b.c.cn"} {
		target, ok := m.Match(q)
		require.True(t, ok, q)
		assert.Equal(t, rule.Direct, target)
	}
	_, ok := m.Match("cnx")
	assert.False(t, ok)
}

func TestLongestPrefixCIDRv4(t *testing.T) {
	reader := buildV1Reader(t, func(r *rule.IntermediateRules) {
		require.NoError(t, r.AddCIDR("10.0.0.0/8", rule.Direct))
		require.NoError(t, r.AddCIDR("10.1.0.0/16", rule.Proxy))
		require.NoError(t, r.AddCIDR("10.1.1.0/24", rule.Reject))
	})
	m := NewCIDRLPMMatcher(reader.CIDRV4Entries(), reader.CIDRV6Entries())

	target, ok := m.Match(netip.MustParseAddr("10.1.1.1"))
	require.True(t, ok)
	assert.Equal(t, rule.Reject, target)

	target, ok = m.Match(netip.MustParseAddr("10.1.2.1"))
	require.True(t, ok)
	assert.Equal(t, rule.Proxy, target)

	target, ok = m.Match(netip.MustParseAddr("10.2.0.1"))
	require.True(t, ok)
	assert.Equal(t, rule.Direct, target)
}

func TestIPv6ULA(t *testing.T) {
	reader := buildV1Reader(t, func(r *rule.IntermediateRules) {
		require.NoError(t, r.AddCIDR("fc00::/7", rule.Direct))
	})
	m := NewCIDRLPMMatcher(reader.CIDRV4Entries(), reader.CIDRV6Entries())

	target, ok := m.Match(netip.MustParseAddr("fc00::1"))
	require.True(t, ok)
	assert.Equal(t, rule.Direct, target)

	target, ok = m.Match(netip.MustParseAddr("fd00::1"))
	require.True(t, ok)
	assert.Equal(t, rule.Direct, target)

	_, ok = m.Match(netip.MustParseAddr("fe80::1"))
	assert.False(t, ok)
}

func TestExactIPMatcherV1(t *testing.T) {
	reader := buildV1Reader(t, func(r *rule.IntermediateRules) {
		require.NoError(t, r.AddExactIP("8.8.8.8", rule.Reject))
		require.NoError(t, r.AddExactIP("1.1.1.1", rule.Direct))
		require.NoError(t, r.AddExactIP("2001:4860:4860::8888", rule.Proxy))
	})
	m := NewExactIPMatcherV1(reader.ExactIPV4Entries(), reader.ExactIPV6Entries())

	a4 := netip.MustParseAddr("8.8.8.8").As4()
	target, ok := m.MatchV4(a4)
	require.True(t, ok)
	assert.Equal(t, rule.Reject, target)

	a6 := netip.MustParseAddr("2001:4860:4860::8888").As16()
	target, ok = m.MatchV6(a6)
	require.True(t, ok)
	assert.Equal(t, rule.Proxy, target)

	missing := netip.MustParseAddr("9.9.9.9").As4()
	_, ok = m.MatchV4(missing)
	assert.False(t, ok)
}

func TestGeoIPMatcher(t *testing.T) {
	reader := buildV1Reader(t, func(r *rule.IntermediateRules) {
		require.NoError(t, r.AddGeoIP("CN", rule.Direct))
		require.NoError(t, r.AddGeoIP("US", rule.Proxy))
	})
	m := NewGeoIPMatcher(reader.GeoIPEntries())

	target, ok := m.Match("cn")
	require.True(t, ok)
	assert.Equal(t, rule.Direct, target)

	_, ok = m.Match("jp")
	assert.False(t, ok)
}

func TestV2OrderingPrecedence(t *testing.T) {
	ordered := &container.OrderedRules{
		Fallback: rule.Proxy,
		Slices: []container.Slice{
			{
				Type: container.SliceFstDomain,
				Domain: &container.DomainSlice{
					Patterns: []rule.DomainEntry{{Pattern: "cn.bing.com"}},
					Target:   rule.Direct,
				},
			},
			{
				Type: container.SliceFstDomain,
				Domain: &container.DomainSlice{
					Patterns: []rule.DomainEntry{{Pattern: "bing.com", Suffix: true}},
					Target:   rule.Proxy,
				},
			},
		},
	}
	data, err := container.WriteV2(ordered, clock.Frozen{})
	require.NoError(t, err)
	reader, err := container.OpenV2(data)
	require.NoError(t, err)

	matchV2 := func(query string) (rule.Target, bool) {
		for _, s := range reader.Slices() {
			if s.Type != container.SliceFstDomain {
				continue
			}
			fst, err := NewDomainFSTMatcher(s.Data)
			require.NoError(t, err)
			if fst.Contains(query) {
				return s.Target, true
			}
		}
		return 0, false
	}

	target, ok := matchV2("cn.bing.com")
	require.True(t, ok)
	assert.Equal(t, rule.Direct, target)

	target, ok = matchV2("www.cn.bing.com")
	require.True(t, ok)
	assert.Equal(t, rule.Direct, target)

	target, ok = matchV2("bing.com")
	require.True(t, ok)
	assert.Equal(t, rule.Proxy, target)

	target, ok = matchV2("www.bing.com")
	require.True(t, ok)
	assert.Equal(t, rule.Proxy, target)
}
