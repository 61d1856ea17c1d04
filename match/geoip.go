// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package match

import (
	"strings"

	"grimm.is/k2rule/container"
	"grimm.is/k2rule/rule"
)

// GeoIPMatcher implements the GeoIP matcher shared by V1 and V2: a
// linear scan over packed 2-byte country codes. The matcher does not
// resolve an IP address to a country itself -- that's an external
// collaborator's job (see package geoip) -- it only tests a resolved
// code against the table.
type GeoIPMatcher struct {
	codes   [][2]byte
	targets []rule.Target
}

// NewGeoIPMatcher builds a matcher from a V1Reader's decoded GeoIP
// entries.
func NewGeoIPMatcher(entries []container.DecodedGeoIP) *GeoIPMatcher {
	m := &GeoIPMatcher{
		codes:   make([][2]byte, len(entries)),
		targets: make([]rule.Target, len(entries)),
	}
	for i, e := range entries {
		m.codes[i] = e.Code
		m.targets[i] = rule.Target(e.Target)
	}
	return m
}

// NewGeoIPSliceMatcher builds a matcher from a decoded V2 GeoIp
// slice's raw 4-byte records, all sharing one Target.
func NewGeoIPSliceMatcher(data []byte, count int) *GeoIPMatcher {
	m := &GeoIPMatcher{codes: make([][2]byte, count), targets: make([]rule.Target, count)}
	for i := 0; i < count; i++ {
		e := data[i*4:]
		m.codes[i] = [2]byte{e[0], e[1]}
	}
	return m
}

// SetUniformTarget overrides every entry's Target, used when loading
// a V2 slice (the slice descriptor carries one Target for all its
// entries rather than a per-entry one).
func (m *GeoIPMatcher) SetUniformTarget(target rule.Target) {
	for i := range m.targets {
		m.targets[i] = target
	}
}

// Match uppercases country and tests it against the table.
func (m *GeoIPMatcher) Match(country string) (rule.Target, bool) {
	if len(country) != 2 {
		return 0, false
	}
	upper := strings.ToUpper(country)
	code := [2]byte{upper[0], upper[1]}
	for i, c := range m.codes {
		if c == code {
			return m.targets[i], true
		}
	}
	return 0, false
}
