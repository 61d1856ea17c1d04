// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package k2rule is a rule-based routing classifier for network traffic.
// Given a domain name, an IPv4/IPv6 address, or a GeoIP country code, it
// returns a Target: Direct, Proxy, or Reject. Rule tables are compiled
// into a compact binary container (see package container), matched by
// package match, served under concurrent load with hot-swap support by
// package cache, and kept up to date from a remote origin by package
// remote.
package k2rule

import (
	"fmt"
	"strings"
)

// Target is a routing decision. The wire codes are stable: Direct=0,
// Proxy=1, Reject=2. Absence of a Target (a "no match" result) is
// represented by a separate ok=false return alongside the Target --
// see reader.Reader.MatchDomain.
type Target uint8

const (
	Direct Target = iota
	Proxy
	Reject
)

// String renders the Target the way rule files and logs display it.
func (t Target) String() string {
	switch t {
	case Direct:
		return "DIRECT"
	case Proxy:
		return "PROXY"
	case Reject:
		return "REJECT"
	default:
		return fmt.Sprintf("Target(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the three defined wire codes.
func (t Target) Valid() bool {
	return t == Direct || t == Proxy || t == Reject
}

// ParseTarget parses a case-insensitive target name ("direct", "proxy",
// "reject") into a Target.
func ParseTarget(s string) (Target, bool) {
	switch strings.ToLower(s) {
	case "direct":
		return Direct, true
	case "proxy":
		return Proxy, true
	case "reject":
		return Reject, true
	default:
		return 0, false
	}
}

// FromByte decodes a wire-format target byte (as stored in container
// records), returning ok=false for any value outside 0-2.
func FromByte(b byte) (Target, bool) {
	t := Target(b)
	return t, t.Valid()
}
