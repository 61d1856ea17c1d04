// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package container

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/blevesearch/vellum"

	"grimm.is/k2rule/internal/clock"
	kerrors "grimm.is/k2rule/internal/errors"
	"grimm.is/k2rule/rule"
)

// DomainSlice is one ordered FST-domain slice: a set of domain
// patterns (exact or suffix, the FST makes no distinction -- see
// EncodeFSTReversalKey) sharing one Target.
type DomainSlice struct {
	Patterns []rule.DomainEntry
	Target   rule.Target
}

// CIDRSlice is one ordered CIDR slice, single family.
type CIDRSlice struct {
	Entries []rule.CIDREntry
	Target  rule.Target
}

// GeoIPSlice is one ordered GeoIP slice.
type GeoIPSlice struct {
	Entries []rule.GeoIPEntry
	Target  rule.Target
}

// ExactIPSlice is one ordered exact-IP slice, single family.
type ExactIPSlice struct {
	Entries []rule.ExactIPEntry
	Target  rule.Target
}

// OrderedRules is the ordered-slice input V2's writer consumes. Unlike
// IntermediateRules (typed sections, no priority among entries of the
// same category), the order of the Slices field IS the match
// priority: slice i is consulted before slice i+1.
type OrderedRules struct {
	Slices   []Slice
	Fallback rule.Target
}

// Slice is a tagged union over the six V2 slice kinds. Exactly one of
// the typed fields is set, matching SliceType.
type Slice struct {
	Type      SliceType
	Domain    *DomainSlice
	CIDRv4    *CIDRSlice
	CIDRv6    *CIDRSlice
	GeoIP     *GeoIPSlice
	ExactIPv4 *ExactIPSlice
	ExactIPv6 *ExactIPSlice
}

// EncodeFSTReversalKey turns a domain pattern into the FST key used by
// both the writer and the matcher: reverse("." + lowercased pattern).
// A suffix pattern "google.com" (stored without its leading dot, per
// rule.DomainEntry) and an exact pattern both insert the identical
// transformed key -- the FST makes no distinction; matching is driven
// entirely by which parent strings the reader probes (see
// match.DomainFSTMatcher).
func EncodeFSTReversalKey(pattern string) []byte {
	withDot := "." + strings.ToLower(pattern)
	key := make([]byte, len(withDot))
	for i := 0; i < len(withDot); i++ {
		key[i] = withDot[len(withDot)-1-i]
	}
	return key
}

func buildDomainFST(patterns []rule.DomainEntry) ([]byte, error) {
	keys := make([][]byte, 0, len(patterns))
	for _, p := range patterns {
		keys = append(keys, EncodeFSTReversalKey(p.Pattern))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.KindInternal, "vellum builder init")
	}
	for _, k := range keys {
		if err := builder.Insert(k, 0); err != nil {
			return nil, kerrors.Wrap(err, kerrors.KindInternal, "vellum insert")
		}
	}
	if err := builder.Close(); err != nil {
		return nil, kerrors.Wrap(err, kerrors.KindInternal, "vellum builder close")
	}
	return buf.Bytes(), nil
}

func encodeCIDRSliceV2(entries []rule.CIDREntry) []byte {
	is4 := len(entries) > 0 && entries[0].Prefix.Addr().Is4()
	if is4 {
		out := make([]byte, len(entries)*sizeCidrV4SliceEntry)
		for i, e := range entries {
			off := i * sizeCidrV4SliceEntry
			addr4 := e.Prefix.Addr().As4()
			copy(out[off:off+4], addr4[:])
			out[off+4] = byte(e.Prefix.Bits())
		}
		return out
	}
	out := make([]byte, len(entries)*sizeCidrV6SliceEntry)
	for i, e := range entries {
		off := i * sizeCidrV6SliceEntry
		addr16 := e.Prefix.Addr().As16()
		copy(out[off:off+16], addr16[:])
		out[off+16] = byte(e.Prefix.Bits())
	}
	return out
}

func encodeGeoIPSliceV2(entries []rule.GeoIPEntry) []byte {
	out := make([]byte, len(entries)*sizeGeoIPSliceEntry)
	for i, e := range entries {
		off := i * sizeGeoIPSliceEntry
		out[off] = e.Code[0]
		out[off+1] = e.Code[1]
	}
	return out
}

func encodeExactIPSliceV2(entries []rule.ExactIPEntry, is4 bool) []byte {
	entries = append([]rule.ExactIPEntry(nil), entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Addr.Less(entries[j].Addr) })
	if is4 {
		out := make([]byte, len(entries)*sizeExactIPv4SliceItem)
		for i, e := range entries {
			off := i * sizeExactIPv4SliceItem
			addr4 := e.Addr.As4()
			copy(out[off:off+4], addr4[:])
		}
		return out
	}
	out := make([]byte, len(entries)*sizeExactIPv6SliceItem)
	for i, e := range entries {
		off := i * sizeExactIPv6SliceItem
		addr16 := e.Addr.As16()
		copy(out[off:off+16], addr16[:])
	}
	return out
}

// WriteV2 serializes an ordered slice set into a schema-V2 container.
func WriteV2(rules *OrderedRules, now clock.Clock) ([]byte, error) {
	if now == nil {
		now = clock.Real
	}

	header := make([]byte, V2HeaderSize)
	index := make([]byte, len(rules.Slices)*V2SliceEntrySize)
	var payload []byte

	for i, s := range rules.Slices {
		var blob []byte
		var target rule.Target
		var count int
		var err error

		switch s.Type {
		case SliceFstDomain:
			blob, err = buildDomainFST(s.Domain.Patterns)
			target = s.Domain.Target
			count = len(s.Domain.Patterns)
		case SliceCidrV4:
			blob = encodeCIDRSliceV2(s.CIDRv4.Entries)
			target = s.CIDRv4.Target
			count = len(s.CIDRv4.Entries)
		case SliceCidrV6:
			blob = encodeCIDRSliceV2(s.CIDRv6.Entries)
			target = s.CIDRv6.Target
			count = len(s.CIDRv6.Entries)
		case SliceGeoIP:
			blob = encodeGeoIPSliceV2(s.GeoIP.Entries)
			target = s.GeoIP.Target
			count = len(s.GeoIP.Entries)
		case SliceExactIPv4:
			blob = encodeExactIPSliceV2(s.ExactIPv4.Entries, true)
			target = s.ExactIPv4.Target
			count = len(s.ExactIPv4.Entries)
		case SliceExactIPv6:
			blob = encodeExactIPSliceV2(s.ExactIPv6.Entries, false)
			target = s.ExactIPv6.Target
			count = len(s.ExactIPv6.Entries)
		default:
			return nil, kerrors.Errorf(kerrors.KindValidation, "unknown slice type 0x%02x", s.Type)
		}
		if err != nil {
			return nil, err
		}

		offset := V2HeaderSize + len(index) + len(payload)
		payload = append(payload, blob...)

		e := index[i*V2SliceEntrySize:]
		e[0] = byte(s.Type)
		e[1] = uint8(target)
		binary.LittleEndian.PutUint32(e[4:8], uint32(offset))
		binary.LittleEndian.PutUint32(e[8:12], uint32(len(blob)))
		binary.LittleEndian.PutUint32(e[12:16], uint32(count))
	}

	le := binary.LittleEndian
	copy(header[0:8], V2Magic[:])
	le.PutUint32(header[8:12], V2FormatVersion)
	le.PutUint32(header[12:16], uint32(len(rules.Slices)))
	header[16] = uint8(rules.Fallback)
	// Bytes 20-24 are implicit alignment padding before the 8-byte
	// timestamp field, matching the original C-layout header (the
	// compiler pads a u8+[3]byte run to the next 8-byte boundary
	// ahead of an i64 field).
	le.PutUint64(header[24:32], uint64(now.Now().Unix()))

	out := append(header, index...)
	out = append(out, payload...)

	sum := sha256.Sum256(out)
	copy(out[32:48], sum[:16])

	return out, nil
}
