// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package container

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"grimm.is/k2rule/internal/clock"
	"grimm.is/k2rule/rule"
)

// WriteV1 serializes rules into a schema-V1 container. Sections are
// written in the fixed order domain, CIDR, GeoIP, IP, payload; offsets
// and sizes are backfilled into the header once every section's
// length is known. The SHA-256 checksum covers the whole file with
// the checksum field itself zeroed.
func WriteV1(rules *rule.IntermediateRules, now clock.Clock) ([]byte, error) {
	if now == nil {
		now = clock.Real
	}

	exact, suffix := splitDomains(rules.Domains)
	v4, v6 := splitCIDRs(rules.CIDRs)
	exactV4, exactV6 := splitExactIPs(rules.ExactIPs)

	buf := make([]byte, V1HeaderSize)

	domainOff := len(buf)
	domainBytes, payloadBytes := encodeDomainSectionV1(exact, suffix)
	buf = append(buf, domainBytes...)
	domainSize := len(buf) - domainOff

	cidrOff := len(buf)
	buf = append(buf, encodeCIDRSectionV1(v4, v6)...)
	cidrSize := len(buf) - cidrOff

	geoipOff := len(buf)
	buf = append(buf, encodeGeoIPSectionV1(rules.GeoIPs)...)
	geoipSize := len(buf) - geoipOff

	ipOff := len(buf)
	buf = append(buf, encodeIPSectionV1(exactV4, exactV6)...)
	ipSize := len(buf) - ipOff

	payloadOff := len(buf)
	buf = append(buf, payloadBytes...)
	payloadSize := len(buf) - payloadOff

	putHeaderV1(buf, headerFieldsV1{
		Timestamp:    now.Now().Unix(),
		DomainOffset: uint32(domainOff),
		DomainSize:   uint32(domainSize),
		CIDROffset:   uint32(cidrOff),
		CIDRSize:     uint32(cidrSize),
		GeoIPOffset:  uint32(geoipOff),
		GeoIPSize:    uint32(geoipSize),
		IPOffset:     uint32(ipOff),
		IPSize:       uint32(ipSize),
		PayloadOff:   uint32(payloadOff),
		PayloadSize:  uint32(payloadSize),
		DomainCount:  uint32(len(exact) + len(suffix)),
		CIDRCount:    uint32(len(v4) + len(v6)),
		GeoIPCount:   uint32(len(rules.GeoIPs)),
		IPCount:      uint32(len(exactV4) + len(exactV6)),
	})

	sum := sha256.Sum256(buf)
	copy(buf[24:56], sum[:])

	return buf, nil
}

type headerFieldsV1 struct {
	Timestamp    int64
	DomainOffset uint32
	DomainSize   uint32
	CIDROffset   uint32
	CIDRSize     uint32
	GeoIPOffset  uint32
	GeoIPSize    uint32
	IPOffset     uint32
	IPSize       uint32
	PayloadOff   uint32
	PayloadSize  uint32
	DomainCount  uint32
	CIDRCount    uint32
	GeoIPCount   uint32
	IPCount      uint32
}

func putHeaderV1(buf []byte, h headerFieldsV1) {
	le := binary.LittleEndian
	copy(buf[0:8], V1Magic[:])
	le.PutUint32(buf[8:12], V1FormatVersion)
	le.PutUint32(buf[12:16], V1FlagMmapSafe)
	le.PutUint64(buf[16:24], uint64(h.Timestamp))
	// buf[24:56] checksum, filled by the caller after hashing
	le.PutUint32(buf[56:60], h.DomainOffset)
	le.PutUint32(buf[60:64], h.DomainSize)
	le.PutUint32(buf[64:68], h.CIDROffset)
	le.PutUint32(buf[68:72], h.CIDRSize)
	le.PutUint32(buf[72:76], h.GeoIPOffset)
	le.PutUint32(buf[76:80], h.GeoIPSize)
	le.PutUint32(buf[80:84], h.IPOffset)
	le.PutUint32(buf[84:88], h.IPSize)
	le.PutUint32(buf[88:92], h.PayloadOff)
	le.PutUint32(buf[92:96], h.PayloadSize)
	le.PutUint32(buf[96:100], h.DomainCount)
	le.PutUint32(buf[100:104], h.CIDRCount)
	le.PutUint32(buf[104:108], h.GeoIPCount)
	le.PutUint32(buf[108:112], h.IPCount)
}

type domainHashEntry struct {
	hash   uint64
	target uint8
}

type suffixHashEntry struct {
	hash   uint64
	target uint8
	text   string
}

func splitDomains(entries []rule.DomainEntry) (exact []domainHashEntry, suffix []suffixHashEntry) {
	for _, e := range entries {
		if e.Suffix {
			suffix = append(suffix, suffixHashEntry{
				hash:   FNV1a64([]byte(e.Pattern)),
				target: uint8(e.Target),
				text:   e.Pattern,
			})
		} else {
			exact = append(exact, domainHashEntry{
				hash:   FNV1a64([]byte(e.Pattern)),
				target: uint8(e.Target),
			})
		}
	}
	return exact, suffix
}

// encodeDomainSectionV1 builds the domain sub-header, the exact-match
// array (insertion order, not an open-addressing table; the matcher
// loads it into a map keyed by hash and binary-searches the suffix
// array, see match.DomainHashMatcher), the hash-sorted suffix array,
// and the payload bytes the suffix entries point into.
func encodeDomainSectionV1(exact []domainHashEntry, suffix []suffixHashEntry) (section, payload []byte) {
	sort.Slice(suffix, func(i, j int) bool { return suffix[i].hash < suffix[j].hash })

	const subHeaderSize = sizeDomainIndexHeader
	exactOff := subHeaderSize
	suffixOff := exactOff + len(exact)*sizeDomainExactEntry

	section = make([]byte, suffixOff+len(suffix)*sizeDomainSuffixEntry)
	le := binary.LittleEndian
	le.PutUint32(section[0:4], uint32(len(exact)))
	le.PutUint32(section[4:8], uint32(len(suffix)))
	le.PutUint32(section[8:12], uint32(exactOff))
	le.PutUint32(section[12:16], uint32(suffixOff))

	for i, e := range exact {
		off := exactOff + i*sizeDomainExactEntry
		le.PutUint64(section[off:off+8], e.hash)
		section[off+8] = e.target
	}

	for i, e := range suffix {
		payloadOffset := len(payload)
		payload = append(payload, e.text...)

		off := suffixOff + i*sizeDomainSuffixEntry
		le.PutUint64(section[off:off+8], e.hash)
		section[off+8] = e.target
		le.PutUint32(section[off+12:off+16], uint32(payloadOffset))
		le.PutUint16(section[off+16:off+18], uint16(len(e.text)))
	}

	return section, payload
}

func splitCIDRs(entries []rule.CIDREntry) (v4, v6 []rule.CIDREntry) {
	for _, e := range entries {
		if e.Prefix.Addr().Is4() {
			v4 = append(v4, e)
		} else {
			v6 = append(v6, e)
		}
	}
	sort.Slice(v4, func(i, j int) bool { return v4[i].Prefix.Addr().Less(v4[j].Prefix.Addr()) })
	sort.Slice(v6, func(i, j int) bool { return v6[i].Prefix.Addr().Less(v6[j].Prefix.Addr()) })
	return v4, v6
}

func encodeCIDRSectionV1(v4, v6 []rule.CIDREntry) []byte {
	section := make([]byte, sizeCIDRIndexHeader+len(v4)*sizeCIDRV4Entry+len(v6)*sizeCIDRV6Entry)
	le := binary.LittleEndian
	le.PutUint32(section[0:4], uint32(len(v4)))
	le.PutUint32(section[4:8], uint32(len(v6)))

	off := sizeCIDRIndexHeader
	for _, e := range v4 {
		addr4 := e.Prefix.Addr().As4()
		copy(section[off:off+4], addr4[:])
		section[off+4] = byte(e.Prefix.Bits())
		section[off+5] = uint8(e.Target)
		off += sizeCIDRV4Entry
	}
	for _, e := range v6 {
		addr16 := e.Prefix.Addr().As16()
		copy(section[off:off+16], addr16[:])
		section[off+16] = byte(e.Prefix.Bits())
		section[off+17] = uint8(e.Target)
		off += sizeCIDRV6Entry
	}
	return section
}

func encodeGeoIPSectionV1(entries []rule.GeoIPEntry) []byte {
	section := make([]byte, len(entries)*sizeGeoIPEntry)
	for i, e := range entries {
		off := i * sizeGeoIPEntry
		section[off] = e.Code[0]
		section[off+1] = e.Code[1]
		section[off+2] = uint8(e.Target)
	}
	return section
}

func splitExactIPs(entries []rule.ExactIPEntry) (v4, v6 []rule.ExactIPEntry) {
	for _, e := range entries {
		if e.Addr.Is4() {
			v4 = append(v4, e)
		} else {
			v6 = append(v6, e)
		}
	}
	sort.Slice(v4, func(i, j int) bool { return v4[i].Addr.Less(v4[j].Addr) })
	sort.Slice(v6, func(i, j int) bool { return v6[i].Addr.Less(v6[j].Addr) })
	return v4, v6
}

func encodeIPSectionV1(v4, v6 []rule.ExactIPEntry) []byte {
	section := make([]byte, sizeIPIndexHeader+len(v4)*sizeExactIPV4Entry+len(v6)*sizeExactIPV6Entry)
	le := binary.LittleEndian
	le.PutUint32(section[0:4], uint32(len(v4)))
	le.PutUint32(section[4:8], uint32(len(v6)))

	off := sizeIPIndexHeader
	for _, e := range v4 {
		addr4 := e.Addr.As4()
		copy(section[off:off+4], addr4[:])
		section[off+4] = uint8(e.Target)
		off += sizeExactIPV4Entry
	}
	for _, e := range v6 {
		addr16 := e.Addr.As16()
		copy(section[off:off+16], addr16[:])
		section[off+16] = uint8(e.Target)
		off += sizeExactIPV6Entry
	}
	return section
}
