// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package container

import (
	"bytes"
	"encoding/binary"

	kerrors "grimm.is/k2rule/internal/errors"
)

// V1Reader exposes read-only, offset-based access to a schema-V1
// container's bytes. It does not read the file itself -- package
// reader loads the whole file into memory and hands V1Reader the
// resulting byte slice -- so the same type serves both a file read
// from disk and an in-memory buffer built by from_bytes-style callers.
type V1Reader struct {
	data []byte
}

// OpenV1 validates data as a schema-V1 container and wraps it.
func OpenV1(data []byte) (*V1Reader, error) {
	if len(data) < V1HeaderSize {
		return nil, kerrors.Errorf(kerrors.KindMalformedContainer,
			"v1 header too short: have %d bytes, want at least %d", len(data), V1HeaderSize)
	}

	r := &V1Reader{data: data}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *V1Reader) validate() error {
	le := binary.LittleEndian

	if !bytes.Equal(r.data[0:8], V1Magic[:]) {
		return kerrors.New(kerrors.KindMalformedContainer, "bad v1 magic")
	}
	if version := le.Uint32(r.data[8:12]); version > V1FormatVersion {
		return kerrors.Errorf(kerrors.KindMalformedContainer, "unsupported v1 version %d", version)
	}

	sections := []struct {
		name      string
		off, size uint32
	}{
		{"domain", le.Uint32(r.data[56:60]), le.Uint32(r.data[60:64])},
		{"cidr", le.Uint32(r.data[64:68]), le.Uint32(r.data[68:72])},
		{"geoip", le.Uint32(r.data[72:76]), le.Uint32(r.data[76:80])},
		{"ip", le.Uint32(r.data[80:84]), le.Uint32(r.data[84:88])},
		{"payload", le.Uint32(r.data[88:92]), le.Uint32(r.data[92:96])},
	}
	for _, s := range sections {
		end := uint64(s.off) + uint64(s.size)
		if end > uint64(len(r.data)) {
			return kerrors.Errorf(kerrors.KindCorruptIndex,
				"%s section [%d,%d) exceeds file length %d", s.name, s.off, end, len(r.data))
		}
	}
	return nil
}

func (r *V1Reader) u32(off int) uint32 { return binary.LittleEndian.Uint32(r.data[off : off+4]) }
func (r *V1Reader) u64(off int) uint64 { return binary.LittleEndian.Uint64(r.data[off : off+8]) }

// DomainOffset, DomainSize, CIDROffset, CIDRSize, GeoIPOffset,
// GeoIPSize, IPOffset, IPSize, PayloadOffset, PayloadSize, and the
// four count fields give matchers the section bounds without
// re-deriving header field offsets themselves.
func (r *V1Reader) DomainOffset() int  { return int(r.u32(56)) }
func (r *V1Reader) DomainSize() int    { return int(r.u32(60)) }
func (r *V1Reader) CIDROffset() int    { return int(r.u32(64)) }
func (r *V1Reader) CIDRSize() int      { return int(r.u32(68)) }
func (r *V1Reader) GeoIPOffset() int   { return int(r.u32(72)) }
func (r *V1Reader) GeoIPSize() int     { return int(r.u32(76)) }
func (r *V1Reader) IPOffset() int      { return int(r.u32(80)) }
func (r *V1Reader) IPSize() int        { return int(r.u32(84)) }
func (r *V1Reader) PayloadOffset() int { return int(r.u32(88)) }
func (r *V1Reader) PayloadSize() int   { return int(r.u32(92)) }

func (r *V1Reader) DomainCount() int { return int(r.u32(96)) }
func (r *V1Reader) CIDRCount() int   { return int(r.u32(100)) }
func (r *V1Reader) GeoIPCount() int  { return int(r.u32(104)) }
func (r *V1Reader) IPCount() int     { return int(r.u32(108)) }

// DomainSection returns the raw domain section bytes.
func (r *V1Reader) DomainSection() []byte {
	off, size := r.DomainOffset(), r.DomainSize()
	return r.data[off : off+size]
}

// CIDRSection returns the raw CIDR section bytes.
func (r *V1Reader) CIDRSection() []byte {
	off, size := r.CIDROffset(), r.CIDRSize()
	return r.data[off : off+size]
}

// GeoIPSection returns the raw GeoIP section bytes.
func (r *V1Reader) GeoIPSection() []byte {
	off, size := r.GeoIPOffset(), r.GeoIPSize()
	return r.data[off : off+size]
}

// IPSection returns the raw exact-IP section bytes.
func (r *V1Reader) IPSection() []byte {
	off, size := r.IPOffset(), r.IPSize()
	return r.data[off : off+size]
}

// Payload returns the raw payload heap (suffix domain strings).
func (r *V1Reader) Payload() []byte {
	off, size := r.PayloadOffset(), r.PayloadSize()
	return r.data[off : off+size]
}

// DomainExactEntries decodes the exact-match table from the domain
// section.
func (r *V1Reader) DomainExactEntries() []DecodedDomainExact {
	sec := r.DomainSection()
	count := int(binary.LittleEndian.Uint32(sec[0:4]))
	off := int(binary.LittleEndian.Uint32(sec[8:12]))

	out := make([]DecodedDomainExact, count)
	for i := range out {
		e := sec[off+i*sizeDomainExactEntry:]
		out[i] = DecodedDomainExact{
			Hash:   binary.LittleEndian.Uint64(e[0:8]),
			Target: e[8],
		}
	}
	return out
}

// DomainSuffixEntries decodes the hash-sorted suffix array and
// resolves each entry's text against the payload heap.
func (r *V1Reader) DomainSuffixEntries() []DecodedDomainSuffix {
	sec := r.DomainSection()
	count := int(binary.LittleEndian.Uint32(sec[4:8]))
	off := int(binary.LittleEndian.Uint32(sec[12:16]))
	payload := r.Payload()

	out := make([]DecodedDomainSuffix, count)
	for i := range out {
		e := sec[off+i*sizeDomainSuffixEntry:]
		hash := binary.LittleEndian.Uint64(e[0:8])
		target := e[8]
		payloadOff := binary.LittleEndian.Uint32(e[12:16])
		domainLen := binary.LittleEndian.Uint16(e[16:18])
		out[i] = DecodedDomainSuffix{
			Hash:   hash,
			Target: target,
			Text:   string(payload[payloadOff : payloadOff+uint32(domainLen)]),
		}
	}
	return out
}

// DecodedDomainExact is a decoded exact-match table entry.
type DecodedDomainExact struct {
	Hash   uint64
	Target uint8
}

// DecodedDomainSuffix is a decoded suffix-array entry with its text
// resolved from the payload heap.
type DecodedDomainSuffix struct {
	Hash   uint64
	Target uint8
	Text   string
}

// CIDRV4Entries decodes the IPv4 CIDR array.
func (r *V1Reader) CIDRV4Entries() []DecodedCIDRV4 {
	sec := r.CIDRSection()
	v4Count := int(binary.LittleEndian.Uint32(sec[0:4]))
	off := sizeCIDRIndexHeader

	out := make([]DecodedCIDRV4, v4Count)
	for i := range out {
		e := sec[off+i*sizeCIDRV4Entry:]
		var network [4]byte
		copy(network[:], e[0:4])
		out[i] = DecodedCIDRV4{Network: network, PrefixLen: e[4], Target: e[5]}
	}
	return out
}

// CIDRV6Entries decodes the IPv6 CIDR array.
func (r *V1Reader) CIDRV6Entries() []DecodedCIDRV6 {
	sec := r.CIDRSection()
	v4Count := int(binary.LittleEndian.Uint32(sec[0:4]))
	v6Count := int(binary.LittleEndian.Uint32(sec[4:8]))
	off := sizeCIDRIndexHeader + v4Count*sizeCIDRV4Entry

	out := make([]DecodedCIDRV6, v6Count)
	for i := range out {
		e := sec[off+i*sizeCIDRV6Entry:]
		var network [16]byte
		copy(network[:], e[0:16])
		out[i] = DecodedCIDRV6{Network: network, PrefixLen: e[16], Target: e[17]}
	}
	return out
}

// DecodedCIDRV4 is a decoded IPv4 CIDR entry. Network is in network
// byte order.
type DecodedCIDRV4 struct {
	Network   [4]byte
	PrefixLen uint8
	Target    uint8
}

// DecodedCIDRV6 is a decoded IPv6 CIDR entry.
type DecodedCIDRV6 struct {
	Network   [16]byte
	PrefixLen uint8
	Target    uint8
}

// GeoIPEntries decodes the packed GeoIP array.
func (r *V1Reader) GeoIPEntries() []DecodedGeoIP {
	sec := r.GeoIPSection()
	count := len(sec) / sizeGeoIPEntry
	out := make([]DecodedGeoIP, count)
	for i := range out {
		e := sec[i*sizeGeoIPEntry:]
		out[i] = DecodedGeoIP{Code: [2]byte{e[0], e[1]}, Target: e[2]}
	}
	return out
}

// DecodedGeoIP is a decoded GeoIP entry.
type DecodedGeoIP struct {
	Code   [2]byte
	Target uint8
}

// ExactIPV4Entries decodes the sorted exact-IPv4 array.
func (r *V1Reader) ExactIPV4Entries() []DecodedExactIPV4 {
	sec := r.IPSection()
	count := int(binary.LittleEndian.Uint32(sec[0:4]))
	off := sizeIPIndexHeader

	out := make([]DecodedExactIPV4, count)
	for i := range out {
		e := sec[off+i*sizeExactIPV4Entry:]
		var ip [4]byte
		copy(ip[:], e[0:4])
		out[i] = DecodedExactIPV4{IP: ip, Target: e[4]}
	}
	return out
}

// ExactIPV6Entries decodes the sorted exact-IPv6 array.
func (r *V1Reader) ExactIPV6Entries() []DecodedExactIPV6 {
	sec := r.IPSection()
	v4Count := int(binary.LittleEndian.Uint32(sec[0:4]))
	v6Count := int(binary.LittleEndian.Uint32(sec[4:8]))
	off := sizeIPIndexHeader + v4Count*sizeExactIPV4Entry

	out := make([]DecodedExactIPV6, v6Count)
	for i := range out {
		e := sec[off+i*sizeExactIPV6Entry:]
		var ip [16]byte
		copy(ip[:], e[0:16])
		out[i] = DecodedExactIPV6{IP: ip, Target: e[16]}
	}
	return out
}

// DecodedExactIPV4 is a decoded exact-IPv4 entry.
type DecodedExactIPV4 struct {
	IP     [4]byte
	Target uint8
}

// DecodedExactIPV6 is a decoded exact-IPv6 entry.
type DecodedExactIPV6 struct {
	IP     [16]byte
	Target uint8
}

// Timestamp returns the header's generation timestamp.
func (r *V1Reader) Timestamp() int64 { return int64(r.u64(16)) }
