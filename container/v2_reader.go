// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package container

import (
	"bytes"
	"encoding/binary"

	kerrors "grimm.is/k2rule/internal/errors"
	"grimm.is/k2rule/rule"
)

// V2Slice is a decoded slice descriptor plus its payload bytes, ready
// for a matcher to interpret according to Type.
type V2Slice struct {
	Type   SliceType
	Target rule.Target
	Data   []byte
	Count  int
}

// V2Reader exposes the decoded header and ordered slice list of a
// schema-V2 container.
type V2Reader struct {
	data     []byte
	fallback rule.Target
	slices   []V2Slice
}

// OpenV2 validates data as a schema-V2 container and decodes its
// slice index.
func OpenV2(data []byte) (*V2Reader, error) {
	if len(data) < V2HeaderSize {
		return nil, kerrors.Errorf(kerrors.KindMalformedContainer,
			"v2 header too short: have %d bytes, want at least %d", len(data), V2HeaderSize)
	}
	if !bytes.Equal(data[0:8], V2Magic[:]) {
		return nil, kerrors.New(kerrors.KindMalformedContainer, "bad v2 magic")
	}

	le := binary.LittleEndian
	if version := le.Uint32(data[8:12]); version > V2FormatVersion {
		return nil, kerrors.Errorf(kerrors.KindMalformedContainer, "unsupported v2 version %d", version)
	}

	sliceCount := int(le.Uint32(data[12:16]))
	indexEnd := V2HeaderSize + sliceCount*V2SliceEntrySize
	if indexEnd > len(data) {
		return nil, kerrors.Errorf(kerrors.KindCorruptIndex,
			"slice index [0,%d) exceeds file length %d", indexEnd, len(data))
	}

	slices := make([]V2Slice, sliceCount)
	for i := 0; i < sliceCount; i++ {
		e := data[V2HeaderSize+i*V2SliceEntrySize:]
		typ := SliceType(e[0])
		target := e[1]
		offset := le.Uint32(e[4:8])
		size := le.Uint32(e[8:12])
		count := le.Uint32(e[12:16])

		end := uint64(offset) + uint64(size)
		if end > uint64(len(data)) {
			return nil, kerrors.Errorf(kerrors.KindCorruptIndex,
				"slice %d data [%d,%d) exceeds file length %d", i, offset, end, len(data))
		}

		slices[i] = V2Slice{
			Type:   typ,
			Target: rule.Target(target),
			Data:   data[offset : offset+size],
			Count:  int(count),
		}
	}

	return &V2Reader{
		data:     data,
		fallback: rule.Target(data[16]),
		slices:   slices,
	}, nil
}

// Fallback returns the container-level fallback Target.
func (r *V2Reader) Fallback() rule.Target { return r.fallback }

// SliceCount returns the number of ordered slices.
func (r *V2Reader) SliceCount() int { return len(r.slices) }

// Slices returns the ordered slice list; index i is consulted before
// index i+1.
func (r *V2Reader) Slices() []V2Slice { return r.slices }

// Timestamp returns the header's generation timestamp.
func (r *V2Reader) Timestamp() int64 {
	return int64(binary.LittleEndian.Uint64(r.data[24:32]))
}
