// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package container

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestHeaderSize(t *testing.T) {
	assert.Equal(t, V1HeaderSize, int(unsafe.Sizeof(V1Header{})))
}

func TestEntrySizes(t *testing.T) {
	assert.Equal(t, 16, int(unsafe.Sizeof(DomainExactEntry{})))
	assert.Equal(t, 24, int(unsafe.Sizeof(DomainSuffixEntry{})))
	assert.Equal(t, 8, int(unsafe.Sizeof(CIDRV4Entry{})))
	assert.Equal(t, 24, int(unsafe.Sizeof(CIDRV6Entry{})))
	assert.Equal(t, 4, int(unsafe.Sizeof(GeoIPEntry{})))
	assert.Equal(t, 8, int(unsafe.Sizeof(ExactIPV4Entry{})))
	assert.Equal(t, 24, int(unsafe.Sizeof(ExactIPV6Entry{})))
}

func TestFNV1aHash(t *testing.T) {
	assert.NotEqual(t, uint64(0), FNV1a64([]byte("")))
	assert.NotEqual(t, FNV1a64([]byte("hello")), FNV1a64([]byte("world")))
	assert.Equal(t, FNV1a64([]byte("test")), FNV1a64([]byte("test")))
}
