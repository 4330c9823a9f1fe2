package dnsdiag_test

import (
	"testing"

	"github.com/rahra/utdns/internal/dnsdiag"
	"github.com/stretchr/testify/assert"
)

func TestDecodeName_Uncompressed(t *testing.T) {
	// 3"www" 7"example" 3"com" 0
	msg := []byte{3, 'w', 'w', 'w', 7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}
	name, n := dnsdiag.DecodeName(msg, 0, 256)
	assert.Equal(t, "www.example.com", name)
	assert.Equal(t, len(msg), n)
}

func TestDecodeName_CompressedPointerEmitsPlaceholderAndStops(t *testing.T) {
	// 3"abc" then a 2-byte pointer 0xc0 0x0c
	msg := []byte{3, 'a', 'b', 'c', 0xc0, 0x0c, 3, 'd', 'e', 'f', 0}
	name, n := dnsdiag.DecodeName(msg, 0, 256)
	assert.Equal(t, "abc._", name)
	assert.Equal(t, 6, n) // "abc" label (4 bytes) + 2-byte pointer; trailing bytes untouched
}

func TestDecodeName_BinaryLabel(t *testing.T) {
	// tag 0x41 (binary, top bits 01), bitcount 24 -> 3 data bytes, then root.
	msg := []byte{0x41, 24, 0x01, 0x02, 0x03, 0}
	name, n := dnsdiag.DecodeName(msg, 0, 256)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, []byte(name))
}

func TestDecodeName_BinaryLabelZeroBitcountMeans256(t *testing.T) {
	data := make([]byte, 32) // ceil(256/8) = 32
	for i := range data {
		data[i] = byte(i + 1)
	}
	msg := append([]byte{0x41, 0}, data...)
	msg = append(msg, 0) // root terminator
	name, n := dnsdiag.DecodeName(msg, 0, 1024)
	assert.Equal(t, len(msg), n)
	assert.Equal(t, data, []byte(name))
}

func TestDecodeName_TruncatesToMaxOut(t *testing.T) {
	msg := []byte{5, 'h', 'e', 'l', 'l', 'o', 0}
	name, _ := dnsdiag.DecodeName(msg, 0, 4) // budget = 3 bytes
	assert.Equal(t, "hel", name)
}

func TestDecodeName_TruncatedMessageDoesNotPanic(t *testing.T) {
	msg := []byte{0x20} // claims a 32-byte uncompressed label, but buffer ends immediately
	assert.NotPanics(t, func() {
		name, n := dnsdiag.DecodeName(msg, 0, 256)
		assert.Empty(t, name)
		assert.Equal(t, 1, n)
	})
}

func TestQTypeName(t *testing.T) {
	assert.Equal(t, "A", dnsdiag.QTypeName(1))
	assert.Equal(t, "AAAA", dnsdiag.QTypeName(28))
	assert.Equal(t, "ANY", dnsdiag.QTypeName(255))
	assert.Equal(t, "(tbd)", dnsdiag.QTypeName(9999))
}

func TestRCodeName(t *testing.T) {
	assert.Equal(t, "NOERROR", dnsdiag.RCodeName(0))
	assert.Equal(t, "REFUSED", dnsdiag.RCodeName(5))
	assert.Equal(t, "", dnsdiag.RCodeName(99))
}
