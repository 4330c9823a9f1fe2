// Package dnswire implements the DNS-over-TCP framing defined by
// RFC 1035 section 4.2.2: every message on the wire is preceded by a
// two-byte big-endian length field. These functions are pure and
// allocation-free by design; nothing here inspects the DNS payload
// itself (see internal/dnsdiag for the diagnostics-only decoder).
package dnswire

import (
	"encoding/binary"
	"errors"
)

// LengthPrefixSize is the width of the RFC 1035 §4.2.2 length field.
const LengthPrefixSize = 2

// MaxMessageSize is the largest payload a 16-bit length prefix can frame.
const MaxMessageSize = 65535

// ErrPayloadTooLarge is returned by FrameForTCP when the payload exceeds
// MaxMessageSize and therefore cannot be represented in a 16-bit prefix.
var ErrPayloadTooLarge = errors.New("dnswire: payload exceeds 65535 bytes")

// FrameForTCP writes the 2-byte big-endian length prefix followed by a
// copy of payload into out, returning the total number of bytes
// written (len(payload) + LengthPrefixSize). len(out) must be at least
// that many bytes; FrameForTCP does not allocate.
func FrameForTCP(payload []byte, out []byte) (int, error) {
	if len(payload) > MaxMessageSize {
		return 0, ErrPayloadTooLarge
	}
	total := len(payload) + LengthPrefixSize
	if len(out) < total {
		return 0, errors.New("dnswire: out buffer too small")
	}
	binary.BigEndian.PutUint16(out[0:LengthPrefixSize], uint16(len(payload))) //nolint:gosec // bounded above
	copy(out[LengthPrefixSize:total], payload)
	return total, nil
}

// TCPMessageComplete reports whether the first n bytes of buf hold a
// complete length-prefixed DNS message: n >= 2 and n-2 equals the
// big-endian uint16 at buf[0:2]. Used by the receive path to decide
// when to stop accumulating bytes from the upstream TCP connection.
func TCPMessageComplete(buf []byte, n int) bool {
	if n < LengthPrefixSize || len(buf) < LengthPrefixSize {
		return false
	}
	want := binary.BigEndian.Uint16(buf[0:LengthPrefixSize])
	return n-LengthPrefixSize == int(want)
}

// DeclaredLength reads the length prefix out of buf without validating
// completeness. Callers must ensure len(buf) >= LengthPrefixSize.
func DeclaredLength(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf[0:LengthPrefixSize])
}
