package dnswire_test

import (
	"testing"

	"github.com/rahra/utdns/internal/dnswire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameForTCP_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 30, 512, 65535} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i)
		}
		out := make([]byte, n+dnswire.LengthPrefixSize)
		written, err := dnswire.FrameForTCP(payload, out)
		require.NoError(t, err)
		assert.Equal(t, n+dnswire.LengthPrefixSize, written)
		assert.True(t, dnswire.TCPMessageComplete(out, written))
		assert.Equal(t, payload, out[dnswire.LengthPrefixSize:written])
	}
}

func TestFrameForTCP_RejectsOversized(t *testing.T) {
	payload := make([]byte, dnswire.MaxMessageSize+1)
	out := make([]byte, len(payload)+2)
	_, err := dnswire.FrameForTCP(payload, out)
	assert.ErrorIs(t, err, dnswire.ErrPayloadTooLarge)
}

func TestTCPMessageComplete(t *testing.T) {
	buf := make([]byte, 10)
	buf[0], buf[1] = 0, 5 // declares 5 bytes of body

	assert.False(t, dnswire.TCPMessageComplete(buf, 0))
	assert.False(t, dnswire.TCPMessageComplete(buf, 1))
	assert.False(t, dnswire.TCPMessageComplete(buf, 6)) // only 4 bytes of body so far
	assert.True(t, dnswire.TCPMessageComplete(buf, 7))  // 2 + 5
}
