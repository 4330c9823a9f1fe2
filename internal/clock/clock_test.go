package clock_test

import (
	"testing"

	"github.com/rahra/utdns/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestMock_AdvanceAndSet(t *testing.T) {
	m := clock.NewMock(100)
	assert.EqualValues(t, 100, m.NowSeconds())

	m.Advance(5)
	assert.EqualValues(t, 105, m.NowSeconds())

	m.Set(0)
	assert.EqualValues(t, 0, m.NowSeconds())
}

func TestReal_NowSecondsIsPositive(t *testing.T) {
	var c clock.Real
	assert.Greater(t, c.NowSeconds(), int64(0))
}
