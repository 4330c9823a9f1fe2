package trx_test

import (
	"net/netip"
	"testing"

	"github.com/rahra/utdns/internal/trx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func client(t *testing.T, addr string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(addr)
	require.NoError(t, err)
	return ap
}

func TestTable_FindFree_AllIdleReturnsFirst(t *testing.T) {
	tab := trx.NewTable(4)
	assert.Equal(t, 0, tab.FindFree())
}

func TestTable_FindFree_SkipsAllocatedSlots(t *testing.T) {
	tab := trx.NewTable(2)
	tab.Slot(0).Allocate(client(t, "127.0.0.1:5000"), []byte{0, 1, 0xff}, "upstream-handle", 100)

	assert.Equal(t, 1, tab.FindFree())
}

func TestTable_FindFree_ReturnsNegativeOneWhenFull(t *testing.T) {
	tab := trx.NewTable(1)
	tab.Slot(0).Allocate(client(t, "127.0.0.1:5000"), []byte{0, 1, 0xff}, "upstream-handle", 100)

	assert.Equal(t, -1, tab.FindFree())
}

func TestSlot_AllocateSetsSendingState(t *testing.T) {
	tab := trx.NewTable(1)
	s := tab.Slot(0)
	framed := []byte{0, 3, 0xaa, 0xbb, 0xcc}
	s.Allocate(client(t, "10.0.0.1:1234"), framed, "conn", 42)

	assert.Equal(t, trx.StateSending, s.State)
	assert.False(t, s.Free())
	assert.Equal(t, int64(42), s.StartedAt)
	assert.Equal(t, framed, s.Buffer[:s.BufferLen])
	assert.Equal(t, framed, s.Pending())
}

func TestSlot_AdvanceSentPartialThenComplete(t *testing.T) {
	tab := trx.NewTable(1)
	s := tab.Slot(0)
	framed := []byte{0, 3, 0xaa, 0xbb, 0xcc}
	s.Allocate(client(t, "10.0.0.1:1234"), framed, "conn", 0)

	assert.False(t, s.AdvanceSent(2))
	assert.Equal(t, framed[2:], s.Pending())

	assert.True(t, s.AdvanceSent(3))
	assert.Empty(t, s.Pending())
}

func TestSlot_BeginReceivingResetsBufferKeepsIdentity(t *testing.T) {
	tab := trx.NewTable(1)
	s := tab.Slot(0)
	c := client(t, "10.0.0.1:1234")
	s.Allocate(c, []byte{0, 1, 0x2a}, "conn", 7)
	s.AdvanceSent(3)

	s.BeginReceiving()

	assert.Equal(t, trx.StateReceiving, s.State)
	assert.Equal(t, 0, s.BufferLen)
	assert.Equal(t, c, s.ClientAddr)
	assert.Equal(t, int64(7), s.StartedAt)
}

func TestSlot_AppendReceivedGrowsBufferLen(t *testing.T) {
	tab := trx.NewTable(1)
	s := tab.Slot(0)
	s.Allocate(client(t, "10.0.0.1:1234"), []byte{0, 1, 0x2a}, "conn", 0)
	s.BeginReceiving()

	window := s.RecvWindow()
	copy(window, []byte{0, 2, 0xbe, 0xef})
	s.AppendReceived(4)

	assert.Equal(t, 4, s.BufferLen)
	assert.Equal(t, []byte{0, 2, 0xbe, 0xef}, s.Buffer[:4])
}

func TestSlot_ResetReturnsToFreeSentinel(t *testing.T) {
	tab := trx.NewTable(1)
	s := tab.Slot(0)
	s.Allocate(client(t, "10.0.0.1:1234"), []byte{0, 1, 0x2a}, "conn", 9)

	s.Reset()

	assert.True(t, s.Free())
	assert.Equal(t, trx.StateIdle, s.State)
	assert.Nil(t, s.Upstream)
	assert.Equal(t, 0, s.BufferLen)
	assert.Equal(t, netip.AddrPort{}, s.ClientAddr)
}

func TestTable_ReapStale_OnlyPastTimeout(t *testing.T) {
	tab := trx.NewTable(3)
	tab.Slot(0).Allocate(client(t, "127.0.0.1:1"), []byte{0, 0}, "a", 0)  // started at t=0
	tab.Slot(1).Allocate(client(t, "127.0.0.1:2"), []byte{0, 0}, "b", 5)  // started at t=5
	// slot 2 stays idle

	reaped := tab.ReapStale(11, 10) // timeout=10: only slot 0 (0 < 11-10=1) is stale
	assert.Equal(t, []int{0}, reaped)
}

func TestTable_ReapStale_NoneWhenFresh(t *testing.T) {
	tab := trx.NewTable(2)
	tab.Slot(0).Allocate(client(t, "127.0.0.1:1"), []byte{0, 0}, "a", 10)

	reaped := tab.ReapStale(12, 10)
	assert.Empty(t, reaped)
}

func TestTable_Release_FreesSlotForReuse(t *testing.T) {
	tab := trx.NewTable(1)
	tab.Slot(0).Allocate(client(t, "127.0.0.1:1"), []byte{0, 0}, "a", 0)
	require.Equal(t, -1, tab.FindFree())

	tab.Release(0)

	assert.Equal(t, 0, tab.FindFree())
}

func TestSlot_StateString(t *testing.T) {
	assert.Equal(t, "IDLE", trx.StateIdle.String())
	assert.Equal(t, "SENDING", trx.StateSending.String())
	assert.Equal(t, "RECEIVING", trx.StateReceiving.String())
}
