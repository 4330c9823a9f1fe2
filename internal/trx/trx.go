// Package trx implements the transaction table and its per-slot state
// machine: a fixed capacity array of in-flight query states, each
// carrying everything needed to pair an upstream TCP response back to
// the UDP client that asked for it.
//
// The table is a flat array rather than a hash map or free-list by
// design: capacity is small (hundreds of slots), the constant factor
// of a linear scan is negligible at that size, and the array doubles
// as the enumerator the dispatcher's stale sweep walks.
package trx

import (
	"net/netip"
)

// State is one of the three live states a slot can occupy; a free
// slot always holds StateIdle.
type State int

const (
	// StateIdle marks a free slot (no upstream connection, no client to answer).
	StateIdle State = iota
	// StateSending means the upstream connection is being written to.
	StateSending
	// StateReceiving means the upstream response is being accumulated.
	StateReceiving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSending:
		return "SENDING"
	case StateReceiving:
		return "RECEIVING"
	default:
		return "UNKNOWN"
	}
}

// BufferCapacity is sized for the largest TCP-framed DNS message: a
// 2-byte length prefix plus a 65535-byte payload.
const BufferCapacity = 65535 + 2

// Slot is one entry of the transaction table. Upstream is nil exactly
// when the slot is free: an explicit State field plus an owned handle,
// rather than overloading a raw descriptor integer as the ownership
// marker.
type Slot struct {
	ClientAddr netip.AddrPort // immutable from allocation to release
	StartedAt  int64          // clock seconds at allocation
	State      State
	Buffer     [BufferCapacity]byte
	BufferLen  int // meaningful bytes from Buffer[0:BufferLen]

	// Upstream is the slot's owned upstream connection handle. Its
	// concrete type is supplied by the dispatcher (internal/reactor);
	// trx only needs to know whether one is attached.
	Upstream any

	// sent tracks how many bytes of Buffer[0:BufferLen] have already
	// been written to Upstream while SENDING: a cursor rather than a
	// memmove, so Pending() returns a view over the unsent tail
	// without moving any bytes.
	sent int
}

// Free reports whether the slot holds no in-flight transaction.
func (s *Slot) Free() bool {
	return s.State == StateIdle && s.Upstream == nil
}

// Reset returns the slot to its free-slot sentinel values. Called on
// every destruction path: successful relay, per-slot error, or
// stale-sweep reap.
func (s *Slot) Reset() {
	s.State = StateIdle
	s.Upstream = nil
	s.BufferLen = 0
	s.sent = 0
	s.ClientAddr = netip.AddrPort{}
	s.StartedAt = 0
}

// Allocate transitions a free slot to SENDING, copying the framed
// query (length prefix + payload, as produced by dnswire.FrameForTCP)
// into the slot's buffer and remembering the client to reply to.
func (s *Slot) Allocate(client netip.AddrPort, framed []byte, upstream any, now int64) {
	s.ClientAddr = client
	s.StartedAt = now
	s.State = StateSending
	s.BufferLen = copy(s.Buffer[:], framed)
	s.sent = 0
	s.Upstream = upstream
}

// Pending returns the unsent tail of the send buffer: Buffer[sent:BufferLen].
func (s *Slot) Pending() []byte {
	return s.Buffer[s.sent:s.BufferLen]
}

// AdvanceSent records that n more bytes were written to Upstream.
// Returns true once the entire buffer has been sent, at which point
// the caller transitions the slot to RECEIVING.
func (s *Slot) AdvanceSent(n int) bool {
	s.sent += n
	return s.sent >= s.BufferLen
}

// BeginReceiving resets the buffer for response accumulation and
// moves the slot to RECEIVING. Called once the full query has been
// written to the upstream connection.
func (s *Slot) BeginReceiving() {
	s.State = StateReceiving
	s.BufferLen = 0
	s.sent = 0
}

// AppendReceived appends n freshly-read bytes (already placed at
// Buffer[BufferLen:] by the caller) to the accumulated response.
func (s *Slot) AppendReceived(n int) {
	s.BufferLen += n
}

// RecvWindow returns the writable tail of Buffer for the next Recv
// call: Buffer[BufferLen:].
func (s *Slot) RecvWindow() []byte {
	return s.Buffer[s.BufferLen:]
}

// Stale reports whether the slot has outlived timeoutSeconds as of now.
func (s *Slot) Stale(now, timeoutSeconds int64) bool {
	return !s.Free() && s.StartedAt < now-timeoutSeconds
}

// Table is the fixed-capacity transaction table.
type Table struct {
	slots []Slot
}

// NewTable allocates a table with exactly capacity slots, all free.
func NewTable(capacity int) *Table {
	return &Table{slots: make([]Slot, capacity)}
}

// Len returns the table's fixed capacity.
func (t *Table) Len() int {
	return len(t.slots)
}

// Slot returns a pointer to the i-th slot for direct mutation by the dispatcher.
func (t *Table) Slot(i int) *Slot {
	return &t.slots[i]
}

// FindFree performs a linear scan for the first IDLE slot and returns
// its index, or -1 if the table is full. The returned slot's state is
// left at StateIdle (the caller allocates into it via Slot.Allocate).
func (t *Table) FindFree() int {
	for i := range t.slots {
		if t.slots[i].Free() {
			return i
		}
	}
	return -1
}

// ReapStale finds every slot older than timeoutSeconds past its
// StartedAt and returns their indices. It does not reset them: the
// dispatcher closes the associated upstream connections and then
// calls Release for each index.
func (t *Table) ReapStale(now, timeoutSeconds int64) []int {
	var reaped []int
	for i := range t.slots {
		if t.slots[i].Stale(now, timeoutSeconds) {
			reaped = append(reaped, i)
		}
	}
	return reaped
}

// Release resets slot i to free, without touching its owned upstream
// connection — callers must close Upstream themselves first since
// Table has no knowledge of the connection type.
func (t *Table) Release(i int) {
	t.slots[i].Reset()
}
