// Package clock provides a mockable source of "now" for coarse,
// second-granularity timeouts. No timezone dependence: callers only
// ever see an integer count of seconds suitable for comparing against
// a deadline.
package clock

import "time"

// Clock produces the current time as whole seconds. Implementations
// need not be monotonic in the wall-clock sense, only non-decreasing
// under normal operation, which is all the transaction table's
// stale-sweep arithmetic requires.
type Clock interface {
	NowSeconds() int64
}

// Real is the production Clock, backed by time.Now().
type Real struct{}

// NowSeconds returns the current Unix time in seconds.
func (Real) NowSeconds() int64 {
	return time.Now().Unix()
}

// Mock is a test Clock with a controllable, explicitly-advanced value.
// Zero value starts at second 0.
type Mock struct {
	seconds int64
}

// NewMock creates a Mock starting at the given second count.
func NewMock(start int64) *Mock {
	return &Mock{seconds: start}
}

// NowSeconds returns the current mock time.
func (m *Mock) NowSeconds() int64 {
	return m.seconds
}

// Advance moves the mock clock forward by delta seconds (delta may be
// negative only for test setups that intentionally rewind; production
// code never does this).
func (m *Mock) Advance(delta int64) {
	m.seconds += delta
}

// Set pins the mock clock to an explicit value.
func (m *Mock) Set(seconds int64) {
	m.seconds = seconds
}
