package dispatch

import "sync/atomic"

// Stats collects dispatcher counters. All methods are safe for
// concurrent use so the admin surface (internal/admin) can snapshot
// them from a separate goroutine while the dispatcher's single loop
// keeps mutating them.
type Stats struct {
	queriesAccepted   atomic.Uint64
	responsesRelayed  atomic.Uint64
	tableFullDrops    atomic.Uint64
	malformedDrops    atomic.Uint64
	upstreamConnFails atomic.Uint64
	upstreamIoFails   atomic.Uint64
	clientReplyFails  atomic.Uint64
	staleReaps        atomic.Uint64
	partialSends      atomic.Uint64
}

// NewStats returns a zeroed counter set.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) recordAccepted()         { s.queriesAccepted.Add(1) }
func (s *Stats) recordRelayed()          { s.responsesRelayed.Add(1) }
func (s *Stats) recordTableFull()        { s.tableFullDrops.Add(1) }
func (s *Stats) recordMalformed()        { s.malformedDrops.Add(1) }
func (s *Stats) recordUpstreamConnFail() { s.upstreamConnFails.Add(1) }
func (s *Stats) recordUpstreamIoFail()   { s.upstreamIoFails.Add(1) }
func (s *Stats) recordClientReplyFail()  { s.clientReplyFails.Add(1) }
func (s *Stats) recordStaleReap()        { s.staleReaps.Add(1) }
func (s *Stats) recordPartialSend()      { s.partialSends.Add(1) }

// Snapshot is a point-in-time read of every counter, suitable for JSON
// encoding by the admin surface's /stats endpoint.
type Snapshot struct {
	QueriesAccepted   uint64 `json:"queries_accepted"`
	ResponsesRelayed  uint64 `json:"responses_relayed"`
	TableFullDrops    uint64 `json:"table_full_drops"`
	MalformedDrops    uint64 `json:"malformed_drops"`
	UpstreamConnFails uint64 `json:"upstream_connect_failures"`
	UpstreamIoFails   uint64 `json:"upstream_io_failures"`
	ClientReplyFails  uint64 `json:"client_reply_failures"`
	StaleReaps        uint64 `json:"stale_reaps"`
	PartialSends      uint64 `json:"partial_sends"`
}

// Snapshot returns the current value of every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		QueriesAccepted:   s.queriesAccepted.Load(),
		ResponsesRelayed:  s.responsesRelayed.Load(),
		TableFullDrops:    s.tableFullDrops.Load(),
		MalformedDrops:    s.malformedDrops.Load(),
		UpstreamConnFails: s.upstreamConnFails.Load(),
		UpstreamIoFails:   s.upstreamIoFails.Load(),
		ClientReplyFails:  s.clientReplyFails.Load(),
		StaleReaps:        s.staleReaps.Load(),
		PartialSends:      s.partialSends.Load(),
	}
}
