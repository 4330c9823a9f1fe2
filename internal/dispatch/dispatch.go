// Package dispatch implements the event loop: the single blocking
// entry point that composes the socket primitives (internal/reactor),
// the transaction table and its state machine (internal/trx), and the
// length-prefix framing (internal/dnswire) into the translator's core
// relay behavior.
//
// The loop is single-threaded and cooperative by necessity: the
// transaction table and every in-flight socket are only ever touched
// from Run's own goroutine, so no locking is needed anywhere in this
// package. Its shape follows a classic accept/connect/send/receive
// readiness loop translated statement-by-statement onto
// internal/reactor's epoll primitives.
package dispatch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/rahra/utdns/internal/clock"
	"github.com/rahra/utdns/internal/dnsdiag"
	"github.com/rahra/utdns/internal/dnswire"
	"github.com/rahra/utdns/internal/pool"
	"github.com/rahra/utdns/internal/reactor"
	"github.com/rahra/utdns/internal/trx"
)

// Config carries everything the dispatcher needs to open its listener
// and begin relaying. Everything here is either required external
// configuration (listen address, upstream) or tunable resource limits
// named in the data model (MaxTrx, Timeout).
type Config struct {
	ListenAddr netip.AddrPort
	Upstream   netip.AddrPort
	MaxTrx     int
	Timeout    time.Duration

	// PollInterval bounds how long a single Wait call blocks. An
	// untimed wait would work just as well since any new activity
	// produces a wakeup, but a bounded poll lets context cancellation
	// be observed promptly and gives the stale sweep an upper bound on
	// latency even during silence. This can only make the sweep run
	// sooner, never later. Defaults to 1 second.
	PollInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// UpstreamSendBufferSizeBytes overrides SO_SNDBUF on each upstream
	// TCP socket. Zero leaves the OS default in place; a small value is
	// mainly useful in tests that need to force a partial write.
	UpstreamSendBufferSizeBytes int
}

func (c Config) validate() error {
	if !c.ListenAddr.IsValid() {
		return fmt.Errorf("%w: listen address is required", ErrConfigInvalid)
	}
	if !c.Upstream.IsValid() {
		return fmt.Errorf("%w: upstream address is required", ErrConfigInvalid)
	}
	if c.MaxTrx <= 0 {
		return fmt.Errorf("%w: max transactions must be positive", ErrConfigInvalid)
	}
	return nil
}

// Dispatcher is the event loop. It owns the UDP listener descriptor,
// the poller, and the transaction table, and is driven exclusively by
// its own Run goroutine — nothing else may touch the table or issue
// socket I/O concurrently with Run.
type Dispatcher struct {
	cfg    Config
	clk    clock.Clock
	logger *slog.Logger
	stats  *Stats

	table      *trx.Table
	poller     *reactor.Poller
	listenerFd int
	fdToSlot   map[int]int

	udpScratch []byte
	// framePool reduces per-query allocations for the length-prefixed
	// copy handed to trx.Slot.Allocate.
	framePool *pool.Pool[*[]byte]
}

// New opens the UDP listener and the poller, but does not start
// relaying; call Run to enter the event loop. Splitting construction
// from Run lets the caller (cmd/utdns) drop privileges in the gap
// between opening the listener and processing traffic.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	listenerFd, err := reactor.OpenUDPListener(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	poller, err := reactor.NewPoller()
	if err != nil {
		reactor.Close(listenerFd)
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	if err := poller.Add(listenerFd, reactor.InterestRead); err != nil {
		poller.Close()
		reactor.Close(listenerFd)
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	return &Dispatcher{
		cfg:        cfg,
		clk:        cfg.Clock,
		logger:     cfg.Logger,
		stats:      NewStats(),
		table:      trx.NewTable(cfg.MaxTrx),
		poller:     poller,
		listenerFd: listenerFd,
		fdToSlot:   make(map[int]int, cfg.MaxTrx),
		udpScratch: make([]byte, dnswire.MaxMessageSize),
		framePool: pool.New(func() *[]byte {
			b := make([]byte, dnswire.MaxMessageSize+dnswire.LengthPrefixSize)
			return &b
		}),
	}, nil
}

// ListenerFd exposes the bound listener descriptor so the caller can
// drop privileges (bind requires privilege on ports < 1024; the
// dispatcher itself never needs to know about uid/gid).
func (d *Dispatcher) ListenerFd() int {
	return d.listenerFd
}

// ListenerAddr returns the address the UDP listener is actually bound
// to, including the kernel-assigned port when the configured port was 0.
func (d *Dispatcher) ListenerAddr() (netip.AddrPort, error) {
	return reactor.LocalAddr(d.listenerFd)
}

// Stats returns the dispatcher's live counters for the admin surface.
func (d *Dispatcher) Stats() *Stats {
	return d.stats
}

// Close tears down every open descriptor: the listener, the poller,
// and any upstream connections still attached to in-flight slots.
func (d *Dispatcher) Close() {
	for fd := range d.fdToSlot {
		reactor.Close(fd)
	}
	d.poller.Close()
	reactor.Close(d.listenerFd)
}

// Run is the single blocking entry point: it terminates only when ctx
// is cancelled or a FatalIo error occurs.
func (d *Dispatcher) Run(ctx context.Context) error {
	events := make([]reactor.Event, 0, reactor.MaxEventsPerWait)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		now := d.clk.NowSeconds()
		d.reapStale(now)

		events, err := d.poller.Wait(d.cfg.PollInterval, events)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFatalIo, err)
		}

		for _, ev := range events {
			fd := int(ev.Fd)
			if fd == d.listenerFd {
				if ev.Readable {
					d.drainListener(d.clk.NowSeconds())
				}
				continue
			}

			idx, ok := d.fdToSlot[fd]
			if !ok {
				continue
			}
			slot := d.table.Slot(idx)

			if ev.Error {
				if slot.State == trx.StateSending {
					// A failed connect surfaces here; handleSendable reads
					// the pending socket error and classifies it.
					d.handleSendable(idx, slot)
					continue
				}
				d.failSlot(idx, slot, ErrUpstreamIoFailed)
				continue
			}

			switch slot.State {
			case trx.StateSending:
				if ev.Writable {
					d.handleSendable(idx, slot)
				}
			case trx.StateReceiving:
				if ev.Readable {
					d.handleReceivable(idx, slot)
				}
			}
		}
	}
}

// maxDatagramsPerWakeup bounds how many pending datagrams drainListener
// will accept in one wakeup, so a flood on the UDP listener cannot
// starve already-in-flight slots waiting on upstream readiness.
const maxDatagramsPerWakeup = 256

// minQueryLength is the DNS header size; shorter datagrams cannot be
// valid queries and are rejected.
const minQueryLength = 12

// dnsHeaderSize is minQueryLength under the name dnsdiag's offset
// arithmetic expects: the QNAME always begins right after it.
const dnsHeaderSize = minQueryLength

func (d *Dispatcher) drainListener(now int64) {
	for i := 0; i < maxDatagramsPerWakeup; i++ {
		n, client, err := reactor.RecvFrom(d.listenerFd, d.udpScratch)
		if errors.Is(err, reactor.ErrWouldBlock) {
			return
		}
		if err != nil {
			d.logger.Warn("udp listener recv failed", "error", err)
			return
		}
		d.acceptQuery(now, client, d.udpScratch[:n])
	}
}

func (d *Dispatcher) acceptQuery(now int64, client netip.AddrPort, payload []byte) {
	if len(payload) < minQueryLength {
		d.stats.recordMalformed()
		d.logger.Warn("dropping malformed datagram", "client", client, "len", len(payload), "error", ErrMalformed)
		return
	}

	idx := d.table.FindFree()
	if idx < 0 {
		d.stats.recordTableFull()
		d.logger.Warn("transaction table full, dropping datagram", "client", client, "error", ErrTableFull)
		return
	}

	framedPtr := d.framePool.Get()
	framed := (*framedPtr)[:len(payload)+dnswire.LengthPrefixSize]
	if _, err := dnswire.FrameForTCP(payload, framed); err != nil {
		d.framePool.Put(framedPtr)
		d.stats.recordMalformed()
		d.logger.Warn("dropping oversized datagram", "client", client, "error", err)
		return
	}

	fd, err := reactor.OpenTCPClient(d.cfg.Upstream)
	if err != nil && !errors.Is(err, reactor.ErrInProgress) {
		d.framePool.Put(framedPtr)
		d.stats.recordUpstreamConnFail()
		d.logger.Warn("upstream connect failed", "client", client, "error", fmt.Errorf("%w: %v", ErrUpstreamConnectFailed, err))
		return
	}

	if d.cfg.UpstreamSendBufferSizeBytes > 0 {
		if err := reactor.SetSendBufferSize(fd, d.cfg.UpstreamSendBufferSizeBytes); err != nil {
			d.logger.Warn("failed to set upstream send buffer size", "error", err)
		}
	}

	slot := d.table.Slot(idx)
	slot.Allocate(client, framed, fd, now)
	d.framePool.Put(framedPtr)
	d.fdToSlot[fd] = idx
	if err := d.poller.Add(fd, reactor.InterestWrite); err != nil {
		d.logger.Warn("failed to register upstream socket", "error", err)
		d.failSlot(idx, slot, ErrUpstreamConnectFailed)
		return
	}
	d.logQuery(client, payload)
	d.stats.recordAccepted()
}

// maxLoggedNameLength bounds the decoded QNAME kept for a log line; it
// has no bearing on relaying, which never inspects the payload.
const maxLoggedNameLength = 256

// logQuery emits a DEBUG-level line naming the query, using dnsdiag's
// diagnostics-only decoder. A malformed or truncated name simply logs
// as empty; decode errors here must never affect the relay path.
func (d *Dispatcher) logQuery(client netip.AddrPort, payload []byte) {
	if !d.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	name, consumed := dnsdiag.DecodeName(payload, dnsHeaderSize, maxLoggedNameLength)
	var qtype uint16
	if off := dnsHeaderSize + consumed; off+2 <= len(payload) {
		qtype = binary.BigEndian.Uint16(payload[off : off+2])
	}
	d.logger.Debug("query accepted", "client", client, "name", name, "qtype", dnsdiag.QTypeName(qtype))
}

// logResponse emits a DEBUG-level line naming the response's RCODE,
// read from the low nibble of the DNS header's flags byte.
func (d *Dispatcher) logResponse(client netip.AddrPort, payload []byte) {
	if !d.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if len(payload) < dnsHeaderSize {
		return
	}
	rcode := uint16(payload[3] & 0x0f)
	d.logger.Debug("response relayed", "client", client, "rcode", dnsdiag.RCodeName(rcode))
}

func (d *Dispatcher) handleSendable(idx int, slot *trx.Slot) {
	fd := slot.Upstream.(int)

	if err := reactor.TakeSocketError(fd); err != nil {
		d.logger.Warn("upstream connect failed", "error", fmt.Errorf("%w: %v", ErrUpstreamConnectFailed, err))
		d.closeSlot(idx, fd)
		d.stats.recordUpstreamConnFail()
		return
	}

	n, err := reactor.Send(fd, slot.Pending())
	if errors.Is(err, reactor.ErrWouldBlock) {
		return
	}
	if err != nil {
		d.logger.Warn("upstream send failed", "error", fmt.Errorf("%w: %v", ErrUpstreamIoFailed, err))
		d.closeSlot(idx, fd)
		d.stats.recordUpstreamIoFail()
		return
	}

	if slot.AdvanceSent(n) {
		slot.BeginReceiving()
		if err := d.poller.Modify(fd, reactor.InterestRead); err != nil {
			d.logger.Warn("failed to switch upstream socket to read interest", "error", err)
			d.closeSlot(idx, fd)
			d.stats.recordUpstreamIoFail()
		}
		return
	}
	d.stats.recordPartialSend()
}

func (d *Dispatcher) handleReceivable(idx int, slot *trx.Slot) {
	fd := slot.Upstream.(int)

	window := slot.RecvWindow()
	if len(window) == 0 {
		d.logger.Warn("upstream response exceeds buffer capacity", "error", ErrUpstreamIoFailed)
		d.closeSlot(idx, fd)
		d.stats.recordUpstreamIoFail()
		return
	}

	n, err := reactor.Recv(fd, window)
	if errors.Is(err, reactor.ErrWouldBlock) {
		return
	}
	if err != nil {
		d.logger.Warn("upstream recv failed", "error", fmt.Errorf("%w: %v", ErrUpstreamIoFailed, err))
		d.closeSlot(idx, fd)
		d.stats.recordUpstreamIoFail()
		return
	}
	if n == 0 {
		d.logger.Warn("upstream closed connection before response was complete", "error", ErrUpstreamIoFailed)
		d.closeSlot(idx, fd)
		d.stats.recordUpstreamIoFail()
		return
	}
	slot.AppendReceived(n)

	if !dnswire.TCPMessageComplete(slot.Buffer[:slot.BufferLen], slot.BufferLen) {
		return
	}

	d.poller.Remove(fd)
	reactor.Close(fd)
	delete(d.fdToSlot, fd)

	payload := slot.Buffer[dnswire.LengthPrefixSize:slot.BufferLen]
	d.logResponse(slot.ClientAddr, payload)
	if err := reactor.SendTo(d.listenerFd, payload, slot.ClientAddr); err != nil {
		d.logger.Warn("client reply failed", "client", slot.ClientAddr, "error", fmt.Errorf("%w: %v", ErrClientReplyFailed, err))
		d.stats.recordClientReplyFail()
	} else {
		d.stats.recordRelayed()
	}
	d.table.Release(idx)
}

// failSlot logs an already-classified error and tears down the slot.
func (d *Dispatcher) failSlot(idx int, slot *trx.Slot, kind error) {
	fd, ok := slot.Upstream.(int)
	d.logger.Warn("slot failed", "kind", kind)
	if errors.Is(kind, ErrUpstreamConnectFailed) {
		d.stats.recordUpstreamConnFail()
	} else {
		d.stats.recordUpstreamIoFail()
	}
	if ok {
		d.closeSlot(idx, fd)
	} else {
		d.table.Release(idx)
	}
}

func (d *Dispatcher) closeSlot(idx, fd int) {
	d.poller.Remove(fd)
	reactor.Close(fd)
	delete(d.fdToSlot, fd)
	d.table.Release(idx)
}

func (d *Dispatcher) reapStale(now int64) {
	timeoutSeconds := int64(d.cfg.Timeout / time.Second)
	for _, idx := range d.table.ReapStale(now, timeoutSeconds) {
		slot := d.table.Slot(idx)
		if fd, ok := slot.Upstream.(int); ok {
			d.poller.Remove(fd)
			reactor.Close(fd)
			delete(d.fdToSlot, fd)
		}
		d.table.Release(idx)
		d.stats.recordStaleReap()
	}
}
