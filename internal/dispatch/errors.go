package dispatch

import "errors"

// Sentinel error kinds: fatal kinds abort the process, per-slot kinds
// only release a slot and log, and the two admission-control kinds
// drop a datagram without ever allocating a slot. Modeled as wrapped
// sentinels (errors.Is-comparable) rather than an error-code enum.
var (
	// ErrConfigInvalid means the supplied configuration could not be
	// turned into a running listener (bad upstream address, etc).
	ErrConfigInvalid = errors.New("dispatch: invalid configuration")

	// ErrBindFailed means the UDP listener could not be created/bound.
	ErrBindFailed = errors.New("dispatch: failed to bind udp listener")

	// ErrPrivilegeDropFailed means setuid/setgid to the unprivileged
	// identity failed after the listener was opened.
	ErrPrivilegeDropFailed = errors.New("dispatch: failed to drop privileges")

	// ErrUpstreamConnectFailed is a per-slot error: the non-blocking
	// connect to the upstream resolver failed or was refused.
	ErrUpstreamConnectFailed = errors.New("dispatch: upstream connect failed")

	// ErrUpstreamIoFailed is a per-slot error: a send/recv on the
	// upstream TCP connection failed for a reason other than WouldBlock.
	ErrUpstreamIoFailed = errors.New("dispatch: upstream i/o failed")

	// ErrClientReplyFailed is a per-slot error: the final send_to back
	// to the client's UDP endpoint failed. The slot is released anyway.
	ErrClientReplyFailed = errors.New("dispatch: client reply failed")

	// ErrTableFull means no free slot was available for an incoming
	// datagram; the datagram is dropped without allocating anything.
	ErrTableFull = errors.New("dispatch: transaction table full")

	// ErrMalformed means an incoming datagram was shorter than the
	// 12-byte DNS header minimum; dropped without allocating a slot.
	ErrMalformed = errors.New("dispatch: malformed datagram")

	// ErrFatalIo means the readiness wait itself failed; this
	// terminates the dispatcher's Run loop.
	ErrFatalIo = errors.New("dispatch: fatal i/o error in readiness wait")
)
