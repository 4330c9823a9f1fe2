package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// Interest is the set of readiness conditions the caller wants to be
// woken for on a given descriptor.
type Interest uint32

const (
	InterestRead  Interest = unix.EPOLLIN
	InterestWrite Interest = unix.EPOLLOUT
)

// Event is one readiness notification returned from Wait.
type Event struct {
	Fd        int32
	Readable  bool
	Writable  bool
	Error     bool // POLLERR/POLLHUP: caller should TakeSocketError and tear down
}

// MaxEventsPerWait bounds how many ready descriptors a single Wait
// call can report; large enough to drain a full transaction table's
// worth of simultaneous upstream readiness in one wakeup.
const MaxEventsPerWait = 1024

// Poller wraps a single Linux epoll instance. It is not safe for
// concurrent use; the dispatcher drives it from its one event-loop
// goroutine, matching the original's single-threaded select() loop.
type Poller struct {
	epfd int
	buf  []unix.EpollEvent
}

// NewPoller creates a new epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: fd, buf: make([]unix.EpollEvent, MaxEventsPerWait)}, nil
}

// Close releases the underlying epoll fd.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

// Add registers fd for the given interest set.
func (p *Poller) Add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: uint32(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify changes the interest set for an already-registered fd. Used
// when a slot transitions SENDING->RECEIVING and the dispatcher no
// longer needs write-readiness on the upstream connection.
func (p *Poller) Modify(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: uint32(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters fd. Safe to call even if fd was never added;
// ENOENT is swallowed since the dispatcher calls this unconditionally
// on every teardown path.
func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Wait blocks until at least one descriptor is ready or timeout
// elapses, returning every ready descriptor. A negative timeout blocks
// indefinitely; the dispatcher instead always passes a bounded
// timeout so it can observe context cancellation and keep its
// stale-sweep latency bounded even during idle periods.
func (p *Poller) Wait(timeout time.Duration, out []Event) ([]Event, error) {
	ms := int(timeout.Milliseconds())
	n, err := unix.EpollWait(p.epfd, p.buf, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	events := out[:0]
	for i := 0; i < n; i++ {
		e := p.buf[i]
		events = append(events, Event{
			Fd:       e.Fd,
			Readable: e.Events&unix.EPOLLIN != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Error:    e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return events, nil
}
