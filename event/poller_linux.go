//go:build linux

package event

import (
	"errors"
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// maxFDLimit bounds the direct-indexed descriptor table.
const maxFDLimit = 100000000

// Epoll is a level-triggered Poller on Linux epoll, with an eventfd for
// wake-ups. Wake is safe for concurrent use; the other methods belong to
// the loop's goroutine.
type Epoll struct { // betteralign:ignore
	_        [0]func()
	eventBuf [256]unix.EpollEvent
	conns    []*Conn
	wakeBuf  [8]byte
	epfd     int
	wakefd   int
	closed   bool
}

var _ Poller = (*Epoll)(nil)

// NewEpoll creates the epoll instance and its wake-up eventfd.
func NewEpoll() (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return &Epoll{
		epfd:   epfd,
		wakefd: wakefd,
		conns:  make([]*Conn, 1024),
	}, nil
}

// Add starts, or changes, monitoring of c for events. Adding a Conn whose
// descriptor belongs to a different registered Conn fails.
func (p *Epoll) Add(c *Conn, events IOEvents) error {
	if p.closed {
		return ErrPollerClosed
	}
	if c.FD < 0 || c.FD >= maxFDLimit || c.FD == p.wakefd {
		return unix.EBADF
	}

	if c.FD >= len(p.conns) {
		conns := make([]*Conn, min(c.FD*2+1, maxFDLimit))
		copy(conns, p.conns)
		p.conns = conns
	}

	op := unix.EPOLL_CTL_ADD
	if cur := p.conns[c.FD]; cur != nil {
		if cur != c {
			return ErrFDAlreadyRegistered
		}
		op = unix.EPOLL_CTL_MOD
	}

	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(c.FD)}
	if err := unix.EpollCtl(p.epfd, op, c.FD, &ev); err != nil {
		return err
	}

	p.conns[c.FD] = c
	c.events = events
	return nil
}

// Del stops monitoring c. Events of c already posted stay posted.
func (p *Epoll) Del(c *Conn) error {
	if p.closed {
		return ErrPollerClosed
	}
	if c.FD < 0 || c.FD >= len(p.conns) || p.conns[c.FD] != c {
		return ErrFDNotRegistered
	}

	p.conns[c.FD] = nil
	c.events = 0

	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, c.FD, nil)
}

// Poll waits for readiness, rounding timeout up to whole milliseconds.
// An interrupted wait returns no error.
func (p *Epoll) Poll(timeout time.Duration, posted *PostedQueues) error {
	if p.closed {
		return ErrPollerClosed
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], epollTimeout(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return err
	}

	p.dispatchEvents(n, posted)

	return nil
}

func (p *Epoll) dispatchEvents(n int, posted *PostedQueues) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		revents := p.eventBuf[i].Events

		if fd == p.wakefd {
			p.drainWakeup()
			continue
		}

		if fd < 0 || fd >= len(p.conns) {
			continue
		}
		c := p.conns[fd]
		if c == nil {
			continue
		}

		// errors and hangups wake both directions, the handlers see them on I/O
		if revents&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			revents |= unix.EPOLLIN | unix.EPOLLOUT
		}

		var ready IOEvents
		if revents&unix.EPOLLIN != 0 {
			ready |= EventRead
		}
		if revents&unix.EPOLLOUT != 0 {
			ready |= EventWrite
		}
		readyConn(posted, c, ready&c.events)
	}
}

// Wake writes to the eventfd. It is safe for concurrent use.
func (p *Epoll) Wake() error {
	one := uint64(1)
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(p.wakefd, buf)
	if errors.Is(err, unix.EAGAIN) {
		// counter saturated, a wake-up is pending regardless
		return nil
	}
	return err
}

func (p *Epoll) drainWakeup() {
	for {
		if _, err := unix.Read(p.wakefd, p.wakeBuf[:]); err != nil {
			return
		}
	}
}

// Close releases the epoll instance and eventfd.
func (p *Epoll) Close() error {
	if p.closed {
		return ErrPollerClosed
	}
	p.closed = true
	p.conns = nil
	return errors.Join(unix.Close(p.epfd), unix.Close(p.wakefd))
}

// epollTimeout converts timeout to the milliseconds epoll_wait takes, -1
// for none. The kernel reads a C int, so long waits are capped.
func epollTimeout(timeout time.Duration) int {
	switch {
	case timeout < 0:
		return -1
	case timeout >= math.MaxInt32*time.Millisecond:
		return math.MaxInt32
	default:
		return int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
}

func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

func newDefaultPoller() (Poller, error) {
	return NewEpoll()
}
