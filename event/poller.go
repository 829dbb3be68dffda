package event

import (
	"errors"
	"time"
)

// IOEvents is a set of readiness directions.
type IOEvents uint32

const (
	// EventRead indicates the descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the descriptor is ready for writing.
	EventWrite
)

var (
	ErrFDAlreadyRegistered = errors.New("event: fd already registered")
	ErrFDNotRegistered     = errors.New("event: fd not registered")
	ErrPollerClosed        = errors.New("event: poller closed")
	ErrIONotSupported      = errors.New("event: poller does not support descriptors")
)

// Conn is a descriptor with its read and write events. A Conn must not be
// copied once added to a poller.
type Conn struct {
	_ [0]func()

	// FD is the descriptor.
	FD int

	// Read and Write are dispatched on readiness.
	Read  Event
	Write Event

	// Listening routes read readiness to the accept queue. It is read on
	// every readiness report, so it may be changed while registered.
	Listening bool

	events IOEvents
}

// NewConn returns a Conn for fd, with both events carrying the Conn as
// their Data.
func NewConn(fd int, listening bool) *Conn {
	c := &Conn{FD: fd, Listening: listening}
	c.Read.Data = c
	c.Read.Accept = listening
	c.Write.Data = c
	c.Write.Write = true
	return c
}

// Poller is an OS readiness back-end. Poll blocks for at most timeout,
// forever if negative, then marks each ready event Ready and posts it, to
// Accept for listening connections and to Normal otherwise. Wake may be
// called from any goroutine, and makes a blocked or upcoming Poll return
// early. Every other method is called only from the loop.
type Poller interface {
	Add(c *Conn, events IOEvents) error
	Del(c *Conn) error
	Poll(timeout time.Duration, posted *PostedQueues) error
	Wake() error
	Close() error
}

// readyConn marks the ready directions of c and posts their events. Read
// readiness of a listening Conn goes to the accept queue.
func readyConn(posted *PostedQueues, c *Conn, events IOEvents) {
	if events&EventRead != 0 {
		c.Read.Accept = c.Listening
		readyEvent(posted, &c.Read)
	}
	if events&EventWrite != 0 {
		c.Write.Accept = false
		readyEvent(posted, &c.Write)
	}
}

// readyEvent marks ev ready and posts it to the queue matching its kind.
func readyEvent(posted *PostedQueues, ev *Event) {
	ev.Ready = true
	ev.Available = -1
	if ev.Accept {
		posted.Post(ev, &posted.Accept)
	} else {
		posted.Post(ev, &posted.Normal)
	}
}

// TimerPoller is a Poller without descriptor support, which only sleeps
// until its timeout or a Wake. It serves loops driven purely by timers and
// offloaded tasks.
type TimerPoller struct {
	wake   chan struct{}
	closed chan struct{}
}

var _ Poller = (*TimerPoller)(nil)

// NewTimerPoller returns a TimerPoller.
func NewTimerPoller() *TimerPoller {
	return &TimerPoller{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (p *TimerPoller) Add(*Conn, IOEvents) error { return ErrIONotSupported }

func (p *TimerPoller) Del(*Conn) error { return ErrIONotSupported }

func (p *TimerPoller) Poll(timeout time.Duration, _ *PostedQueues) error {
	select {
	case <-p.closed:
		return ErrPollerClosed
	case <-p.wake:
		return nil
	default:
	}
	if timeout == 0 {
		return nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-p.closed:
		return ErrPollerClosed
	case <-p.wake:
	case <-expired:
	}
	return nil
}

func (p *TimerPoller) Wake() error {
	select {
	case <-p.closed:
		return ErrPollerClosed
	default:
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close must be called at most once.
func (p *TimerPoller) Close() error {
	close(p.closed)
	return nil
}
