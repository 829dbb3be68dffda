package event

import (
	"math"
	"time"

	"github.com/joeycumines/go-evcore/rbtree"
)

const (
	// LazyDelay is the tolerance, in milliseconds, within which re-arming a
	// pending timer leaves it as-is.
	LazyDelay = 300

	// Infinite is returned by FindNearest when no timer is pending.
	Infinite uint64 = math.MaxUint64
)

// Timers schedules events by absolute expiry on a Clock. Keys are compared
// by signed difference, so the clock may wrap, provided no timer is more
// than half the key space away.
type Timers struct {
	_     [0]func()
	tree  rbtree.Tree[Event]
	clock *Clock
	run   func(ev *Event)
	n     int
}

// NewTimers returns an empty scheduler reading time from clock.
func NewTimers(clock *Clock) *Timers {
	t := &Timers{clock: clock, run: invoke}
	t.tree.Init(rbtree.InsertTimer[Event])
	return t
}

// Add arms a timer for ev, firing delay after the cached time. A pending
// timer whose expiry is within LazyDelay of the new one is left alone,
// otherwise it is replaced.
func (t *Timers) Add(ev *Event, delay time.Duration) {
	key := t.clock.Now() + uint64(delay/time.Millisecond)

	if ev.timerSet {
		// signed, so an earlier expiry counts the same as a later one
		diff := int64(key - ev.timer.Key)
		if diff > -LazyDelay && diff < LazyDelay {
			return
		}
		t.Del(ev)
	}

	ev.timer.Key = key
	ev.timer.SetData(ev)
	t.tree.Insert(&ev.timer)
	ev.timerSet = true
	t.n++
}

// Del disarms the pending timer of ev. The event must have one.
func (t *Timers) Del(ev *Event) {
	t.tree.Delete(&ev.timer)
	ev.timerSet = false
	t.n--
}

// FindNearest returns the milliseconds until the earliest pending timer
// expires, zero if it is already due, or Infinite if none is pending.
func (t *Timers) FindNearest() uint64 {
	node := t.tree.Min()
	if node == nil {
		return Infinite
	}
	diff := int64(node.Key - t.clock.Now())
	if diff > 0 {
		return uint64(diff)
	}
	return 0
}

// Expire dispatches every timer that is due at the cached time, earliest
// first, with TimedOut set. It returns the number dispatched.
func (t *Timers) Expire() int {
	var n int
	for {
		node := t.tree.Min()
		if node == nil {
			return n
		}
		if int64(node.Key-t.clock.Now()) > 0 {
			return n
		}

		ev := node.Data()
		t.Del(ev)
		ev.TimedOut = true
		t.run(ev)
		n++
	}
}

// NoTimersLeft reports whether every pending timer is cancelable.
func (t *Timers) NoTimersLeft() bool {
	for ev := range t.tree.All() {
		if !ev.Cancelable {
			return false
		}
	}
	return true
}

// Len returns the number of pending timers.
func (t *Timers) Len() int {
	return t.n
}

// Clock returns the clock timers are keyed on.
func (t *Timers) Clock() *Clock {
	return t.clock
}

func invoke(ev *Event) {
	if ev.Handler != nil {
		ev.Handler(ev)
	}
}
