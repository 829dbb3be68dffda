// Package event implements single-threaded event dispatch: a cached
// millisecond clock, a timer scheduler keyed on that clock, posted event
// queues drained in priority order, and a loop that ties them to an OS
// readiness poller and an offload thread pool.
//
// Nothing here is safe for concurrent use, except where documented. Each
// loop owns its timers and posted queues, and handlers run on the loop's
// goroutine, one at a time, to completion.
package event

import (
	"github.com/joeycumines/go-evcore/queue"
	"github.com/joeycumines/go-evcore/rbtree"
)

// Event is a schedulable unit of work, typically one direction of a
// connection. It may be pending in the timer tree and posted to a queue at
// the same time. Membership is managed only through Timers and
// PostedQueues.
type Event struct {
	// Handler is invoked when the event is dispatched.
	Handler func(ev *Event)

	// Data is owner data, e.g. the connection.
	Data any

	// Available is a readiness hint, the number of bytes or connections
	// available, or -1 if unknown.
	Available int

	// Ready is set when the descriptor is ready for the event's direction.
	Ready bool

	// Write marks the write direction of a connection.
	Write bool

	// Accept marks a listening socket's read event, posted to the accept
	// queue. For a Conn's events, pollers set it from Conn.Listening.
	Accept bool

	// Cancelable timers do not hold up a graceful shutdown.
	Cancelable bool

	// TimedOut is set when the event is dispatched by timer expiry.
	TimedOut bool

	// Complete is set when an offloaded task for the event has finished.
	Complete bool

	timer    rbtree.Node[Event]
	link     queue.Queue[Event]
	timerSet bool
	posted   bool
	active   bool
}

// TimerSet reports whether the event has a pending timer.
func (ev *Event) TimerSet() bool {
	return ev.timerSet
}

// TimerKey returns the expiry of the pending timer, in clock milliseconds.
// It is meaningful only while TimerSet is true.
func (ev *Event) TimerKey() uint64 {
	return ev.timer.Key
}

// Posted reports whether the event is in a posted queue.
func (ev *Event) Posted() bool {
	return ev.posted
}

// Active reports whether the event's task is queued or running in a
// thread pool.
func (ev *Event) Active() bool {
	return ev.active
}
