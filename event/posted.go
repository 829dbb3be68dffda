package event

import (
	"github.com/joeycumines/go-evcore/queue"
)

// PostedQueue is a FIFO of events awaiting dispatch.
type PostedQueue struct {
	_    [0]func()
	head queue.Queue[Event]
}

// Empty reports whether nothing is posted.
func (q *PostedQueue) Empty() bool {
	return q.head.Empty()
}

// Len returns the number of posted events.
func (q *PostedQueue) Len() int {
	return q.head.Len()
}

// PostedQueues are the three dispatch tiers of a loop, drained each
// iteration in the order Accept, then Normal. Events in Next are moved to
// Normal at the start of the following iteration.
type PostedQueues struct {
	Accept PostedQueue
	Next   PostedQueue
	Normal PostedQueue
	run    func(ev *Event)
}

// NewPostedQueues returns empty queues.
func NewPostedQueues() *PostedQueues {
	pq := &PostedQueues{run: invoke}
	pq.Accept.head.Init()
	pq.Next.head.Init()
	pq.Normal.head.Init()
	return pq
}

// Post appends ev to q, unless it is already posted.
func (pq *PostedQueues) Post(ev *Event, q *PostedQueue) {
	if ev.posted {
		return
	}
	ev.posted = true
	ev.link.SetData(ev)
	q.head.InsertTail(&ev.link)
}

// DeletePosted removes ev from its queue. The event must be posted.
func (pq *PostedQueues) DeletePosted(ev *Event) {
	ev.posted = false
	ev.link.Remove()
}

// Process drains q from the head, dispatching each event after removing
// it, so a handler may post its own event again. Events posted to q while
// it is draining are dispatched in the same call. It returns the number
// dispatched.
func (pq *PostedQueues) Process(q *PostedQueue) int {
	var n int
	for !q.head.Empty() {
		ev := q.head.Head().Data()
		pq.DeletePosted(ev)
		pq.run(ev)
		n++
	}
	return n
}

// MoveNext marks every event in Next ready, with unknown availability, and
// moves them all to the tail of Normal.
func (pq *PostedQueues) MoveNext() {
	for ev := range pq.Next.head.All() {
		ev.Ready = true
		ev.Available = -1
	}
	pq.Normal.head.Add(&pq.Next.head)
}
