// Package queue implements an intrusive, circular, doubly linked list.
//
// A Queue value plays two roles. Used as a header it is the sentinel of a
// list, and the list is empty when the sentinel points at itself. Embedded in
// an owner struct it is that owner's link, and [Queue.Data] returns the owner.
// Nothing in this package allocates.
//
//	type conn struct {
//	    link queue.Queue[conn]
//	    fd   int
//	}
//
//	var idle queue.Queue[conn]
//	idle.Init()
//	c := &conn{fd: 3}
//	c.link.SetData(c)
//	idle.InsertTail(&c.link)
//
// Links are trusted: removing a link that is not in a list, or inserting one
// that already is, corrupts the list. Remove clears the removed link so that
// a second removal faults immediately.
package queue

import (
	"iter"
)

// Queue is either a list header or a link embedded in an owner.
type Queue[T any] struct {
	prev  *Queue[T]
	next  *Queue[T]
	owner *T
}

// Init makes q an empty list header.
func (q *Queue[T]) Init() {
	q.prev = q
	q.next = q
}

// Empty reports whether the header q has no elements.
func (q *Queue[T]) Empty() bool {
	return q.prev == q
}

// InsertHead links x as the first element of q.
func (q *Queue[T]) InsertHead(x *Queue[T]) {
	x.next = q.next
	x.next.prev = x
	x.prev = q
	q.next = x
}

// InsertAfter links x directly after q, which may be a header or an element.
func (q *Queue[T]) InsertAfter(x *Queue[T]) {
	q.InsertHead(x)
}

// InsertTail links x as the last element of q.
func (q *Queue[T]) InsertTail(x *Queue[T]) {
	x.prev = q.prev
	x.prev.next = x
	x.next = q
	q.prev = x
}

// InsertBefore links x directly before q, which may be a header or an element.
func (q *Queue[T]) InsertBefore(x *Queue[T]) {
	q.InsertTail(x)
}

// Head returns the first element, or the sentinel if q is empty.
func (q *Queue[T]) Head() *Queue[T] {
	return q.next
}

// Last returns the last element, or the sentinel if q is empty.
func (q *Queue[T]) Last() *Queue[T] {
	return q.prev
}

// Sentinel returns the header itself, for end-of-list comparisons.
func (q *Queue[T]) Sentinel() *Queue[T] {
	return q
}

// Next returns the link after q.
func (q *Queue[T]) Next() *Queue[T] {
	return q.next
}

// Prev returns the link before q.
func (q *Queue[T]) Prev() *Queue[T] {
	return q.prev
}

// Data returns the owner of the link, or nil for a header.
func (q *Queue[T]) Data() *T {
	return q.owner
}

// SetData binds the link to its owner. It must be called once, before the
// link is first inserted.
func (q *Queue[T]) SetData(owner *T) {
	q.owner = owner
}

// Linked reports whether q currently sits in a list. Only meaningful for
// links that were zero valued or removed via Remove.
func (q *Queue[T]) Linked() bool {
	return q.next != nil
}

// Remove unlinks q from whatever list it is in.
func (q *Queue[T]) Remove() {
	q.next.prev = q.prev
	q.prev.next = q.next
	q.prev = nil
	q.next = nil
}

// Split moves the element x and every element after it from the header q
// into the header n, which must not be in use. q keeps the elements before x.
func (q *Queue[T]) Split(x, n *Queue[T]) {
	n.prev = q.prev
	n.prev.next = n
	n.next = x
	q.prev = x.prev
	q.prev.next = q
	x.prev = n
}

// Add splices every element of the header n onto the tail of q, leaving n
// empty.
func (q *Queue[T]) Add(n *Queue[T]) {
	if n.Empty() {
		return
	}
	q.prev.next = n.next
	n.next.prev = q.prev
	q.prev = n.prev
	q.prev.next = q
	n.Init()
}

// Len counts the elements of q.
func (q *Queue[T]) Len() int {
	var count int
	for x := q.next; x != q; x = x.next {
		count++
	}
	return count
}

// All yields the owners of q, head first. The current element may be removed
// during iteration.
func (q *Queue[T]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for x := q.next; x != q; {
			next := x.next
			if !yield(x.owner) {
				return
			}
			x = next
		}
	}
}
