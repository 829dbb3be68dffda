package queue

// Middle returns the middle element of q, the element at index len/2, or nil
// when q is empty.
func (q *Queue[T]) Middle() *Queue[T] {
	middle := q.Head()
	if middle == q {
		return nil
	}
	if middle == q.Last() {
		return middle
	}

	next := q.Head()
	for {
		middle = middle.Next()
		next = next.Next()
		if next == q.Last() {
			return middle
		}
		next = next.Next()
		if next == q.Last() {
			return middle
		}
	}
}

// Sort orders q by cmp using a stable merge sort. cmp returns a negative
// number when a sorts before b, zero when they are equal and a positive
// number otherwise; equal elements keep their relative order.
func (q *Queue[T]) Sort(cmp func(a, b *T) int) {
	if q.Head() == q.Last() {
		return
	}

	var tail Queue[T]
	q.Split(q.Middle(), &tail)

	q.Sort(cmp)
	tail.Sort(cmp)

	q.merge(&tail, cmp)
}

func (q *Queue[T]) merge(tail *Queue[T], cmp func(a, b *T) int) {
	q1 := q.Head()
	q2 := tail.Head()

	for {
		if q1 == q {
			q.Add(tail)
			return
		}
		if q2 == tail {
			return
		}

		if cmp(q1.Data(), q2.Data()) <= 0 {
			q1 = q1.Next()
			continue
		}

		q2.Remove()
		q1.InsertBefore(q2)

		q2 = tail.Head()
	}
}
