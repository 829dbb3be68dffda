package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func recorder(t *testing.T, out *[]string, name string) func(*Event) {
	return func(ev *Event) {
		assert.False(t, ev.Posted())
		*out = append(*out, name)
	}
}

func TestPosted_FIFO(t *testing.T) {
	pq := NewPostedQueues()
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		pq.Post(&Event{Handler: recorder(t, &got, name)}, &pq.Normal)
	}
	assert.Equal(t, 3, pq.Normal.Len())

	assert.Equal(t, 3, pq.Process(&pq.Normal))
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.True(t, pq.Normal.Empty())
}

func TestPosted_PostIsIdempotent(t *testing.T) {
	pq := NewPostedQueues()
	var got []string
	ev := &Event{Handler: recorder(t, &got, "x")}

	pq.Post(ev, &pq.Normal)
	pq.Post(ev, &pq.Normal)
	pq.Post(ev, &pq.Accept)
	assert.True(t, ev.Posted())
	assert.Equal(t, 1, pq.Normal.Len())
	assert.True(t, pq.Accept.Empty())

	pq.Process(&pq.Accept)
	pq.Process(&pq.Normal)
	assert.Equal(t, []string{"x"}, got)
}

func TestPosted_RepostFromHandler(t *testing.T) {
	pq := NewPostedQueues()
	var runs int
	ev := &Event{}
	ev.Handler = func(ev *Event) {
		assert.False(t, ev.Posted())
		runs++
		if runs < 3 {
			pq.Post(ev, &pq.Normal)
		}
	}
	pq.Post(ev, &pq.Normal)

	assert.Equal(t, 3, pq.Process(&pq.Normal))
	assert.Equal(t, 3, runs)
	assert.False(t, ev.Posted())
}

func TestPosted_DeletePosted(t *testing.T) {
	pq := NewPostedQueues()
	var got []string
	a := &Event{Handler: recorder(t, &got, "a")}
	b := &Event{Handler: recorder(t, &got, "b")}
	pq.Post(a, &pq.Normal)
	pq.Post(b, &pq.Normal)

	pq.DeletePosted(a)
	assert.False(t, a.Posted())

	pq.Process(&pq.Normal)
	assert.Equal(t, []string{"b"}, got)

	// a can be posted again
	pq.Post(a, &pq.Normal)
	pq.Process(&pq.Normal)
	assert.Equal(t, []string{"b", "a"}, got)
}

func TestPosted_MoveNext(t *testing.T) {
	pq := NewPostedQueues()
	var got []string
	first := &Event{Handler: recorder(t, &got, "normal")}
	deferred := &Event{Handler: recorder(t, &got, "next"), Available: 10}
	pq.Post(first, &pq.Normal)
	pq.Post(deferred, &pq.Next)

	pq.MoveNext()
	assert.True(t, pq.Next.Empty())
	assert.Equal(t, 2, pq.Normal.Len())
	assert.True(t, deferred.Ready)
	assert.Equal(t, -1, deferred.Available)
	assert.True(t, deferred.Posted())
	assert.False(t, first.Ready)

	pq.Process(&pq.Normal)
	assert.Equal(t, []string{"normal", "next"}, got)

	// moving an empty queue is a no-op
	pq.MoveNext()
	assert.True(t, pq.Normal.Empty())
}
