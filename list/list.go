// Package list implements an append-only list stored as a chain of
// fixed-capacity parts allocated from a pool. Elements never move once
// pushed, so pointers to them stay valid for the life of the pool.
//
// Elements must not contain Go pointers.
package list

import (
	"errors"
	"iter"

	"github.com/joeycumines/go-evcore/internal/layout"
	"github.com/joeycumines/go-evcore/pool"
)

// ErrInvalidSize is returned when the per-part capacity is not positive.
var ErrInvalidSize = errors.New("list: part capacity must be positive")

// List is a pool-backed chunked list of T.
type List[T any] struct {
	pool   *pool.Pool
	last   *part[T]
	part   part[T]
	nalloc int
}

type part[T any] struct {
	elts []T
	next *part[T]
}

// New allocates a list whose parts hold n elements each.
func New[T any](p *pool.Pool, n int) (*List[T], error) {
	l := new(List[T])
	if err := l.Init(p, n); err != nil {
		return nil, err
	}
	return l, nil
}

// Init prepares l, allocating its first part of n elements from p.
func (l *List[T]) Init(p *pool.Pool, n int) error {
	if n <= 0 {
		return ErrInvalidSize
	}
	if err := layout.Check[T](pool.Alignment); err != nil {
		return err
	}

	elts, err := allocPart[T](p, n)
	if err != nil {
		return err
	}

	l.pool = p
	l.nalloc = n
	l.part = part[T]{elts: elts}
	l.last = &l.part

	return nil
}

// Push appends one element, returning a pointer to it. The element's
// contents are unspecified.
func (l *List[T]) Push() (*T, error) {
	last := l.last

	if len(last.elts) == cap(last.elts) {
		elts, err := allocPart[T](l.pool, l.nalloc)
		if err != nil {
			return nil, err
		}
		last.next = &part[T]{elts: elts}
		last = last.next
		l.last = last
	}

	n := len(last.elts)
	last.elts = last.elts[:n+1]
	return &last.elts[n], nil
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	var n int
	for pt := &l.part; pt != nil; pt = pt.next {
		n += len(pt.elts)
	}
	return n
}

// Parts returns the number of parts in the chain.
func (l *List[T]) Parts() int {
	var n int
	for pt := &l.part; pt != nil; pt = pt.next {
		n++
	}
	return n
}

// All yields the elements in push order.
func (l *List[T]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for pt := &l.part; pt != nil; pt = pt.next {
			for i := range pt.elts {
				if !yield(&pt.elts[i]) {
					return
				}
			}
		}
	}
}

func allocPart[T any](p *pool.Pool, n int) ([]T, error) {
	buf, err := p.Alloc(n * layout.Size[T]())
	if err != nil {
		return nil, err
	}
	return layout.View[T](buf, n)[:0], nil
}
