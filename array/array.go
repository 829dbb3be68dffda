// Package array implements a growable array whose storage comes from a
// pool. Growth extends the storage in place when it is the pool's most
// recent allocation and the block has room, otherwise the contents move to
// a fresh allocation twice the size. The old storage is not reclaimed until
// the pool is reset or destroyed.
//
// Elements must not contain Go pointers. Pointers and slices obtained from
// an Array are invalidated by any growth that moves the contents.
package array

import (
	"github.com/joeycumines/go-evcore/internal/layout"
	"github.com/joeycumines/go-evcore/pool"
)

// Array is a pool-backed growable array of T.
type Array[T any] struct {
	pool *pool.Pool
	buf  []byte
	elts []T
}

// New allocates an array with room for n elements.
func New[T any](p *pool.Pool, n int) (*Array[T], error) {
	a := new(Array[T])
	if err := a.Init(p, n); err != nil {
		return nil, err
	}
	return a, nil
}

// Init prepares a, with room for n elements allocated from p.
func (a *Array[T]) Init(p *pool.Pool, n int) error {
	if err := layout.Check[T](pool.Alignment); err != nil {
		return err
	}

	buf, err := p.Alloc(n * layout.Size[T]())
	if err != nil {
		return err
	}

	a.pool = p
	a.buf = buf
	a.elts = layout.View[T](buf, n)[:0]

	return nil
}

// Push appends one element, returning a pointer to it. The element's
// contents are unspecified.
func (a *Array[T]) Push() (*T, error) {
	if len(a.elts) == cap(a.elts) {
		if err := a.grow(1); err != nil {
			return nil, err
		}
	}
	a.elts = a.elts[:len(a.elts)+1]
	return &a.elts[len(a.elts)-1], nil
}

// PushN appends n elements, returning them as a slice. The elements'
// contents are unspecified.
func (a *Array[T]) PushN(n int) ([]T, error) {
	if n < 0 {
		return nil, pool.ErrBadSize
	}
	if len(a.elts)+n > cap(a.elts) {
		if err := a.grow(n); err != nil {
			return nil, err
		}
	}
	i := len(a.elts)
	a.elts = a.elts[:i+n]
	return a.elts[i : i+n : i+n], nil
}

// Destroy gives the storage back to the pool if it is the pool's most
// recent allocation, and empties the array.
func (a *Array[T]) Destroy() {
	if a.pool != nil {
		a.pool.Rewind(a.buf)
	}
	a.buf = nil
	a.elts = nil
}

// Len returns the number of elements.
func (a *Array[T]) Len() int {
	return len(a.elts)
}

// Cap returns the number of elements the current storage holds.
func (a *Array[T]) Cap() int {
	return cap(a.elts)
}

// At returns a pointer to element i.
func (a *Array[T]) At(i int) *T {
	return &a.elts[i]
}

// Slice returns the elements. It aliases the array's storage.
func (a *Array[T]) Slice() []T {
	return a.elts
}

// grow makes room for n more elements.
func (a *Array[T]) grow(n int) error {
	size := layout.Size[T]()
	nelts, nalloc := len(a.elts), cap(a.elts)

	if buf, ok := a.pool.Extend(a.buf, n*size); ok {
		a.buf = buf
		a.elts = layout.View[T](buf, nalloc+n)[:nelts]
		return nil
	}

	nalloc = 2 * max(n, nalloc)

	buf, err := a.pool.Alloc(nalloc * size)
	if err != nil {
		return err
	}
	copy(buf, a.buf[:nelts*size])

	a.buf = buf
	a.elts = layout.View[T](buf, nalloc)[:nelts]

	return nil
}
