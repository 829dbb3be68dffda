package pool

import (
	"errors"
	"sync"
)

// ErrAllocatorLimit is returned by a CountingAllocator once its byte limit
// would be exceeded.
var ErrAllocatorLimit = errors.New("pool: allocator limit exceeded")

// Allocator is the system allocator a Pool obtains blocks and large
// allocations from. Release receives exactly the slices Allocate returned.
type Allocator interface {
	Allocate(n int) ([]byte, error)
	Release(b []byte)
}

// HeapAllocator allocates from the Go heap. Release is a no-op, the garbage
// collector reclaims the memory once the pool drops its reference.
type HeapAllocator struct{}

var _ Allocator = HeapAllocator{}

func (HeapAllocator) Allocate(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.New("pool: negative allocation size")
	}
	return make([]byte, n), nil
}

func (HeapAllocator) Release([]byte) {}

// CountingAllocator wraps another Allocator, tracking outstanding
// allocations and optionally refusing to exceed Limit bytes in use.
// It is safe for concurrent use.
type CountingAllocator struct {
	// Allocator is the wrapped allocator, HeapAllocator if nil.
	Allocator Allocator

	// Limit caps the bytes in use, if positive.
	Limit int64

	mu       sync.Mutex
	allocs   int64
	releases int64
	inUse    int64
	live     map[*byte]int
}

var _ Allocator = (*CountingAllocator)(nil)

func (x *CountingAllocator) Allocate(n int) ([]byte, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.Limit > 0 && x.inUse+int64(n) > x.Limit {
		return nil, ErrAllocatorLimit
	}

	a := x.Allocator
	if a == nil {
		a = HeapAllocator{}
	}
	b, err := a.Allocate(n)
	if err != nil {
		return nil, err
	}

	if x.live == nil {
		x.live = make(map[*byte]int)
	}
	if n > 0 {
		x.live[&b[:1][0]] = n
	}
	x.allocs++
	x.inUse += int64(n)
	return b, nil
}

func (x *CountingAllocator) Release(b []byte) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if cap(b) > 0 {
		key := &b[:1][0]
		if n, ok := x.live[key]; ok {
			delete(x.live, key)
			x.inUse -= int64(n)
		}
	}
	x.releases++

	a := x.Allocator
	if a == nil {
		a = HeapAllocator{}
	}
	a.Release(b)
}

// Outstanding returns the number of allocations not yet released.
func (x *CountingAllocator) Outstanding() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.live)
}

// InUse returns the number of bytes allocated and not yet released.
func (x *CountingAllocator) InUse() int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.inUse
}

// Allocs returns the total number of successful Allocate calls.
func (x *CountingAllocator) Allocs() int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.allocs
}

// Releases returns the total number of Release calls.
func (x *CountingAllocator) Releases() int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.releases
}
