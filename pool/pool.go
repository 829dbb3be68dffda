// Package pool implements a region allocator: a chain of fixed size blocks
// served by bumping an offset, with requests above a ceiling forwarded to the
// system allocator and tracked on a side list. Small allocations are released
// together, by Reset or Destroy. Only large allocations can be freed
// individually.
//
// A Pool is not safe for concurrent use.
package pool

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/joeycumines/logiface"
)

const (
	// HeaderSize is the space reserved at the start of the first block for
	// pool bookkeeping.
	HeaderSize = 80

	// BlockHeaderSize is the space reserved at the start of every later block.
	BlockHeaderSize = 32

	// Alignment is the default alignment of Alloc, the size of a pointer.
	Alignment = int(unsafe.Sizeof(uintptr(0)))

	// MinSize is the smallest block size New accepts.
	MinSize = HeaderSize + 2*largeNodeSize

	// DefaultSize is a reasonable block size for general use.
	DefaultSize = 16 * 1024

	// MaxFailed is how many times a block may fail to satisfy a request
	// before allocation stops trying it, starting with the next request.
	MaxFailed = 4

	// LargeReuseDepth bounds how many large list nodes are inspected for an
	// empty slot before a new node is linked.
	LargeReuseDepth = 4

	largeNodeSize = 16
)

var (
	// ErrNoMemory is returned, wrapping the allocator's error, when the
	// system allocator fails.
	ErrNoMemory = errors.New("pool: out of memory")

	// ErrNotLarge is returned by Free when the target is not a live large
	// allocation of the pool.
	ErrNotLarge = errors.New("pool: not a large allocation")

	// ErrDestroyed is returned when allocating from a destroyed pool.
	ErrDestroyed = errors.New("pool: destroyed")

	// ErrBadSize is returned when a requested size is negative.
	ErrBadSize = errors.New("pool: negative size")

	// ErrBadAlignment is returned by PMemAlign for an alignment that is not
	// a positive power of two.
	ErrBadAlignment = errors.New("pool: alignment must be a power of two")
)

type (
	// Pool is a region allocator. Create one with New.
	Pool struct {
		_         [0]func()
		first     *block
		current   *block
		large     *large
		cleanup   *Cleanup
		logger    *logiface.Logger[logiface.Event]
		allocator Allocator
		tail      span
		size      int
		max       int
	}

	// Stats is a snapshot of a pool's shape.
	Stats struct {
		// Size is the block size.
		Size int
		// Max is the small allocation ceiling.
		Max int
		// Blocks is the number of blocks in the chain.
		Blocks int
		// Used is the number of bytes bumped across all blocks, headers
		// and alignment padding included.
		Used int
		// Large is the number of large list nodes, empty slots included.
		Large int
		// LargeInUse is the number of large list nodes holding memory.
		LargeInUse int
		// Cleanups is the number of registered cleanups.
		Cleanups int
	}

	block struct {
		buf    []byte
		next   *block
		last   int
		failed int
	}

	large struct {
		buf  []byte
		ptr  *byte
		next *large
	}

	// span is the most recent small allocation, which is the only one that
	// can be extended or rewound.
	span struct {
		blk   *block
		start int
		end   int
	}
)

// New creates a pool whose blocks are size bytes, including bookkeeping.
func New(size int, opts ...Option) (*Pool, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	if size < MinSize {
		return nil, fmt.Errorf("pool: size %d is below the minimum of %d", size, MinSize)
	}

	p := &Pool{
		logger:    cfg.logger,
		allocator: cfg.allocator,
		size:      size,
		max:       min(size-HeaderSize, cfg.pageSize-1),
	}

	buf, err := p.allocator.Allocate(size)
	if err != nil {
		return nil, p.noMemory(size, err)
	}

	p.first = &block{buf: buf, last: HeaderSize}
	p.current = p.first

	p.logger.Debug().
		Int("size", size).
		Int("max", p.max).
		Log("pool: created")

	return p, nil
}

// Alloc returns n bytes aligned to Alignment. The result has len and cap n,
// and its contents are unspecified.
func (p *Pool) Alloc(n int) ([]byte, error) {
	if p.first == nil {
		return nil, ErrDestroyed
	}
	if n < 0 {
		return nil, ErrBadSize
	}
	if n <= p.max {
		return p.allocSmall(n, true)
	}
	return p.allocLarge(n)
}

// NAlloc is Alloc without alignment.
func (p *Pool) NAlloc(n int) ([]byte, error) {
	if p.first == nil {
		return nil, ErrDestroyed
	}
	if n < 0 {
		return nil, ErrBadSize
	}
	if n <= p.max {
		return p.allocSmall(n, false)
	}
	return p.allocLarge(n)
}

// CAlloc is Alloc with the result zeroed.
func (p *Pool) CAlloc(n int) ([]byte, error) {
	b, err := p.Alloc(n)
	if err != nil {
		return nil, err
	}
	clear(b)
	return b, nil
}

// PMemAlign returns n bytes aligned to alignment, always as a large
// allocation. It never reuses an empty large slot.
func (p *Pool) PMemAlign(n, alignment int) ([]byte, error) {
	if p.first == nil {
		return nil, ErrDestroyed
	}
	if n < 0 {
		return nil, ErrBadSize
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, ErrBadAlignment
	}

	buf, err := p.allocator.Allocate(n + alignment - 1)
	if err != nil {
		return nil, p.noMemory(n+alignment-1, err)
	}

	off := alignOffset(buf, 0, alignment)
	b := buf[off : off+n : off+n]

	p.large = &large{buf: buf, ptr: unsafe.SliceData(b), next: p.large}

	return b, nil
}

// Free releases a large allocation early. It returns ErrNotLarge if b is not
// a live large allocation of p, in which case nothing changes.
func (p *Pool) Free(b []byte) error {
	ptr := unsafe.SliceData(b)
	if ptr != nil {
		for l := p.large; l != nil; l = l.next {
			if l.ptr == ptr {
				p.allocator.Release(l.buf)
				l.buf = nil
				l.ptr = nil
				return nil
			}
		}
	}

	p.logger.Debug().
		Int("len", len(b)).
		Log("pool: free target is not a large allocation")

	return ErrNotLarge
}

// Reset releases every large allocation and every block after the first, and
// rewinds the first block. Cleanups stay registered and are not run; they
// will run on Destroy. A descriptor registered with AddFileCleanup therefore
// stays open across Reset.
func (p *Pool) Reset() {
	if p.first == nil {
		return
	}

	p.releaseLarge()

	for b := p.first.next; b != nil; {
		next := b.next
		p.allocator.Release(b.buf)
		b = next
	}

	p.first.next = nil
	p.first.last = HeaderSize
	p.first.failed = 0
	p.current = p.first
	p.tail = span{}
}

// Destroy runs the cleanups, most recently added first, then releases all
// memory. Further calls are no-ops, and further allocation fails with
// ErrDestroyed.
func (p *Pool) Destroy() {
	if p.first == nil {
		return
	}

	for c := p.cleanup; c != nil; c = c.next {
		if c.Handler != nil {
			c.Handler(c.Data)
		}
	}
	p.cleanup = nil

	p.releaseLarge()

	var blocks int
	for b := p.first; b != nil; {
		next := b.next
		p.allocator.Release(b.buf)
		blocks++
		b = next
	}

	p.first = nil
	p.current = nil
	p.tail = span{}

	p.logger.Debug().
		Int("blocks", blocks).
		Log("pool: destroyed")
}

// Extend grows b, which must be the most recent small allocation, by n bytes
// in place. It reports false, leaving b as-is, if b is not the most recent
// small allocation or its block lacks room.
func (p *Pool) Extend(b []byte, n int) ([]byte, bool) {
	if n < 0 || !p.isTail(b) {
		return b, false
	}
	t := &p.tail
	if len(t.blk.buf)-t.end < n {
		return b, false
	}
	t.end += n
	t.blk.last = t.end
	return t.blk.buf[t.start:t.end:t.end], true
}

// Rewind gives b back to its block if it is the most recent small
// allocation, reporting whether it did.
func (p *Pool) Rewind(b []byte) bool {
	if !p.isTail(b) {
		return false
	}
	p.tail.blk.last = p.tail.start
	p.tail = span{}
	return true
}

// Max returns the small allocation ceiling.
func (p *Pool) Max() int {
	return p.max
}

// Size returns the block size.
func (p *Pool) Size() int {
	return p.size
}

// Blocks returns the number of blocks in the chain.
func (p *Pool) Blocks() int {
	var n int
	for b := p.first; b != nil; b = b.next {
		n++
	}
	return n
}

// LargeLen returns the number of large list nodes, empty slots included.
func (p *Pool) LargeLen() int {
	var n int
	for l := p.large; l != nil; l = l.next {
		n++
	}
	return n
}

// LargeInUse returns the number of large list nodes holding memory.
func (p *Pool) LargeInUse() int {
	var n int
	for l := p.large; l != nil; l = l.next {
		if l.buf != nil {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the pool's shape.
func (p *Pool) Stats() Stats {
	s := Stats{
		Size:       p.size,
		Max:        p.max,
		Large:      p.LargeLen(),
		LargeInUse: p.LargeInUse(),
	}
	for b := p.first; b != nil; b = b.next {
		s.Blocks++
		s.Used += b.last
	}
	for c := p.cleanup; c != nil; c = c.next {
		s.Cleanups++
	}
	return s
}

func (p *Pool) allocSmall(n int, align bool) ([]byte, error) {
	for b := p.current; b != nil; b = b.next {
		m := b.last
		if align {
			m = alignOffset(b.buf, m, Alignment)
		}
		if m <= len(b.buf) && len(b.buf)-m >= n {
			b.last = m + n
			p.tail = span{blk: b, start: m, end: m + n}
			return b.buf[m : m+n : m+n], nil
		}
	}
	return p.allocBlock(n, align)
}

func (p *Pool) allocBlock(n int, align bool) ([]byte, error) {
	buf, err := p.allocator.Allocate(p.size)
	if err != nil {
		return nil, p.noMemory(p.size, err)
	}

	nb := &block{buf: buf}

	m := BlockHeaderSize
	if align {
		m = alignOffset(buf, m, Alignment)
	}
	nb.last = m + n

	b := p.current
	for ; b.next != nil; b = b.next {
		b.failed++
		if b.failed >= MaxFailed {
			p.current = b.next
		}
	}
	b.next = nb

	p.tail = span{blk: nb, start: m, end: m + n}

	return buf[m : m+n : m+n], nil
}

func (p *Pool) allocLarge(n int) ([]byte, error) {
	buf, err := p.allocator.Allocate(n)
	if err != nil {
		return nil, p.noMemory(n, err)
	}

	b := buf[:n:n]
	ptr := unsafe.SliceData(b)

	var depth int
	for l := p.large; l != nil; l = l.next {
		if l.buf == nil {
			l.buf = buf
			l.ptr = ptr
			return b, nil
		}
		if depth++; depth >= LargeReuseDepth {
			break
		}
	}

	p.large = &large{buf: buf, ptr: ptr, next: p.large}

	return b, nil
}

func (p *Pool) releaseLarge() {
	for l := p.large; l != nil; l = l.next {
		if l.buf != nil {
			p.allocator.Release(l.buf)
		}
	}
	p.large = nil
}

func (p *Pool) isTail(b []byte) bool {
	t := p.tail
	if t.blk == nil || t.end == t.start || len(b) != t.end-t.start {
		return false
	}
	return unsafe.SliceData(b) == &t.blk.buf[t.start]
}

func (p *Pool) noMemory(size int, err error) error {
	p.logger.Emerg().
		Int("size", size).
		Err(err).
		Log("pool: allocation failed")
	return fmt.Errorf("%w: %w", ErrNoMemory, err)
}

// alignOffset returns the smallest offset at or after off whose address
// within buf is a multiple of a, which must be a power of two.
func alignOffset(buf []byte, off, a int) int {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	addr := base + uintptr(off)
	aligned := (addr + uintptr(a) - 1) &^ (uintptr(a) - 1)
	return off + int(aligned-addr)
}
