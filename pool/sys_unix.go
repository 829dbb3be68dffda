//go:build unix

package pool

import (
	"golang.org/x/sys/unix"
)

func pageSize() int {
	return unix.Getpagesize()
}

// MmapAllocator obtains memory from anonymous private mappings. Every
// allocation costs at least one page, so it suits large pool blocks.
// Memory handed out by it must not hold Go pointers.
type MmapAllocator struct{}

var _ Allocator = MmapAllocator{}

func (MmapAllocator) Allocate(n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	return unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (MmapAllocator) Release(b []byte) {
	if cap(b) == 0 {
		return
	}
	_ = unix.Munmap(b)
}
