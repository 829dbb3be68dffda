package pool

// Cleanup is a destructor registered with a pool, run by Destroy. Set
// Handler after CleanupAdd returns; a nil Handler is skipped.
type Cleanup struct {
	// Handler is called with Data when the pool is destroyed.
	Handler func(data []byte)

	// Data is pool memory of the size requested from CleanupAdd, or nil.
	Data []byte

	file *fileCleanup
	next *Cleanup
}

type fileCleanup struct {
	name   string
	fd     int
	unlink bool
}

// CleanupAdd registers a cleanup whose Data is size bytes of pool memory,
// or nil if size is zero. Cleanups run in reverse order of registration.
func (p *Pool) CleanupAdd(size int) (*Cleanup, error) {
	if p.first == nil {
		return nil, ErrDestroyed
	}
	if size < 0 {
		return nil, ErrBadSize
	}

	c := new(Cleanup)

	if size > 0 {
		data, err := p.Alloc(size)
		if err != nil {
			return nil, err
		}
		c.Data = data
	}

	c.next = p.cleanup
	p.cleanup = c

	return c, nil
}

// Cleanups returns the number of registered cleanups.
func (p *Pool) Cleanups() int {
	var n int
	for c := p.cleanup; c != nil; c = c.next {
		n++
	}
	return n
}
