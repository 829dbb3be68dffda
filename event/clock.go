package event

import (
	"sync/atomic"
	"time"
)

// Clock is the cached millisecond time that timers are keyed on. The value
// is an unsigned counter that may wrap, and changes only when Update, Set
// or Advance is called, so every handler in one loop iteration observes the
// same time. Reads are safe from any goroutine.
type Clock struct {
	_      [0]func()
	anchor time.Time
	base   atomic.Uint64
	now    atomic.Uint64
	manual bool
}

// NewClock returns a clock following the monotonic system clock, starting
// at zero.
func NewClock() *Clock {
	return &Clock{anchor: time.Now()}
}

// NewManualClock returns a clock that moves only through Set and Advance.
func NewManualClock(ms uint64) *Clock {
	c := &Clock{manual: true}
	c.now.Store(ms)
	return c
}

// Now returns the cached time.
func (c *Clock) Now() uint64 {
	return c.now.Load()
}

// Update refreshes the cached time from the system clock, returning it.
// A manual clock is unchanged.
func (c *Clock) Update() uint64 {
	if c.manual {
		return c.now.Load()
	}
	// time.Since is monotonic, unaffected by wall clock steps
	ms := c.base.Load() + uint64(time.Since(c.anchor)/time.Millisecond)
	c.now.Store(ms)
	return ms
}

// Set moves the cached time to ms. A system clock continues from ms.
func (c *Clock) Set(ms uint64) {
	if !c.manual {
		c.base.Store(ms - uint64(time.Since(c.anchor)/time.Millisecond))
	}
	c.now.Store(ms)
}

// Advance moves the cached time forward by d, truncated to milliseconds.
func (c *Clock) Advance(d time.Duration) {
	c.Set(c.now.Load() + uint64(d/time.Millisecond))
}
