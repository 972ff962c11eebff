package escrow

import (
	"sync"
	"time"
)

// Clock supplies the current ledger time in unix seconds.
type Clock interface {
	Now() uint64
}

// SystemClock reads wall time.
type SystemClock struct{}

// Now returns the current unix time.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// FixedClock is a manually driven clock for tests and replays.
type FixedClock struct {
	mu  sync.Mutex
	now uint64
}

// NewFixedClock creates a clock stopped at now.
func NewFixedClock(now uint64) *FixedClock {
	return &FixedClock{now: now}
}

// Now returns the current value.
func (c *FixedClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now. Moving backwards is ignored.
func (c *FixedClock) Set(now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now > c.now {
		c.now = now
	}
}

// Advance moves the clock forward by d seconds.
func (c *FixedClock) Advance(d uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}
