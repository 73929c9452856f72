package testutil

import (
	"strconv"
	"sync"
	"time"
)

// ManualClock is a thread-safe millisecond clock that only moves when told to.
//
// Stores and engines take a func() int64; pass clock.Now.
type ManualClock struct {
	mu sync.Mutex
	ms int64
}

// NewManualClock creates a clock reading start milliseconds.
func NewManualClock(start int64) *ManualClock {
	return &ManualClock{ms: start}
}

// Now returns the current reading without advancing.
func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

// Advance moves the clock forward by d and returns the new reading.
func (c *ManualClock) Advance(d time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms += d.Milliseconds()
	return c.ms
}

// Set moves the clock to ms, which may be in the past.
func (c *ManualClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms = ms
}

// Sequence returns a generator yielding prefix-1, prefix-2, ... for
// deterministic ids and revision suffixes.
func Sequence(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}
