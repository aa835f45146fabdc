// Package testutil provides deterministic substitutes for the engine's
// nondeterministic inputs: wall time and record id generation. With both
// pinned and the RNG seeded, a run's event trail is byte-stable and can be
// compared against golden snapshots.
package testutil

import (
	"sync"
	"time"
)

// SteppingClock is a thread-safe wall clock that advances by a fixed step
// on every reading. Plug it in through the WithNow options of the clock,
// places, and engine.
type SteppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewSteppingClock creates a clock starting at base and advancing by step
// per Now call. A zero step freezes the clock; per-token stamps still
// advance through the identity clock's tie-break.
func NewSteppingClock(base time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{now: base, step: step}
}

// Now returns the current reading and advances the clock.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the next reading without advancing.
func (c *SteppingClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d without producing a reading.
func (c *SteppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// DefaultBase is an arbitrary fixed instant for tests that only care about
// determinism, not the date.
var DefaultBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
