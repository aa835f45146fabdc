package ident

import (
	"sync"
	"time"
)

// Clock issues per-token monotonic timestamps for instrumentation events.
//
// Each new timestamp for a token is max(wallClockNow, lastIssued+1), so two
// events for the same token issued within the same wall-clock millisecond
// (or by two racing goroutines, e.g. a sender finishing an EXIT while a
// receiver starts an ENTER) still observe strictly increasing timestamps.
//
// Entries must be released once a token's workflow instance completes to
// bound memory growth; ReleaseWorkflow clears all 100 possible branch ids
// of a workflow base in one call.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	last map[int64]int64
	now  func() time.Time
}

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithNow overrides the wall-clock source. Used by tests and the harness
// for deterministic timestamps.
func WithNow(now func() time.Time) ClockOption {
	return func(c *Clock) {
		c.now = now
	}
}

// NewClock creates a clock backed by the system wall clock.
func NewClock(opts ...ClockOption) *Clock {
	c := &Clock{
		last: make(map[int64]int64),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stamp issues the next timestamp (unix milliseconds) for a token.
// Guaranteed strictly greater than any timestamp previously issued for
// the same token.
func (c *Clock) Stamp(tokenID int64) int64 {
	return c.StampAt(tokenID, c.now())
}

// StampAt issues a timestamp anchored at a caller-supplied wall-clock time
// while preserving per-token monotonicity. Used for GENERATED events, which
// carry the token's true creation time rather than a processing-derived one.
func (c *Clock) StampAt(tokenID int64, at time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := at.UnixMilli()
	if last, ok := c.last[tokenID]; ok && ts <= last {
		ts = last + 1
	}
	c.last[tokenID] = ts
	return ts
}

// ReleaseToken drops the bookkeeping entry for a single token.
// Call when the token ceases to exist (TERMINATE, FORK_CONSUMED,
// JOIN_CONSUMED).
func (c *Clock) ReleaseToken(tokenID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, tokenID)
}

// ReleaseWorkflow drops the entries for every possible branch id of a
// workflow base (base, base+1, ..., base+99). Convenience bulk-clear for
// workflow completion.
func (c *Clock) ReleaseWorkflow(base int64) {
	base = WorkflowBase(base)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := int64(0); i < BranchSpan; i++ {
		delete(c.last, base+i)
	}
}

// Tracked returns the number of tokens with live timestamp entries.
// Used by tests to verify cleanup.
func (c *Clock) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
