package ident

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_StrictlyIncreasing(t *testing.T) {
	// Frozen wall clock: every stamp lands in the same millisecond,
	// forcing the +1 tie-break path.
	frozen := time.UnixMilli(1_700_000_000_000)
	c := NewClock(WithNow(func() time.Time { return frozen }))

	first := c.Stamp(1000000)
	second := c.Stamp(1000000)
	assert.Equal(t, frozen.UnixMilli(), first)
	assert.Equal(t, first+1, second, "same-millisecond stamps must differ by exactly 1")
}

func TestClock_IndependentPerToken(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	c := NewClock(WithNow(func() time.Time { return frozen }))

	a := c.Stamp(1000001)
	b := c.Stamp(1000002)
	assert.Equal(t, a, b, "different tokens do not contend for timestamps")
}

func TestClock_StampAt_PreservesMonotonicity(t *testing.T) {
	c := NewClock()
	created := time.UnixMilli(1_700_000_000_000)

	ts := c.StampAt(1000000, created)
	assert.Equal(t, created.UnixMilli(), ts)

	// A later event anchored at an earlier wall time still moves forward.
	earlier := created.Add(-time.Second)
	ts2 := c.StampAt(1000000, earlier)
	assert.Equal(t, ts+1, ts2)
}

func TestClock_ConcurrentStamps(t *testing.T) {
	c := NewClock()
	const goroutines = 50
	const perGoroutine = 40

	stamps := make(chan int64, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				stamps <- c.Stamp(1000000)
			}
		}()
	}
	wg.Wait()
	close(stamps)

	seen := make(map[int64]bool)
	for ts := range stamps {
		require.False(t, seen[ts], "timestamp %d issued twice for the same token", ts)
		seen[ts] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestClock_ReleaseToken(t *testing.T) {
	c := NewClock()
	c.Stamp(1000000)
	assert.Equal(t, 1, c.Tracked())

	c.ReleaseToken(1000000)
	assert.Equal(t, 0, c.Tracked())
}

func TestClock_ReleaseWorkflow(t *testing.T) {
	c := NewClock()
	c.Stamp(1000000)
	c.Stamp(1000001)
	c.Stamp(1000099)
	c.Stamp(2000000) // different workflow
	assert.Equal(t, 4, c.Tracked())

	// Bulk-clear accepts any id of the family, not just the base.
	c.ReleaseWorkflow(1000042)
	assert.Equal(t, 1, c.Tracked())
}
