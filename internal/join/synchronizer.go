// Package join tracks token arrivals at join points and decides when a
// join fires and which arrived token continues.
//
// State is keyed by (join transition id, workflow base). The continuation
// token is the numerically smallest id among the arrivals, a deterministic
// tie-break that does not depend on wall-clock arrival order. Entries are
// deleted immediately on completion; entries that never complete are swept
// after a staleness window to bound memory. The sweep is passive cleanup,
// not a cancellation mechanism.
package join

import (
	"sort"
	"sync"
	"time"

	"github.com/spnflow/spnflow/internal/ident"
)

// DefaultStaleAfter is the staleness window for join entries that never
// completed.
const DefaultStaleAfter = 5 * time.Minute

// Key identifies one join instance.
type Key struct {
	Transition   string
	WorkflowBase int64
}

// Completion describes a fired join.
type Completion struct {
	// Continuation is the arrived token with the smallest id. It is the
	// only token that proceeds past the join.
	Continuation ident.Token

	// Consumed are the remaining arrivals in ascending id order. They are
	// marked JOIN_CONSUMED and never route further.
	Consumed []ident.Token

	// Required is the arrival count the join waited for.
	Required int
}

type entry struct {
	required  int
	arrived   map[int64]ident.Token
	createdAt time.Time
}

// Synchronizer is the per-engine join arrival tracker. Safe for concurrent
// use; arrivals at the same key never double-count.
type Synchronizer struct {
	mu         sync.Mutex
	entries    map[Key]*entry
	staleAfter time.Duration
	now        func() time.Time
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithStaleAfter overrides the staleness window.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Synchronizer) { s.staleAfter = d }
}

// WithNow overrides the wall-clock source. Test hook.
func WithNow(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// NewSynchronizer creates an empty synchronizer.
func NewSynchronizer(opts ...Option) *Synchronizer {
	s := &Synchronizer{
		entries:    make(map[Key]*entry),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arrive registers a token at a join instance. When the arrival set
// reaches required, the join completes: the entry is deleted and the
// completion is returned with done=true. Until then done is false.
//
// Re-arrival of an id already in the set is idempotent and never
// double-counts.
func (s *Synchronizer) Arrive(transition string, base int64, tok ident.Token, required int) (Completion, bool) {
	key := Key{Transition: transition, WorkflowBase: base}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{
			required:  required,
			arrived:   make(map[int64]ident.Token, required),
			createdAt: s.now(),
		}
		s.entries[key] = e
	}
	e.arrived[tok.ID] = tok

	if len(e.arrived) < e.required {
		return Completion{}, false
	}

	delete(s.entries, key)

	ids := make([]int64, 0, len(e.arrived))
	for id := range e.arrived {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	comp := Completion{
		Continuation: e.arrived[ids[0]],
		Consumed:     make([]ident.Token, 0, len(ids)-1),
		Required:     e.required,
	}
	for _, id := range ids[1:] {
		comp.Consumed = append(comp.Consumed, e.arrived[id])
	}
	return comp, true
}

// Arrived returns the current arrival count for a join instance.
// Zero when no entry exists.
func (s *Synchronizer) Arrived(transition string, base int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[Key{Transition: transition, WorkflowBase: base}]
	if !ok {
		return 0
	}
	return len(e.arrived)
}

// Pending returns the number of incomplete join entries.
func (s *Synchronizer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes entries older than the staleness window and returns how
// many were dropped. Called opportunistically by the engine's housekeeping;
// correctness never depends on it.
func (s *Synchronizer) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key, e := range s.entries {
		if now.Sub(e.createdAt) > s.staleAfter {
			delete(s.entries, key)
			dropped++
		}
	}
	return dropped
}
