package trace

import (
	"context"
	"sync"
)

// MemorySink is an in-memory Sink for tests and the conformance harness.
// Safe for concurrent use.
type MemorySink struct {
	mu          sync.Mutex
	firings     []TransitionFiring
	genealogy   []GenealogyEdge
	joins       []JoinContribution
	completions []JoinCompletionMark

	// FailWrites makes every write return an error. Used to test the
	// recorder's swallow-on-failure behavior.
	FailWrites error
}

// JoinCompletionMark records one UpdateJoinCompletion call.
type JoinCompletionMark struct {
	JoinTransition string
	WorkflowBase   int64
	ContinuationID int64
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) WriteTransitionFiring(_ context.Context, rec TransitionFiring) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.firings = append(m.firings, rec)
	return nil
}

func (m *MemorySink) WriteTokenGenealogy(_ context.Context, edge GenealogyEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.genealogy = append(m.genealogy, edge)
	return nil
}

func (m *MemorySink) WriteJoinSynchronization(_ context.Context, c JoinContribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.joins = append(m.joins, c)
	return nil
}

func (m *MemorySink) UpdateJoinCompletion(_ context.Context, joinTransition string, base, continuationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.completions = append(m.completions, JoinCompletionMark{
		JoinTransition: joinTransition,
		WorkflowBase:   base,
		ContinuationID: continuationID,
	})
	return nil
}

// Firings returns a copy of the recorded transition firings.
func (m *MemorySink) Firings() []TransitionFiring {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionFiring, len(m.firings))
	copy(out, m.firings)
	return out
}

// FiringsFor returns the firings of one token, in write order.
func (m *MemorySink) FiringsFor(tokenID int64) []TransitionFiring {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TransitionFiring
	for _, f := range m.firings {
		if f.TokenID == tokenID {
			out = append(out, f)
		}
	}
	return out
}

// CountByEvent returns the number of firings of one event type.
func (m *MemorySink) CountByEvent(e EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.firings {
		if f.Event == e {
			n++
		}
	}
	return n
}

// Genealogy returns a copy of the recorded genealogy edges.
func (m *MemorySink) Genealogy() []GenealogyEdge {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenealogyEdge, len(m.genealogy))
	copy(out, m.genealogy)
	return out
}

// Joins returns a copy of the recorded join contributions.
func (m *MemorySink) Joins() []JoinContribution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JoinContribution, len(m.joins))
	copy(out, m.joins)
	return out
}

// Completions returns a copy of the recorded join completion marks.
func (m *MemorySink) Completions() []JoinCompletionMark {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JoinCompletionMark, len(m.completions))
	copy(out, m.completions)
	return out
}
