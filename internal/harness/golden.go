package harness

import (
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/spnflow/spnflow/internal/trace"
)

// AssertGolden compares one workflow family's trail against the golden
// file testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
//
// The snapshot excludes record ids and timestamps and groups events by
// token id, so concurrent branches interleaving differently across runs
// still produce byte-identical snapshots.
func AssertGolden(t *testing.T, name string, workflowBase int64, r *Result) {
	t.Helper()

	firings := make([]trace.TransitionFiring, len(r.Firings))
	copy(firings, r.Firings)
	// Group by token, preserving each token's causal write order.
	sort.SliceStable(firings, func(i, j int) bool {
		return firings[i].TokenID < firings[j].TokenID
	})

	data, err := trace.MarshalSnapshot(workflowBase, firings)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// RunWithGolden executes a scenario, checks its assertions, and compares
// the trail of workflowBase against the scenario's golden file.
func RunWithGolden(t *testing.T, s *Scenario, workflowBase int64) *Result {
	t.Helper()

	r, err := Run(s)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}
	for _, ferr := range Check(r) {
		t.Error(ferr)
	}
	AssertGolden(t, s.Name, workflowBase, r)
	return r
}
