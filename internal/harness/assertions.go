package harness

import (
	"fmt"

	"github.com/spnflow/spnflow/internal/topology"
	"github.com/spnflow/spnflow/internal/trace"
)

// Check runs every assertion of the result's scenario against its trail
// and returns all failures, not just the first.
func Check(r *Result) []error {
	var failures []error
	for i, a := range r.Scenario.Assertions {
		if err := checkOne(r, &a); err != nil {
			failures = append(failures, fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err))
		}
	}
	return failures
}

func checkOne(r *Result, a *Assertion) error {
	switch a.Type {
	case AssertEventCount:
		return checkEventCount(r, a)
	case AssertEventOrder:
		return checkEventOrder(r, a)
	case AssertContinuation:
		return checkContinuation(r, a)
	case AssertGenealogy:
		return checkGenealogy(r, a)
	case AssertComplete:
		return checkComplete(r, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func checkEventCount(r *Result, a *Assertion) error {
	n := 0
	for _, f := range r.Firings {
		if f.Event.String() == a.Event {
			n++
		}
	}
	if n != a.Count {
		return fmt.Errorf("expected %d %s event(s), got %d", a.Count, a.Event, n)
	}
	return nil
}

func checkEventOrder(r *Result, a *Assertion) error {
	var got []string
	for _, f := range r.Firings {
		if f.TokenID == a.Token {
			got = append(got, f.Event.String())
		}
	}
	if len(got) != len(a.Events) {
		return fmt.Errorf("token %d: expected trail %v, got %v", a.Token, a.Events, got)
	}
	for i := range got {
		if got[i] != a.Events[i] {
			return fmt.Errorf("token %d: expected trail %v, got %v", a.Token, a.Events, got)
		}
	}
	return nil
}

func checkContinuation(r *Result, a *Assertion) error {
	tIn, _ := topology.DeriveTransitions(a.Join)
	for _, c := range r.Completions {
		if c.JoinTransition == tIn {
			if c.ContinuationID != a.Continuation {
				return fmt.Errorf("join %s: expected continuation %d, got %d",
					a.Join, a.Continuation, c.ContinuationID)
			}
			return nil
		}
	}
	return fmt.Errorf("join %s never completed", a.Join)
}

func checkGenealogy(r *Result, a *Assertion) error {
	var children []int64
	for _, e := range r.Genealogy {
		if e.ParentTokenID == a.Parent {
			children = append(children, e.ChildTokenID)
		}
	}
	if len(children) != len(a.Children) {
		return fmt.Errorf("parent %d: expected children %v, got %v", a.Parent, a.Children, children)
	}
	for i := range children {
		if children[i] != a.Children[i] {
			return fmt.Errorf("parent %d: expected children %v, got %v", a.Parent, a.Children, children)
		}
	}
	return nil
}

// checkComplete verifies that every admission in the workflow family was
// matched by exactly one departure, and no join instance is still open.
func checkComplete(r *Result, a *Assertion) error {
	enters := make(map[int64]int)
	departs := make(map[int64]int)
	for _, f := range r.Firings {
		if f.WorkflowBase != a.Workflow {
			continue
		}
		switch f.Event {
		case trace.EventEnter:
			enters[f.TokenID]++
		case trace.EventExit, trace.EventTerminate, trace.EventForkConsumed:
			departs[f.TokenID]++
		}
	}
	for id, n := range enters {
		if departs[id] != n {
			return fmt.Errorf("token %d: %d admission(s), %d departure(s)", id, n, departs[id])
		}
	}
	if r.PendingJoins != 0 {
		return fmt.Errorf("%d join instance(s) still open", r.PendingJoins)
	}
	return nil
}
