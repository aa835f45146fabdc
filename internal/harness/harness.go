// Package harness executes conformance scenarios: YAML-defined token
// injections against a topology, with assertions and golden snapshots
// over the recorded event trail. Runs are fully deterministic: wall time
// steps, record ids are sequential, and the RNG is seeded.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/spnflow/spnflow/internal/compiler"
	"github.com/spnflow/spnflow/internal/engine"
	"github.com/spnflow/spnflow/internal/ident"
	"github.com/spnflow/spnflow/internal/testutil"
	"github.com/spnflow/spnflow/internal/trace"
)

// runTimeout bounds a single scenario execution.
const runTimeout = 30 * time.Second

// Result holds everything a scenario's checks need.
type Result struct {
	Scenario     *Scenario
	Firings      []trace.TransitionFiring
	Genealogy    []trace.GenealogyEdge
	Completions  []trace.JoinCompletionMark
	PendingJoins int
}

// Run executes a scenario to completion and returns the recorded trail.
func Run(s *Scenario) (*Result, error) {
	topo, err := compiler.Load(s.Topology)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	seed := s.Seed
	if seed == 0 {
		seed = 1
	}

	wall := testutil.NewSteppingClock(testutil.DefaultBase, time.Millisecond)
	clock := ident.NewClock(ident.WithNow(wall.Now))
	sink := trace.NewMemorySink()
	rec := trace.NewRecorder(sink, clock, trace.WithRecordIDs(testutil.RecordIDs()))

	eng, err := engine.New(topo, rec,
		engine.WithNow(wall.Now),
		engine.WithSeed(seed),
	)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	for _, spec := range s.Tokens {
		tok := ident.Token{ID: spec.ID, Attributes: spec.Attributes}
		if ierr := eng.Inject(ctx, tok, spec.Start); ierr != nil {
			eng.Stop()
			<-done
			return nil, fmt.Errorf("scenario %s: inject token %d: %w", s.Name, spec.ID, ierr)
		}
	}

	eng.Stop()
	if rerr := <-done; rerr != nil {
		return nil, fmt.Errorf("scenario %s: run: %w", s.Name, rerr)
	}
	eng.Drain()

	return &Result{
		Scenario:     s,
		Firings:      sink.Firings(),
		Genealogy:    sink.Genealogy(),
		Completions:  sink.Completions(),
		PendingJoins: eng.PendingJoins(),
	}, nil
}
