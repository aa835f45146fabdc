package place

import (
	"fmt"
	"math/rand/v2"

	"github.com/spnflow/spnflow/internal/ident"
	"github.com/spnflow/spnflow/internal/topology"
)

// Guard gates a place's outgoing transition. The boolean result is the
// routing decision the router consumes.
type Guard interface {
	// Name identifies the guard in outcome annotations.
	Name() string

	// Evaluate produces the routing decision for a token. An error is
	// treated as "no match" by the router, never as a fault.
	Evaluate(tok ident.Token, r *rand.Rand) (bool, error)
}

// AlwaysTrue fires unconditionally.
type AlwaysTrue struct{}

func (AlwaysTrue) Name() string { return "always_true" }
func (AlwaysTrue) Evaluate(ident.Token, *rand.Rand) (bool, error) {
	return true, nil
}

// AlwaysFalse never fires.
type AlwaysFalse struct{}

func (AlwaysFalse) Name() string { return "always_false" }
func (AlwaysFalse) Evaluate(ident.Token, *rand.Rand) (bool, error) {
	return false, nil
}

// Random fires with Bernoulli probability P.
type Random struct {
	P float64
}

func (g Random) Name() string { return "random" }

func (g Random) Evaluate(_ ident.Token, r *rand.Rand) (bool, error) {
	return r.Float64() < g.P, nil
}

// CustomFunc is a domain-specific predicate evaluated against the token.
type CustomFunc func(tok ident.Token) (bool, error)

// Custom wraps a registered domain predicate.
type Custom struct {
	Label string
	Fn    CustomFunc
}

func (g Custom) Name() string {
	if g.Label != "" {
		return "custom:" + g.Label
	}
	return "custom"
}

func (g Custom) Evaluate(tok ident.Token, _ *rand.Rand) (bool, error) {
	if g.Fn == nil {
		return false, fmt.Errorf("custom guard %q has no predicate registered", g.Label)
	}
	return g.Fn(tok)
}

// GuardFromSpec builds a guard from its topology descriptor. Custom guards
// are resolved against the caller's registry by name. A zero-value spec
// yields AlwaysTrue.
func GuardFromSpec(spec topology.GuardSpec, custom map[string]CustomFunc) (Guard, error) {
	switch spec.Kind {
	case "", "always_true":
		return AlwaysTrue{}, nil
	case "always_false":
		return AlwaysFalse{}, nil
	case "random":
		if spec.P < 0 || spec.P > 1 {
			return nil, fmt.Errorf("random guard requires p in [0,1], got %v", spec.P)
		}
		return Random{P: spec.P}, nil
	case "custom":
		fn, ok := custom[spec.Name]
		if !ok {
			return nil, fmt.Errorf("custom guard %q not registered", spec.Name)
		}
		return Custom{Label: spec.Name, Fn: fn}, nil
	default:
		return nil, fmt.Errorf("unknown guard kind %q", spec.Kind)
	}
}
