// Package place implements the stochastic place execution model: a
// capacity-bounded station that accepts, validates, delays, and guards a
// token, producing a typed routing outcome.
//
// The processing sequence is fixed: capacity check, accept, validate,
// stochastic hold, guard evaluation, release. Accept and release are paired
// for every admitted token, including on error paths; a marking outside
// [0, capacity] is a defect, not a recoverable state.
package place

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/spnflow/spnflow/internal/ident"
	"github.com/spnflow/spnflow/internal/topology"
)

// DefaultCapacity bounds places whose configuration gives no capacity.
const DefaultCapacity = 100

// Outcome is the typed result contract of place execution. The routing
// value is carried directly; the router never recovers it by searching a
// response payload.
type Outcome struct {
	// Token is the processed (possibly enriched) token.
	Token ident.Token

	// Routed is the guard's firing decision.
	Routed bool

	// GuardErr records a guard evaluation failure. The router treats it
	// as "no match"; it is not a processing fault.
	GuardErr error

	// Value is the service's routing value, if the place has a resolver.
	// Nil when no resolver is configured.
	Value any

	// Elapsed is the wall-clock execution time of the whole sequence.
	Elapsed time.Duration

	// Annotation carries the execution metadata.
	Annotation Annotation
}

// Annotation describes one execution of a place.
type Annotation struct {
	PlaceID      string
	EnteredAt    time.Time
	ExitedAt     time.Time
	Delay        time.Duration
	Marking      int // marking after release
	Capacity     int
	Distribution string
	Guard        string
}

// EnterObserver is invoked when a token is admitted into the place, after
// capacity accounting and validation. The router uses it to emit the ENTER
// instrumentation event at the true admission time.
type EnterObserver func(tok ident.Token, marking, capacity int)

// Resolver produces the service's routing value for a token. Decision,
// XOR, and gateway nodes consume it through Outcome.Value.
type Resolver func(tok ident.Token) (any, error)

// Place is a capacity-bounded station. Safe for concurrent Process calls;
// marking mutations are serialized through the place's mutex.
type Place struct {
	ID       string
	Capacity int

	dist    Distribution
	guard   Guard
	resolve Resolver
	onEnter EnterObserver
	now     func() time.Time

	mu      sync.Mutex
	marking int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Place.
type Option func(*Place)

// WithResolver attaches a service routing-value resolver.
func WithResolver(r Resolver) Option {
	return func(p *Place) { p.resolve = r }
}

// WithEnterObserver attaches an admission observer.
func WithEnterObserver(obs EnterObserver) Option {
	return func(p *Place) { p.onEnter = obs }
}

// WithNow overrides the wall-clock source for annotations. Test hook.
func WithNow(now func() time.Time) Option {
	return func(p *Place) { p.now = now }
}

// WithRandSeed seeds the place's RNG for reproducible delay and guard
// sampling. Test and harness hook.
func WithRandSeed(seed uint64) Option {
	return func(p *Place) { p.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// New creates a place. Capacity <= 0 falls back to DefaultCapacity; a nil
// distribution means no hold and a nil guard means always-true.
func New(id string, capacity int, dist Distribution, guard Guard, opts ...Option) *Place {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if dist == nil {
		dist = Deterministic{}
	}
	if guard == nil {
		guard = AlwaysTrue{}
	}
	p := &Place{
		ID:       id,
		Capacity: capacity,
		dist:     dist,
		guard:    guard,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromNode builds a place from a topology node's descriptors, resolving
// custom guards against the registry.
func FromNode(n *topology.Node, custom map[string]CustomFunc, opts ...Option) (*Place, error) {
	dist, err := DistributionFromSpec(n.Delay)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.Name, err)
	}
	guard, err := GuardFromSpec(n.Guard, custom)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.Name, err)
	}
	return New(n.Name, n.Capacity, dist, guard, opts...), nil
}

// Marking returns the current marking. Test and diagnostics hook.
func (p *Place) Marking() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marking
}

// accept performs the atomic capacity check and increment.
func (p *Place) accept() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.marking >= p.Capacity {
		return &CapacityExceededError{PlaceID: p.ID, Capacity: p.Capacity}
	}
	p.marking++
	return nil
}

// release decrements the marking. Must be called exactly once per accept.
func (p *Place) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marking--
	if p.marking < 0 {
		// Invariant violation: release without a paired accept.
		panic(fmt.Sprintf("place %s: marking below zero", p.ID))
	}
}

// Process runs the full accept/validate/hold/guard/release sequence for
// one token.
//
// Failure modes:
//   - CapacityExceededError: returned before any marking mutation.
//   - ValidationError: marking rolled back before returning.
//   - ctx cancellation during the hold: marking rolled back, ctx.Err()
//     surfaced wrapped.
//   - panic mid-processing: marking rolled back, surfaced as an error.
//
// A guard evaluation failure is not an error: the outcome carries
// Routed=false and GuardErr for the router's no-match fallback.
func (p *Place) Process(ctx context.Context, tok ident.Token) (*Outcome, error) {
	return p.run(ctx, tok)
}

// ProcessMerged runs the same sequence against the merged pair of two
// already-synchronized inputs (post-join processing). The continuation
// token's id carries on; sibling attributes are merged in, with the
// continuation's own attributes taking precedence.
//
// The place's configured guard is evaluated for real here, exactly as in
// Process. Hard-coding a join's outgoing guard to always-true is a defect.
func (p *Place) ProcessMerged(ctx context.Context, continuation ident.Token, siblings ...ident.Token) (*Outcome, error) {
	return p.run(ctx, MergeTokens(continuation, siblings...))
}

// MergeTokens unions sibling attributes under the continuation's id.
// The continuation's attributes win on key collision. The earliest
// non-zero deadline is kept.
func MergeTokens(continuation ident.Token, siblings ...ident.Token) ident.Token {
	merged := continuation
	merged.Attributes = make(map[string]any)
	for _, sib := range siblings {
		for k, v := range sib.Attributes {
			merged.Attributes[k] = v
		}
		if !sib.Deadline.IsZero() && (merged.Deadline.IsZero() || sib.Deadline.Before(merged.Deadline)) {
			merged.Deadline = sib.Deadline
		}
	}
	for k, v := range continuation.Attributes {
		merged.Attributes[k] = v
	}
	return merged
}

func (p *Place) run(ctx context.Context, tok ident.Token) (out *Outcome, err error) {
	if err := p.accept(); err != nil {
		return nil, err
	}

	// Pair the accept on every path out of this function, including a
	// panic between accept and release.
	released := false
	release := func() {
		if !released {
			released = true
			p.release()
		}
	}
	defer func() {
		if r := recover(); r != nil {
			release()
			out = nil
			err = fmt.Errorf("place %s: fault during processing of token %d: %v", p.ID, tok.ID, r)
		}
	}()

	enteredAt := p.now()

	if verr := p.validate(tok, enteredAt); verr != nil {
		release()
		return nil, verr
	}

	if p.onEnter != nil {
		p.onEnter(tok, p.Marking(), p.Capacity)
	}

	delay := p.sampleDelay()
	if herr := hold(ctx, delay); herr != nil {
		release()
		return nil, fmt.Errorf("place %s: hold interrupted for token %d: %w", p.ID, tok.ID, herr)
	}

	var value any
	if p.resolve != nil {
		v, rerr := p.resolve(tok)
		if rerr != nil {
			release()
			return nil, fmt.Errorf("place %s: service result for token %d: %w", p.ID, tok.ID, rerr)
		}
		value = v
	}

	routed, guardErr := p.evaluateGuard(tok)

	release()
	exitedAt := p.now()

	return &Outcome{
		Token:    tok,
		Routed:   routed,
		GuardErr: guardErr,
		Value:    value,
		Elapsed:  exitedAt.Sub(enteredAt),
		Annotation: Annotation{
			PlaceID:      p.ID,
			EnteredAt:    enteredAt,
			ExitedAt:     exitedAt,
			Delay:        delay,
			Marking:      p.Marking(),
			Capacity:     p.Capacity,
			Distribution: p.dist.Name(),
			Guard:        p.guard.Name(),
		},
	}, nil
}

func (p *Place) validate(tok ident.Token, now time.Time) error {
	if tok.ID <= 0 {
		return &ValidationError{PlaceID: p.ID, TokenID: tok.ID, Reason: "non-positive token id"}
	}
	if !tok.Deadline.IsZero() && now.After(tok.Deadline) {
		return &ValidationError{PlaceID: p.ID, TokenID: tok.ID, Reason: "deadline exceeded"}
	}
	return nil
}

func (p *Place) sampleDelay() time.Duration {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.dist.Sample(p.rng)
}

func (p *Place) evaluateGuard(tok ident.Token) (bool, error) {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	ok, err := p.guard.Evaluate(tok, p.rng)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// hold suspends for the sampled delay on a timer, never a blocking sleep,
// so the number of concurrently delaying tokens is not bounded by worker
// threads. Context cancellation wins the race.
func hold(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
