// Package engine implements the node-type router: the orchestrator that
// carries tokens through the compiled topology, invoking places, forking
// and joining token families, and emitting the instrumentation trail.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spnflow/spnflow/internal/ident"
	"github.com/spnflow/spnflow/internal/join"
	"github.com/spnflow/spnflow/internal/place"
	"github.com/spnflow/spnflow/internal/topology"
	"github.com/spnflow/spnflow/internal/trace"
)

// FeedForwardIncrement is the id offset applied when a feed-forward node
// re-identifies a token. One increment spans a whole branch family, so the
// new id starts a fresh workflow base.
const FeedForwardIncrement = int64(ident.BranchSpan)

// DefaultRetryInterval is the pause between admission attempts while a
// token is buffered at a full place.
const DefaultRetryInterval = 10 * time.Millisecond

// defaultSweepEvery is how often stale join instances are collected while
// the engine runs.
const defaultSweepEvery = time.Minute

type forkKey struct {
	parentID   int64
	transition string
}

// Engine routes tokens through the topology.
//
// Concurrency model: Run drains the intake queue and hands each injected
// token to its own goroutine; every hop of that token (place processing,
// stochastic hold, routing) happens on that goroutine. Fork children get
// goroutines of their own. Shared state (fork dedup, buffered-depth
// accounting, join registry, the timestamp clock) is mutex-guarded.
type Engine struct {
	topo   *topology.Topology
	places map[string]*place.Place
	rec    *trace.Recorder
	clock  *ident.Clock
	joins  *join.Synchronizer
	logger *slog.Logger

	queue *arrivalQueue
	wg    sync.WaitGroup

	mu           sync.Mutex
	forkConsumed map[forkKey]struct{}
	waiting      map[string]int

	retryInterval time.Duration
	sweepEvery    time.Duration
	now           func() time.Time
	seed          uint64
	hasSeed       bool
	custom        map[string]place.CustomFunc
	resolvers     map[string]place.Resolver
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRetryInterval sets the buffered-admission retry pause.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) { e.retryInterval = d }
}

// WithNow overrides the wall-clock source. Test hook.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSeed seeds every place's RNG for reproducible delay and guard
// sampling. Each place derives its own stream from the base seed.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.seed = seed
		e.hasSeed = true
	}
}

// WithCustomGuards registers the custom guard registry consulted when the
// topology names a custom guard.
func WithCustomGuards(custom map[string]place.CustomFunc) Option {
	return func(e *Engine) { e.custom = custom }
}

// WithResolver attaches a service routing-value resolver to one node.
func WithResolver(node string, r place.Resolver) Option {
	return func(e *Engine) { e.resolvers[node] = r }
}

// WithJoinStaleAfter overrides the stale join collection horizon.
func WithJoinStaleAfter(d time.Duration) Option {
	return func(e *Engine) {
		e.joins = join.NewSynchronizer(join.WithStaleAfter(d))
	}
}

// New builds an engine over a compiled topology, recording through rec.
// The recorder's clock is shared so routing and instrumentation agree on
// per-token timestamps.
func New(topo *topology.Topology, rec *trace.Recorder, opts ...Option) (*Engine, error) {
	e := &Engine{
		topo:          topo,
		places:        make(map[string]*place.Place),
		rec:           rec,
		clock:         rec.Clock(),
		joins:         join.NewSynchronizer(),
		logger:        slog.Default(),
		queue:         newArrivalQueue(),
		forkConsumed:  make(map[forkKey]struct{}),
		waiting:       make(map[string]int),
		retryInterval: DefaultRetryInterval,
		sweepEvery:    defaultSweepEvery,
		now:           time.Now,
		resolvers:     make(map[string]place.Resolver),
	}
	for _, opt := range opts {
		opt(e)
	}

	for i, n := range topo.Nodes() {
		if n.Kind == topology.KindExpired {
			// Expired nodes route without place processing.
			continue
		}
		popts := []place.Option{
			place.WithNow(e.now),
			place.WithEnterObserver(e.enterObserver(n.Name)),
		}
		if e.hasSeed {
			popts = append(popts, place.WithRandSeed(e.seed+uint64(i)))
		}
		if r, ok := e.resolvers[n.Name]; ok {
			popts = append(popts, place.WithResolver(r))
		}
		pl, err := place.FromNode(n, e.custom, popts...)
		if err != nil {
			return nil, fmt.Errorf("build place for node %s: %w", n.Name, err)
		}
		e.places[n.Name] = pl
	}
	return e, nil
}

func (e *Engine) enterObserver(node string) place.EnterObserver {
	return func(tok ident.Token, marking, capacity int) {
		e.rec.Enter(context.Background(), tok.ID, node, marking)
	}
}

// Inject submits a token at node; an empty node means the topology's
// start. Emits the GENERATED record with the token's true creation time.
// Returns an error once the engine is stopped.
func (e *Engine) Inject(ctx context.Context, tok ident.Token, node string) error {
	if node == "" {
		node = e.topo.Start()
	}
	if _, ok := e.topo.Node(node); !ok {
		return &RoutingError{Code: CodeUnknownNode, Node: node, TokenID: tok.ID}
	}
	e.rec.Generated(ctx, tok, node, e.now())
	if !e.queue.Enqueue(arrival{tok: tok, node: node}) {
		return fmt.Errorf("inject token %d: engine stopped", tok.ID)
	}
	return nil
}

// Run drains the intake queue until the context is cancelled or Stop is
// called. Each dequeued token traverses on its own goroutine; Run
// returning does not mean in-flight tokens have finished — use Drain.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "workflow", e.topo.Name())

	sweep := time.NewTicker(e.sweepEvery)
	defer sweep.Stop()

	for {
		a, ok := e.queue.TryDequeue()
		if ok {
			e.wg.Add(1)
			go func(a arrival) {
				defer e.wg.Done()
				e.traverse(ctx, a.tok, a.node)
			}(a)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-sweep.C:
			if n := e.joins.Sweep(e.now()); n > 0 {
				e.logger.Warn("collected stale join instances", "count", n)
			}

		case <-e.queue.Wait():
			// The signal channel closes when the queue closes, so this
			// case fires immediately once Stop is called.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: intake closed")
				return nil
			}
		}
	}
}

// Stop closes the intake. Run returns once the queue is drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain blocks until every in-flight token goroutine has finished. Call
// after Run returns.
func (e *Engine) Drain() {
	e.wg.Wait()
}

// QueueLen returns the number of injected tokens not yet picked up.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// PendingJoins returns the number of open join instances.
func (e *Engine) PendingJoins() int {
	return e.joins.Pending()
}

// CleanupWorkflow releases the timestamp state of a whole workflow family
// once it has reached terminal state.
func (e *Engine) CleanupWorkflow(workflowBase int64) {
	e.clock.ReleaseWorkflow(workflowBase)
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.forkConsumed {
		if ident.WorkflowBase(k.parentID) == workflowBase {
			delete(e.forkConsumed, k)
		}
	}
}

// markForkConsumed records that the parent token was consumed at the fork
// transition. Returns true exactly once per (parent, transition).
func (e *Engine) markForkConsumed(parentID int64, transition string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := forkKey{parentID: parentID, transition: transition}
	if _, seen := e.forkConsumed[k]; seen {
		return false
	}
	e.forkConsumed[k] = struct{}{}
	return true
}

// addWaiting adjusts the buffered-token count for a place and returns the
// new depth.
func (e *Engine) addWaiting(node string, delta int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waiting[node] += delta
	return e.waiting[node]
}

// dispatch hands a token to its own goroutine for traversal from node.
func (e *Engine) dispatch(ctx context.Context, tok ident.Token, node string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.traverse(ctx, tok, node)
	}()
}

// traverse carries one token hop by hop until it terminates, parks at a
// join, is consumed by a fork, or faults. Routing faults drop the token
// with a logged diagnostic; they never crash the run.
func (e *Engine) traverse(ctx context.Context, tok ident.Token, node string) {
	for node != "" {
		n, ok := e.topo.Node(node)
		if !ok {
			e.logger.Error("routing fault",
				"error", (&RoutingError{Code: CodeUnknownNode, Node: node, TokenID: tok.ID}).Error())
			return
		}
		next, cont := e.step(ctx, tok, n)
		if !cont {
			return
		}
		tok, node = next.tok, next.node
	}
}

// processPlace runs place admission with buffered retry: a capacity
// rejection emits one BUFFERED record for this hop, then the token retries
// until admitted or the context ends.
func (e *Engine) processPlace(ctx context.Context, node string, tokenID int64, call func() (*place.Outcome, error)) (*place.Outcome, error) {
	buffered := false
	defer func() {
		if buffered {
			e.addWaiting(node, -1)
		}
	}()
	for {
		out, err := call()
		if err == nil {
			return out, nil
		}
		if !place.IsCapacityExceeded(err) {
			return nil, err
		}
		if !buffered {
			buffered = true
			depth := e.addWaiting(node, 1)
			e.rec.Buffered(ctx, tokenID, node, depth)
		}
		timer := time.NewTimer(e.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
