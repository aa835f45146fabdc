package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spnflow/spnflow/internal/ident"
	"github.com/spnflow/spnflow/internal/topology"
	"github.com/spnflow/spnflow/internal/trace"
)

func edgeNode(name, to string) *topology.Node {
	return &topology.Node{Name: name, Kind: topology.KindEdge, Edges: []topology.Edge{{To: to}}}
}

func terminateNode(name string) *topology.Node {
	return &topology.Node{Name: name, Kind: topology.KindTerminate}
}

func newTestEngine(t *testing.T, topo *topology.Topology, opts ...Option) (*Engine, *trace.MemorySink) {
	t.Helper()
	sink := trace.NewMemorySink()
	rec := trace.NewRecorder(sink, ident.NewClock())
	e, err := New(topo, rec, opts...)
	require.NoError(t, err)
	return e, sink
}

// drain runs the engine, performs the injections, and blocks until every
// in-flight token has finished.
func drain(t *testing.T, e *Engine, inject func(ctx context.Context)) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	inject(context.Background())
	e.Stop()
	require.NoError(t, <-done)
	e.Drain()
}

func TestEngine_LinearTraversal(t *testing.T) {
	topo, err := topology.New("linear", "A", []*topology.Node{
		edgeNode("A", "B"),
		terminateNode("B"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo)
	drain(t, e, func(ctx context.Context) {
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 1000}, ""))
	})

	got := sink.FiringsFor(1000)
	require.Len(t, got, 5)
	want := []trace.EventType{
		trace.EventGenerated,
		trace.EventEnter,
		trace.EventExit,
		trace.EventEnter,
		trace.EventTerminate,
	}
	for i, f := range got {
		assert.Equal(t, want[i], f.Event, "event %d", i)
	}

	// Per-token timestamps are strictly increasing.
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Timestamp, got[i-1].Timestamp)
	}

	exit := got[2]
	assert.Equal(t, "T_out_A", exit.TransitionID)
	assert.Equal(t, "A", exit.FromPlace)
	assert.Equal(t, "B", exit.ToPlace)
}

func forkJoinTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.New("fork-join", "Start", []*topology.Node{
		edgeNode("Start", "Split"),
		{Name: "Split", Kind: topology.KindFork, Edges: []topology.Edge{{To: "Left"}, {To: "Right"}}},
		edgeNode("Left", "Rejoin"),
		edgeNode("Right", "Rejoin"),
		{Name: "Rejoin", Kind: topology.KindJoin, JoinRequired: 2, Edges: []topology.Edge{{To: "End"}}},
		terminateNode("End"),
	})
	require.NoError(t, err)
	return topo
}

func TestEngine_ForkJoinLifecycle(t *testing.T) {
	e, sink := newTestEngine(t, forkJoinTopology(t))
	drain(t, e, func(ctx context.Context) {
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 1_000_000}, ""))
	})

	// Exactly one parent consumption, one child record per branch, and one
	// consumed sibling at the join.
	assert.Equal(t, 1, sink.CountByEvent(trace.EventForkConsumed))
	assert.Equal(t, 2, sink.CountByEvent(trace.EventFork))
	assert.Equal(t, 1, sink.CountByEvent(trace.EventJoinConsumed))
	assert.Equal(t, 1, sink.CountByEvent(trace.EventTerminate))

	// The continuation is the smallest child id.
	require.Len(t, sink.Completions(), 1)
	comp := sink.Completions()[0]
	assert.Equal(t, "T_in_Rejoin", comp.JoinTransition)
	assert.Equal(t, int64(1_000_000), comp.WorkflowBase)
	assert.Equal(t, int64(1_000_001), comp.ContinuationID)

	term := sink.FiringsFor(1_000_001)
	require.NotEmpty(t, term)
	assert.Equal(t, trace.EventTerminate, term[len(term)-1].Event)

	// The sibling stops at JOIN_CONSUMED.
	sib := sink.FiringsFor(1_000_002)
	require.NotEmpty(t, sib)
	assert.Equal(t, trace.EventJoinConsumed, sib[len(sib)-1].Event)

	// One lineage edge per child.
	gen := sink.Genealogy()
	require.Len(t, gen, 2)
	for _, g := range gen {
		assert.Equal(t, int64(1_000_000), g.ParentTokenID)
		assert.Equal(t, "T_out_Split", g.ForkTransition)
	}

	require.Len(t, sink.Joins(), 2)
	assert.Equal(t, 0, e.PendingJoins())
}

func TestEngine_AdminBandBypassesInstrumentation(t *testing.T) {
	e, sink := newTestEngine(t, forkJoinTopology(t))
	drain(t, e, func(ctx context.Context) {
		// Family-aligned id inside the administrative band.
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 999_000_100}, ""))
	})

	// The token routed through fork and join, but left no records.
	assert.Empty(t, sink.Firings())
	assert.Empty(t, sink.Genealogy())
	assert.Empty(t, sink.Joins())
	assert.Empty(t, sink.Completions())
	assert.Equal(t, 0, e.PendingJoins())
}

func TestEngine_DecisionFirstMatchWins(t *testing.T) {
	topo, err := topology.New("decide", "D", []*topology.Node{
		{Name: "D", Kind: topology.KindDecision, Edges: []topology.Edge{
			{To: "High", Op: topology.CompareGt, Value: "100"},
			{To: "Low", Op: topology.CompareLe, Value: "100"},
		}},
		terminateNode("High"),
		terminateNode("Low"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo, WithResolver("D", func(ident.Token) (any, error) {
		return 42, nil
	}))
	drain(t, e, func(ctx context.Context) {
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 2000}, ""))
	})

	got := sink.FiringsFor(2000)
	require.Len(t, got, 5)
	exit := got[2]
	assert.Equal(t, trace.EventExit, exit.Event)
	assert.Equal(t, "Low", exit.ToPlace)
	assert.Equal(t, "100", exit.ArcValue)
}

func TestEngine_DecisionNoMatchDropsToken(t *testing.T) {
	topo, err := topology.New("decide", "D", []*topology.Node{
		{Name: "D", Kind: topology.KindDecision, Edges: []topology.Edge{
			{To: "A", Op: topology.CompareEq, Value: "alpha"},
			{To: "B", Op: topology.CompareEq, Value: "beta"},
		}},
		terminateNode("A"),
		terminateNode("B"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo, WithResolver("D", func(ident.Token) (any, error) {
		return "gamma", nil
	}))
	drain(t, e, func(ctx context.Context) {
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 2100}, ""))
	})

	// Dropped: no branch taken, no terminal record.
	assert.Equal(t, 0, sink.CountByEvent(trace.EventExit))
	assert.Equal(t, 0, sink.CountByEvent(trace.EventTerminate))
	assert.Equal(t, 1, sink.CountByEvent(trace.EventEnter))
}

func TestEngine_XORMultiMatchBecomesImplicitFork(t *testing.T) {
	topo, err := topology.New("xor", "X", []*topology.Node{
		{Name: "X", Kind: topology.KindXOR, Edges: []topology.Edge{
			{To: "B1", Guard: topology.GuardTrue},
			{To: "B2", Guard: topology.GuardTrue},
		}},
		terminateNode("B1"),
		terminateNode("B2"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo, WithResolver("X", func(ident.Token) (any, error) {
		return true, nil
	}))
	drain(t, e, func(ctx context.Context) {
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 3000}, ""))
	})

	// Parent exits toward its first match, then is consumed in favor of
	// one child per surviving branch.
	parent := sink.FiringsFor(3000)
	require.NotEmpty(t, parent)
	assert.Equal(t, trace.EventForkConsumed, parent[len(parent)-1].Event)
	assert.Equal(t, 2, sink.CountByEvent(trace.EventFork))
	assert.Equal(t, 2, sink.CountByEvent(trace.EventTerminate))
	assert.Len(t, sink.Genealogy(), 2)
}

func TestEngine_XORFallsBackToDefaultBranch(t *testing.T) {
	topo, err := topology.New("xor", "X", []*topology.Node{
		{Name: "X", Kind: topology.KindXOR, Edges: []topology.Edge{
			{To: "Cond", Guard: topology.GuardEqual, Value: "special"},
			{To: "Default"},
		}},
		terminateNode("Cond"),
		terminateNode("Default"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo, WithResolver("X", func(ident.Token) (any, error) {
		return "ordinary", nil
	}))
	drain(t, e, func(ctx context.Context) {
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 3100}, ""))
	})

	got := sink.FiringsFor(3100)
	require.Len(t, got, 5)
	assert.Equal(t, "Default", got[2].ToPlace)
	assert.Equal(t, trace.EventTerminate, got[4].Event)
}

func TestEngine_GatewayTerminateShortCircuit(t *testing.T) {
	topo, err := topology.New("gw", "G", []*topology.Node{
		{Name: "G", Kind: topology.KindGateway, Edges: []topology.Edge{
			{To: "terminate", Value: "cancel"},
			{To: "Next", Value: "proceed"},
		}},
		terminateNode("Next"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo, WithResolver("G", func(ident.Token) (any, error) {
		return "cancel", nil
	}))
	drain(t, e, func(ctx context.Context) {
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 4000}, ""))
	})

	got := sink.FiringsFor(4000)
	require.Len(t, got, 3)
	assert.Equal(t, trace.EventTerminate, got[2].Event)
	assert.Equal(t, "G", got[2].FromPlace)
	assert.Equal(t, 0, sink.CountByEvent(trace.EventExit))
}

func TestEngine_GatewayRoutesOnTokenAttribute(t *testing.T) {
	topo, err := topology.New("gw", "G", []*topology.Node{
		{Name: "G", Kind: topology.KindGateway, RoutingAttr: "status", Edges: []topology.Edge{
			{To: "Shipped", Value: "shipped"},
			{To: "Held", Value: "held"},
		}},
		terminateNode("Shipped"),
		terminateNode("Held"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo)
	drain(t, e, func(ctx context.Context) {
		tok := ident.Token{ID: 4100, Attributes: map[string]any{"status": "held"}}
		require.NoError(t, e.Inject(ctx, tok, ""))
	})

	got := sink.FiringsFor(4100)
	require.Len(t, got, 5)
	assert.Equal(t, "Held", got[2].ToPlace)
}

func TestEngine_FeedForwardAdvancesFamily(t *testing.T) {
	topo, err := topology.New("ff", "Loop", []*topology.Node{
		{Name: "Loop", Kind: topology.KindFeedForward, Edges: []topology.Edge{{To: "End"}}},
		terminateNode("End"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo)
	drain(t, e, func(ctx context.Context) {
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 5000}, ""))
	})

	old := sink.FiringsFor(5000)
	require.NotEmpty(t, old)
	assert.Equal(t, trace.EventExit, old[len(old)-1].Event)

	reborn := sink.FiringsFor(5100)
	require.NotEmpty(t, reborn)
	assert.Equal(t, trace.EventTerminate, reborn[len(reborn)-1].Event)
}

func TestEngine_ExpiredRoutesWithoutProcessing(t *testing.T) {
	topo, err := topology.New("exp", "Dead", []*topology.Node{
		{Name: "Dead", Kind: topology.KindExpired, Edges: []topology.Edge{{To: "Sink"}}},
		terminateNode("Sink"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo)
	drain(t, e, func(ctx context.Context) {
		tok := ident.Token{ID: 6000, Attributes: map[string]any{"payload": "x"}}
		require.NoError(t, e.Inject(ctx, tok, ""))
	})

	got := sink.FiringsFor(6000)
	require.Len(t, got, 4) // GENERATED, EXIT, ENTER, TERMINATE: no ENTER at the expired node
	assert.Equal(t, trace.EventExit, got[1].Event)
	assert.Equal(t, "expired", got[1].ArcValue)
	assert.Equal(t, "Dead", got[1].FromPlace)
}

func TestEngine_CapacityRejectionEmitsBuffered(t *testing.T) {
	topo, err := topology.New("narrow", "A", []*topology.Node{
		{Name: "A", Kind: topology.KindEdge, Capacity: 1,
			Delay: topology.DelaySpec{Dist: "deterministic", Value: 80},
			Edges: []topology.Edge{{To: "B"}}},
		terminateNode("B"),
	})
	require.NoError(t, err)

	e, sink := newTestEngine(t, topo)
	drain(t, e, func(ctx context.Context) {
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 7000}, ""))
		require.NoError(t, e.Inject(ctx, ident.Token{ID: 7200}, ""))
	})

	assert.GreaterOrEqual(t, sink.CountByEvent(trace.EventBuffered), 1)
	assert.Equal(t, 2, sink.CountByEvent(trace.EventTerminate))
}

func TestEngine_ForkConsumedDedup(t *testing.T) {
	e, _ := newTestEngine(t, forkJoinTopology(t))

	assert.True(t, e.markForkConsumed(1_000_000, "T_out_Split"))
	assert.False(t, e.markForkConsumed(1_000_000, "T_out_Split"))
	// A different transition or parent is a fresh consumption.
	assert.True(t, e.markForkConsumed(1_000_000, "T_out_Other"))
	assert.True(t, e.markForkConsumed(2_000_000, "T_out_Split"))
}

func TestEngine_InjectUnknownNode(t *testing.T) {
	e, _ := newTestEngine(t, forkJoinTopology(t))
	err := e.Inject(context.Background(), ident.Token{ID: 1}, "Ghost")
	require.Error(t, err)
	var rerr *RoutingError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, CodeUnknownNode, rerr.Code)
}

func TestEngine_InjectAfterStop(t *testing.T) {
	e, _ := newTestEngine(t, forkJoinTopology(t))
	e.Stop()
	err := e.Inject(context.Background(), ident.Token{ID: 1_000_000}, "")
	assert.Error(t, err)
}

func TestEngine_CleanupWorkflowReleasesForkState(t *testing.T) {
	e, _ := newTestEngine(t, forkJoinTopology(t))
	require.True(t, e.markForkConsumed(1_000_000, "T_out_Split"))

	e.CleanupWorkflow(1_000_000)

	// Fork state is gone, so the mark can be taken again.
	assert.True(t, e.markForkConsumed(1_000_000, "T_out_Split"))
}
