package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spnflow/spnflow/internal/ident"
	"github.com/spnflow/spnflow/internal/place"
	"github.com/spnflow/spnflow/internal/topology"
)

// step executes one hop: place processing (where the node kind calls for
// it) followed by kind-specific routing. The returned bool is false when
// the token does not continue on this goroutine: terminated, parked at a
// join, consumed by a fork, or dropped on a fault.
func (e *Engine) step(ctx context.Context, tok ident.Token, n *topology.Node) (arrival, bool) {
	switch n.Kind {
	case topology.KindExpired:
		return e.routeExpired(ctx, tok, n)
	case topology.KindJoin:
		return e.routeJoin(ctx, tok, n)
	}

	pl := e.places[n.Name]
	out, err := e.processPlace(ctx, n.Name, tok.ID, func() (*place.Outcome, error) {
		return pl.Process(ctx, tok)
	})
	if err != nil {
		e.logger.Error("place processing failed",
			"node", n.Name, "token", tok.ID, "error", err)
		return arrival{}, false
	}

	switch n.Kind {
	case topology.KindDecision:
		return e.routeDecision(ctx, out, n)
	case topology.KindXOR:
		return e.routeXOR(ctx, out, n)
	case topology.KindGateway:
		return e.routeGateway(ctx, out, n)
	case topology.KindFork:
		return e.forkTo(ctx, out.Token, n, n.Edges)
	case topology.KindEdge, topology.KindMerge:
		return e.routeSingle(ctx, out, n)
	case topology.KindFeedForward:
		return e.routeFeedForward(ctx, out, n)
	case topology.KindTerminate:
		e.terminate(ctx, out.Token, n.Name)
		return arrival{}, false
	default:
		e.logger.Error("unroutable node kind", "node", n.Name, "kind", n.Kind.String())
		return arrival{}, false
	}
}

// routeSingle passes a token over a node's only outgoing edge: EXIT with
// the resolved arc value, then dispatch.
func (e *Engine) routeSingle(ctx context.Context, out *place.Outcome, n *topology.Node) (arrival, bool) {
	edge := n.Edges[0]
	e.rec.Exit(ctx, out.Token.ID, n.Name, edge.To, arcValue(out))
	return arrival{tok: out.Token, node: edge.To}, true
}

// terminate ends a token's life at a terminal sink and releases its
// timestamp state.
func (e *Engine) terminate(ctx context.Context, tok ident.Token, node string) {
	e.rec.Terminate(ctx, tok.ID, node)
	e.clock.ReleaseToken(tok.ID)
}

// routeDecision walks the decision table in declaration order and takes
// the first matching row. A row whose comparison faults is skipped as a
// non-match. No matching row drops the token with the full candidate set
// in the diagnostic.
func (e *Engine) routeDecision(ctx context.Context, out *place.Outcome, n *topology.Node) (arrival, bool) {
	value := out.Value
	if value == nil {
		e.dropFault(n, out.Token.ID, &RoutingError{
			Code: CodeNilResult, Node: n.Name, TokenID: out.Token.ID,
		})
		return arrival{}, false
	}
	for _, edge := range n.Edges {
		matched, err := compareValues(edge.Op, value, edge.Value)
		if err != nil {
			e.logger.Warn("decision row comparison failed",
				"node", n.Name, "token", out.Token.ID,
				"row", fmt.Sprintf("%s %s", edge.Op, edge.Value), "error", err)
			continue
		}
		if matched {
			e.rec.Exit(ctx, out.Token.ID, n.Name, edge.To, edge.Value)
			return arrival{tok: out.Token, node: edge.To}, true
		}
	}
	e.dropNoMatch(n, out.Token.ID, value)
	return arrival{}, false
}

// routeXOR evaluates every conditioned branch against the routing value.
// Zero matches fall back to the unconditioned branches. One survivor
// routes normally; several become an implicit fork, with the parent's
// EXIT pointing at the first match.
func (e *Engine) routeXOR(ctx context.Context, out *place.Outcome, n *topology.Node) (arrival, bool) {
	value := e.routingValue(out, n)

	var matches []topology.Edge
	for _, edge := range n.Edges {
		if edge.Guard == topology.GuardNone {
			continue
		}
		ok, err := evalGuard(edge.Guard, value, edge.Value)
		if err != nil {
			e.logger.Warn("branch guard evaluation failed",
				"node", n.Name, "token", out.Token.ID, "to", edge.To, "error", err)
			continue
		}
		if ok {
			matches = append(matches, edge)
		}
	}
	if len(matches) == 0 {
		for _, edge := range n.Edges {
			if edge.Guard == topology.GuardNone {
				matches = append(matches, edge)
			}
		}
	}

	switch len(matches) {
	case 0:
		e.dropNoMatch(n, out.Token.ID, value)
		return arrival{}, false
	case 1:
		e.rec.Exit(ctx, out.Token.ID, n.Name, matches[0].To, arcValue(out))
		return arrival{tok: out.Token, node: matches[0].To}, true
	default:
		// Implicit fork: the parent EXITs toward its first match, then is
		// consumed in favor of one child per surviving branch.
		e.rec.Exit(ctx, out.Token.ID, n.Name, matches[0].To, arcValue(out))
		return e.forkTo(ctx, out.Token, n, matches)
	}
}

// routeGateway matches the routing value against branch literals by
// strict equality. A destination literally named "terminate" ends the
// token instead of routing it.
func (e *Engine) routeGateway(ctx context.Context, out *place.Outcome, n *topology.Node) (arrival, bool) {
	value := e.routingValue(out, n)
	rendered := fmt.Sprint(value)

	var matches []topology.Edge
	for _, edge := range n.Edges {
		if edge.Value == rendered {
			matches = append(matches, edge)
		}
	}

	switch len(matches) {
	case 0:
		e.dropNoMatch(n, out.Token.ID, value)
		return arrival{}, false
	case 1:
		if matches[0].To == gatewayTerminate {
			e.terminate(ctx, out.Token, n.Name)
			return arrival{}, false
		}
		e.rec.Exit(ctx, out.Token.ID, n.Name, matches[0].To, rendered)
		return arrival{tok: out.Token, node: matches[0].To}, true
	default:
		routable := matches[:0]
		for _, m := range matches {
			if m.To == gatewayTerminate {
				e.logger.Warn("terminate branch ignored in multi-match gateway",
					"node", n.Name, "token", out.Token.ID)
				continue
			}
			routable = append(routable, m)
		}
		if len(routable) == 0 {
			e.terminate(ctx, out.Token, n.Name)
			return arrival{}, false
		}
		if len(routable) == 1 {
			e.rec.Exit(ctx, out.Token.ID, n.Name, routable[0].To, rendered)
			return arrival{tok: out.Token, node: routable[0].To}, true
		}
		e.rec.Exit(ctx, out.Token.ID, n.Name, routable[0].To, rendered)
		return e.forkTo(ctx, out.Token, n, routable)
	}
}

// gatewayTerminate is the literal destination that short-circuits a
// gateway branch to a TERMINATE event.
const gatewayTerminate = "terminate"

// forkTo splits the parent into one child per destination. Children get
// ids parent+1..parent+len(dests); each produces a genealogy edge and a
// FORK record before dispatch. Exactly one FORK_CONSUMED is recorded per
// (parent, fork transition) regardless of how branches interleave.
func (e *Engine) forkTo(ctx context.Context, parent ident.Token, n *topology.Node, dests []topology.Edge) (arrival, bool) {
	if ident.BranchNumber(parent.ID) != 0 {
		e.dropFault(n, parent.ID, &RoutingError{
			Code: CodeBadFork, Node: n.Name, TokenID: parent.ID,
		})
		return arrival{}, false
	}

	_, tOut := topology.DeriveTransitions(n.Name)

	for i, d := range dests {
		childID, err := ident.ChildID(parent.ID, i+1)
		if err != nil {
			e.logger.Error("child id derivation failed",
				"node", n.Name, "parent", parent.ID, "branch", i+1, "error", err)
			continue
		}
		child := parent.WithID(childID)
		e.rec.Genealogy(ctx, parent.ID, childID, tOut)
		e.rec.Fork(ctx, childID, parent.ID, n.Name, i+1)
		e.dispatch(ctx, child, d.To)
	}

	if e.markForkConsumed(parent.ID, tOut) {
		e.rec.ForkConsumed(ctx, parent.ID, n.Name, len(dests))
	}
	e.clock.ReleaseToken(parent.ID)
	return arrival{}, false
}

// routeJoin registers the arrival and parks the token unless it is the
// one that completes the join. On completion the consumed siblings are
// recorded and released, the merged token is processed through the join's
// place with its real guard, and the continuation routes onward.
func (e *Engine) routeJoin(ctx context.Context, tok ident.Token, n *topology.Node) (arrival, bool) {
	tIn, _ := topology.DeriveTransitions(n.Name)
	base := ident.WorkflowBase(tok.ID)

	comp, done := e.joins.Arrive(tIn, base, tok, n.JoinRequired)
	arrived := e.joins.Arrived(tIn, base)
	if done {
		arrived = comp.Required
	}
	e.rec.JoinArrival(ctx, tIn, base, tok.ID, arrived, n.JoinRequired)
	if !done {
		return arrival{}, false
	}

	for _, sib := range comp.Consumed {
		e.rec.JoinConsumed(ctx, sib.ID, n.Name, comp.Continuation.ID)
		e.clock.ReleaseToken(sib.ID)
	}
	e.rec.JoinCompleted(ctx, tIn, base, comp.Continuation.ID)

	pl := e.places[n.Name]
	out, err := e.processPlace(ctx, n.Name, comp.Continuation.ID, func() (*place.Outcome, error) {
		return pl.ProcessMerged(ctx, comp.Continuation, comp.Consumed...)
	})
	if err != nil {
		e.logger.Error("post-join processing failed",
			"node", n.Name, "token", comp.Continuation.ID, "error", err)
		return arrival{}, false
	}
	if !out.Routed {
		e.logger.Error("post-join guard rejected continuation",
			"node", n.Name, "token", out.Token.ID, "guard_error", out.GuardErr)
		return arrival{}, false
	}

	edge := n.Edges[0]
	e.rec.Exit(ctx, out.Token.ID, n.Name, edge.To, arcValue(out))
	return arrival{tok: out.Token, node: edge.To}, true
}

// routeFeedForward re-identifies the token into a fresh workflow family:
// EXIT under the old id, then the token continues as old id plus the
// family span. The old id's timestamp state is released.
func (e *Engine) routeFeedForward(ctx context.Context, out *place.Outcome, n *topology.Node) (arrival, bool) {
	edge := n.Edges[0]
	e.rec.Exit(ctx, out.Token.ID, n.Name, edge.To, arcValue(out))

	reborn := out.Token.WithID(out.Token.ID + FeedForwardIncrement)
	e.clock.ReleaseToken(out.Token.ID)
	return arrival{tok: reborn, node: edge.To}, true
}

// routeExpired forwards a dead token without place processing and with a
// cleared payload.
func (e *Engine) routeExpired(ctx context.Context, tok ident.Token, n *topology.Node) (arrival, bool) {
	edge := n.Edges[0]
	e.rec.Exit(ctx, tok.ID, n.Name, edge.To, "expired")
	tok.Attributes = nil
	return arrival{tok: tok, node: edge.To}, true
}

// routingValue resolves what XOR and gateway nodes route on: the service
// result first, then the node's routing attribute on the token, then the
// guard decision.
func (e *Engine) routingValue(out *place.Outcome, n *topology.Node) any {
	if out.Value != nil {
		return out.Value
	}
	if n.RoutingAttr != "" {
		if v, ok := out.Token.Attributes[n.RoutingAttr]; ok {
			return v
		}
	}
	return out.Routed
}

// arcValue renders the value carried on an EXIT record.
func arcValue(out *place.Outcome) string {
	if out.Value != nil {
		return fmt.Sprint(out.Value)
	}
	return strconv.FormatBool(out.Routed)
}

func (e *Engine) dropNoMatch(n *topology.Node, tokenID int64, value any) {
	candidates := make([]string, 0, len(n.Edges))
	for _, edge := range n.Edges {
		switch {
		case edge.Op != 0:
			candidates = append(candidates, fmt.Sprintf("%s %s -> %s", edge.Op, edge.Value, edge.To))
		case edge.Guard != topology.GuardNone:
			candidates = append(candidates, fmt.Sprintf("%s %s -> %s", edge.Guard, edge.Value, edge.To))
		default:
			candidates = append(candidates, fmt.Sprintf("%q -> %s", edge.Value, edge.To))
		}
	}
	e.dropFault(n, tokenID, &RoutingError{
		Code: CodeNoMatch, Node: n.Name, TokenID: tokenID,
		Value: value, Candidates: candidates,
	})
}

func (e *Engine) dropFault(n *topology.Node, tokenID int64, rerr *RoutingError) {
	e.logger.Error("routing fault", "node", n.Name, "token", tokenID, "error", rerr.Error())
}
