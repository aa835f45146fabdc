package trace

import "context"

// Sink is the external instrumentation store. All calls are fire-and-forget
// from the routing perspective: the recorder logs write failures and never
// lets them block or fail token routing.
type Sink interface {
	WriteTransitionFiring(ctx context.Context, rec TransitionFiring) error
	WriteTokenGenealogy(ctx context.Context, edge GenealogyEdge) error
	WriteJoinSynchronization(ctx context.Context, c JoinContribution) error
	UpdateJoinCompletion(ctx context.Context, joinTransition string, workflowBase, continuationID int64) error
}
