package trace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/spnflow/spnflow/internal/ident"
	"github.com/spnflow/spnflow/internal/topology"
)

// Recorder builds instrumentation records and hands them to the sink.
//
// Two behaviors live here so that no caller can get them wrong:
//
//   - Administrative bypass: tokens in the reserved band produce no
//     records of any kind while still being routed normally.
//   - Failure swallowing: a sink write failure is logged and dropped;
//     routing proceeds unaffected.
type Recorder struct {
	sink   Sink
	clock  *ident.Clock
	admin  ident.AdminRange
	newID  func() string
	logger *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithAdminRange overrides the administrative bypass band.
func WithAdminRange(r ident.AdminRange) RecorderOption {
	return func(rec *Recorder) { rec.admin = r }
}

// WithRecordIDs overrides record id generation. Test hook for stable ids.
func WithRecordIDs(newID func() string) RecorderOption {
	return func(rec *Recorder) { rec.newID = newID }
}

// WithLogger overrides the recorder's logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(rec *Recorder) { rec.logger = l }
}

// NewRecorder creates a recorder stamping through clock and writing to sink.
func NewRecorder(sink Sink, clock *ident.Clock, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:  sink,
		clock: clock,
		admin: ident.DefaultAdminRange(),
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clock returns the recorder's timestamp clock, shared with the engine.
func (r *Recorder) Clock() *ident.Clock { return r.clock }

// bypass reports whether a token is administrative self-test traffic.
func (r *Recorder) bypass(tokenID int64) bool {
	return r.admin.Contains(tokenID)
}

func (r *Recorder) write(ctx context.Context, rec TransitionFiring) {
	if err := r.sink.WriteTransitionFiring(ctx, rec); err != nil {
		r.logger.Warn("instrumentation write failed",
			"event", rec.Event.String(),
			"token", rec.TokenID,
			"transition", rec.TransitionID,
			"error", err,
		)
	}
}

// Generated records a token created by an external source. createdAt is
// the token's true creation time.
func (r *Recorder) Generated(ctx context.Context, tok ident.Token, node string, createdAt time.Time) {
	if r.bypass(tok.ID) {
		return
	}
	tIn, _ := topology.DeriveTransitions(node)
	r.write(ctx, TransitionFiring{
		RecordID:       r.newID(),
		Timestamp:      r.clock.StampAt(tok.ID, createdAt),
		TransitionID:   tIn,
		TransitionType: TransitionIn,
		TokenID:        tok.ID,
		WorkflowBase:   ident.WorkflowBase(tok.ID),
		ToPlace:        node,
		Event:          EventGenerated,
	})
}

// Buffered records a token waiting for admission; depth is the number of
// tokens currently queued for the place.
func (r *Recorder) Buffered(ctx context.Context, tokenID int64, node string, depth int) {
	if r.bypass(tokenID) {
		return
	}
	tIn, _ := topology.DeriveTransitions(node)
	r.write(ctx, TransitionFiring{
		RecordID:       r.newID(),
		Timestamp:      r.clock.Stamp(tokenID),
		TransitionID:   tIn,
		TransitionType: TransitionIn,
		TokenID:        tokenID,
		WorkflowBase:   ident.WorkflowBase(tokenID),
		ToPlace:        node,
		BufferSize:     depth,
		Event:          EventBuffered,
	})
}

// Enter records admission into a place.
func (r *Recorder) Enter(ctx context.Context, tokenID int64, node string, marking int) {
	if r.bypass(tokenID) {
		return
	}
	tIn, _ := topology.DeriveTransitions(node)
	r.write(ctx, TransitionFiring{
		RecordID:       r.newID(),
		Timestamp:      r.clock.Stamp(tokenID),
		TransitionID:   tIn,
		TransitionType: TransitionIn,
		TokenID:        tokenID,
		WorkflowBase:   ident.WorkflowBase(tokenID),
		ToPlace:        node,
		BufferSize:     marking,
		Event:          EventEnter,
	})
}

// Exit records a token leaving node toward dest, carrying the arc/guard
// value actually taken. Emitted before dispatch.
func (r *Recorder) Exit(ctx context.Context, tokenID int64, node, dest, arcValue string) {
	if r.bypass(tokenID) {
		return
	}
	_, tOut := topology.DeriveTransitions(node)
	r.write(ctx, TransitionFiring{
		RecordID:       r.newID(),
		Timestamp:      r.clock.Stamp(tokenID),
		TransitionID:   tOut,
		TransitionType: TransitionOut,
		TokenID:        tokenID,
		WorkflowBase:   ident.WorkflowBase(tokenID),
		FromPlace:      node,
		ToPlace:        dest,
		Event:          EventExit,
		ArcValue:       arcValue,
	})
}

// Fork records the creation of child branch number branch under parent at
// node. fromPlace/toPlace are both the fork's source node.
func (r *Recorder) Fork(ctx context.Context, childID, parentID int64, node string, branch int) {
	if r.bypass(childID) {
		return
	}
	_, tOut := topology.DeriveTransitions(node)
	r.write(ctx, TransitionFiring{
		RecordID:       r.newID(),
		Timestamp:      r.clock.Stamp(childID),
		TransitionID:   tOut,
		TransitionType: TransitionOut,
		TokenID:        childID,
		WorkflowBase:   ident.WorkflowBase(childID),
		FromPlace:      node,
		ToPlace:        node,
		ForkDecision:   fmt.Sprintf("branch_%d", branch),
		JoinState:      fmt.Sprintf("parent=%d", parentID),
		Event:          EventFork,
	})
}

// ForkConsumed records the parent ceasing to exist. The engine guarantees
// exactly one call per (parent, fork transition).
func (r *Recorder) ForkConsumed(ctx context.Context, parentID int64, node string, branches int) {
	if r.bypass(parentID) {
		return
	}
	_, tOut := topology.DeriveTransitions(node)
	r.write(ctx, TransitionFiring{
		RecordID:       r.newID(),
		Timestamp:      r.clock.Stamp(parentID),
		TransitionID:   tOut,
		TransitionType: TransitionOut,
		TokenID:        parentID,
		WorkflowBase:   ident.WorkflowBase(parentID),
		FromPlace:      node,
		ToPlace:        node,
		ForkDecision:   fmt.Sprintf("branches_%d", branches),
		Event:          EventForkConsumed,
	})
}

// JoinConsumed records a non-continuation sibling absorbed by a join.
func (r *Recorder) JoinConsumed(ctx context.Context, tokenID int64, node string, continuationID int64) {
	if r.bypass(tokenID) {
		return
	}
	tIn, _ := topology.DeriveTransitions(node)
	r.write(ctx, TransitionFiring{
		RecordID:       r.newID(),
		Timestamp:      r.clock.Stamp(tokenID),
		TransitionID:   tIn,
		TransitionType: TransitionIn,
		TokenID:        tokenID,
		WorkflowBase:   ident.WorkflowBase(tokenID),
		FromPlace:      node,
		ToPlace:        node,
		JoinState:      fmt.Sprintf("continuation=%d", continuationID),
		Event:          EventJoinConsumed,
	})
}

// Terminate records arrival at a terminal sink.
func (r *Recorder) Terminate(ctx context.Context, tokenID int64, node string) {
	if r.bypass(tokenID) {
		return
	}
	_, tOut := topology.DeriveTransitions(node)
	r.write(ctx, TransitionFiring{
		RecordID:       r.newID(),
		Timestamp:      r.clock.Stamp(tokenID),
		TransitionID:   tOut,
		TransitionType: TransitionOut,
		TokenID:        tokenID,
		WorkflowBase:   ident.WorkflowBase(tokenID),
		FromPlace:      node,
		Event:          EventTerminate,
	})
}

// Genealogy records one parent->child lineage edge. Called exactly once
// per fork child.
func (r *Recorder) Genealogy(ctx context.Context, parentID, childID int64, forkTransition string) {
	if r.bypass(parentID) || r.bypass(childID) {
		return
	}
	edge := GenealogyEdge{
		RecordID:       r.newID(),
		ParentTokenID:  parentID,
		ChildTokenID:   childID,
		ForkTransition: forkTransition,
		Timestamp:      r.clock.Stamp(childID),
		WorkflowBase:   ident.WorkflowBase(parentID),
	}
	if err := r.sink.WriteTokenGenealogy(ctx, edge); err != nil {
		r.logger.Warn("genealogy write failed",
			"parent", parentID, "child", childID, "error", err)
	}
}

// JoinArrival records one contribution to a join instance.
func (r *Recorder) JoinArrival(ctx context.Context, joinTransition string, base, tokenID int64, arrived, required int) {
	if r.bypass(tokenID) {
		return
	}
	c := JoinContribution{
		RecordID:       r.newID(),
		JoinTransition: joinTransition,
		WorkflowBase:   base,
		TokenID:        tokenID,
		Arrived:        arrived,
		Required:       required,
		Timestamp:      r.clock.Stamp(tokenID),
	}
	if err := r.sink.WriteJoinSynchronization(ctx, c); err != nil {
		r.logger.Warn("join contribution write failed",
			"join", joinTransition, "token", tokenID, "error", err)
	}
}

// JoinCompleted marks a join instance complete with its continuation.
func (r *Recorder) JoinCompleted(ctx context.Context, joinTransition string, base, continuationID int64) {
	if r.bypass(continuationID) {
		return
	}
	if err := r.sink.UpdateJoinCompletion(ctx, joinTransition, base, continuationID); err != nil {
		r.logger.Warn("join completion update failed",
			"join", joinTransition, "workflow", base, "error", err)
	}
}
