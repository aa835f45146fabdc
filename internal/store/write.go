package store

import (
	"context"
	"fmt"

	"github.com/spnflow/spnflow/internal/trace"
)

// WriteTransitionFiring inserts one transition firing record.
// ON CONFLICT(record_id) DO NOTHING keeps re-delivered records idempotent.
func (s *Store) WriteTransitionFiring(ctx context.Context, rec trace.TransitionFiring) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transition_firings
		(record_id, ts, transition_id, transition_type, token_id, workflow_base,
		 from_place, to_place, fork_decision, join_state, buffer_size, event_type, arc_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO NOTHING
	`,
		rec.RecordID,
		rec.Timestamp,
		rec.TransitionID,
		rec.TransitionType,
		rec.TokenID,
		rec.WorkflowBase,
		rec.FromPlace,
		rec.ToPlace,
		rec.ForkDecision,
		rec.JoinState,
		rec.BufferSize,
		rec.Event.String(),
		rec.ArcValue,
	)
	if err != nil {
		return fmt.Errorf("write transition firing: %w", err)
	}
	return nil
}

// WriteTokenGenealogy inserts one genealogy edge. The UNIQUE(parent, child)
// constraint plus ON CONFLICT DO NOTHING enforces the exactly-once edge per
// fork child.
func (s *Store) WriteTokenGenealogy(ctx context.Context, edge trace.GenealogyEdge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_genealogy
		(record_id, parent_id, child_id, fork_transition, ts, workflow_base)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		edge.RecordID,
		edge.ParentTokenID,
		edge.ChildTokenID,
		edge.ForkTransition,
		edge.Timestamp,
		edge.WorkflowBase,
	)
	if err != nil {
		return fmt.Errorf("write genealogy edge: %w", err)
	}
	return nil
}

// WriteJoinSynchronization inserts one join contribution. A token arriving
// twice at the same join instance is recorded once.
func (s *Store) WriteJoinSynchronization(ctx context.Context, c trace.JoinContribution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO join_synchronizations
		(record_id, join_transition, workflow_base, token_id, arrived, required, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		c.RecordID,
		c.JoinTransition,
		c.WorkflowBase,
		c.TokenID,
		c.Arrived,
		c.Required,
		c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("write join contribution: %w", err)
	}
	return nil
}

// UpdateJoinCompletion marks every contribution of a join instance complete
// and records the continuation token.
func (s *Store) UpdateJoinCompletion(ctx context.Context, joinTransition string, workflowBase, continuationID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE join_synchronizations
		SET completed = 1, continuation_id = ?
		WHERE join_transition = ? AND workflow_base = ?
	`,
		continuationID,
		joinTransition,
		workflowBase,
	)
	if err != nil {
		return fmt.Errorf("update join completion: %w", err)
	}
	return nil
}
