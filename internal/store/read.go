package store

import (
	"context"
	"fmt"

	"github.com/spnflow/spnflow/internal/trace"
)

// EventsForWorkflow returns every transition firing of a workflow family,
// ordered deterministically: by timestamp, then record id as tie-break.
// Returns an empty slice (not nil) when no records exist.
func (s *Store) EventsForWorkflow(ctx context.Context, workflowBase int64) ([]trace.TransitionFiring, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, ts, transition_id, transition_type, token_id, workflow_base,
		       from_place, to_place, fork_decision, join_state, buffer_size, event_type, arc_value
		FROM transition_firings
		WHERE workflow_base = ?
		ORDER BY ts ASC, record_id ASC
	`, workflowBase)
	if err != nil {
		return nil, fmt.Errorf("query transition firings: %w", err)
	}
	defer rows.Close()

	firings := []trace.TransitionFiring{}
	for rows.Next() {
		var rec trace.TransitionFiring
		var eventType string
		if err := rows.Scan(
			&rec.RecordID, &rec.Timestamp, &rec.TransitionID, &rec.TransitionType,
			&rec.TokenID, &rec.WorkflowBase, &rec.FromPlace, &rec.ToPlace,
			&rec.ForkDecision, &rec.JoinState, &rec.BufferSize, &eventType, &rec.ArcValue,
		); err != nil {
			return nil, fmt.Errorf("scan transition firing: %w", err)
		}
		rec.Event, err = trace.ParseEventType(eventType)
		if err != nil {
			return nil, fmt.Errorf("scan transition firing: %w", err)
		}
		firings = append(firings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition firings: %w", err)
	}
	return firings, nil
}

// GenealogyForWorkflow returns the fork lineage edges of a workflow family,
// ordered by child id.
func (s *Store) GenealogyForWorkflow(ctx context.Context, workflowBase int64) ([]trace.GenealogyEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, parent_id, child_id, fork_transition, ts, workflow_base
		FROM token_genealogy
		WHERE workflow_base = ?
		ORDER BY child_id ASC
	`, workflowBase)
	if err != nil {
		return nil, fmt.Errorf("query genealogy: %w", err)
	}
	defer rows.Close()

	edges := []trace.GenealogyEdge{}
	for rows.Next() {
		var e trace.GenealogyEdge
		if err := rows.Scan(&e.RecordID, &e.ParentTokenID, &e.ChildTokenID,
			&e.ForkTransition, &e.Timestamp, &e.WorkflowBase); err != nil {
			return nil, fmt.Errorf("scan genealogy edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate genealogy: %w", err)
	}
	return edges, nil
}

// WorkflowStats summarizes one workflow family's event trail.
type WorkflowStats struct {
	WorkflowBase int64          `json:"workflow_base"`
	TotalEvents  int            `json:"total_events"`
	ByEvent      map[string]int `json:"by_event"`
	Tokens       int            `json:"tokens"`

	// Complete reports whether every ENTER has been matched by exactly
	// one of EXIT, TERMINATE, or FORK_CONSUMED for that token.
	Complete bool `json:"complete"`
}

// StatsForWorkflow computes summary statistics over a workflow's events.
func (s *Store) StatsForWorkflow(ctx context.Context, workflowBase int64) (*WorkflowStats, error) {
	firings, err := s.EventsForWorkflow(ctx, workflowBase)
	if err != nil {
		return nil, err
	}

	stats := &WorkflowStats{
		WorkflowBase: workflowBase,
		TotalEvents:  len(firings),
		ByEvent:      make(map[string]int),
	}
	tokens := make(map[int64]bool)
	enters := make(map[int64]int)   // per token: unmatched ENTER count
	matches := make(map[int64]int)  // per token: EXIT/TERMINATE/FORK_CONSUMED count
	for _, f := range firings {
		stats.ByEvent[f.Event.String()]++
		tokens[f.TokenID] = true
		switch f.Event {
		case trace.EventEnter:
			enters[f.TokenID]++
		case trace.EventExit, trace.EventTerminate, trace.EventForkConsumed:
			matches[f.TokenID]++
		}
	}
	stats.Tokens = len(tokens)

	stats.Complete = true
	for id, n := range enters {
		if matches[id] != n {
			stats.Complete = false
			break
		}
	}
	return stats, nil
}
