package trace

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Snapshot is the canonical serialized form of an event trail, used for
// golden-file comparison in the harness. String fields are NFC normalized
// so that configuration files authored with different Unicode compositions
// produce byte-identical snapshots.
type Snapshot struct {
	Workflow int64           `json:"workflow"`
	Events   []snapshotEvent `json:"events"`
}

type snapshotEvent struct {
	Event        string `json:"event"`
	TokenID      int64  `json:"token_id"`
	Transition   string `json:"transition"`
	FromPlace    string `json:"from_place,omitempty"`
	ToPlace      string `json:"to_place,omitempty"`
	ArcValue     string `json:"arc_value,omitempty"`
	ForkDecision string `json:"fork_decision,omitempty"`
	JoinState    string `json:"join_state,omitempty"`
	BufferSize   int    `json:"buffer_size,omitempty"`
}

// MarshalSnapshot serializes firings for one workflow base into canonical
// JSON. Record ids and timestamps are deliberately excluded: they vary per
// run, while event identity and order are what golden files pin down.
func MarshalSnapshot(workflowBase int64, firings []TransitionFiring) ([]byte, error) {
	snap := Snapshot{Workflow: workflowBase, Events: make([]snapshotEvent, 0, len(firings))}
	for _, f := range firings {
		if f.WorkflowBase != workflowBase {
			continue
		}
		snap.Events = append(snap.Events, snapshotEvent{
			Event:        f.Event.String(),
			TokenID:      f.TokenID,
			Transition:   nfc(f.TransitionID),
			FromPlace:    nfc(f.FromPlace),
			ToPlace:      nfc(f.ToPlace),
			ArcValue:     nfc(f.ArcValue),
			ForkDecision: nfc(f.ForkDecision),
			JoinState:    nfc(f.JoinState),
			BufferSize:   f.BufferSize,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// nfc normalizes a string to Unicode NFC.
func nfc(s string) string {
	if s == "" || norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}
