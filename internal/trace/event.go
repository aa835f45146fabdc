// Package trace defines the instrumentation records the engine emits and
// the sink contract external storage implements.
//
// Records are immutable: created once per event, never mutated, written
// once. Per token, timestamps are strictly increasing across the token's
// entire lifetime (see ident.Clock).
package trace

import "fmt"

// EventType classifies a transition firing record.
type EventType int

const (
	// EventGenerated marks a token created by an external source. Carries
	// the true creation time, not a processing-derived one.
	EventGenerated EventType = iota + 1
	// EventBuffered marks a token waiting at a transition's input, not yet
	// admitted to the place. Carries queue depth.
	EventBuffered
	// EventEnter marks admission into a place.
	EventEnter
	// EventExit marks a token leaving a place toward a specific next hop.
	// Carries the arc/guard value actually taken.
	EventExit
	// EventFork marks the creation of a fork child.
	EventFork
	// EventForkConsumed marks a fork parent ceasing to exist. Exactly one
	// per parent, regardless of branch count.
	EventForkConsumed
	// EventJoinConsumed marks a non-continuation join sibling absorbed.
	EventJoinConsumed
	// EventTerminate marks arrival at a terminal sink.
	EventTerminate
)

var eventNames = map[EventType]string{
	EventGenerated:    "GENERATED",
	EventBuffered:     "BUFFERED",
	EventEnter:        "ENTER",
	EventExit:         "EXIT",
	EventFork:         "FORK",
	EventForkConsumed: "FORK_CONSUMED",
	EventJoinConsumed: "JOIN_CONSUMED",
	EventTerminate:    "TERMINATE",
}

// String returns the wire spelling of the event type.
func (e EventType) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(e))
}

// ParseEventType converts a wire spelling back into an EventType.
func ParseEventType(s string) (EventType, error) {
	for e, n := range eventNames {
		if n == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// Transition firing direction annotations.
const (
	TransitionIn  = "in"
	TransitionOut = "out"
)

// TransitionFiring is one immutable instrumentation record.
type TransitionFiring struct {
	// RecordID is a UUIDv7, time-sortable and usable as an idempotent
	// write key by sinks.
	RecordID string

	// Timestamp is unix milliseconds, strictly increasing per token.
	Timestamp int64

	TransitionID   string
	TransitionType string // TransitionIn or TransitionOut
	TokenID        int64
	WorkflowBase   int64
	FromPlace      string
	ToPlace        string
	ForkDecision   string
	JoinState      string
	BufferSize     int
	Event          EventType
	ArcValue       string
}

// GenealogyEdge records one fork parent->child lineage edge.
// Created exactly once per fork child.
type GenealogyEdge struct {
	RecordID       string
	ParentTokenID  int64
	ChildTokenID   int64
	ForkTransition string
	Timestamp      int64
	WorkflowBase   int64
}

// JoinContribution records one arrival at a join point.
type JoinContribution struct {
	RecordID       string
	JoinTransition string
	WorkflowBase   int64
	TokenID        int64
	Arrived        int
	Required       int
	Timestamp      int64
}
