// Package topology defines the workflow graph consulted by the router:
// node kinds, guarded edges, and the transition naming convention.
//
// Topology data is read-only configuration. The engine never mutates it;
// all mutable routing state (markings, join arrivals, fork dedup) lives in
// the engine instance.
package topology

import "fmt"

// NodeKind is the closed set of routing strategies. Adding a kind requires
// updating the router's dispatch, which switches exhaustively on this type.
type NodeKind int

const (
	// KindDecision routes on an ordered table of (operator, value) rows.
	KindDecision NodeKind = iota + 1
	// KindXOR evaluates each branch guard independently against a routing
	// value; multiple matches become an implicit fork.
	KindXOR
	// KindGateway matches the routing value strictly against each
	// destination's expected value.
	KindGateway
	// KindFork is an unconditional n-way split.
	KindFork
	// KindJoin synchronizes N arrivals before one token continues.
	KindJoin
	// KindEdge is a straight pass-through to a single destination.
	KindEdge
	// KindMerge behaves like KindEdge; it names the rejoin of alternative
	// paths that never forked.
	KindMerge
	// KindTerminate is a terminal sink.
	KindTerminate
	// KindFeedForward advances the token id before dispatch (loop re-entry).
	KindFeedForward
	// KindExpired routes timed-out tokens with a null payload.
	KindExpired
)

var kindNames = map[NodeKind]string{
	KindDecision:    "decision",
	KindXOR:         "xor",
	KindGateway:     "gateway",
	KindFork:        "fork",
	KindJoin:        "join",
	KindEdge:        "edge",
	KindMerge:       "merge",
	KindTerminate:   "terminate",
	KindFeedForward: "feedforward",
	KindExpired:     "expired",
}

// String returns the configuration-file spelling of the kind.
func (k NodeKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ParseNodeKind converts a configuration string into a NodeKind.
func ParseNodeKind(s string) (NodeKind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// GuardOp is a branch guard condition for XOR nodes.
type GuardOp int

const (
	// GuardNone marks an unconditional (default) branch.
	GuardNone GuardOp = iota
	GuardEqual
	GuardNotEqual
	GuardGreaterThan
	GuardLessThan
	GuardTrue
	GuardFalse
)

var guardNames = map[GuardOp]string{
	GuardNone:        "",
	GuardEqual:       "EQUAL",
	GuardNotEqual:    "NOT_EQUAL",
	GuardGreaterThan: "GREATER_THAN",
	GuardLessThan:    "LESS_THAN",
	GuardTrue:        "TRUE",
	GuardFalse:       "FALSE",
}

// String returns the configuration-file spelling of the guard op.
func (g GuardOp) String() string {
	if n, ok := guardNames[g]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(g))
}

// ParseGuardOp converts a configuration string into a GuardOp.
// The empty string parses to GuardNone (default branch).
func ParseGuardOp(s string) (GuardOp, error) {
	for g, n := range guardNames {
		if n == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unknown guard condition %q", s)
}

// CompareOp is a decision-table comparison operator.
type CompareOp int

const (
	CompareEq CompareOp = iota + 1
	CompareNe
	CompareGt
	CompareLt
	CompareGe
	CompareLe
)

var compareNames = map[CompareOp]string{
	CompareEq: "==",
	CompareNe: "!=",
	CompareGt: ">",
	CompareLt: "<",
	CompareGe: ">=",
	CompareLe: "<=",
}

// String returns the configuration-file spelling of the operator.
func (c CompareOp) String() string {
	if n, ok := compareNames[c]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// ParseCompareOp converts a configuration string into a CompareOp.
func ParseCompareOp(s string) (CompareOp, error) {
	for c, n := range compareNames {
		if n == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown comparison operator %q", s)
}

// Edge is one outgoing arc of a node. Which fields are meaningful depends
// on the node kind:
//
//   - decision: Op + Value (ordered rows, first match wins)
//   - xor:      Guard + Value (each branch evaluated independently)
//   - gateway:  Value (strict equality against the routing value)
//   - all else: To only
type Edge struct {
	// To names the destination node. The literal destination "terminate"
	// on a gateway short-circuits to a TERMINATE event.
	To string

	// Guard is the XOR branch condition; GuardNone means default branch.
	Guard GuardOp

	// Op is the decision-table comparison operator.
	Op CompareOp

	// Value is the expected/compared value, as written in configuration.
	Value string
}

// DelaySpec describes a place's stochastic hold distribution.
// All durations are in milliseconds as written in configuration.
type DelaySpec struct {
	Dist   string  `yaml:"dist"` // deterministic | exponential | uniform | normal
	Value  float64 `yaml:"value,omitempty"`
	Rate   float64 `yaml:"rate,omitempty"`
	Min    float64 `yaml:"min,omitempty"`
	Max    float64 `yaml:"max,omitempty"`
	Mean   float64 `yaml:"mean,omitempty"`
	StdDev float64 `yaml:"stddev,omitempty"`
}

// GuardSpec describes a place's outgoing guard.
type GuardSpec struct {
	Kind string  `yaml:"kind"` // always_true | always_false | random | custom
	P    float64 `yaml:"p,omitempty"`
	Name string  `yaml:"name,omitempty"` // custom guard registry key
}

// Node is one station of the workflow graph.
type Node struct {
	// Name is the topology node name; transitions derive from it.
	Name string

	// Kind selects the routing strategy.
	Kind NodeKind

	// Service is the backing service name; must be Name + "_Place".
	// May be empty for expired nodes, which skip service invocation.
	Service string

	// Capacity bounds the node's place marking. Zero means DefaultCapacity.
	Capacity int

	// Delay configures the stochastic hold. Zero value means no delay.
	Delay DelaySpec

	// Guard configures the place's outgoing guard. Zero value means
	// always-true.
	Guard GuardSpec

	// Edges are the outgoing arcs, in declaration order. Fork children are
	// numbered in this order.
	Edges []Edge

	// JoinRequired is the arrival count a join waits for. Join nodes only.
	JoinRequired int

	// RoutingAttr names the token attribute consulted by XOR nodes when
	// the service outcome carries no routing value.
	RoutingAttr string
}
