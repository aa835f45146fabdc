package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Routing error codes.
const (
	// CodeNoMatch: no outgoing branch matched the routing value.
	CodeNoMatch = "NO_MATCH"
	// CodeNilResult: the service produced no routing value where one is
	// required.
	CodeNilResult = "NIL_RESULT"
	// CodeUnknownNode: an edge dispatched a token to a node the topology
	// does not define.
	CodeUnknownNode = "UNKNOWN_NODE"
	// CodeBadFork: a fork was attempted from a token that is not the root
	// of its workflow family.
	CodeBadFork = "BAD_FORK"
)

// RoutingError is a per-token routing fault. The router logs it with the
// full candidate set and drops the token; it never crashes the run.
type RoutingError struct {
	Code       string
	Node       string
	TokenID    int64
	Value      any
	Candidates []string
}

func (e *RoutingError) Error() string {
	msg := fmt.Sprintf("%s: token %d at node %s", e.Code, e.TokenID, e.Node)
	if e.Value != nil {
		msg += fmt.Sprintf(" (routing value %v)", e.Value)
	}
	if len(e.Candidates) > 0 {
		msg += fmt.Sprintf(" candidates [%s]", strings.Join(e.Candidates, ", "))
	}
	return msg
}

// IsNoMatch reports whether err is a NO_MATCH routing fault.
func IsNoMatch(err error) bool {
	var re *RoutingError
	return errors.As(err, &re) && re.Code == CodeNoMatch
}
