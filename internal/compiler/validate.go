package compiler

import "fmt"

// Validation error codes (E100-E199).
const (
	ErrNodeNameEmpty     = "E101" // node name is required
	ErrUnknownKind       = "E102" // unknown node kind
	ErrJoinRequiredCount = "E104" // join requires an arrival count >= 2
	ErrDuplicateNode     = "E105" // duplicate node name
	ErrEdgeUnknownNode   = "E106" // edge points at an undefined node
	ErrEdgeCount         = "E107" // node kind requires a different edge count
	ErrTerminateHasEdges = "E108" // terminate nodes have no successors
	ErrForkTooFewEdges   = "E109" // fork requires at least two destinations
	ErrForkTooManyEdges  = "E110" // branch encoding caps forks at 99 children
	ErrStartUndefined    = "E111" // start node not defined
	ErrDecisionRow       = "E112" // decision edge missing operator or value
)

// ValidationError is one structural schema violation.
type ValidationError struct {
	Code    string `json:"code"`
	Node    string `json:"node,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.Node, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// validateStructure checks graph-level rules the CUE schema cannot express.
// Returns every violation found, not just the first.
func validateStructure(def *rawWorkflow) []ValidationError {
	var errs []ValidationError

	names := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.Name == "" {
			errs = append(errs, ValidationError{Code: ErrNodeNameEmpty, Message: "node name is required"})
			continue
		}
		if names[n.Name] {
			errs = append(errs, ValidationError{Code: ErrDuplicateNode, Node: n.Name, Message: "duplicate node name"})
		}
		names[n.Name] = true
	}

	if !names[def.Start] {
		errs = append(errs, ValidationError{
			Code:    ErrStartUndefined,
			Message: fmt.Sprintf("start node %q not defined", def.Start),
		})
	}

	for _, n := range def.Nodes {
		for _, e := range n.Edges {
			// "terminate" is a gateway short-circuit, not a node reference.
			if e.To == gatewayTerminate && n.Kind == "gateway" {
				continue
			}
			if !names[e.To] {
				errs = append(errs, ValidationError{
					Code:    ErrEdgeUnknownNode,
					Node:    n.Name,
					Message: fmt.Sprintf("edge points at undefined node %q", e.To),
				})
			}
		}

		switch n.Kind {
		case "edge", "merge", "feedforward", "expired", "join":
			if len(n.Edges) != 1 {
				errs = append(errs, ValidationError{
					Code:    ErrEdgeCount,
					Node:    n.Name,
					Message: fmt.Sprintf("%s nodes require exactly one outgoing edge, got %d", n.Kind, len(n.Edges)),
				})
			}
		case "terminate":
			if len(n.Edges) != 0 {
				errs = append(errs, ValidationError{
					Code:    ErrTerminateHasEdges,
					Node:    n.Name,
					Message: "terminate nodes have no successors",
				})
			}
		case "fork":
			if len(n.Edges) < 2 {
				errs = append(errs, ValidationError{
					Code:    ErrForkTooFewEdges,
					Node:    n.Name,
					Message: "fork requires at least two destinations",
				})
			}
		case "decision", "xor", "gateway":
			if len(n.Edges) == 0 {
				errs = append(errs, ValidationError{
					Code:    ErrEdgeCount,
					Node:    n.Name,
					Message: n.Kind + " nodes require at least one outgoing edge",
				})
			}
		}

		// The id encoding supports at most 99 children per fork.
		if len(n.Edges) > 99 {
			errs = append(errs, ValidationError{
				Code:    ErrForkTooManyEdges,
				Node:    n.Name,
				Message: fmt.Sprintf("%d destinations exceed the 99-branch fork limit", len(n.Edges)),
			})
		}

		if n.Kind == "join" && n.Required < 2 {
			errs = append(errs, ValidationError{
				Code:    ErrJoinRequiredCount,
				Node:    n.Name,
				Message: fmt.Sprintf("join requires an arrival count >= 2, got %d", n.Required),
			})
		}

		if n.Kind == "decision" {
			for i, e := range n.Edges {
				if e.Op == "" || e.Value == "" {
					errs = append(errs, ValidationError{
						Code:    ErrDecisionRow,
						Node:    n.Name,
						Message: fmt.Sprintf("decision row %d needs both op and value", i),
					})
				}
			}
		}
	}

	return errs
}
