package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spnflow/spnflow/internal/topology"
)

// compareValues evaluates one decision-table row: the service's routing
// value against the row's literal.
//
// Numeric coercion is attempted first: when both sides parse as numbers
// the comparison is numeric, so "9" < "10". When either side does not
// parse, the comparison falls back to lexical string order. Booleans
// support equality operators only.
func compareValues(op topology.CompareOp, value any, expected string) (bool, error) {
	if value == nil {
		return false, fmt.Errorf("nil routing value")
	}

	if b, ok := value.(bool); ok {
		want, err := strconv.ParseBool(strings.TrimSpace(expected))
		if err != nil {
			return false, fmt.Errorf("compare bool against %q: %w", expected, err)
		}
		switch op {
		case topology.CompareEq:
			return b == want, nil
		case topology.CompareNe:
			return b != want, nil
		default:
			return false, fmt.Errorf("operator %s not defined for booleans", op)
		}
	}

	left := fmt.Sprint(value)
	if lf, lok := toFloat(value); lok {
		if rf, err := strconv.ParseFloat(strings.TrimSpace(expected), 64); err == nil {
			return ordered(op, compareFloats(lf, rf))
		}
	}
	return ordered(op, strings.Compare(left, expected))
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func ordered(op topology.CompareOp, c int) (bool, error) {
	switch op {
	case topology.CompareEq:
		return c == 0, nil
	case topology.CompareNe:
		return c != 0, nil
	case topology.CompareGt:
		return c > 0, nil
	case topology.CompareLt:
		return c < 0, nil
	case topology.CompareGe:
		return c >= 0, nil
	case topology.CompareLe:
		return c <= 0, nil
	default:
		return false, fmt.Errorf("unknown comparison operator %d", int(op))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// evalGuard evaluates a branch guard condition against the routing value.
// TRUE and FALSE guards read the value as a boolean; the comparison guards
// delegate to the decision-row semantics.
func evalGuard(guard topology.GuardOp, value any, expected string) (bool, error) {
	switch guard {
	case topology.GuardTrue, topology.GuardFalse:
		b, err := asBool(value)
		if err != nil {
			return false, err
		}
		if guard == topology.GuardFalse {
			return !b, nil
		}
		return b, nil
	case topology.GuardEqual:
		return compareValues(topology.CompareEq, value, expected)
	case topology.GuardNotEqual:
		return compareValues(topology.CompareNe, value, expected)
	case topology.GuardGreaterThan:
		return compareValues(topology.CompareGt, value, expected)
	case topology.GuardLessThan:
		return compareValues(topology.CompareLt, value, expected)
	default:
		return false, fmt.Errorf("guard %d is not evaluable", int(guard))
	}
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("routing value %q is not boolean", b)
		}
		return parsed, nil
	case nil:
		return false, fmt.Errorf("nil routing value")
	default:
		return false, fmt.Errorf("routing value %v (%T) is not boolean", v, v)
	}
}
