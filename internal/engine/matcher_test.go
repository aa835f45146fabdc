package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spnflow/spnflow/internal/topology"
)

func TestCompareValues_NumericCoercion(t *testing.T) {
	tests := []struct {
		name     string
		op       topology.CompareOp
		value    any
		expected string
		want     bool
	}{
		{"int equal", topology.CompareEq, 42, "42", true},
		{"int not equal", topology.CompareNe, 42, "41", true},
		{"float greater", topology.CompareGt, 3.5, "3", true},
		{"numeric strings compare numerically", topology.CompareLt, "9", "10", true},
		{"numeric ge boundary", topology.CompareGe, 100, "100", true},
		{"numeric le", topology.CompareLe, 99, "100", true},
		{"string equality", topology.CompareEq, "approved", "approved", true},
		{"string mismatch", topology.CompareEq, "approved", "denied", false},
		{"lexical fallback ordering", topology.CompareLt, "apple", "banana", true},
		{"mixed lexical when expected non-numeric", topology.CompareGt, 5, "abc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compareValues(tt.op, tt.value, tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareValues_MixedLexicalFallback(t *testing.T) {
	// "5" > "abc" is false lexically: digits sort before letters.
	got, err := compareValues(topology.CompareGt, 5, "abc")
	require.NoError(t, err)
	assert.False(t, got)

	got, err = compareValues(topology.CompareLt, 5, "abc")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCompareValues_Booleans(t *testing.T) {
	got, err := compareValues(topology.CompareEq, true, "true")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = compareValues(topology.CompareNe, true, "false")
	require.NoError(t, err)
	assert.True(t, got)

	_, err = compareValues(topology.CompareGt, true, "false")
	assert.Error(t, err, "ordering operators are not defined for booleans")
}

func TestCompareValues_NilValue(t *testing.T) {
	_, err := compareValues(topology.CompareEq, nil, "x")
	assert.Error(t, err)
}

func TestEvalGuard(t *testing.T) {
	tests := []struct {
		name     string
		guard    topology.GuardOp
		value    any
		expected string
		want     bool
	}{
		{"true guard on bool", topology.GuardTrue, true, "", true},
		{"true guard rejects false", topology.GuardTrue, false, "", false},
		{"false guard inverts", topology.GuardFalse, false, "", true},
		{"true guard parses string", topology.GuardTrue, "true", "", true},
		{"equal", topology.GuardEqual, "premium", "premium", true},
		{"not equal", topology.GuardNotEqual, "basic", "premium", true},
		{"greater than numeric", topology.GuardGreaterThan, 200, "100", true},
		{"less than numeric", topology.GuardLessThan, 50, "100", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalGuard(tt.guard, tt.value, tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalGuard_Faults(t *testing.T) {
	_, err := evalGuard(topology.GuardTrue, "not-a-bool", "")
	assert.Error(t, err)

	_, err = evalGuard(topology.GuardNone, "x", "")
	assert.Error(t, err)
}
