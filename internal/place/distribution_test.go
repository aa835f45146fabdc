package place

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spnflow/spnflow/internal/ident"
	"github.com/spnflow/spnflow/internal/topology"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(42, 42))
}

func TestDeterministic_Sample(t *testing.T) {
	d := Deterministic{D: 25 * time.Millisecond}
	r := testRNG()
	for i := 0; i < 5; i++ {
		assert.Equal(t, 25*time.Millisecond, d.Sample(r))
	}
}

func TestExponential_Sample_NonNegative(t *testing.T) {
	d := Exponential{Rate: 0.5}
	r := testRNG()
	for i := 0; i < 1000; i++ {
		assert.GreaterOrEqual(t, d.Sample(r), time.Duration(0))
	}
}

func TestUniform_Sample_InRange(t *testing.T) {
	d := Uniform{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	r := testRNG()
	for i := 0; i < 1000; i++ {
		s := d.Sample(r)
		assert.GreaterOrEqual(t, s, 10*time.Millisecond)
		assert.Less(t, s, 20*time.Millisecond)
	}
}

func TestNormal_Sample_ClampedToZero(t *testing.T) {
	// Mean well below zero forces the clamp on most draws.
	d := Normal{Mean: -time.Second, StdDev: time.Millisecond}
	r := testRNG()
	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, d.Sample(r), time.Duration(0))
	}
}

func TestDistributionFromSpec(t *testing.T) {
	tests := []struct {
		name string
		spec topology.DelaySpec
		want string
	}{
		{"zero value defaults to deterministic", topology.DelaySpec{}, "deterministic"},
		{"deterministic", topology.DelaySpec{Dist: "deterministic", Value: 10}, "deterministic"},
		{"exponential", topology.DelaySpec{Dist: "exponential", Rate: 2}, "exponential"},
		{"uniform", topology.DelaySpec{Dist: "uniform", Min: 1, Max: 5}, "uniform"},
		{"normal", topology.DelaySpec{Dist: "normal", Mean: 10, StdDev: 2}, "normal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DistributionFromSpec(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}

func TestDistributionFromSpec_Errors(t *testing.T) {
	_, err := DistributionFromSpec(topology.DelaySpec{Dist: "pareto"})
	assert.Error(t, err)

	_, err = DistributionFromSpec(topology.DelaySpec{Dist: "exponential", Rate: 0})
	assert.Error(t, err)

	_, err = DistributionFromSpec(topology.DelaySpec{Dist: "uniform", Min: 5, Max: 1})
	assert.Error(t, err)
}

func TestGuardFromSpec(t *testing.T) {
	g, err := GuardFromSpec(topology.GuardSpec{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "always_true", g.Name())

	g, err = GuardFromSpec(topology.GuardSpec{Kind: "random", P: 0.25}, nil)
	require.NoError(t, err)
	assert.Equal(t, "random", g.Name())

	custom := map[string]CustomFunc{
		"vip": func(tok ident.Token) (bool, error) { return true, nil },
	}
	g, err = GuardFromSpec(topology.GuardSpec{Kind: "custom", Name: "vip"}, custom)
	require.NoError(t, err)
	assert.Equal(t, "custom:vip", g.Name())

	_, err = GuardFromSpec(topology.GuardSpec{Kind: "custom", Name: "missing"}, custom)
	assert.Error(t, err)

	_, err = GuardFromSpec(topology.GuardSpec{Kind: "random", P: 1.5}, nil)
	assert.Error(t, err)
}

func TestRandomGuard_Extremes(t *testing.T) {
	r := testRNG()
	always := Random{P: 1.0}
	never := Random{P: 0.0}
	for i := 0; i < 100; i++ {
		ok, err := always.Evaluate(ident.Token{ID: 1}, r)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = never.Evaluate(ident.Token{ID: 1}, r)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}
