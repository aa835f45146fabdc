package place

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/spnflow/spnflow/internal/topology"
)

// Distribution samples a stochastic hold duration for a token occupying
// a place. Implementations must be safe to call from the place's goroutine
// only; the place serializes sampling through its own RNG.
type Distribution interface {
	// Name identifies the distribution in outcome annotations.
	Name() string

	// Sample draws one delay from the distribution. Never negative.
	Sample(r *rand.Rand) time.Duration
}

// Deterministic holds for a fixed duration.
type Deterministic struct {
	D time.Duration
}

func (d Deterministic) Name() string                       { return "deterministic" }
func (d Deterministic) Sample(_ *rand.Rand) time.Duration { return d.D }

// Exponential samples t = -ln(U)/rate for uniform U in (0,1].
type Exponential struct {
	Rate float64 // events per millisecond
}

func (e Exponential) Name() string { return "exponential" }

func (e Exponential) Sample(r *rand.Rand) time.Duration {
	if e.Rate <= 0 {
		return 0
	}
	// 1-Float64() is in (0,1], keeping ln defined.
	u := 1 - r.Float64()
	ms := -math.Log(u) / e.Rate
	return time.Duration(ms * float64(time.Millisecond))
}

// Uniform samples min + U*(max-min).
type Uniform struct {
	Min, Max time.Duration
}

func (u Uniform) Name() string { return "uniform" }

func (u Uniform) Sample(r *rand.Rand) time.Duration {
	if u.Max <= u.Min {
		return u.Min
	}
	return u.Min + time.Duration(r.Float64()*float64(u.Max-u.Min))
}

// Normal samples a Gaussian delay, clamped to >= 0.
type Normal struct {
	Mean, StdDev time.Duration
}

func (n Normal) Name() string { return "normal" }

func (n Normal) Sample(r *rand.Rand) time.Duration {
	d := time.Duration(r.NormFloat64()*float64(n.StdDev)) + n.Mean
	if d < 0 {
		return 0
	}
	return d
}

// millis converts a configuration value in milliseconds to a duration.
func millis(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

// DistributionFromSpec builds a distribution from its topology descriptor.
// A zero-value spec yields a zero deterministic delay.
func DistributionFromSpec(spec topology.DelaySpec) (Distribution, error) {
	switch spec.Dist {
	case "", "deterministic":
		return Deterministic{D: millis(spec.Value)}, nil
	case "exponential":
		if spec.Rate <= 0 {
			return nil, fmt.Errorf("exponential delay requires rate > 0, got %v", spec.Rate)
		}
		return Exponential{Rate: spec.Rate}, nil
	case "uniform":
		if spec.Max < spec.Min {
			return nil, fmt.Errorf("uniform delay requires max >= min, got [%v, %v]", spec.Min, spec.Max)
		}
		return Uniform{Min: millis(spec.Min), Max: millis(spec.Max)}, nil
	case "normal":
		if spec.StdDev < 0 {
			return nil, fmt.Errorf("normal delay requires stddev >= 0, got %v", spec.StdDev)
		}
		return Normal{Mean: millis(spec.Mean), StdDev: millis(spec.StdDev)}, nil
	default:
		return nil, fmt.Errorf("unknown delay distribution %q", spec.Dist)
	}
}
