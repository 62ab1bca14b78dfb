package optimization

import "fmt"

// ObjectiveFunction defines the function to be minimized
type ObjectiveFunction func([]float64) (float64, error)

// Bounds holds optional per-dimension box constraints.
// The zero value means unconstrained search.
type Bounds struct {
	Lower []float64
	Upper []float64
}

// IsSet reports whether any bound is configured
func (b Bounds) IsSet() bool {
	return len(b.Lower) > 0 || len(b.Upper) > 0
}

// Validate checks the bounds against the problem dimension
func (b Bounds) Validate(dim int) error {
	if !b.IsSet() {
		return nil
	}
	if len(b.Lower) != dim || len(b.Upper) != dim {
		return NewErrorf(ErrInvalidConfig, "bounds must have %d entries, got lower=%d upper=%d",
			dim, len(b.Lower), len(b.Upper))
	}
	for i := range b.Lower {
		if b.Lower[i] > b.Upper[i] {
			return NewErrorf(ErrInvalidConfig, "lower bound %v exceeds upper bound %v in dimension %d",
				b.Lower[i], b.Upper[i], i)
		}
	}
	return nil
}

// Clip moves x into the box in place
func (b Bounds) Clip(x []float64) {
	if !b.IsSet() {
		return
	}
	for i := range x {
		if x[i] < b.Lower[i] {
			x[i] = b.Lower[i]
		} else if x[i] > b.Upper[i] {
			x[i] = b.Upper[i]
		}
	}
}

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

func (s Solution) String() string {
	return fmt.Sprintf("f(%v) = %g", s.Parameters, s.Value)
}

// Engine is the evolution-strategy capability the step-size environment drives.
// One Engine value belongs to exactly one episode.
type Engine interface {
	// AskAndEvaluate samples a population from the current search
	// distribution and evaluates it. It does not touch mean or sigma.
	AskAndEvaluate(fn ObjectiveFunction) ([][]float64, []float64, error)

	// Tell feeds back the population returned by the last AskAndEvaluate.
	Tell(candidates [][]float64, values []float64) error

	// OverrideSigma sets the step size, clamped from below by the sigma floor.
	OverrideSigma(sigma float64)

	// ShouldStop reports whether internal termination criteria hold.
	ShouldStop() bool

	Mean() []float64
	Sigma() float64
	AdaptationPathNorm() float64
	BestPoint() []float64
	BestObjective() float64
	PopulationSize() int
}
