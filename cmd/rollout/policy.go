package main

import (
	"fmt"
	"math"

	"github.com/copyleftdev/cmadac/internal/environment"
)

// Policy picks the step-size action for the next step.
type Policy interface {
	Action(obs environment.Observation, step int) float64
}

// constantPolicy always returns the same sigma.
type constantPolicy struct {
	sigma float64
}

func (p constantPolicy) Action(environment.Observation, int) float64 {
	return p.sigma
}

// decayPolicy shrinks sigma geometrically: sigma * rate^step.
type decayPolicy struct {
	sigma float64
	rate  float64
}

func (p decayPolicy) Action(_ environment.Observation, step int) float64 {
	return p.sigma * math.Pow(p.rate, float64(step))
}

// followPolicy echoes the step size the environment last reported, scaled
// by factor.
type followPolicy struct {
	factor float64
}

func (p followPolicy) Action(obs environment.Observation, _ int) float64 {
	if s := obs[environment.KeyCurrentSigma]; len(s) == 1 {
		return s[0] * p.factor
	}
	return 0
}

func newPolicy(name string, sigma, rate float64) (Policy, error) {
	switch name {
	case "constant":
		if !(sigma > 0) {
			return nil, fmt.Errorf("constant policy needs a positive --sigma, got %v", sigma)
		}
		return constantPolicy{sigma: sigma}, nil
	case "decay":
		if !(sigma > 0) || !(rate > 0 && rate <= 1) {
			return nil, fmt.Errorf("decay policy needs --sigma > 0 and 0 < --rate <= 1")
		}
		return decayPolicy{sigma: sigma, rate: rate}, nil
	case "follow":
		if !(rate > 0) {
			return nil, fmt.Errorf("follow policy needs a positive --rate")
		}
		return followPolicy{factor: rate}, nil
	default:
		return nil, fmt.Errorf("unknown policy %q (constant, decay, follow)", name)
	}
}
