package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Stop reasons reported by StopReasons.
const (
	StopTolFun       = "tolfun"
	StopTolX         = "tolx"
	StopTolUpSigma   = "tolupsigma"
	StopConditionCov = "conditioncov"
	StopMaxIter      = "maxiter"
	StopNonFinite    = "nonfinite"
)

// ShouldStop reports whether any termination criterion holds.
func (es *CMAES) ShouldStop() bool {
	return len(es.StopReasons()) > 0
}

// StopReasons lists every termination criterion that currently holds.
func (es *CMAES) StopReasons() []string {
	var reasons []string

	if math.IsNaN(es.sigma) || math.IsInf(es.sigma, 0) || floats.HasNaN(es.mean) {
		reasons = append(reasons, StopNonFinite)
	}
	if es.generation == 0 {
		return reasons
	}

	if es.generation >= es.maxIter {
		reasons = append(reasons, StopMaxIter)
	}

	if len(es.fitHistory) > 0 && len(es.lastValues) > 0 {
		lo := math.Min(floats.Min(es.fitHistory), minFinite(es.lastValues))
		hi := math.Max(floats.Max(es.fitHistory), maxFinite(es.lastValues))
		if hi-lo < defaultTolFun {
			reasons = append(reasons, StopTolFun)
		}
	}

	tolx := true
	for i := 0; i < es.n; i++ {
		scale := math.Max(math.Abs(es.pc[i]), math.Sqrt(es.C.At(i, i)))
		if es.sigma*scale >= defaultTolX {
			tolx = false
			break
		}
	}
	if tolx {
		reasons = append(reasons, StopTolX)
	}

	maxD, minD := floats.Max(es.D), floats.Min(es.D)
	if es.sigma/es.sigma0 > defaultTolUpSigma*maxD {
		reasons = append(reasons, StopTolUpSigma)
	}
	if (maxD/minD)*(maxD/minD) > defaultConditionCov {
		reasons = append(reasons, StopConditionCov)
	}

	return reasons
}

func minFinite(xs []float64) float64 {
	m := math.Inf(1)
	for _, x := range xs {
		if !math.IsNaN(x) && x < m {
			m = x
		}
	}
	return m
}

func maxFinite(xs []float64) float64 {
	m := math.Inf(-1)
	for _, x := range xs {
		if !math.IsNaN(x) && x > m {
			m = x
		}
	}
	return m
}
