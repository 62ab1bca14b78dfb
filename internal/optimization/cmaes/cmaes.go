// Package cmaes implements the Covariance Matrix Adaptation Evolution Strategy
// behind an ask/tell interface whose step size can be overridden externally.
package cmaes

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/cmadac/internal/optimization"
)

const component = "cmaes"

// CMAES is a single run of the evolution strategy. It owns all of its state
// and is not safe for concurrent use.
type CMAES struct {
	// Strategy parameters, fixed at construction
	n       int
	lambda  int
	mu      int
	weights []float64
	mueff   float64
	cc      float64
	cs      float64
	c1      float64
	cmu     float64
	damps   float64
	chiN    float64

	// Dynamic state
	mean     []float64
	sigma    float64
	sigma0   float64
	pc       []float64
	ps       []float64
	C        *mat.SymDense
	B        *mat.Dense
	D        []float64
	invsqrtC *mat.SymDense

	eigenEval   int
	evaluations int
	generation  int

	best       optimization.Solution
	fitHistory []float64
	fitHistLen int
	lastValues []float64

	bounds     optimization.Bounds
	sigmaFloor float64
	maxIter    int
	workers    int
	normal     distuv.Normal
	logger     *zap.Logger
}

var _ optimization.Engine = (*CMAES)(nil)

// New creates an engine centered at mean with initial step size sigma.
func New(mean []float64, sigma float64, populationSize int, bounds optimization.Bounds, opts ...Option) (*CMAES, error) {
	const op = "New"

	if len(mean) == 0 {
		return nil, optimization.NewError(optimization.ErrInvalidConfig, "mean must not be empty").
			WithComponent(component).WithOperation(op)
	}
	if !(sigma > 0) || math.IsInf(sigma, 1) {
		return nil, optimization.NewErrorf(optimization.ErrInvalidConfig, "sigma must be positive, got %v", sigma).
			WithComponent(component).WithOperation(op)
	}
	if populationSize <= 0 {
		return nil, optimization.NewErrorf(optimization.ErrInvalidConfig, "population size must be positive, got %d", populationSize).
			WithComponent(component).WithOperation(op)
	}
	if err := bounds.Validate(len(mean)); err != nil {
		return nil, err.(*optimization.Error).WithComponent(component).WithOperation(op)
	}

	s := settings{
		sigmaFloor: DefaultSigmaFloor,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if !s.seeded {
		s.seed = uint64(time.Now().UnixNano())
	}

	n := len(mean)
	es := &CMAES{
		n:          n,
		lambda:     populationSize,
		mean:       append([]float64(nil), mean...),
		sigma:      sigma,
		sigma0:     sigma,
		pc:         make([]float64, n),
		ps:         make([]float64, n),
		bounds:     bounds,
		sigmaFloor: s.sigmaFloor,
		workers:    s.workers,
		logger:     s.logger.Named("cmaes"),
		normal: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewPCG(s.seed, s.seed^defaultSeedIncrement),
		},
		best: optimization.Solution{Value: math.Inf(1)},
	}
	es.bounds.Clip(es.mean)
	es.initStrategyParameters()

	es.maxIter = s.maxIterations
	if es.maxIter <= 0 {
		es.maxIter = 100 + int(150*float64((n+3)*(n+3))/math.Sqrt(float64(es.lambda)))
	}
	es.fitHistLen = 10 + int(math.Ceil(30*float64(n)/float64(es.lambda)))

	es.C = mat.NewSymDense(n, nil)
	es.invsqrtC = mat.NewSymDense(n, nil)
	es.B = mat.NewDense(n, n, nil)
	es.D = make([]float64, n)
	for i := 0; i < n; i++ {
		es.C.SetSym(i, i, 1)
		es.invsqrtC.SetSym(i, i, 1)
		es.B.Set(i, i, 1)
		es.D[i] = 1
	}

	es.logger.Debug("Created CMA-ES engine",
		zap.Int("dimension", n),
		zap.Int("population_size", es.lambda),
		zap.Int("parents", es.mu),
		zap.Float64("sigma", sigma),
		zap.Float64("mueff", es.mueff),
	)

	return es, nil
}

// initStrategyParameters sets recombination weights and learning rates
// to the standard defaults.
func (es *CMAES) initStrategyParameters() {
	n := float64(es.n)

	es.mu = es.lambda / 2
	if es.mu < 1 {
		es.mu = 1
	}
	es.weights = make([]float64, es.mu)
	if es.mu == 1 {
		// log((lambda+1)/2) - log(1) vanishes for lambda 1.
		es.weights[0] = 1
	} else {
		for i := range es.weights {
			es.weights[i] = math.Log(float64(es.lambda+1)/2) - math.Log(float64(i+1))
		}
		floats.Scale(1/floats.Sum(es.weights), es.weights)
	}
	es.mueff = 1 / floats.Dot(es.weights, es.weights)

	es.cc = (4 + es.mueff/n) / (n + 4 + 2*es.mueff/n)
	es.cs = (es.mueff + 2) / (n + es.mueff + 5)
	es.c1 = 2 / ((n+1.3)*(n+1.3) + es.mueff)
	es.cmu = math.Min(1-es.c1, 2*(es.mueff-2+1/es.mueff)/((n+2)*(n+2)+es.mueff))
	es.damps = 1 + 2*math.Max(0, math.Sqrt((es.mueff-1)/(n+1))-1) + es.cs
	es.chiN = math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))
}

// AskAndEvaluate samples lambda candidates and evaluates them with fn.
func (es *CMAES) AskAndEvaluate(fn optimization.ObjectiveFunction) ([][]float64, []float64, error) {
	const op = "AskAndEvaluate"
	if fn == nil {
		return nil, nil, optimization.NewError(optimization.ErrInvalidArgument, "objective function must not be nil").
			WithComponent(component).WithOperation(op)
	}

	candidates := es.ask()
	values := make([]float64, len(candidates))
	if err := es.evaluate(fn, candidates, values); err != nil {
		return nil, nil, optimization.WrapError(err, "error evaluating objective function").
			WithComponent(component).WithOperation(op)
	}

	es.evaluations += len(candidates)
	es.lastValues = append(es.lastValues[:0], values...)
	return candidates, values, nil
}

// ask draws x = m + sigma * B * D * z with z standard normal.
func (es *CMAES) ask() [][]float64 {
	candidates := make([][]float64, es.lambda)
	z := mat.NewVecDense(es.n, nil)
	y := mat.NewVecDense(es.n, nil)
	for k := range candidates {
		for i := 0; i < es.n; i++ {
			z.SetVec(i, es.D[i]*es.normal.Rand())
		}
		y.MulVec(es.B, z)

		x := make([]float64, es.n)
		for i := range x {
			x[i] = es.mean[i] + es.sigma*y.AtVec(i)
		}
		es.bounds.Clip(x)
		candidates[k] = x
	}
	return candidates
}

func (es *CMAES) evaluate(fn optimization.ObjectiveFunction, candidates [][]float64, values []float64) error {
	if es.workers <= 1 {
		for i, x := range candidates {
			v, err := fn(x)
			if err != nil {
				return err
			}
			values[i] = v
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(es.workers)
	for i, x := range candidates {
		i, x := i, x
		g.Go(func() error {
			v, err := fn(x)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	return g.Wait()
}

// Tell updates the search distribution from an evaluated population.
func (es *CMAES) Tell(candidates [][]float64, values []float64) error {
	const op = "Tell"
	if len(candidates) != len(values) {
		return optimization.NewErrorf(optimization.ErrInvalidArgument,
			"got %d candidates but %d objective values", len(candidates), len(values)).
			WithComponent(component).WithOperation(op)
	}
	if len(candidates) != es.lambda {
		return optimization.NewErrorf(optimization.ErrInvalidArgument,
			"expected %d candidates, got %d", es.lambda, len(candidates)).
			WithComponent(component).WithOperation(op)
	}
	for i, x := range candidates {
		if len(x) != es.n {
			return optimization.NewErrorf(optimization.ErrInvalidArgument,
				"candidate %d has dimension %d, expected %d", i, len(x), es.n).
				WithComponent(component).WithOperation(op)
		}
	}

	order := rank(values)
	es.updateBest(candidates, values, order)

	old := append([]float64(nil), es.mean...)
	for i := range es.mean {
		es.mean[i] = 0
	}
	for k := 0; k < es.mu; k++ {
		floats.AddScaled(es.mean, es.weights[k], candidates[order[k]])
	}

	// Steps of the selected parents in units of sigma
	steps := make([][]float64, es.mu)
	for k := range steps {
		steps[k] = make([]float64, es.n)
		floats.SubTo(steps[k], candidates[order[k]], old)
		floats.Scale(1/es.sigma, steps[k])
	}
	yw := make([]float64, es.n)
	floats.SubTo(yw, es.mean, old)
	floats.Scale(1/es.sigma, yw)

	es.generation++

	// Conjugate evolution path for step-size control
	var cy mat.VecDense
	cy.MulVec(es.invsqrtC, mat.NewVecDense(es.n, yw))
	floats.Scale(1-es.cs, es.ps)
	floats.AddScaled(es.ps, math.Sqrt(es.cs*(2-es.cs)*es.mueff), cy.RawVector().Data)
	psNorm := floats.Norm(es.ps, 2)

	hsig := 0.0
	if psNorm/math.Sqrt(1-math.Pow(1-es.cs, 2*float64(es.generation)))/es.chiN < 1.4+2/(float64(es.n)+1) {
		hsig = 1
	}

	// Evolution path for the rank-one update
	floats.Scale(1-es.cc, es.pc)
	floats.AddScaled(es.pc, hsig*math.Sqrt(es.cc*(2-es.cc)*es.mueff), yw)

	es.updateCovariance(steps, hsig)

	es.sigma *= math.Exp(math.Min(1, (es.cs/es.damps)*(psNorm/es.chiN-1)))

	if float64(es.evaluations-es.eigenEval) > float64(es.lambda)/(es.c1+es.cmu)/float64(es.n)/10 {
		es.decompose()
	}

	es.recordFitness(values)

	es.logger.Debug("Updated search distribution",
		zap.Int("generation", es.generation),
		zap.Float64("sigma", es.sigma),
		zap.Float64("ps_norm", psNorm),
		zap.Float64("best", es.best.Value),
	)
	return nil
}

// rank returns indices of values in ascending order, NaN last.
func rank(values []float64) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		x, y := values[order[a]], values[order[b]]
		if math.IsNaN(x) {
			return false
		}
		if math.IsNaN(y) {
			return true
		}
		return x < y
	})
	return order
}

func (es *CMAES) updateBest(candidates [][]float64, values []float64, order []int) {
	i := order[0]
	if math.IsNaN(values[i]) || values[i] >= es.best.Value {
		return
	}
	es.best = optimization.Solution{
		Parameters: append([]float64(nil), candidates[i]...),
		Value:      values[i],
	}
}

func (es *CMAES) updateCovariance(steps [][]float64, hsig float64) {
	decay := 1 - es.c1 - es.cmu
	correction := (1 - hsig) * es.cc * (2 - es.cc)
	for i := 0; i < es.n; i++ {
		for j := i; j < es.n; j++ {
			cij := es.C.At(i, j)
			rankMu := 0.0
			for k, y := range steps {
				rankMu += es.weights[k] * y[i] * y[j]
			}
			v := decay*cij + es.c1*(es.pc[i]*es.pc[j]+correction*cij) + es.cmu*rankMu
			es.C.SetSym(i, j, v)
		}
	}
}

// decompose refreshes B, D and C^-1/2 from the covariance matrix.
func (es *CMAES) decompose() {
	es.eigenEval = es.evaluations

	var eig mat.EigenSym
	if ok := eig.Factorize(es.C, true); !ok {
		es.logger.Warn("Eigendecomposition failed, keeping previous basis",
			zap.Int("generation", es.generation),
		)
		return
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	for i, v := range vals {
		es.D[i] = math.Sqrt(math.Max(v, minEigenvalue))
	}
	es.B.Copy(&vecs)

	for i := 0; i < es.n; i++ {
		for j := i; j < es.n; j++ {
			sum := 0.0
			for k := 0; k < es.n; k++ {
				sum += es.B.At(i, k) * es.B.At(j, k) / es.D[k]
			}
			es.invsqrtC.SetSym(i, j, sum)
		}
	}
}

func (es *CMAES) recordFitness(values []float64) {
	genBest := math.Inf(1)
	for _, v := range values {
		if !math.IsNaN(v) && v < genBest {
			genBest = v
		}
	}
	if math.IsInf(genBest, 1) {
		return
	}
	es.fitHistory = append(es.fitHistory, genBest)
	if len(es.fitHistory) > es.fitHistLen {
		es.fitHistory = es.fitHistory[len(es.fitHistory)-es.fitHistLen:]
	}
}

// OverrideSigma sets the step size to max(sigma, floor).
func (es *CMAES) OverrideSigma(sigma float64) {
	if math.IsNaN(sigma) || sigma < es.sigmaFloor {
		sigma = es.sigmaFloor
	}
	es.sigma = sigma
}

// Mean returns a copy of the distribution mean.
func (es *CMAES) Mean() []float64 {
	return append([]float64(nil), es.mean...)
}

// Sigma returns the current step size.
func (es *CMAES) Sigma() float64 {
	return es.sigma
}

// AdaptationPathNorm returns the Euclidean norm of the conjugate evolution path.
func (es *CMAES) AdaptationPathNorm() float64 {
	return floats.Norm(es.ps, 2)
}

// BestPoint returns a copy of the best candidate seen so far, or nil
// before the first Tell.
func (es *CMAES) BestPoint() []float64 {
	if es.best.Parameters == nil {
		return nil
	}
	return append([]float64(nil), es.best.Parameters...)
}

// BestObjective returns the best objective value seen so far, +Inf before
// the first Tell.
func (es *CMAES) BestObjective() float64 {
	return es.best.Value
}

// PopulationSize returns lambda.
func (es *CMAES) PopulationSize() int {
	return es.lambda
}

// Dimension returns the search space dimension.
func (es *CMAES) Dimension() int {
	return es.n
}

// Generation returns the number of completed Tell calls.
func (es *CMAES) Generation() int {
	return es.generation
}

// Evaluations returns the number of objective evaluations.
func (es *CMAES) Evaluations() int {
	return es.evaluations
}
