package cmaes

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cmadac/internal/optimization"
)

// sphere is a simple quadratic objective function for testing
func sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		mean    []float64
		sigma   float64
		popsize int
		bounds  optimization.Bounds
		wantErr bool
	}{
		{name: "valid", mean: []float64{0, 0}, sigma: 1, popsize: 4},
		{name: "zero sigma", mean: []float64{0, 0}, sigma: 0, popsize: 4, wantErr: true},
		{name: "negative sigma", mean: []float64{0, 0}, sigma: -1, popsize: 4, wantErr: true},
		{name: "NaN sigma", mean: []float64{0, 0}, sigma: math.NaN(), popsize: 4, wantErr: true},
		{name: "zero population", mean: []float64{0, 0}, sigma: 1, popsize: 0, wantErr: true},
		{name: "empty mean", mean: nil, sigma: 1, popsize: 4, wantErr: true},
		{
			name: "bounds dimension mismatch", mean: []float64{0, 0}, sigma: 1, popsize: 4,
			bounds:  optimization.Bounds{Lower: []float64{-1}, Upper: []float64{1}},
			wantErr: true,
		},
		{name: "single offspring", mean: []float64{1}, sigma: 0.5, popsize: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es, err := New(tt.mean, tt.sigma, tt.popsize, tt.bounds, WithSeed(1))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))
				assert.Nil(t, es)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.popsize, es.PopulationSize())
			assert.Equal(t, len(tt.mean), es.Dimension())
			assert.Equal(t, tt.sigma, es.Sigma())
			assert.Equal(t, 0.0, es.AdaptationPathNorm())
			assert.True(t, math.IsInf(es.BestObjective(), 1))
			assert.Nil(t, es.BestPoint())
			assert.InDelta(t, 1.0, sumOf(es.weights), 1e-12)
		})
	}
}

func TestSingleOffspringStaysFinite(t *testing.T) {
	es, err := New([]float64{1}, 0.5, 1, optimization.Bounds{}, WithSeed(1))
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, es.weights)
	assert.Equal(t, 1.0, es.mueff)

	for gen := 0; gen < 5; gen++ {
		candidates, values, err := es.AskAndEvaluate(sphere)
		require.NoError(t, err)
		require.NoError(t, es.Tell(candidates, values))

		for _, m := range es.Mean() {
			assert.False(t, math.IsNaN(m) || math.IsInf(m, 0), "mean must stay finite, got %v", m)
		}
		assert.False(t, math.IsNaN(es.Sigma()), "sigma must stay finite")
		assert.NotContains(t, es.StopReasons(), StopNonFinite)
	}
	assert.Less(t, es.BestObjective(), math.Inf(1))
}

func sumOf(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}

func TestAskAndEvaluateLeavesDistributionUntouched(t *testing.T) {
	es, err := New([]float64{5, 5}, 1.0, 4, optimization.Bounds{}, WithSeed(7))
	require.NoError(t, err)

	candidates, values, err := es.AskAndEvaluate(sphere)
	require.NoError(t, err)
	require.Len(t, candidates, 4)
	require.Len(t, values, 4)

	for i, x := range candidates {
		require.Len(t, x, 2)
		want, _ := sphere(x)
		assert.Equal(t, want, values[i])
	}
	assert.Equal(t, []float64{5, 5}, es.Mean())
	assert.Equal(t, 1.0, es.Sigma())
	assert.Equal(t, 4, es.Evaluations())
	assert.Equal(t, 0, es.Generation())
}

func TestAskAndEvaluateNilObjective(t *testing.T) {
	es, err := New([]float64{0}, 1.0, 2, optimization.Bounds{}, WithSeed(1))
	require.NoError(t, err)

	_, _, err = es.AskAndEvaluate(nil)
	assert.True(t, errors.Is(err, optimization.ErrInvalidArgument))
}

func TestAskAndEvaluatePropagatesObjectiveError(t *testing.T) {
	boom := errors.New("simulator crashed")
	for _, workers := range []int{1, 4} {
		es, err := New([]float64{0, 0}, 1.0, 6, optimization.Bounds{}, WithSeed(3), WithWorkers(workers))
		require.NoError(t, err)

		_, _, err = es.AskAndEvaluate(func([]float64) (float64, error) { return 0, boom })
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, es.Evaluations())
	}
}

func TestTellRejectsMismatchedPopulation(t *testing.T) {
	es, err := New([]float64{1, 1}, 1.0, 4, optimization.Bounds{}, WithSeed(2))
	require.NoError(t, err)

	candidates, values, err := es.AskAndEvaluate(sphere)
	require.NoError(t, err)

	tests := []struct {
		name       string
		candidates [][]float64
		values     []float64
	}{
		{"fewer values", candidates, values[:3]},
		{"fewer candidates", candidates[:3], values},
		{"wrong population size", candidates[:2], values[:2]},
		{"wrong dimension", [][]float64{{1}, {1}, {1}, {1}}, values},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := es.Tell(tt.candidates, tt.values)
			require.Error(t, err)
			assert.True(t, errors.Is(err, optimization.ErrInvalidArgument))
		})
	}

	require.NoError(t, es.Tell(candidates, values))
	assert.Equal(t, 1, es.Generation())
}

func TestOverrideSigmaFloor(t *testing.T) {
	tests := []struct {
		action float64
		want   float64
	}{
		{0.2, 0.2},
		{0.05, 0.05},
		{0.01, DefaultSigmaFloor},
		{0, DefaultSigmaFloor},
		{-3, DefaultSigmaFloor},
		{math.NaN(), DefaultSigmaFloor},
		{7, 7},
	}

	es, err := New([]float64{0, 0}, 1.0, 4, optimization.Bounds{}, WithSeed(1))
	require.NoError(t, err)
	for _, tt := range tests {
		es.OverrideSigma(tt.action)
		assert.Equal(t, tt.want, es.Sigma(), "action %v", tt.action)
	}

	custom, err := New([]float64{0}, 1.0, 4, optimization.Bounds{}, WithSigmaFloor(0.5))
	require.NoError(t, err)
	custom.OverrideSigma(0.1)
	assert.Equal(t, 0.5, custom.Sigma())
}

func TestConvergesOnSphere(t *testing.T) {
	es, err := New([]float64{3, -2, 1}, 1.0, 10, optimization.Bounds{}, WithSeed(42))
	require.NoError(t, err)

	prevBest := math.Inf(1)
	for gen := 0; gen < 2000 && !es.ShouldStop(); gen++ {
		candidates, values, err := es.AskAndEvaluate(sphere)
		require.NoError(t, err)
		require.NoError(t, es.Tell(candidates, values))

		assert.LessOrEqual(t, es.BestObjective(), prevBest, "best objective must never increase")
		prevBest = es.BestObjective()
		assert.Greater(t, es.Sigma(), 0.0)
	}

	assert.Less(t, es.BestObjective(), 1e-6)
	best := es.BestPoint()
	require.Len(t, best, 3)
	for _, v := range best {
		assert.InDelta(t, 0, v, 1e-2)
	}
	assert.NotEmpty(t, es.StopReasons())
}

func TestParallelEvaluationMatchesSequential(t *testing.T) {
	seq, err := New([]float64{2, 2, 2, 2}, 0.5, 12, optimization.Bounds{}, WithSeed(99))
	require.NoError(t, err)
	par, err := New([]float64{2, 2, 2, 2}, 0.5, 12, optimization.Bounds{}, WithSeed(99), WithWorkers(4))
	require.NoError(t, err)

	var calls atomic.Int64
	counted := func(x []float64) (float64, error) {
		calls.Add(1)
		return sphere(x)
	}

	for gen := 0; gen < 5; gen++ {
		sc, sv, err := seq.AskAndEvaluate(sphere)
		require.NoError(t, err)
		pc, pv, err := par.AskAndEvaluate(counted)
		require.NoError(t, err)

		assert.Equal(t, sc, pc)
		assert.Equal(t, sv, pv)

		require.NoError(t, seq.Tell(sc, sv))
		require.NoError(t, par.Tell(pc, pv))
	}
	assert.Equal(t, int64(5*12), calls.Load())
	assert.Equal(t, seq.Mean(), par.Mean())
	assert.Equal(t, seq.Sigma(), par.Sigma())
}

func TestCandidatesRespectBounds(t *testing.T) {
	bounds := optimization.Bounds{Lower: []float64{-1, 0}, Upper: []float64{1, 0.5}}
	es, err := New([]float64{0.9, 0.4}, 3.0, 20, bounds, WithSeed(5))
	require.NoError(t, err)

	for gen := 0; gen < 10; gen++ {
		candidates, values, err := es.AskAndEvaluate(sphere)
		require.NoError(t, err)
		for _, x := range candidates {
			for i := range x {
				assert.GreaterOrEqual(t, x[i], bounds.Lower[i])
				assert.LessOrEqual(t, x[i], bounds.Upper[i])
			}
		}
		require.NoError(t, es.Tell(candidates, values))
	}
}

func TestTellRanksNaNLast(t *testing.T) {
	order := rank([]float64{3, math.NaN(), 1, 2})
	assert.Equal(t, []int{2, 3, 0, 1}, order)

	es, err := New([]float64{0, 0}, 1.0, 4, optimization.Bounds{}, WithSeed(11))
	require.NoError(t, err)
	candidates, values, err := es.AskAndEvaluate(sphere)
	require.NoError(t, err)
	values[0] = math.NaN()

	require.NoError(t, es.Tell(candidates, values))
	assert.False(t, math.IsNaN(es.BestObjective()))
	for _, v := range es.Mean() {
		assert.False(t, math.IsNaN(v))
	}
}

func TestConstantObjectiveStops(t *testing.T) {
	es, err := New([]float64{1, 1}, 1.0, 6, optimization.Bounds{}, WithSeed(8))
	require.NoError(t, err)
	flat := func([]float64) (float64, error) { return 0, nil }

	assert.False(t, es.ShouldStop())
	candidates, values, err := es.AskAndEvaluate(flat)
	require.NoError(t, err)
	require.NoError(t, es.Tell(candidates, values))

	assert.True(t, es.ShouldStop())
	assert.Contains(t, es.StopReasons(), StopTolFun)
}

func TestMaxIterations(t *testing.T) {
	es, err := New([]float64{5}, 1.0, 4, optimization.Bounds{}, WithSeed(4), WithMaxIterations(3))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.NotContains(t, es.StopReasons(), StopMaxIter)
		candidates, values, err := es.AskAndEvaluate(sphere)
		require.NoError(t, err)
		require.NoError(t, es.Tell(candidates, values))
	}
	assert.Contains(t, es.StopReasons(), StopMaxIter)
}

func BenchmarkGeneration(b *testing.B) {
	es, err := New(make([]float64, 20), 1.0, 16, optimization.Bounds{}, WithSeed(1), WithMaxIterations(math.MaxInt32))
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		candidates, values, _ := es.AskAndEvaluate(sphere)
		_ = es.Tell(candidates, values)
		es.OverrideSigma(0.3)
	}
}
