package environment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/cmadac/internal/optimization/history"
)

func filledHistory(t *testing.T, length int, objectives, sigmas []float64, pairs []history.Pair) *History {
	t.Helper()
	h, err := newHistory(length)
	require.NoError(t, err)
	for _, v := range objectives {
		h.Objectives.Append(v)
	}
	for _, v := range sigmas {
		h.Sigmas.Append(v)
	}
	for _, p := range pairs {
		h.Deltas.Append(p)
	}
	return h
}

func TestDefaultEncoderPadsToFixedShape(t *testing.T) {
	h := filledHistory(t, 4, nil, nil, nil)
	obs := DefaultEncoder{}.Encode(Snapshot{BestPoint: []float64{1, 2, 3}, Sigma: 0.7, PathNorm: 1.3}, h)

	assert.Equal(t, []float64{1, 2, 3}, obs[KeyCurrentLoc])
	assert.Equal(t, []float64{0.7}, obs[KeyCurrentSigma])
	assert.Equal(t, []float64{1.3}, obs[KeyCurrentPS])
	assert.Equal(t, make([]float64, 4), obs[KeyPastDeltas])
	assert.Equal(t, make([]float64, 8), obs[KeyHistoryDeltas])
	assert.Equal(t, make([]float64, 4), obs[KeyPastSigmaDeltas])
}

func TestDefaultEncoderDeltas(t *testing.T) {
	h := filledHistory(t, 3,
		[]float64{10, 8, 8},
		[]float64{1, 0.5},
		[]history.Pair{{0.5, 0.1}, {0.25, 0.05}},
	)
	obs := DefaultEncoder{}.Encode(Snapshot{BestPoint: []float64{0}, BestObjective: 4}, h)

	want := []float64{
		(8 - 10 + 1e-3) / 10,
		(8 - 8 + 1e-3) / 8,
		(4 - 8 + 1e-3) / 8,
	}
	require.Len(t, obs[KeyPastDeltas], 3)
	for i := range want {
		assert.InDelta(t, want[i], obs[KeyPastDeltas][i], 1e-12)
	}
	assert.Equal(t, []float64{0, 0, 0.5, 0.1, 0.25, 0.05}, obs[KeyHistoryDeltas])
	assert.Equal(t, []float64{0, 1, 0.5}, obs[KeyPastSigmaDeltas])
}

func TestDefaultEncoderSanitizesZeroDivision(t *testing.T) {
	h := filledHistory(t, 3, []float64{0, 0}, []float64{math.Inf(1)}, []history.Pair{{math.NaN(), math.Inf(-1)}})
	obs := DefaultEncoder{}.Encode(Snapshot{BestPoint: []float64{math.NaN()}, BestObjective: 0, Sigma: math.NaN()}, h)

	for k, v := range obs {
		for i, x := range v {
			assert.False(t, math.IsNaN(x) || math.IsInf(x, 0), "%s[%d] = %v", k, i, x)
		}
	}
	assert.Equal(t, []float64{0, 0, 0}, obs[KeyPastDeltas])
	assert.Equal(t, []float64{0}, obs[KeyCurrentSigma])
}

func TestDefaultEncoderDoesNotAliasSnapshot(t *testing.T) {
	h := filledHistory(t, 2, nil, nil, nil)
	point := []float64{1, 1}
	obs := DefaultEncoder{}.Encode(Snapshot{BestPoint: point}, h)
	obs[KeyCurrentLoc][0] = 99
	assert.Equal(t, []float64{1, 1}, point)
}

func TestNegativePreviousValueFlipsSign(t *testing.T) {
	// Improving from -4 to -5 yields a positive ratio because the
	// denominator is negative.
	h := filledHistory(t, 2, []float64{-4}, nil, nil)
	obs := DefaultEncoder{}.Encode(Snapshot{BestObjective: -5}, h)
	assert.InDelta(t, (-5+4+1e-3)/-4.0, obs[KeyPastDeltas][1], 1e-12)
	assert.Greater(t, obs[KeyPastDeltas][1], 0.0)
}

func TestObservationFlatten(t *testing.T) {
	obs := Observation{
		KeyCurrentLoc:      {1, 2},
		KeyPastDeltas:      {3},
		KeyCurrentPS:       {4},
		KeyCurrentSigma:    {5},
		KeyHistoryDeltas:   {6, 7},
		KeyPastSigmaDeltas: {8},
	}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, obs.Flatten())
	assert.Equal(t, []float64{5, 1, 2}, obs.Flatten(KeyCurrentSigma, KeyCurrentLoc))

	c := obs.Clone()
	c[KeyCurrentLoc][0] = 42
	assert.Equal(t, 1.0, obs[KeyCurrentLoc][0])
}

func TestCustomEncoderIsUsed(t *testing.T) {
	calls := 0
	enc := EncoderFunc(func(s Snapshot, h *History) Observation {
		calls++
		return Observation{"sigma_and_best": {s.Sigma, s.BestObjective}, "lag": {float64(h.Deltas.Len())}}
	})
	env := newTestEnv(t, Config{HistoryLength: 2, PopulationSize: 4, Cutoff: 5, Seed: 6}, sphereInstance(1, 1), WithEncoder(enc))

	obs, err := env.Reset()
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, obs["lag"])

	res, err := env.Step(0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.3, res.Observation["sigma_and_best"][0])
	assert.Equal(t, env.BestObjective(), res.Observation["sigma_and_best"][1])
	assert.Equal(t, 2, calls)
}
