package environment

import (
	"math"

	"github.com/copyleftdev/cmadac/internal/optimization/history"
)

// Observation feature names.
const (
	KeyCurrentLoc      = "current_loc"
	KeyCurrentSigma    = "current_sigma"
	KeyCurrentPS       = "current_ps"
	KeyPastDeltas      = "past_deltas"
	KeyHistoryDeltas   = "history_deltas"
	KeyPastSigmaDeltas = "past_sigma_deltas"
)

// ObservationKeys is the canonical feature order used by Flatten.
var ObservationKeys = []string{
	KeyCurrentLoc,
	KeyPastDeltas,
	KeyCurrentPS,
	KeyCurrentSigma,
	KeyHistoryDeltas,
	KeyPastSigmaDeltas,
}

// deltaEpsilon keeps the relative change non-zero when the objective is flat.
const deltaEpsilon = 1e-3

// Observation is a bundle of named feature arrays.
type Observation map[string][]float64

// Flatten concatenates the named arrays, in ObservationKeys order when no
// keys are given. Missing keys contribute nothing.
func (o Observation) Flatten(keys ...string) []float64 {
	if len(keys) == 0 {
		keys = ObservationKeys
	}
	var out []float64
	for _, k := range keys {
		out = append(out, o[k]...)
	}
	return out
}

// Shape maps each feature to its length.
func (o Observation) Shape() map[string]int {
	shape := make(map[string]int, len(o))
	for k, v := range o {
		shape[k] = len(v)
	}
	return shape
}

// Clone returns a deep copy.
func (o Observation) Clone() Observation {
	c := make(Observation, len(o))
	for k, v := range o {
		c[k] = append([]float64(nil), v...)
	}
	return c
}

// Snapshot is the optimizer state visible to an encoder.
type Snapshot struct {
	BestPoint      []float64
	BestObjective  float64
	Sigma          float64
	PathNorm       float64
	PopulationSize int
}

// History holds the rolling windows the environment maintains per episode.
type History struct {
	Deltas     *history.Buffer[history.Pair]
	Objectives *history.Buffer[float64]
	Sigmas     *history.Buffer[float64]
}

func newHistory(length int) (*History, error) {
	deltas, err := history.New[history.Pair](length)
	if err != nil {
		return nil, err
	}
	objectives, err := history.New[float64](length)
	if err != nil {
		return nil, err
	}
	sigmas, err := history.New[float64](length)
	if err != nil {
		return nil, err
	}
	return &History{Deltas: deltas, Objectives: objectives, Sigmas: sigmas}, nil
}

// Length returns the window capacity H.
func (h *History) Length() int {
	return h.Objectives.Cap()
}

// Clear empties every window.
func (h *History) Clear() {
	h.Deltas.Clear()
	h.Objectives.Clear()
	h.Sigmas.Clear()
}

// StateEncoder turns optimizer state and history into an observation.
// Implementations must return the same shape for a fixed history length
// and dimension.
type StateEncoder interface {
	Encode(s Snapshot, h *History) Observation
}

// EncoderFunc adapts a function to StateEncoder.
type EncoderFunc func(s Snapshot, h *History) Observation

// Encode calls f.
func (f EncoderFunc) Encode(s Snapshot, h *History) Observation {
	return f(s, h)
}

// DefaultEncoder produces the six standard step-size features, left
// zero-padded to fixed length and with non-finite entries replaced by 0.
type DefaultEncoder struct{}

// Encode implements StateEncoder.
func (DefaultEncoder) Encode(s Snapshot, h *History) Observation {
	n := h.Length()

	objectives := h.Objectives.Values()
	pastDeltas := make([]float64, 0, len(objectives))
	for i := 1; i < len(objectives); i++ {
		pastDeltas = append(pastDeltas, relativeDelta(objectives[i], objectives[i-1]))
	}
	if len(objectives) > 0 {
		pastDeltas = append(pastDeltas, relativeDelta(s.BestObjective, objectives[len(objectives)-1]))
	}

	obs := Observation{
		KeyCurrentLoc:      append([]float64(nil), s.BestPoint...),
		KeyCurrentSigma:    {s.Sigma},
		KeyCurrentPS:       {s.PathNorm},
		KeyPastDeltas:      history.PadLeft(pastDeltas, n),
		KeyHistoryDeltas:   history.PadLeft(history.Flatten(h.Deltas.Values()), 2*n),
		KeyPastSigmaDeltas: history.PadLeft(h.Sigmas.Values(), n),
	}
	for _, v := range obs {
		sanitize(v)
	}
	return obs
}

// relativeDelta divides by the previous value as is; a negative previous
// value flips the sign of the result.
func relativeDelta(cur, prev float64) float64 {
	return (cur - prev + deltaEpsilon) / prev
}

func sanitize(xs []float64) {
	for i, x := range xs {
		xs[i] = finiteOrZero(x)
	}
}

func finiteOrZero(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
