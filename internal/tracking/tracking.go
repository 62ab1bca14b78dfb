// Package tracking records the observations an environment emits so they
// can be inspected, persisted or plotted after the fact.
package tracking

import (
	"sync"

	"github.com/copyleftdev/cmadac/internal/environment"
)

// Environment is the part of environment.Env a Tracker drives.
type Environment interface {
	Reset() (environment.Observation, error)
	Step(action float64) (environment.StepResult, error)
}

// Transition is one recorded step.
type Transition struct {
	Action float64 `json:"action"`
	Reward float64 `json:"reward"`
	Done   bool    `json:"done"`
}

// Tracker wraps an environment and records every observation it returns.
// With a positive interval the observations are additionally grouped into
// consecutive chunks of that many states.
type Tracker struct {
	env      Environment
	interval int

	mu          sync.Mutex
	overall     []environment.Observation
	intervals   [][]environment.Observation
	current     []environment.Observation
	transitions []Transition
}

// New creates a tracker. interval <= 0 disables grouping.
func New(env Environment, interval int) *Tracker {
	return &Tracker{env: env, interval: interval}
}

// Reset resets the wrapped environment and records the first state.
func (t *Tracker) Reset() (environment.Observation, error) {
	obs, err := t.env.Reset()
	if err != nil {
		return nil, err
	}
	t.record(obs)
	return obs, nil
}

// Step steps the wrapped environment and records the resulting state.
func (t *Tracker) Step(action float64) (environment.StepResult, error) {
	res, err := t.env.Step(action)
	if err != nil {
		return res, err
	}
	t.record(res.Observation)

	t.mu.Lock()
	t.transitions = append(t.transitions, Transition{Action: action, Reward: res.Reward, Done: res.Done})
	t.mu.Unlock()
	return res, nil
}

func (t *Tracker) record(obs environment.Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obs = obs.Clone()
	t.overall = append(t.overall, obs)
	if t.interval <= 0 {
		return
	}
	if len(t.current) < t.interval {
		t.current = append(t.current, obs)
		return
	}
	t.intervals = append(t.intervals, t.current)
	t.current = []environment.Observation{obs}
}

// States returns every recorded observation in order.
func (t *Tracker) States() []environment.Observation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]environment.Observation(nil), t.overall...)
}

// Intervals returns the grouped observations, including the open group.
// It returns nil when grouping is disabled.
func (t *Tracker) Intervals() [][]environment.Observation {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interval <= 0 {
		return nil
	}
	out := append([][]environment.Observation(nil), t.intervals...)
	return append(out, append([]environment.Observation(nil), t.current...))
}

// Transitions returns the recorded action/reward sequence.
func (t *Tracker) Transitions() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.transitions...)
}

// Series extracts one feature across all recorded states, which is the
// shape a plotting layer consumes.
func (t *Tracker) Series(key string) [][]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]float64, len(t.overall))
	for i, obs := range t.overall {
		out[i] = append([]float64(nil), obs[key]...)
	}
	return out
}
