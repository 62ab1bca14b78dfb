// Package environment exposes a CMA-ES run as a sequential decision process
// in which an agent chooses the step size for every generation.
package environment

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/cmadac/internal/instances"
	"github.com/copyleftdev/cmadac/internal/optimization"
	"github.com/copyleftdev/cmadac/internal/optimization/cmaes"
	"github.com/copyleftdev/cmadac/internal/optimization/history"
)

const component = "environment"

// State is the lifecycle state of an Env.
type State int

const (
	// StateUninitialized means Reset has not succeeded yet.
	StateUninitialized State = iota
	// StateReady means Step may be called.
	StateReady
	// StateDone means the episode ended; only Reset is legal.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// InstanceProvider supplies a fresh problem instance for every episode.
type InstanceProvider interface {
	Next() (instances.Instance, error)
}

// EngineFactory builds the optimizer for one episode.
type EngineFactory func(mean []float64, sigma float64, populationSize int, bounds optimization.Bounds, seed int64) (optimization.Engine, error)

// Config holds the per-environment settings shared by all episodes.
type Config struct {
	// HistoryLength is the capacity H of every rolling window.
	HistoryLength int
	// PopulationSize is lambda for every episode.
	PopulationSize int
	// Cutoff is the maximum number of steps per episode.
	Cutoff int
	// Bounds are passed to the engine unchanged.
	Bounds optimization.Bounds
	// SigmaFloor is the lower clamp on step-size actions. Zero means cmaes.DefaultSigmaFloor.
	SigmaFloor float64
	// Seed makes episodes reproducible. Zero draws a random seed.
	Seed int64
	// Workers enables concurrent candidate evaluation when > 1.
	Workers int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		HistoryLength:  40,
		PopulationSize: 10,
		Cutoff:         100,
		SigmaFloor:     cmaes.DefaultSigmaFloor,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.HistoryLength <= 0:
		return optimization.NewErrorf(optimization.ErrInvalidConfig, "history length must be positive, got %d", c.HistoryLength)
	case c.PopulationSize <= 0:
		return optimization.NewErrorf(optimization.ErrInvalidConfig, "population size must be positive, got %d", c.PopulationSize)
	case c.Cutoff <= 0:
		return optimization.NewErrorf(optimization.ErrInvalidConfig, "cutoff must be positive, got %d", c.Cutoff)
	case c.SigmaFloor < 0:
		return optimization.NewErrorf(optimization.ErrInvalidConfig, "sigma floor must not be negative, got %v", c.SigmaFloor)
	}
	return nil
}

// Budget is the episode-length stepping contract: Step reports done once
// the number of steps reaches Cutoff.
type Budget struct {
	Cutoff int
	steps  int
}

// Step counts one step and reports whether the budget is exhausted.
func (b *Budget) Step() bool {
	b.steps++
	return b.steps >= b.Cutoff
}

// Exhausted reports whether taking n more steps would reach Cutoff.
func (b *Budget) Exhausted(n int) bool {
	return b.steps+n >= b.Cutoff
}

// Reset zeroes the step counter.
func (b *Budget) Reset() {
	b.steps = 0
}

// Steps returns the number of steps taken since Reset.
func (b *Budget) Steps() int {
	return b.steps
}

// StepResult is what Step returns to the agent.
type StepResult struct {
	Observation Observation            `json:"observation"`
	Reward      float64                `json:"reward"`
	Done        bool                   `json:"done"`
	Info        map[string]interface{} `json:"info"`
}

// Option customizes an Env.
type Option func(*Env)

// WithEncoder replaces the default state encoder.
func WithEncoder(enc StateEncoder) Option {
	return func(e *Env) {
		if enc != nil {
			e.encoder = enc
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Env) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEngineFactory replaces the CMA-ES engine constructor.
func WithEngineFactory(f EngineFactory) Option {
	return func(e *Env) {
		if f != nil {
			e.newEngine = f
		}
	}
}

// Env is the step-size control environment. All methods are serialized by
// an internal mutex; the intended use is still one agent per Env.
type Env struct {
	mu sync.Mutex

	cfg       Config
	provider  InstanceProvider
	encoder   StateEncoder
	newEngine EngineFactory
	logger    *zap.Logger

	state    State
	budget   Budget
	hist     *History
	episodes int

	instance   instances.Instance
	engine     optimization.Engine
	candidates [][]float64
	values     []float64
	told       bool
	best       float64
	lastPair   history.Pair
	snapshot   Snapshot
}

// New creates an environment drawing instances from provider.
func New(cfg Config, provider InstanceProvider, opts ...Option) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err.(*optimization.Error).WithComponent(component).WithOperation("New")
	}
	if provider == nil {
		return nil, optimization.NewError(optimization.ErrInvalidConfig, "instance provider must not be nil").
			WithComponent(component).WithOperation("New")
	}
	if cfg.SigmaFloor == 0 {
		cfg.SigmaFloor = cmaes.DefaultSigmaFloor
	}

	hist, err := newHistory(cfg.HistoryLength)
	if err != nil {
		return nil, err
	}

	e := &Env{
		cfg:      cfg,
		provider: provider,
		encoder:  DefaultEncoder{},
		logger:   zap.NewNop(),
		budget:   Budget{Cutoff: cfg.Cutoff},
		hist:     hist,
	}
	e.newEngine = e.defaultEngine
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("environment")
	return e, nil
}

func (e *Env) defaultEngine(mean []float64, sigma float64, populationSize int, bounds optimization.Bounds, seed int64) (optimization.Engine, error) {
	opts := []cmaes.Option{
		cmaes.WithSigmaFloor(e.cfg.SigmaFloor),
		cmaes.WithWorkers(e.cfg.Workers),
		cmaes.WithLogger(e.logger),
	}
	if seed != 0 {
		opts = append(opts, cmaes.WithSeed(uint64(seed)))
	}
	return cmaes.New(mean, sigma, populationSize, bounds, opts...)
}

// Reset starts a new episode and returns its first observation.
func (e *Env) Reset() (Observation, error) {
	const op = "Reset"
	e.mu.Lock()
	defer e.mu.Unlock()

	// A failed reset must not leave a steppable episode behind.
	e.state = StateUninitialized
	e.engine = nil
	e.told = false
	e.hist.Clear()
	e.budget.Reset()

	inst, err := e.provider.Next()
	if err != nil {
		return nil, optimization.WrapError(err, "draw instance").WithComponent(component).WithOperation(op)
	}
	if err := inst.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid instance").WithComponent(component).WithOperation(op)
	}

	var seed int64
	if e.cfg.Seed != 0 {
		seed = e.cfg.Seed + int64(e.episodes)
	}
	engine, err := e.newEngine(inst.InitialMean, inst.InitialSigma, e.cfg.PopulationSize, e.cfg.Bounds, seed)
	if err != nil {
		return nil, optimization.WrapError(err, "create engine").WithComponent(component).WithOperation(op)
	}

	candidates, values, err := engine.AskAndEvaluate(inst.Objective)
	if err != nil {
		return nil, optimization.WrapError(err, "evaluate initial population").WithComponent(component).WithOperation(op)
	}

	e.instance = inst
	e.engine = engine
	e.candidates, e.values = candidates, values
	e.best = minValue(values)
	e.lastPair = deltaPair(values, e.best)
	e.hist.Deltas.Append(e.lastPair)
	e.snapshot = Snapshot{
		BestPoint:      append([]float64(nil), inst.InitialMean...),
		BestObjective:  e.best,
		Sigma:          inst.InitialSigma,
		PathNorm:       engine.AdaptationPathNorm(),
		PopulationSize: e.cfg.PopulationSize,
	}
	e.episodes++
	e.state = StateReady

	e.logger.Debug("Episode reset",
		zap.String("instance", inst.Name),
		zap.Int("dimension", inst.Dimension),
		zap.Int("episode", e.episodes),
		zap.Float64("best_objective", e.best),
	)

	return e.encoder.Encode(e.snapshot, e.hist), nil
}

// Step applies the step-size action, advances one generation and returns
// the new observation, the reward and whether the episode ended.
func (e *Env) Step(action float64) (StepResult, error) {
	const op = "Step"
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateUninitialized:
		return StepResult{}, optimization.NewError(optimization.ErrInvalidState, "step called before reset").
			WithComponent(component).WithOperation(op)
	case StateDone:
		return StepResult{}, optimization.NewError(optimization.ErrInvalidState, "step called after episode end").
			WithComponent(component).WithOperation(op)
	}

	// The episode advances only once the engine calls succeed. A generation
	// already told is not told again when a failed ask is retried.
	done := e.budget.Exhausted(1) || e.engine.ShouldStop()
	if !done {
		if !e.told {
			if err := e.engine.Tell(e.candidates, e.values); err != nil {
				return StepResult{}, optimization.WrapError(err, "tell").WithComponent(component).WithOperation(op)
			}
			e.told = true
		}
		e.engine.OverrideSigma(action)
		candidates, values, err := e.engine.AskAndEvaluate(e.instance.Objective)
		if err != nil {
			return StepResult{}, optimization.WrapError(err, "ask").WithComponent(component).WithOperation(op)
		}
		e.candidates, e.values = candidates, values
		e.told = false
	}
	e.budget.Step()

	// The pair appended here describes the generation before this action.
	e.hist.Deltas.Append(e.lastPair)

	pair := deltaPair(e.values, e.best)

	popBest := minValue(e.values)
	best := math.Min(e.engine.BestObjective(), popBest)
	// Never report a worse value than before, even if both sources are NaN.
	if !(best <= e.best) {
		best = e.best
	}

	e.hist.Objectives.Append(e.snapshot.BestObjective)
	e.hist.Sigmas.Append(e.snapshot.Sigma)

	e.best = best
	e.lastPair = pair
	e.snapshot = Snapshot{
		BestPoint:      e.bestPoint(popBest),
		BestObjective:  best,
		Sigma:          e.engine.Sigma(),
		PathNorm:       e.engine.AdaptationPathNorm(),
		PopulationSize: e.cfg.PopulationSize,
	}

	if done {
		e.state = StateDone
		e.logger.Debug("Episode finished",
			zap.String("instance", e.instance.Name),
			zap.Int("steps", e.budget.Steps()),
			zap.Float64("best_objective", best),
		)
	}

	return StepResult{
		Observation: e.encoder.Encode(e.snapshot, e.hist),
		Reward:      -best,
		Done:        done,
		Info:        map[string]interface{}{},
	}, nil
}

// bestPoint returns the point matching the reported best objective. The
// current population wins when it beats the engine's record.
func (e *Env) bestPoint(popBest float64) []float64 {
	if p := e.engine.BestPoint(); p != nil && e.engine.BestObjective() <= popBest {
		return p
	}
	for i, v := range e.values {
		if v == popBest {
			return append([]float64(nil), e.candidates[i]...)
		}
	}
	return append([]float64(nil), e.snapshot.BestPoint...)
}

// deltaPair computes the (objective, velocity) deltas of a population
// relative to a reference objective value, with non-finite ratios set to 0.
func deltaPair(values []float64, ref float64) history.Pair {
	return history.Pair{
		ObjectiveDelta: finiteOrZero(math.Abs(maxValue(values)-ref) / ref),
		VelocityDelta:  finiteOrZero(math.Abs(minValue(values)-ref) / ref),
	}
}

func minValue(values []float64) float64 {
	m := math.Inf(1)
	for _, v := range values {
		if v < m {
			m = v
		}
	}
	return m
}

func maxValue(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

// State returns the lifecycle state.
func (e *Env) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// BestObjective returns the best objective reported in this episode.
func (e *Env) BestObjective() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.best
}

// Sigma returns the step size of the current snapshot.
func (e *Env) Sigma() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot.Sigma
}

// Steps returns the number of steps taken in the current episode.
func (e *Env) Steps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.budget.Steps()
}

// Episodes returns the number of successful resets.
func (e *Env) Episodes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.episodes
}

// Instance returns the current episode's instance.
func (e *Env) Instance() instances.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instance
}

// Config returns the environment settings.
func (e *Env) Config() Config {
	return e.cfg
}
