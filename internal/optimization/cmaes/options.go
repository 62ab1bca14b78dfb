package cmaes

import (
	"go.uber.org/zap"
)

// DefaultSigmaFloor is the smallest step size OverrideSigma will set.
const DefaultSigmaFloor = 0.05

// Termination thresholds.
const (
	defaultTolFun        = 1e-11
	defaultTolX          = 1e-11
	defaultTolUpSigma    = 1e20
	defaultConditionCov  = 1e14
	minEigenvalue        = 1e-300
	defaultSeedIncrement = 0x9e3779b97f4a7c15
)

type settings struct {
	seed          uint64
	seeded        bool
	workers       int
	sigmaFloor    float64
	maxIterations int
	logger        *zap.Logger
}

// Option configures a CMAES engine.
type Option func(*settings)

// WithSeed makes sampling reproducible.
func WithSeed(seed uint64) Option {
	return func(s *settings) {
		s.seed = seed
		s.seeded = true
	}
}

// WithWorkers evaluates up to n candidates concurrently. The objective
// function must then be safe for concurrent use. n <= 1 means sequential.
func WithWorkers(n int) Option {
	return func(s *settings) {
		s.workers = n
	}
}

// WithSigmaFloor changes the lower clamp applied by OverrideSigma.
func WithSigmaFloor(floor float64) Option {
	return func(s *settings) {
		s.sigmaFloor = floor
	}
}

// WithMaxIterations overrides the generation limit. Zero keeps the default
// 100 + 150 (n+3)^2 / sqrt(lambda).
func WithMaxIterations(n int) Option {
	return func(s *settings) {
		s.maxIterations = n
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}
