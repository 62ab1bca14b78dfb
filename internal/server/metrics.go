package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	episodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmadac_episodes_total",
		Help: "Episodes started, by instance function",
	}, []string{"instance"})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cmadac_steps_total",
		Help: "Environment steps, by outcome",
	}, []string{"outcome"}) // ok, done, error

	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cmadac_step_duration_seconds",
		Help:    "Wall time of one environment step",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	})

	bestObjective = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cmadac_best_objective",
		Help: "Best objective of the most recently stepped episode, by instance function",
	}, []string{"instance"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cmadac_active_sessions",
		Help: "Open environment sessions",
	})

	persistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cmadac_persist_errors_total",
		Help: "Episode traces that failed to persist",
	})
)
