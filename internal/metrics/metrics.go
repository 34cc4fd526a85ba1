// Package metrics declares the Prometheus collectors for the simulation.
// Labels are bounded: never label by world, player or input number.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine
	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "town_step_duration_seconds",
		Help:    "Wall time spent running one step (ticks only, no commit)",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	})

	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "town_ticks_total",
		Help: "Total simulation ticks executed",
	})

	InputsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "town_inputs_total",
		Help: "Inputs applied, by outcome",
	}, []string{"result"}) // Bounded: "ok", "error"

	// Persistence
	CommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "town_commit_conflicts_total",
		Help: "Commits rejected because another writer advanced the generation",
	})

	CommitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "town_commit_retries_total",
		Help: "Commit attempts retried after a transient storage error",
	})

	ArchivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "town_archived_total",
		Help: "Entities moved to archive tables",
	}, []string{"kind"}) // Bounded: "player", "agent", "conversation"

	HistoryBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "town_history_bytes",
		Help:    "Packed history size per step",
		Buckets: prometheus.ExponentialBuckets(256, 2, 10),
	})

	// Pathfinding
	PathfindsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "town_pathfinds_total",
		Help: "Route searches, by outcome",
	}, []string{"result"}) // Bounded: "found", "partial", "none"

	RouteCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "town_route_cache_total",
		Help: "Route cache lookups",
	}, []string{"result"}) // Bounded: "hit", "miss"

	// Operations
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "town_operations_total",
		Help: "Operations by name and lifecycle stage",
	}, []string{"name", "stage"}) // stage: "dispatched", "dropped", "completed", "failed"

	OperationTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "town_operation_timeouts_total",
		Help: "In-progress operations force-cleared after the timeout",
	})
)
