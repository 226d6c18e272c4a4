// Package metrics defines the Prometheus metrics for the gateway.
//
// All metrics are registered with the default registry and served on the
// /metrics endpoint.
//
// Metric naming follows Prometheus conventions:
//   - agentgate_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SyncRuns counts worker runs by worker name and terminal status.
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_sync_runs_total",
			Help: "Total number of sync worker runs by worker and status.",
		},
		[]string{"worker", "status"},
	)

	// AgentsSynced counts agents processed by the graph sync, by path taken
	// (embed, payload, skipped, error).
	AgentsSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_agents_synced_total",
			Help: "Total agents processed by graph sync, by update path.",
		},
		[]string{"path"},
	)

	// EmbeddingsGenerated counts vectors produced.
	EmbeddingsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentgate_embeddings_generated_total",
			Help: "Total embedding vectors generated.",
		},
	)

	// SearchRequests counts search requests by mode (semantic, filtered).
	SearchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_search_requests_total",
			Help: "Total search requests by planner mode.",
		},
		[]string{"mode"},
	)

	// SearchDuration is a histogram of end-to-end search handling time.
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentgate_search_duration_seconds",
			Help:    "Duration of search request handling in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// CapabilityFetches counts capability fetches by protocol and outcome.
	CapabilityFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_capability_fetch_total",
			Help: "Total capability fetches by protocol and status.",
		},
		[]string{"protocol", "status"},
	)

	// ClassificationJobs counts queue jobs by terminal status.
	ClassificationJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_classification_jobs_total",
			Help: "Total classification jobs by terminal status.",
		},
		[]string{"status"},
	)

	// ReconcileDeleted counts orphan points removed by reconciliation.
	ReconcileDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentgate_reconcile_deleted_total",
			Help: "Total orphaned vector points deleted by reconciliation.",
		},
	)

	// VectorPoints is the last observed size of the vector collection.
	VectorPoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentgate_vector_points",
			Help: "Current number of points in the vector collection.",
		},
	)

	// FeedbackSynced counts feedback events pulled and applied.
	FeedbackSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentgate_feedback_synced_total",
			Help: "Total feedback events applied from the upstream indexer.",
		},
	)

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_http_requests_total",
			Help: "Total HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		SyncRuns,
		AgentsSynced,
		EmbeddingsGenerated,
		SearchRequests,
		SearchDuration,
		CapabilityFetches,
		ClassificationJobs,
		ReconcileDeleted,
		VectorPoints,
		FeedbackSynced,
		HTTPRequests,
	)
}
