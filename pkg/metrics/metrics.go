// Package metrics exposes the Prometheus instrumentation for the pipeline:
// job throughput by stage, resource manager saturation, embedding map
// dedup efficiency, and fusion search latency. Metrics are incidental
// observability — nothing here ever gates control flow.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/knowledgecore/pipeline/pkg/domain"
)

var (
	// JobsProcessedTotal counts jobs that reached a terminal status,
	// labeled by stage (empty string for a parent job) and outcome.
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_processed_total",
		Help: "Total processing jobs that reached a terminal status, by stage and outcome.",
	}, []string{"stage", "outcome"})

	// ResourcePermitsInUse reports the current number of held semaphore
	// permits for a contended resource (ai or database).
	ResourcePermitsInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_resource_permits_in_use",
		Help: "Currently held admission-control permits, by resource.",
	}, []string{"resource"})

	// EmbeddingMapDedupRatio is the fraction of texts an Embedding Map
	// build averted calling the embedder for, per job.
	EmbeddingMapDedupRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_embedding_map_dedup_ratio",
		Help:    "Fraction of embedding map input texts deduplicated away before batching to the embedder.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	// FusionSearchDuration times a complete fusion search, from query
	// embed through rank fusion.
	FusionSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_fusion_search_duration_seconds",
		Help:    "Latency of a fusion search call, in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordJobOutcome increments JobsProcessedTotal for a job that just
// reached a terminal status.
func RecordJobOutcome(stage domain.JobStage, success bool) {
	outcome := "failed"
	if success {
		outcome = "completed"
	}
	JobsProcessedTotal.WithLabelValues(string(stage), outcome).Inc()
}

// SetResourcePermitsInUse records the current in-use permit count for a
// resource kind ("ai" or "database").
func SetResourcePermitsInUse(resource string, inUse int64) {
	ResourcePermitsInUse.WithLabelValues(resource).Set(float64(inUse))
}

// RecordEmbeddingMapStats records the dedup ratio achieved by one
// Embedding Map build.
func RecordEmbeddingMapStats(totalTexts, duplicatesAverted int) {
	if totalTexts == 0 {
		return
	}
	EmbeddingMapDedupRatio.Observe(float64(duplicatesAverted) / float64(totalTexts))
}

// RecordFusionSearchDuration records how long a fusion search took.
func RecordFusionSearchDuration(d time.Duration) {
	FusionSearchDuration.Observe(d.Seconds())
}
