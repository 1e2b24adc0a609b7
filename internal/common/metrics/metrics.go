// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	ReferencesExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maps_references_extracted_total",
			Help: "Index-pattern references moved out of layer lists",
		},
	)

	ReferencesInjected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maps_references_injected_total",
			Help: "Saved maps whose references were injected on read",
		},
	)

	CodecFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maps_reference_codec_failures_total",
			Help: "Reference extraction/injection failures",
		},
		[]string{"operation", "error_code"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maps_cache_lookups_total",
			Help: "Map cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)
)

// ObserveJob records the outcome of one job. errorCode is empty on success.
func ObserveJob(taskType, errorCode string, seconds float64) {
	WorkerJobDuration.WithLabelValues(taskType).Observe(seconds)
	if errorCode == "" {
		WorkerJobsCompleted.WithLabelValues(taskType).Inc()
		return
	}
	WorkerJobsFailed.WithLabelValues(taskType, errorCode).Inc()
}
