// Package metrics holds the Prometheus collectors shared across the appview.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "appview"

var (
	PipelineStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       namespace,
		Name:                            "pipeline_stage_duration_ms",
		Help:                            "Time spent in each pipeline stage.",
		Buckets:                         []float64{1, 3, 5, 10, 25, 50, 100, 250, 1000, 5000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"pipeline", "stage"})

	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_errors_total",
		Help:      "Pipeline runs aborted by a stage error.",
	}, []string{"pipeline", "stage"})

	DataplaneRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dataplane_request_duration_ms",
		Help:      "Latency of data plane calls.",
		Buckets:   []float64{1, 3, 5, 10, 25, 50, 100, 250, 1000, 5000},
	}, []string{"method", "outcome"})

	BestEffortFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hydration_best_effort_failures_total",
		Help:      "Best-effort hydration lookups that degraded to an empty result.",
	}, []string{"lookup"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by kind and result.",
	}, []string{"kind", "result"})

	FirehoseEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "firehose_events_total",
		Help:      "Firehose events processed by kind and collection.",
	}, []string{"kind", "collection"})
)

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
