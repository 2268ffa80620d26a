// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture_ingest_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lecture_ingest_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture_ingest_ingestions_total",
			Help: "Upload batches by final state",
		},
		[]string{"state"},
	)

	ProcessorRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture_ingest_processor_runs_total",
			Help: "Modality processor runs by outcome",
		},
		[]string{"modality", "status"},
	)

	ProcessorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lecture_ingest_processor_duration_seconds",
			Help:    "Modality processor latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"modality"},
	)

	IndexOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lecture_ingest_index_operations_total",
			Help: "Vector index calls by operation and outcome",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		IngestionsTotal,
		ProcessorRuns,
		ProcessorDuration,
		IndexOperations,
	)
}

func ObserveProcessor(modality, status string, elapsed time.Duration) {
	ProcessorRuns.WithLabelValues(modality, status).Inc()
	ProcessorDuration.WithLabelValues(modality).Observe(elapsed.Seconds())
}

// GinMiddleware records count and latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
