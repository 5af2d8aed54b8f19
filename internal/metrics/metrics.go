// Package metrics exposes Prometheus instruments for the validation service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcheck_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idcheck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcheck_verdicts_total",
			Help: "Validation verdicts by label and status",
		},
		[]string{"label", "status"},
	)

	branchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idcheck_branch_outcomes_total",
			Help: "Pipeline branch outcomes",
		},
		[]string{"branch", "status"}, // branch: classification, text
	)

	branchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idcheck_branch_duration_seconds",
			Help:    "Pipeline branch duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"branch"},
	)

	pipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idcheck_pipeline_duration_seconds",
			Help:    "End-to-end validation duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	ocrConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idcheck_ocr_confidence",
			Help:    "Normalized OCR confidence of gated captures",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
)

// Recorder records pipeline events. The zero value is ready to use.
type Recorder struct{}

// ObserveBranch records one branch outcome.
func (Recorder) ObserveBranch(branch, status string, d time.Duration) {
	branchOutcomes.WithLabelValues(branch, status).Inc()
	branchDuration.WithLabelValues(branch).Observe(d.Seconds())
}

// ObserveVerdict records a final verdict and the end-to-end duration.
func (Recorder) ObserveVerdict(label, status string, d time.Duration) {
	verdictsTotal.WithLabelValues(label, status).Inc()
	pipelineDuration.Observe(d.Seconds())
}

// ObserveOCRConfidence records a normalized OCR confidence.
func (Recorder) ObserveOCRConfidence(c float64) {
	ocrConfidence.Observe(c)
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		method := c.Request.Method
		httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}
