package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	gradingRunsTotal      *prometheus.CounterVec
	gradingDuration       *prometheus.HistogramVec
	gradingMissingFiles   prometheus.Histogram
	submissionDecisions   *prometheus.CounterVec
	gradeRetentionOutcome *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the HTTP layer and the grading pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grader_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_pipeline_runs_total",
			Help: "Grading pipeline runs partitioned by activity kind and outcome.",
		}, []string{"kind", "outcome"})

		gradingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grader_pipeline_duration_seconds",
			Help:    "Wall time of grading pipeline runs.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"kind"})

		gradingMissingFiles = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grader_pipeline_missing_files",
			Help:    "Number of required files missing per grading run.",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		})

		submissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_submission_decisions_total",
			Help: "Admission decisions for incoming submissions.",
		}, []string{"decision"})

		gradeRetentionOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_grade_merges_total",
			Help: "Grade merges partitioned by whether the stored grade was kept or replaced.",
		}, []string{"result"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			gradingRunsTotal, gradingDuration, gradingMissingFiles,
			submissionDecisions, gradeRetentionOutcome,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// GradingRuns exposes the pipeline run counter.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// GradingDuration exposes the pipeline duration histogram.
func GradingDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingDuration
}

// GradingMissingFiles exposes the missing-file histogram.
func GradingMissingFiles() prometheus.Histogram {
	RegisterMetrics()
	return gradingMissingFiles
}

// SubmissionDecisions exposes the admission decision counter.
func SubmissionDecisions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionDecisions
}

// GradeMerges exposes the grade retention counter.
func GradeMerges() *prometheus.CounterVec {
	RegisterMetrics()
	return gradeRetentionOutcome
}

// MetricsHandler serves the grader collectors on the default registry.
// Scrapes are capped so a slow collector cannot pile up concurrent gathers.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	handler := promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
			EnableOpenMetrics:   true,
			MaxRequestsInFlight: 4,
		}),
	)
	return adaptor.HTTPHandler(handler)
}
