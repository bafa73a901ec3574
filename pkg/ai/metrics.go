package ai

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "completion_duration_seconds",
		Help:      "Duration of LLM completion requests",
	}, []string{"provider", "model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "completion_failures_total",
		Help:      "Number of LLM completion failures",
	}, []string{"provider", "model"})

	analysisOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "file_analyses_total",
		Help:      "Per-file analyses partitioned by outcome",
	}, []string{"outcome"})

	consolidationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "consolidations_total",
		Help:      "Consolidation calls partitioned by outcome",
	}, []string{"outcome"})
)

func observeCompletion(provider, model string, start time.Time, err error) {
	aiDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
	if err != nil {
		aiFailures.WithLabelValues(provider, model).Inc()
	}
}
