// Package metrics exposes Prometheus collectors for the Q&A collector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qacollector_api_requests_total",
			Help: "Total number of Stack Exchange API requests, labeled by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	apiRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qacollector_api_request_duration_seconds",
			Help:    "Histogram of Stack Exchange API latencies, labeled by endpoint.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	apiQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qacollector_api_quota_remaining",
			Help: "Quota remaining as reported by the last successful API response.",
		},
	)

	questionsAddedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qacollector_questions_added_total",
			Help: "Total number of previously unseen questions appended to the store.",
		},
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qacollector_pages_total",
			Help: "Total number of question pages processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	answersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qacollector_answers_total",
			Help: "Total number of answers fetched, labeled by kind (accepted or other).",
		},
		[]string{"kind"},
	)

	rowsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qacollector_rows_written_total",
			Help: "Total number of new rows appended to the output table.",
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qacollector_runs_total",
			Help: "Total number of collect and join runs, labeled by stage and status.",
		},
		[]string{"stage", "status"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPIRequest records one API call. A zero code marks a transport failure.
func ObserveAPIRequest(endpoint string, code int, duration time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	apiRequestsTotal.WithLabelValues(endpoint, label).Inc()
	apiRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetQuotaRemaining records the latest reported quota.
func SetQuotaRemaining(quota int) {
	apiQuotaRemaining.Set(float64(quota))
}

// ObservePage records a processed question page and the number of new questions it yielded.
func ObservePage(ok bool, added int) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	pagesTotal.WithLabelValues(outcome).Inc()
	if added > 0 {
		questionsAddedTotal.Add(float64(added))
	}
}

// AddAnswers records fetched answers of the given kind.
func AddAnswers(kind string, n int) {
	if n > 0 {
		answersTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// AddRows records rows appended to the output table.
func AddRows(n int) {
	if n > 0 {
		rowsWrittenTotal.Add(float64(n))
	}
}

// ObserveRun increments the run counter.
func ObserveRun(stage, status string) {
	runsTotal.WithLabelValues(stage, status).Inc()
}
