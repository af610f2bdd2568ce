package metrics

import "github.com/prometheus/client_golang/prometheus"

// Query engine Prometheus metrics.
var (
	QueryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threadlens",
			Name:      "query_requests_total",
			Help:      "Total number of query requests",
		},
		[]string{"dataset", "status"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "threadlens",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"dataset"},
	)

	QueryCandidateRows = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "threadlens",
			Name:      "query_candidate_rows",
			Help:      "Candidate rows entering the scoring pipeline",
			Buckets:   prometheus.ExponentialBuckets(10, 10, 7),
		},
		[]string{"dataset"},
	)

	QueryResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "threadlens",
			Name:      "query_response_bytes",
			Help:      "Serialized response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"dataset"},
	)
)

var queryMetricsRegistered bool

// RegisterQueryMetrics registers query engine metrics. Must be called once from main.
func RegisterQueryMetrics() {
	if queryMetricsRegistered {
		return
	}
	prometheus.MustRegister(QueryRequestsTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryCandidateRows)
	prometheus.MustRegister(QueryResponseBytes)
	queryMetricsRegistered = true
}
