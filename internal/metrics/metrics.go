package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrisync",
			Name:      "submissions_total",
			Help:      "Submission flow results by mutation type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agrisync",
			Name:      "queue_depth",
			Help:      "Mutations currently pending in the offline queue.",
		},
	)

	drainItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrisync",
			Name:      "drain_items_total",
			Help:      "Per-item drain results (synced, rejected, deferred).",
		},
		[]string{"result"},
	)

	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrisync",
			Name:      "gateway_requests_total",
			Help:      "Outbound backend calls by endpoint and result class.",
		},
		[]string{"endpoint", "result"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agrisync",
			Name:      "gateway_request_duration_seconds",
			Help:      "Outbound backend call latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	controlRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrisync",
			Name:      "control_requests_total",
			Help:      "Control API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(submissions, queueDepth, drainItems, gatewayRequests, gatewayDuration, controlRequests)
	})
}

// RecordSubmission counts one submission flow result.
func RecordSubmission(mutationType, outcome string) {
	submissions.WithLabelValues(mutationType, outcome).Inc()
}

// SetQueueDepth updates the pending-mutation gauge.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordDrainItem counts one per-item drain result.
func RecordDrainItem(result string) {
	drainItems.WithLabelValues(result).Inc()
}

// RecordGatewayRequest counts one backend call and its latency.
func RecordGatewayRequest(endpoint, result string, seconds float64) {
	gatewayRequests.WithLabelValues(endpoint, result).Inc()
	gatewayDuration.WithLabelValues(endpoint).Observe(seconds)
}

// IncControl increments the counter for a control API endpoint.
func IncControl(endpoint string) {
	controlRequests.WithLabelValues(endpoint).Inc()
}
