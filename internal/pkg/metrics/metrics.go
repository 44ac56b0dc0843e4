package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation pass outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeSkipped      = "skipped"
	OutcomeAuth         = "auth"
	OutcomeFetchFailed  = "fetch_failed"
	OutcomeSessionEnded = "session_ended"
	OutcomeStoreFailed  = "store_failed"
)

var (
	ReconcilePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_reconcile_passes_total",
			Help: "Reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_reconcile_duration_seconds",
			Help:    "Wall time of a reconciliation pass, fetches included",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
	)

	UnreadPerPass = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_unread_per_pass",
			Help:    "Unread notifications returned by a successful pass",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	SourceDeletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_source_deletes_total",
			Help: "Backend deletes of source records by kind and result",
		},
		[]string{"kind", "result"},
	)

	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_duration_seconds",
			Help:    "Latency of calls to the studio backend API",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"op", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route", "status"},
	)
)

func RecordPass(outcome string, d time.Duration) {
	ReconcilePasses.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		ReconcileDuration.Observe(d.Seconds())
	}
}

func RecordUnread(n int) {
	UnreadPerPass.Observe(float64(n))
}

func RecordSourceDelete(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	SourceDeletes.WithLabelValues(kind, result).Inc()
}

func RecordBackendCall(op, status string, d time.Duration) {
	BackendCallDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
