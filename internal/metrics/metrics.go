package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broadcast_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// BroadcastsSent counts broadcast attempts by scope and priority.
	BroadcastsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_sends_total",
			Help: "Number of broadcasts accepted for dispatch",
		},
		[]string{"scope", "priority"},
	)

	// MessagesDispatched counts per-recipient in-app message outcomes.
	MessagesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_messages_dispatched_total",
			Help: "Number of per-recipient message inserts by outcome",
		},
		[]string{"outcome"},
	)

	// EmailStateTransitions counts email delivery state settlements.
	EmailStateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_email_state_total",
			Help: "Number of email delivery state transitions",
		},
		[]string{"status"},
	)

	// FlushRuns counts flusher batches by trigger and mode.
	FlushRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_flush_runs_total",
			Help: "Number of email flush batches",
		},
		[]string{"trigger", "force"},
	)
)

func Init() {
	prometheus.MustRegister(HTTPRequests, RequestDuration, BroadcastsSent, MessagesDispatched, EmailStateTransitions, FlushRuns)
}
