package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Stream connection metrics
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxywatch_connection_state",
			Help: "Current state of each stream channel (1 for the active state, 0 otherwise)",
		},
		[]string{"channel", "state"},
	)

	ConnectionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxywatch_connection_attempts_total",
			Help: "Total number of dial attempts by channel kind and result",
		},
		[]string{"kind", "result"},
	)

	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxywatch_reconnects_total",
			Help: "Total number of scheduled reconnects by channel kind",
		},
		[]string{"kind"},
	)

	RetriesExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxywatch_retries_exhausted_total",
			Help: "Total number of connections that gave up reconnecting",
		},
		[]string{"kind"},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxywatch_messages_received_total",
			Help: "Total number of inbound stream messages by channel kind",
		},
		[]string{"kind"},
	)

	MessagesDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxywatch_messages_discarded_total",
			Help: "Total number of inbound messages discarded after a caller-initiated close",
		},
		[]string{"kind"},
	)

	MalformedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxywatch_malformed_messages_total",
			Help: "Total number of messages dropped because they failed to parse",
		},
		[]string{"kind"},
	)

	// Log tail metrics
	LogLinesBuffered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxywatch_log_lines_buffered",
			Help: "Number of log lines retained per log tail",
		},
		[]string{"channel"},
	)

	LogLinesEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxywatch_log_lines_evicted_total",
			Help: "Total number of log lines evicted from tail buffers",
		},
		[]string{"channel"},
	)

	PrefetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proxywatch_prefetch_duration_seconds",
			Help:    "Duration of the bulk log retrieval performed before tailing",
			Buckets: prometheus.DefBuckets,
		},
	)

	PrefetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxywatch_prefetch_failures_total",
			Help: "Total number of failed bulk log retrievals",
		},
	)

	// Mirror progress metrics
	MirrorProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxywatch_mirror_progress_percent",
			Help: "Last merged overall progress of a mirror job",
		},
		[]string{"job"},
	)

	// REST client metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxywatch_api_requests_total",
			Help: "Total number of panel API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxywatch_api_request_duration_seconds",
			Help:    "Panel API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

// AllStates lists every connection state label so a state change can zero
// the previous one.
var AllStates = []string{"idle", "connecting", "open", "closing", "closed", "reconnecting", "failed"}

func init() {
	// Register all metrics
	prometheus.MustRegister(ConnectionState)
	prometheus.MustRegister(ConnectionAttempts)
	prometheus.MustRegister(Reconnects)
	prometheus.MustRegister(RetriesExhausted)
	prometheus.MustRegister(MessagesReceived)
	prometheus.MustRegister(MessagesDiscarded)
	prometheus.MustRegister(MalformedMessages)
	prometheus.MustRegister(LogLinesBuffered)
	prometheus.MustRegister(LogLinesEvicted)
	prometheus.MustRegister(PrefetchDuration)
	prometheus.MustRegister(PrefetchFailures)
	prometheus.MustRegister(MirrorProgress)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// SetConnectionState marks state as the active state of channel
func SetConnectionState(channel, state string) {
	for _, s := range AllStates {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectionState.WithLabelValues(channel, s).Set(v)
	}
}

// ForgetChannel removes all per-channel series once a session is gone
func ForgetChannel(channel string) {
	for _, s := range AllStates {
		ConnectionState.DeleteLabelValues(channel, s)
	}
	LogLinesBuffered.DeleteLabelValues(channel)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
