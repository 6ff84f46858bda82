/*
Package metrics provides Prometheus metrics and a component health registry
for proxywatch.

All metrics are package-level collectors registered with the default
Prometheus registry at init, so any package can update them without wiring.
The status server in package api exposes them, together with the health
endpoints, when --metrics-addr is set.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  Stream connections                                        │
	│    proxywatch_connection_state{channel,state}   gauge      │
	│    proxywatch_connection_attempts_total{kind,result}       │
	│    proxywatch_reconnects_total{kind}                       │
	│    proxywatch_retries_exhausted_total{kind}                │
	│    proxywatch_messages_received_total{kind}                │
	│    proxywatch_messages_discarded_total{kind}               │
	│    proxywatch_malformed_messages_total{kind}               │
	│                                                            │
	│  Log tails                                                 │
	│    proxywatch_log_lines_buffered{channel}       gauge      │
	│    proxywatch_log_lines_evicted_total{channel}             │
	│    proxywatch_prefetch_duration_seconds         histogram  │
	│    proxywatch_prefetch_failures_total                      │
	│                                                            │
	│  Mirror jobs                                               │
	│    proxywatch_mirror_progress_percent{job}      gauge      │
	│                                                            │
	│  Panel REST API                                            │
	│    proxywatch_api_requests_total{endpoint,status}          │
	│    proxywatch_api_request_duration_seconds{endpoint}       │
	└────────────────────────────────────────────────────────────┘

The connection state gauge is one-hot: SetConnectionState sets the active
state to 1 and every other state of the channel to 0. ForgetChannel drops
the series when a session ends so stopped tails do not linger.

# Component health

Components are named units whose health is reported on /health and /ready.
Every stream.Conn registers under its channel name (for example
"logs/error@shop.example.com"); the panel monitor in package health
registers as "panel".

	healthy    open connection, passing probe
	degraded   connecting, reconnecting, or a probe below its retry limit
	unhealthy  reconnect attempts exhausted, probe failing past its limit

/health aggregates every component. /ready only looks at components named
with SetCritical and reports not_ready while any of them is missing,
degraded or unhealthy. /live always answers 200.

# Timing operations

	timer := metrics.NewTimer()
	lines, err := fetch()
	timer.ObserveDuration(metrics.PrefetchDuration)
*/
package metrics
