/*
Package api provides the local HTTP status server of a running proxywatch
process.

The server is started by long-running commands (logs, mirror watch) when
--metrics-addr is set. It serves:

	GET /metrics    Prometheus metrics from package metrics
	GET /health     aggregated component health (200, or 503 when unhealthy)
	GET /ready      readiness of critical components
	GET /live       liveness
	GET /sessions   running sessions with their current snapshot

/sessions lets a second tool or a person with curl see what a proxywatch
process is watching and the last state it holds, without attaching to its
terminal:

	$ curl -s localhost:9091/sessions | jq '.sessions[].state'
	"open"

The server only reads state; it offers no way to start or stop sessions.
*/
package api
