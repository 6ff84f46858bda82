/*
Package health probes the control panel and reports the result into the
process-wide component registry in package metrics.

# Checkers

HTTPChecker performs an HTTP request and judges the status code. When the
body is the panel's health report ({"status": ..., "nginx_running": ...})
it is inspected as well, so a panel that answers 200 while nginx is down is
reported unhealthy:

	checker := health.NewPanelChecker("http://panel:8000/api/v1")
	result := checker.Check(ctx)
	fmt.Println(result.Healthy, result.Message)

# Monitor

A Monitor runs a Checker on Config.Interval. A failing check first marks
the component degraded; only Config.Retries consecutive failures mark it
unhealthy, which keeps a single slow response from flipping /ready.

	┌─────────── Monitor.Run ───────────┐
	│  CheckOnce ─► Status.Update        │
	│     │                              │
	│     ├─ ok            → healthy     │
	│     ├─ fail < Retries → degraded   │
	│     └─ fail ≥ Retries → unhealthy  │
	└──────────────┬────────────────────┘
	               ▼
	  metrics.UpdateComponent / MarkDegraded
	               ▼
	  GET /health, GET /ready (metrics server)

The component is removed when Run returns.
*/
package health
