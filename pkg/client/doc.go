/*
Package client provides a Go client for the proxy control panel REST API.

The client wraps the panel's JSON endpoints with typed methods. It is the
request/response half of proxywatch: log tails and mirror trackers use it
once at setup (bulk log retrieval, job status), everything else is pushed
over stream connections.

# Architecture

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                              │
	│  c, err := client.NewClient("http://panel:8000/api/v1")     │
	│  lines, err := c.FetchLogs(ctx, "error", "", 100)           │
	│                                                              │
	└──────────────────┬───────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ─────────────────────────┐
	│                                                              │
	│   do(ctx, method, endpoint, path, query, body, out)         │
	│     - JSON encode / decode                                   │
	│     - {"detail": ...} → *APIError                            │
	│     - proxywatch_api_requests_total{endpoint,status}         │
	│     - proxywatch_api_request_duration_seconds{endpoint}      │
	│                                                              │
	└──────────────────┬───────────────────────────────────────┘
	                   │ HTTP
	┌──────────────────▼──── control panel ──────────────────────┐
	│  GET  /nginx/logs?type=&lines=&domain=                       │
	│  GET  /mirror/status/{domain}                                │
	│  GET  /nginx/status   /nginx/test   /nginx/reload            │
	│  GET  /deploy/sites   POST /deploy/sites/mirror              │
	│  GET  /health                                                │
	└──────────────────────────────────────────────────────────────┘

# Errors

Non-2xx responses become *APIError carrying the status code and the panel's
detail message. Method errors wrap it with context, so use errors.As or
IsNotFound to inspect it:

	status, err := c.MirrorStatus(ctx, "shop.example.com")
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 503 {
			// panel is up but nginx is not
		}
	}

MirrorStatus treats 404 as "no such job" and returns Exists false.

# Interfaces

*Client satisfies logtail.Fetcher and progress.StatusFetcher, so it can be
passed straight to logtail.NewSession and progress.Options.Status.
*/
package client
