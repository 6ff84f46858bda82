package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPChecker probes an HTTP endpoint, by default the panel's /health
type HTTPChecker struct {
	// URL is the full HTTP URL to check (e.g., "http://panel:8000/api/v1/health")
	URL string

	// Method is the HTTP method to use (default: GET)
	Method string

	// Headers are custom HTTP headers to include in the request
	Headers map[string]string

	// ExpectedStatusMin is the minimum acceptable HTTP status code (default: 200)
	ExpectedStatusMin int

	// ExpectedStatusMax is the maximum acceptable HTTP status code (default: 399)
	ExpectedStatusMax int

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a new HTTP health checker
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		Method:            "GET",
		Headers:           make(map[string]string),
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewPanelChecker creates a checker for the /health endpoint under apiURL
func NewPanelChecker(apiURL string) *HTTPChecker {
	return NewHTTPChecker(strings.TrimRight(apiURL, "/") + "/health")
}

// panelReport is the body served by the panel's /health endpoint
type panelReport struct {
	Status       string `json:"status"`
	NginxRunning *bool  `json:"nginx_running"`
	Error        string `json:"error"`
}

// Check performs the HTTP health check. A JSON body in the panel's report
// format is inspected too: a status other than "healthy" or a stopped nginx
// fails the check even on HTTP 200.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	fail := func(format string, args ...interface{}) Result {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return fail("failed to create request: %v", err)
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= h.ExpectedStatusMin && resp.StatusCode <= h.ExpectedStatusMax
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}

	if healthy {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var report panelReport
		if json.Unmarshal(body, &report) == nil && report.Status != "" {
			switch {
			case report.Status != "healthy":
				healthy = false
				message = fmt.Sprintf("panel reports %s", report.Status)
				if report.Error != "" {
					message += ": " + report.Error
				}
			case report.NginxRunning != nil && !*report.NginxRunning:
				healthy = false
				message = "panel is up but nginx is not running"
			default:
				message = "panel healthy"
			}
		}
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// WithMethod sets the HTTP method
func (h *HTTPChecker) WithMethod(method string) *HTTPChecker {
	h.Method = method
	return h
}

// WithHeader adds a custom HTTP header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithStatusRange sets the expected status code range
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.ExpectedStatusMin = min
	h.ExpectedStatusMax = max
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
