package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/metrics"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every panel request
const DefaultTimeout = 15 * time.Second

// ErrInvalidURL is returned by NewClient for an unusable API base URL
var ErrInvalidURL = errors.New("invalid panel API URL")

// APIError is a non-2xx response from the panel
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("panel returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("panel returned HTTP %d: %s", e.StatusCode, e.Detail)
}

// IsNotFound reports whether err is a 404 from the panel
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client talks to the control panel's REST API
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	logger    zerolog.Logger
}

// NewClient creates a client for the API rooted at apiURL, for example
// http://panel:8000/api/v1.
func NewClient(apiURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(apiURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, apiURL)
	}

	c := &Client{
		baseURL:   strings.TrimRight(u.String(), "/"),
		http:      &http.Client{Timeout: DefaultTimeout},
		userAgent: "proxywatch",
		logger:    log.WithComponent("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchLogs returns the most recent lines of a proxy log, optionally scoped
// to one site. Implements logtail.Fetcher.
func (c *Client) FetchLogs(ctx context.Context, logType, domain string, lines int) ([]string, error) {
	q := url.Values{}
	q.Set("type", logType)
	q.Set("lines", strconv.Itoa(lines))
	if domain != "" {
		q.Set("domain", domain)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "logs", "/nginx/logs", q, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch %s logs: %w", logType, err)
	}

	// Older panels wrap the lines in {"logs": [...]}
	var out []string
	if err := json.Unmarshal(raw, &out); err == nil {
		return out, nil
	}
	var wrapped struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode %s logs: %w", logType, err)
	}
	return wrapped.Logs, nil
}

// MirrorStatus returns the status of the mirror job for domain. A job the
// panel does not know about is reported with Exists false, not an error.
// Implements progress.StatusFetcher.
func (c *Client) MirrorStatus(ctx context.Context, domain string) (types.JobStatus, error) {
	var resp struct {
		types.JobStatus
		Exists *bool `json:"exists"`
	}
	err := c.do(ctx, http.MethodGet, "mirror_status", "/mirror/status/"+url.PathEscape(domain), nil, nil, &resp)
	if IsNotFound(err) {
		return types.JobStatus{Domain: domain}, nil
	}
	if err != nil {
		return types.JobStatus{}, fmt.Errorf("failed to get mirror status for %s: %w", domain, err)
	}

	// A 200 without an explicit exists flag describes a known job
	status := resp.JobStatus
	status.Exists = resp.Exists == nil || *resp.Exists
	if status.Domain == "" {
		status.Domain = domain
	}
	return status, nil
}

// StartMirror asks the panel to clone a site
func (c *Client) StartMirror(ctx context.Context, req types.MirrorRequest) (*types.ActionResult, error) {
	var res types.ActionResult
	if err := c.do(ctx, http.MethodPost, "mirror_start", "/deploy/sites/mirror", nil, req, &res); err != nil {
		return nil, fmt.Errorf("failed to start mirror of %s: %w", req.SourceURL, err)
	}
	return &res, nil
}

// NginxStatus returns the proxy status
func (c *Client) NginxStatus(ctx context.Context) (*types.NginxStatus, error) {
	var status types.NginxStatus
	if err := c.do(ctx, http.MethodGet, "nginx_status", "/nginx/status", nil, nil, &status); err != nil {
		return nil, fmt.Errorf("failed to get nginx status: %w", err)
	}
	return &status, nil
}

// TestConfig runs the proxy configuration test
func (c *Client) TestConfig(ctx context.Context) (*types.ActionResult, error) {
	var res types.ActionResult
	if err := c.do(ctx, http.MethodGet, "nginx_test", "/nginx/test", nil, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to test nginx config: %w", err)
	}
	return &res, nil
}

// ReloadConfig reloads the proxy configuration
func (c *Client) ReloadConfig(ctx context.Context) (*types.ActionResult, error) {
	var res types.ActionResult
	if err := c.do(ctx, http.MethodGet, "nginx_reload", "/nginx/reload", nil, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to reload nginx: %w", err)
	}
	return &res, nil
}

// ListSites returns every deployed site
func (c *Client) ListSites(ctx context.Context) ([]types.Site, error) {
	var sites []types.Site
	if err := c.do(ctx, http.MethodGet, "sites", "/deploy/sites", nil, nil, &sites); err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	return sites, nil
}

// DeploySite creates a site on the panel
func (c *Client) DeploySite(ctx context.Context, req types.DeployRequest) (*types.ActionResult, error) {
	if strings.TrimSpace(req.Domain) == "" {
		return nil, errors.New("domain is required")
	}
	var res types.ActionResult
	if err := c.do(ctx, http.MethodPost, "site_deploy", "/deploy/sites", nil, req, &res); err != nil {
		return nil, fmt.Errorf("failed to deploy %s: %w", req.Domain, err)
	}
	return &res, nil
}

// RemoveSite deletes a site and its content
func (c *Client) RemoveSite(ctx context.Context, domain string) (*types.ActionResult, error) {
	var res types.ActionResult
	if err := c.do(ctx, http.MethodDelete, "site_remove", "/deploy/sites/"+url.PathEscape(domain), nil, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to remove %s: %w", domain, err)
	}
	return &res, nil
}

// DeleteNginxSite removes only the proxy configuration of a site
func (c *Client) DeleteNginxSite(ctx context.Context, domain string) (*types.ActionResult, error) {
	var res types.ActionResult
	if err := c.do(ctx, http.MethodDelete, "nginx_site_delete", "/nginx/sites/"+url.PathEscape(domain), nil, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to delete nginx config for %s: %w", domain, err)
	}
	return &res, nil
}

// SiteStatus returns the deployment state of domain
func (c *Client) SiteStatus(ctx context.Context, domain string) (*types.SiteStatus, error) {
	var st types.SiteStatus
	if err := c.do(ctx, http.MethodGet, "site_status", "/deploy/sites/"+url.PathEscape(domain)+"/status", nil, nil, &st); err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", domain, err)
	}
	if st.Domain == "" {
		st.Domain = domain
	}
	return &st, nil
}

// Health returns the panel's own health report
func (c *Client) Health(ctx context.Context) (*types.PanelHealth, error) {
	var h types.PanelHealth
	if err := c.do(ctx, http.MethodGet, "health", "/health", nil, nil, &h); err != nil {
		return nil, fmt.Errorf("failed to get panel health: %w", err)
	}
	return &h, nil
}

// do performs one JSON request. endpoint is the metrics label.
func (c *Client) do(ctx context.Context, method, endpoint, path string, query url.Values, body, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	timer := metrics.NewTimer()
	resp, err := c.http.Do(req)
	timer.ObserveDurationVec(metrics.APIRequestDuration, endpoint)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return err
	}
	defer resp.Body.Close()

	metrics.APIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("duration", timer.Duration()).
		Msg("Panel request")

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Detail: detail(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// detail extracts the panel's {"detail": ...} error message
func detail(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Detail) == 0 {
		return strings.TrimSpace(string(data))
	}
	var s string
	if err := json.Unmarshal(body.Detail, &s); err == nil {
		return s
	}
	// Validation errors carry a list of objects
	return string(body.Detail)
}
