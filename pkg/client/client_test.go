package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL + "/api/v1/")
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "http", url: "http://panel:8000/api/v1", want: "http://panel:8000/api/v1"},
		{name: "trailing slash", url: "https://panel/api/v1/", want: "https://panel/api/v1"},
		{name: "websocket scheme", url: "ws://panel/api/v1", wantErr: true},
		{name: "no host", url: "http:///api/v1", wantErr: true},
		{name: "garbage", url: "::", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.BaseURL())
		})
	}
}

func TestFetchLogs(t *testing.T) {
	tests := []struct {
		name      string
		domain    string
		body      string
		wantQuery string
		want      []string
	}{
		{
			name:      "plain list",
			body:      `["a", "b"]`,
			wantQuery: "lines=100&type=error",
			want:      []string{"a", "b"},
		},
		{
			name:      "domain scoped",
			domain:    "shop.example.com",
			body:      `["c"]`,
			wantQuery: "domain=shop.example.com&lines=100&type=error",
			want:      []string{"c"},
		},
		{
			name:      "wrapped",
			body:      `{"logs": ["d", "e"]}`,
			wantQuery: "lines=100&type=error",
			want:      []string{"d", "e"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/nginx/logs", r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)
				_, _ = w.Write([]byte(tt.body))
			})

			got, err := c.FetchLogs(context.Background(), "error", tt.domain, 100)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAPIErrorDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "nginx -t failed"})
	})

	_, err := c.TestConfig(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "nginx -t failed", apiErr.Detail)
	assert.Contains(t, err.Error(), "failed to test nginx config")
}

func TestMirrorStatus(t *testing.T) {
	t.Run("known job", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/mirror/status/shop.example.com", r.URL.Path)
			writeJSON(w, http.StatusOK, types.JobStatus{Exists: true, Domain: "shop.example.com", FileCount: 3, SSL: true})
		})

		status, err := c.MirrorStatus(context.Background(), "shop.example.com")
		require.NoError(t, err)
		assert.True(t, status.Exists)
		assert.Equal(t, 3, status.FileCount)
	})

	t.Run("not found is not an error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "site not found"})
		})

		status, err := c.MirrorStatus(context.Background(), "gone.example.com")
		require.NoError(t, err)
		assert.False(t, status.Exists)
		assert.Equal(t, "gone.example.com", status.Domain)
	})

	t.Run("exists flag", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			want bool
		}{
			{name: "omitted", body: `{"file_count": 12}`, want: true},
			{name: "true", body: `{"exists": true}`, want: true},
			{name: "false", body: `{"exists": false, "domain": "new.example.com"}`, want: false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(tt.body))
				})

				status, err := c.MirrorStatus(context.Background(), "new.example.com")
				require.NoError(t, err)
				assert.Equal(t, tt.want, status.Exists)
				assert.Equal(t, "new.example.com", status.Domain)
			})
		}
	})
}

func TestStartMirror(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/deploy/sites/mirror", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req types.MirrorRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, types.MirrorRequest{Domain: "copy.example.com", SourceURL: "https://origin.example.com"}, req)

		writeJSON(w, http.StatusOK, types.ActionResult{Success: true, Message: "mirror started"})
	})

	res, err := c.StartMirror(context.Background(), types.MirrorRequest{Domain: "copy.example.com", SourceURL: "https://origin.example.com"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "mirror started", res.Message)
}

func TestDeploySite(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/deploy/sites", r.URL.Path)

		var req types.DeployRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, types.DeployRequest{Domain: "new.example.com", EnableSSL: true, SSLEmail: "ops@example.com", ProxyPort: 9099}, req)

		writeJSON(w, http.StatusOK, types.ActionResult{Success: true, Message: "site deployed"})
	})

	res, err := c.DeploySite(context.Background(), types.DeployRequest{
		Domain:    "new.example.com",
		EnableSSL: true,
		SSLEmail:  "ops@example.com",
		ProxyPort: 9099,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = c.DeploySite(context.Background(), types.DeployRequest{Domain: "  "})
	assert.Error(t, err)
}

func TestSiteManagement(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		call       func(c *Client) (*types.ActionResult, error)
		wantDetail string
	}{
		{
			name:   "remove site",
			method: http.MethodDelete,
			path:   "/api/v1/deploy/sites/a.example.com",
			call: func(c *Client) (*types.ActionResult, error) {
				return c.RemoveSite(context.Background(), "a.example.com")
			},
		},
		{
			name:   "delete nginx config",
			method: http.MethodDelete,
			path:   "/api/v1/nginx/sites/a.example.com",
			call: func(c *Client) (*types.ActionResult, error) {
				return c.DeleteNginxSite(context.Background(), "a.example.com")
			},
		},
		{
			name:   "remove unknown site",
			method: http.MethodDelete,
			path:   "/api/v1/deploy/sites/missing.example.com",
			call: func(c *Client) (*types.ActionResult, error) {
				return c.RemoveSite(context.Background(), "missing.example.com")
			},
			wantDetail: "site not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.method, r.Method)
				assert.Equal(t, tt.path, r.URL.Path)
				if tt.wantDetail != "" {
					writeJSON(w, http.StatusBadRequest, map[string]string{"detail": tt.wantDetail})
					return
				}
				writeJSON(w, http.StatusOK, types.ActionResult{Success: true, Message: "removed"})
			})

			res, err := tt.call(c)
			if tt.wantDetail != "" {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, tt.wantDetail, apiErr.Detail)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "removed", res.Message)
		})
	}
}

func TestSiteStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/deploy/sites/a.example.com/status", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "active", "ssl": true})
	})

	st, err := c.SiteStatus(context.Background(), "a.example.com")
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", st.Domain)
	assert.Equal(t, "active", st.Status)
	assert.True(t, st.SSL)
}

func TestReadOnlyEndpoints(t *testing.T) {
	running := true
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/nginx/status":
			writeJSON(w, http.StatusOK, types.NginxStatus{Running: true, Version: "1.24.0", ConfigTest: "ok"})
		case "/api/v1/nginx/reload":
			writeJSON(w, http.StatusOK, types.ActionResult{Success: true, Message: "reloaded"})
		case "/api/v1/deploy/sites":
			writeJSON(w, http.StatusOK, []types.Site{{Domain: "a.example.com", Port: 80}, {Domain: "b.example.com", SSL: true}})
		case "/api/v1/health":
			writeJSON(w, http.StatusOK, types.PanelHealth{Status: "healthy", NginxRunning: &running})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	status, err := c.NginxStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, "1.24.0", status.Version)

	res, err := c.ReloadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reloaded", res.Message)

	sites, err := c.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.True(t, sites[1].SSL)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	require.NotNil(t, h.NginxRunning)
	assert.True(t, *h.NginxRunning)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&APIError{StatusCode: 404}))
	assert.False(t, IsNotFound(&APIError{StatusCode: 500}))
	assert.False(t, IsNotFound(errors.New("boom")))
}
