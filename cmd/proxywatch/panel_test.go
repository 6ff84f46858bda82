package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/proxywatch/pkg/config"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setFlag(t *testing.T, cmd *cobra.Command, name, value string) {
	t.Helper()
	old := cmd.Flags().Lookup(name).Value.String()
	require.NoError(t, cmd.Flags().Set(name, value))
	t.Cleanup(func() { _ = cmd.Flags().Set(name, old) })
}

func TestSiteCommands(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		flags    map[string]string
		args     []string
		wantCall string
		wantErr  bool
	}{
		{
			name:     "create sends deploy request",
			cmd:      siteCreateCmd,
			flags:    map[string]string{"ssl": "true", "email": "ops@example.com"},
			args:     []string{"new.example.com"},
			wantCall: "POST /api/v1/deploy/sites",
		},
		{
			name:    "create with ssl needs email",
			cmd:     siteCreateCmd,
			flags:   map[string]string{"ssl": "true"},
			args:    []string{"new.example.com"},
			wantErr: true,
		},
		{
			name:     "remove deletes the site",
			cmd:      siteRemoveCmd,
			args:     []string{"old.example.com"},
			wantCall: "DELETE /api/v1/deploy/sites/old.example.com",
		},
		{
			name:     "remove config only",
			cmd:      siteRemoveCmd,
			flags:    map[string]string{"config-only": "true"},
			args:     []string{"old.example.com"},
			wantCall: "DELETE /api/v1/nginx/sites/old.example.com",
		},
		{
			name:     "status",
			cmd:      siteStatusCmd,
			args:     []string{"old.example.com"},
			wantCall: "GET /api/v1/deploy/sites/old.example.com/status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, r.Method+" "+r.URL.Path)
				if r.Method == http.MethodPost {
					var req types.DeployRequest
					assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
					assert.Equal(t, "new.example.com", req.Domain)
					assert.True(t, req.EnableSSL)
					assert.Equal(t, 9099, req.ProxyPort)
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(types.ActionResult{Success: true, Message: "ok"})
			}))
			defer srv.Close()

			cfg := config.Default()
			cfg.APIURL = srv.URL + "/api/v1"
			cli = app{cfg: cfg, output: "json", prefs: &types.Preferences{}}

			for name, value := range tt.flags {
				setFlag(t, tt.cmd, name, value)
			}
			tt.cmd.SetContext(context.Background())

			err := tt.cmd.RunE(tt.cmd, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.wantCall}, calls)
		})
	}
}
