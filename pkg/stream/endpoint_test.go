package stream_test

import (
	"testing"

	. "github.com/cuemby/proxywatch/pkg/stream"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name     string
		api      string
		channel  types.Channel
		expected string
	}{
		{
			name:     "plain http log channel",
			api:      "http://panel.local:8000/api/v1",
			channel:  types.Channel{Kind: types.ChannelLogs, LogType: "error"},
			expected: "ws://panel.local:8000/api/v1/nginx/logs/ws/error",
		},
		{
			name:     "https becomes wss",
			api:      "https://panel.example.com/api/v1/",
			channel:  types.Channel{Kind: types.ChannelLogs, LogType: "access"},
			expected: "wss://panel.example.com/api/v1/nginx/logs/ws/access",
		},
		{
			name:     "domain scope is a query parameter",
			api:      "http://panel.local/api/v1",
			channel:  types.Channel{Kind: types.ChannelLogs, LogType: "access", Domain: "shop.example.com"},
			expected: "ws://panel.local/api/v1/nginx/logs/ws/access?domain=shop.example.com",
		},
		{
			name:     "scope values are escaped",
			api:      "http://panel.local/api/v1",
			channel:  types.Channel{Kind: types.ChannelLogs, LogType: "a b/c", Domain: "x&y=z"},
			expected: "ws://panel.local/api/v1/nginx/logs/ws/a%20b%2Fc?domain=x%26y%3Dz",
		},
		{
			name:     "mirror channel",
			api:      "https://panel.example.com/api/v1",
			channel:  types.Channel{Kind: types.ChannelMirror, JobID: "blog.example.com"},
			expected: "wss://panel.example.com/api/v1/mirror/progress/blog.example.com",
		},
		{
			name:     "ws base kept",
			api:      "ws://127.0.0.1:9000",
			channel:  types.Channel{Kind: types.ChannelMirror, JobID: "job"},
			expected: "ws://127.0.0.1:9000/mirror/progress/job",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ParseEndpoint(tt.api)
			require.NoError(t, err)

			got, err := e.URL(tt.channel)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEndpointErrors(t *testing.T) {
	_, err := ParseEndpoint("ftp://panel.local")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = ParseEndpoint("http://")
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	e := MustParseEndpoint("http://panel.local/api/v1")

	_, err = e.URL(types.Channel{Kind: types.ChannelLogs})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = e.URL(types.Channel{Kind: types.ChannelMirror})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = e.URL(types.Channel{Kind: "bogus", JobID: "x"})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = Endpoint{}.URL(types.Channel{Kind: types.ChannelMirror, JobID: "x"})
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}
