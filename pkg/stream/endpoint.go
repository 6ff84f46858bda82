package stream

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/cuemby/proxywatch/pkg/types"
)

var (
	// ErrInvalidEndpoint is returned for API URLs that cannot carry a stream
	ErrInvalidEndpoint = errors.New("stream: invalid endpoint")

	// ErrInvalidChannel is returned for channels missing their scope
	ErrInvalidChannel = errors.New("stream: invalid channel")
)

const (
	logsPath   = "/nginx/logs/ws/"
	mirrorPath = "/mirror/progress/"
)

// Endpoint is the panel API base URL that stream channel URLs are derived
// from, e.g. https://panel.example.com/api/v1.
type Endpoint struct {
	base *url.URL
}

// ParseEndpoint parses an http(s) or ws(s) API base URL
func ParseEndpoint(apiURL string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(apiURL))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host in %q", ErrInvalidEndpoint, apiURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return Endpoint{base: u}, nil
}

// MustParseEndpoint is ParseEndpoint for constants and tests
func MustParseEndpoint(apiURL string) Endpoint {
	e, err := ParseEndpoint(apiURL)
	if err != nil {
		panic(err)
	}
	return e
}

// Valid reports whether the endpoint was built by ParseEndpoint
func (e Endpoint) Valid() bool {
	return e.base != nil
}

// String returns the API base URL
func (e Endpoint) String() string {
	if e.base == nil {
		return ""
	}
	return e.base.String()
}

// URL derives the WebSocket URL for a channel. The scheme follows the API
// scheme (https → wss), path segments and the domain query are escaped.
func (e Endpoint) URL(ch types.Channel) (string, error) {
	if e.base == nil {
		return "", ErrInvalidEndpoint
	}

	scheme := "ws"
	if e.base.Scheme == "https" || e.base.Scheme == "wss" {
		scheme = "wss"
	}
	basePath := strings.TrimRight(e.base.EscapedPath(), "/")

	var path string
	query := url.Values{}
	switch ch.Kind {
	case types.ChannelLogs:
		if ch.LogType == "" {
			return "", fmt.Errorf("%w: log type is required", ErrInvalidChannel)
		}
		path = basePath + logsPath + url.PathEscape(ch.LogType)
		if ch.Domain != "" {
			query.Set("domain", ch.Domain)
		}
	case types.ChannelMirror:
		if ch.JobID == "" {
			return "", fmt.Errorf("%w: job id is required", ErrInvalidChannel)
		}
		path = basePath + mirrorPath + url.PathEscape(ch.JobID)
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidChannel, ch.Kind)
	}

	out := scheme + "://" + e.base.Host + path
	if len(query) > 0 {
		out += "?" + query.Encode()
	}
	return out, nil
}
