package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/metrics"
	"github.com/cuemby/proxywatch/pkg/types"
)

// SessionInfo describes one running log tail or mirror tracker
type SessionInfo struct {
	ID       string                  `json:"id"`
	Channel  string                  `json:"channel"`
	State    types.ConnectionState   `json:"state"`
	Logs     *types.LogSnapshot      `json:"logs,omitempty"`
	Progress *types.ProgressSnapshot `json:"progress,omitempty"`
}

// SessionSource lists the sessions currently running in the process
type SessionSource func() []SessionInfo

// SessionsResponse is the body of GET /sessions
type SessionsResponse struct {
	Timestamp time.Time     `json:"timestamp"`
	Sessions  []SessionInfo `json:"sessions"`
}

// StatusServer exposes metrics, health and the running sessions over HTTP
type StatusServer struct {
	mux      *http.ServeMux
	sessions SessionSource
	server   *http.Server
}

// NewStatusServer creates a status server. sessions may be nil.
func NewStatusServer(sessions SessionSource) *StatusServer {
	mux := http.NewServeMux()
	s := &StatusServer{
		mux:      mux,
		sessions: sessions,
	}

	// Register endpoints
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.HandleFunc("/sessions", s.sessionsHandler)

	return s
}

// Start serves on addr until Shutdown is called
func (s *StatusServer) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Logger.Info().Str("addr", addr).Msg("Status server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for embedding in other servers
func (s *StatusServer) Handler() http.Handler {
	return s.mux
}

// sessionsHandler implements the /sessions endpoint
func (s *StatusServer) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := SessionsResponse{
		Timestamp: time.Now(),
		Sessions:  []SessionInfo{},
	}
	if s.sessions != nil {
		response.Sessions = append(response.Sessions, s.sessions()...)
	}
	sort.Slice(response.Sessions, func(i, j int) bool {
		return response.Sessions[i].Channel < response.Sessions[j].Channel
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
