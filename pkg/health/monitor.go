package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/metrics"
	"github.com/rs/zerolog"
)

// Monitor probes a Checker on an interval and publishes the outcome as a
// component in the metrics health registry.
type Monitor struct {
	name    string
	checker Checker
	config  Config
	logger  zerolog.Logger

	mu       sync.Mutex
	status   *Status
	handlers []func(Result)
}

// NewMonitor creates a monitor registering itself as component name
func NewMonitor(name string, checker Checker, config Config) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Retries <= 0 {
		config.Retries = 1
	}
	return &Monitor{
		name:    name,
		checker: checker,
		config:  config,
		logger:  log.WithComponent("health").With().Str("target", name).Logger(),
		status:  NewStatus(),
	}
}

// OnResult registers a handler called after every check
func (m *Monitor) OnResult(h func(Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Status returns a copy of the current status
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.status
}

// CheckOnce runs one check and records it
func (m *Monitor) CheckOnce(ctx context.Context) Result {
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	result := m.checker.Check(ctx)

	m.mu.Lock()
	wasHealthy := m.status.Healthy
	m.status.Update(result, m.config)
	healthy := m.status.Healthy
	handlers := append(([]func(Result))(nil), m.handlers...)
	m.mu.Unlock()

	switch {
	case healthy && result.Healthy:
		metrics.UpdateComponent(m.name, true, result.Message)
	case healthy:
		metrics.MarkDegraded(m.name, result.Message)
	default:
		metrics.UpdateComponent(m.name, false, result.Message)
	}

	if wasHealthy != healthy {
		m.logger.Warn().
			Bool("healthy", healthy).
			Str("message", result.Message).
			Msg("Health changed")
	} else {
		m.logger.Debug().
			Bool("healthy", result.Healthy).
			Dur("duration", result.Duration).
			Msg("Health check")
	}

	for _, h := range handlers {
		h(result)
	}
	return result
}

// Run checks immediately and then every Interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	defer metrics.RemoveComponent(m.name)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}
