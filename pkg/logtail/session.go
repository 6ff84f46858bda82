package logtail

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cuemby/proxywatch/pkg/buffer"
	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/metrics"
	"github.com/cuemby/proxywatch/pkg/stream"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ServerNoticePrefix marks frames that carry a panel error instead of a line
const ServerNoticePrefix = "错误:"

// DefaultInitialLines is the prefetch size used by the original panel
const DefaultInitialLines = 100

// Fetcher performs the one-shot bulk retrieval of recent log lines
type Fetcher interface {
	FetchLogs(ctx context.Context, logType, domain string, lines int) ([]string, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, logType, domain string, lines int) ([]string, error)

// FetchLogs implements Fetcher
func (f FetcherFunc) FetchLogs(ctx context.Context, logType, domain string, lines int) ([]string, error) {
	return f(ctx, logType, domain, lines)
}

// Options configures a Session
type Options struct {
	// MaxLines caps the retained lines; 0 means buffer.DefaultMaxItems
	MaxLines int

	// AutoScroll is the initial renderer hint
	AutoScroll bool

	// Stream options passed to the underlying connection
	Stream []stream.Option
}

// Session tails one log channel: a bulk prefetch of recent lines followed by
// live lines pushed over a stream connection, kept in a capped buffer.
type Session struct {
	id       string
	fetcher  Fetcher
	endpoint stream.Endpoint
	opts     Options
	logger   zerolog.Logger

	// emitMu serializes handler invocation so snapshots arrive in mutation
	// order. It is always taken before mu.
	emitMu sync.Mutex

	mu          sync.Mutex
	buf         *buffer.Ring[string]
	channel     types.Channel
	conn        *stream.Conn
	started     bool
	stopped     bool
	prefetching bool
	pending     []string
	autoScroll  bool

	updateHandlers []func(types.LogSnapshot)
	errorHandlers  []func(error)
	stateHandlers  []func(types.StateChange)
}

// NewSession creates an idle session. fetcher may be nil, in which case the
// tail starts empty.
func NewSession(fetcher Fetcher, endpoint stream.Endpoint, opts Options) *Session {
	id := uuid.New().String()
	return &Session{
		id:         id,
		fetcher:    fetcher,
		endpoint:   endpoint,
		opts:       opts,
		logger:     log.WithSessionID(id).With().Str("component", "logtail").Logger(),
		buf:        buffer.New[string](opts.MaxLines),
		autoScroll: opts.AutoScroll,
	}
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// OnUpdate registers a handler receiving the full ordered snapshot after
// every change to the buffer.
func (s *Session) OnUpdate(h func(types.LogSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateHandlers = append(s.updateHandlers, h)
}

// OnError registers a handler for non-fatal notices
func (s *Session) OnError(h func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandlers = append(s.errorHandlers, h)
}

// OnStateChange registers a handler for the connection's transitions
func (s *Session) OnStateChange(h func(types.StateChange)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateHandlers = append(s.stateHandlers, h)
}

// SetAutoScroll sets the renderer hint carried in later snapshots
func (s *Session) SetAutoScroll(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoScroll = on
}

// AutoScroll returns the renderer hint
func (s *Session) AutoScroll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoScroll
}

// State returns the state of the live connection
func (s *Session) State() types.ConnectionState {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return types.StateIdle
	}
	return conn.State()
}

// Snapshot returns the current view
func (s *Session) Snapshot() types.LogSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Start opens the live channel for logType (optionally scoped to domain) and
// prefetches the most recent initialLines lines. Live lines arriving while the
// prefetch is in flight are applied after it, in arrival order. Start returns
// once the prefetch phase is over; a failed prefetch is reported to the error
// handlers and does not stop the live tail.
func (s *Session) Start(ctx context.Context, logType, domain string, initialLines int) error {
	if logType == "" {
		return ErrMissingLogType
	}

	ch := types.Channel{Kind: types.ChannelLogs, LogType: logType, Domain: domain}

	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return ErrStopped
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.channel = ch
	s.prefetching = true
	s.mu.Unlock()

	connLog := s.logger.With().Str("channel", ch.String()).Logger()
	opts := append([]stream.Option{stream.WithLogger(connLog)}, s.opts.Stream...)
	conn, err := stream.NewConn(s.endpoint, ch, opts...)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.prefetching = false
		s.channel = types.Channel{}
		s.mu.Unlock()
		return err
	}
	conn.OnMessage(s.handleMessage)
	conn.OnStateChange(s.handleState)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info().
		Str("channel", ch.String()).
		Int("initial_lines", initialLines).
		Msg("Starting log tail")
	conn.Open()

	lines, err := s.prefetch(ctx, logType, domain, initialLines)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Prefetch failed, continuing with live lines only")
		s.notify(&PrefetchError{LogType: logType, Domain: domain, Err: err})
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.prefetching = false
	queued := s.pending
	s.pending = nil
	changed := len(lines) > 0 || len(queued) > 0
	s.appendLocked(lines...)
	s.appendLocked(queued...)
	snap := s.snapshotLocked()
	handlers := append(([]func(types.LogSnapshot))(nil), s.updateHandlers...)
	s.mu.Unlock()

	if changed || err == nil {
		for _, h := range handlers {
			h(snap)
		}
	}
	return nil
}

func (s *Session) prefetch(ctx context.Context, logType, domain string, n int) ([]string, error) {
	if s.fetcher == nil || n <= 0 {
		return nil, nil
	}

	timer := metrics.NewTimer()
	lines, err := s.fetcher.FetchLogs(ctx, logType, domain, n)
	timer.ObserveDuration(metrics.PrefetchDuration)
	if err != nil {
		metrics.PrefetchFailures.Inc()
		return nil, err
	}

	kept := lines[:0:0]
	for _, line := range lines {
		if !utf8.ValidString(line) {
			metrics.MalformedMessages.WithLabelValues(string(types.ChannelLogs)).Inc()
			s.logger.Warn().Int("bytes", len(line)).Msg("Dropping prefetched line that is not valid UTF-8")
			s.notify(&MalformedMessageError{Reason: "invalid utf-8", Raw: line})
			continue
		}
		kept = append(kept, line)
	}
	return kept, nil
}

// Stop closes the live channel and discards the buffer. No update or error
// handler runs after Stop returns, unless one is already executing.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conn := s.conn
	label := s.channel.String()
	s.buf.Reset()
	s.pending = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	metrics.LogLinesBuffered.DeleteLabelValues(label)
	s.logger.Debug().Msg("Log tail stopped")
}

func (s *Session) handleMessage(msg string) {
	if !utf8.ValidString(msg) {
		metrics.MalformedMessages.WithLabelValues(string(types.ChannelLogs)).Inc()
		s.logger.Warn().Int("bytes", len(msg)).Msg("Dropping log message that is not valid UTF-8")
		s.notify(&MalformedMessageError{Reason: "invalid utf-8", Raw: msg})
		return
	}

	line := strings.TrimRight(msg, "\r\n")
	if strings.HasPrefix(line, ServerNoticePrefix) {
		notice := strings.TrimSpace(strings.TrimPrefix(line, ServerNoticePrefix))
		s.logger.Warn().Str("notice", notice).Msg("Panel reported a log channel error")
		s.notify(&ServerNotice{Message: notice})
		return
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.prefetching {
		s.pending = append(s.pending, line)
		s.mu.Unlock()
		return
	}
	s.appendLocked(line)
	snap := s.snapshotLocked()
	handlers := append(([]func(types.LogSnapshot))(nil), s.updateHandlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(snap)
	}
}

func (s *Session) handleState(change types.StateChange) {
	s.mu.Lock()
	handlers := append(([]func(types.StateChange))(nil), s.stateHandlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
}

func (s *Session) notify(err error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	handlers := append(([]func(error))(nil), s.errorHandlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

func (s *Session) appendLocked(lines ...string) {
	if len(lines) == 0 {
		return
	}
	before := s.buf.Evicted()
	s.buf.Append(lines...)

	label := s.channel.String()
	if n := s.buf.Evicted() - before; n > 0 {
		metrics.LogLinesEvicted.WithLabelValues(label).Add(float64(n))
	}
	metrics.LogLinesBuffered.WithLabelValues(label).Set(float64(s.buf.Len()))
}

func (s *Session) snapshotLocked() types.LogSnapshot {
	return types.LogSnapshot{
		LogType:    s.channel.LogType,
		Domain:     s.channel.Domain,
		Lines:      s.buf.Snapshot(),
		Evicted:    s.buf.Evicted(),
		AutoScroll: s.autoScroll,
	}
}
