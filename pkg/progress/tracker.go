package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/metrics"
	"github.com/cuemby/proxywatch/pkg/stream"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrJobNotFound is returned by Start when the panel reports no such job
	ErrJobNotFound = errors.New("mirror job not found")

	// ErrAlreadyStarted is returned by Start on a tracker that was started before
	ErrAlreadyStarted = errors.New("progress tracker already started")

	// ErrStopped is returned by Start on a stopped tracker
	ErrStopped = errors.New("progress tracker stopped")

	// ErrMissingJobID is returned by Start when no job id is given
	ErrMissingJobID = errors.New("job id is required")
)

// StatusFetcher performs the one-shot job status lookup done at Start
type StatusFetcher interface {
	MirrorStatus(ctx context.Context, jobID string) (types.JobStatus, error)
}

// Options configures a Tracker
type Options struct {
	// MaxLogs caps the rolling log excerpt; 0 means buffer.DefaultMaxItems
	MaxLogs int

	// Status, when set, is queried once at Start
	Status StatusFetcher

	// Seed is the last known snapshot of the job, shown until the first
	// message arrives. Ignored if its JobID differs.
	Seed *types.ProgressSnapshot

	// Stream options passed to the underlying connection
	Stream []stream.Option
}

// Tracker keeps one merged view of a mirror job from the partial progress
// messages pushed on the job's channel.
type Tracker struct {
	id       string
	endpoint stream.Endpoint
	opts     Options
	logger   zerolog.Logger

	// emitMu is always taken before mu
	emitMu sync.Mutex

	mu      sync.Mutex
	jobID   string
	snap    types.ProgressSnapshot
	status  *types.JobStatus
	conn    *stream.Conn
	started bool
	stopped bool

	updateHandlers []func(types.ProgressSnapshot)
	errorHandlers  []func(error)
	stateHandlers  []func(types.StateChange)
}

// NewTracker creates an idle tracker
func NewTracker(endpoint stream.Endpoint, opts Options) *Tracker {
	id := uuid.New().String()
	return &Tracker{
		id:       id,
		endpoint: endpoint,
		opts:     opts,
		logger:   log.WithSessionID(id).With().Str("component", "progress").Logger(),
	}
}

// ID returns the tracker's session id
func (t *Tracker) ID() string {
	return t.id
}

// OnUpdate registers a handler receiving the merged snapshot after every
// accepted message.
func (t *Tracker) OnUpdate(h func(types.ProgressSnapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateHandlers = append(t.updateHandlers, h)
}

// OnError registers a handler for non-fatal notices
func (t *Tracker) OnError(h func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandlers = append(t.errorHandlers, h)
}

// OnStateChange registers a handler for the connection's transitions
func (t *Tracker) OnStateChange(h func(types.StateChange)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandlers = append(t.stateHandlers, h)
}

// Snapshot returns the last merged state. It stays available after Stop.
func (t *Tracker) Snapshot() types.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Clone()
}

// Status returns the job status fetched at Start, if any
func (t *Tracker) Status() (types.JobStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == nil {
		return types.JobStatus{}, false
	}
	return *t.status, true
}

// State returns the state of the progress connection
func (t *Tracker) State() types.ConnectionState {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return types.StateIdle
	}
	return conn.State()
}

// Start subscribes to the progress channel of jobID. If a StatusFetcher is
// configured the job is looked up first: a job the panel does not know about
// fails Start with ErrJobNotFound, a failed lookup is only reported to the
// error handlers.
func (t *Tracker) Start(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrMissingJobID
	}

	t.mu.Lock()
	switch {
	case t.stopped:
		t.mu.Unlock()
		return ErrStopped
	case t.started:
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.jobID = jobID
	t.snap = types.ProgressSnapshot{JobID: jobID}
	if seed := t.opts.Seed; seed != nil && seed.JobID == jobID {
		t.snap = seed.Clone()
	}
	t.mu.Unlock()

	logger := t.logger.With().Str("job_id", jobID).Logger()

	if t.opts.Status != nil {
		status, err := t.opts.Status.MirrorStatus(ctx, jobID)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Failed to fetch mirror status")
			t.notify(fmt.Errorf("fetch mirror status: %w", err))
		case !status.Exists:
			t.reset()
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		default:
			t.mu.Lock()
			t.status = &status
			t.mu.Unlock()
		}
	}

	ch := types.Channel{Kind: types.ChannelMirror, JobID: jobID}
	opts := append([]stream.Option{stream.WithLogger(logger)}, t.opts.Stream...)
	conn, err := stream.NewConn(t.endpoint, ch, opts...)
	if err != nil {
		t.reset()
		return err
	}
	conn.OnMessage(t.handleMessage)
	conn.OnStateChange(t.handleState)

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		conn.Close()
		return ErrStopped
	}
	t.conn = conn
	t.mu.Unlock()

	logger.Info().Msg("Tracking mirror progress")
	conn.Open()
	return nil
}

// reset undoes a Start that failed before dialing, so it can be retried
func (t *Tracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	t.jobID = ""
	t.snap = types.ProgressSnapshot{}
	t.status = nil
}

// Stop closes the connection. The last snapshot is kept so callers can still
// show the last known state.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	conn := t.conn
	jobID := t.jobID
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if jobID != "" {
		metrics.MirrorProgress.DeleteLabelValues(jobID)
	}
}

func (t *Tracker) handleMessage(msg string) {
	upd, err := ParseUpdate([]byte(msg))
	if err != nil {
		metrics.MalformedMessages.WithLabelValues(string(types.ChannelMirror)).Inc()
		t.logger.Warn().Err(err).Msg("Dropping malformed progress message")
		t.notify(err)
		return
	}

	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	wasComplete := t.snap.Complete()
	next := Merge(t.snap, upd, t.opts.MaxLogs)
	next.JobID = t.jobID
	next.UpdatedAt = time.Now()
	t.snap = next
	snap := next.Clone()
	handlers := append(([]func(types.ProgressSnapshot))(nil), t.updateHandlers...)
	t.mu.Unlock()

	metrics.MirrorProgress.WithLabelValues(snap.JobID).Set(float64(snap.OverallProgress))
	if snap.Complete() && !wasComplete {
		t.logger.Info().
			Str("job_id", snap.JobID).
			Int64("files", snap.Stats[types.StatCompleted]).
			Msg("Mirror job complete")
	}

	for _, h := range handlers {
		h(snap)
	}
}

func (t *Tracker) handleState(change types.StateChange) {
	t.mu.Lock()
	handlers := append(([]func(types.StateChange))(nil), t.stateHandlers...)
	t.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
}

func (t *Tracker) notify(err error) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	handlers := append(([]func(error))(nil), t.errorHandlers...)
	t.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}
