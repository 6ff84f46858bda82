package stream

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/proxywatch/pkg/backoff"
	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/metrics"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/rs/zerolog"
)

// Option configures a Conn
type Option func(*Conn)

// WithTransport replaces the default WebSocket transport
func WithTransport(t Transport) Option {
	return func(c *Conn) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithPolicy sets the reconnection policy
func WithPolicy(p backoff.Policy) Option {
	return func(c *Conn) {
		c.policy = p
	}
}

// WithLogger sets the connection logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) {
		c.logger = l
		c.hasLogger = true
	}
}

// Conn owns one logical subscription to a server-pushed channel and hides
// reconnect churn from its owner. All handlers run on the connection's own
// goroutine, one at a time, in transport order.
type Conn struct {
	url       string
	channel   types.Channel
	transport Transport
	policy    backoff.Policy
	logger    zerolog.Logger
	hasLogger bool

	mu            sync.Mutex
	state         types.ConnectionState
	attempt       int
	started       bool
	stopped       bool
	cancel        context.CancelFunc
	current       MessageConn
	msgHandlers   []func(string)
	stateHandlers []func(types.StateChange)

	done chan struct{}
}

// NewConn builds an idle connection for a channel of endpoint
func NewConn(endpoint Endpoint, ch types.Channel, opts ...Option) (*Conn, error) {
	url, err := endpoint.URL(ch)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		url:     url,
		channel: ch,
		policy:  backoff.DefaultPolicy(),
		state:   types.StateIdle,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewWebSocketTransport()
	}
	if !c.hasLogger {
		c.logger = log.WithChannel("stream", url)
	}
	return c, nil
}

// URL returns the derived channel URL
func (c *Conn) URL() string {
	return c.url
}

// Channel returns the channel scope
func (c *Conn) Channel() types.Channel {
	return c.channel
}

// State returns the current connection state
func (c *Conn) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the consecutive failure counter; it is 0 while open
func (c *Conn) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Done is closed once the connection has reached a terminal state and its
// goroutine has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// OnMessage registers a handler invoked once per inbound message
func (c *Conn) OnMessage(h func(msg string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgHandlers = append(c.msgHandlers, h)
}

// OnStateChange registers a handler invoked on every state transition
func (c *Conn) OnStateChange(h func(change types.StateChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, h)
}

// Open starts connecting in the background. It is a no-op once the
// connection has been opened or closed.
func (c *Conn) Open() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, cancel)
}

// Close stops the connection for good: no reconnect follows, pending
// reconnect timers are cancelled and messages still in flight are discarded.
// Close may be called any number of times, from any goroutine, including
// from inside a handler.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	cancel := c.cancel
	current := c.current
	c.mu.Unlock()

	if !started {
		c.transition(types.StateClosed, nil, 0)
		c.forget()
		close(c.done)
		return
	}

	cancel()
	if current != nil {
		_ = current.Close()
	}
}

func (c *Conn) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Conn) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(c.done)
	defer cancel()
	kind := string(c.channel.Kind)

	for {
		if c.isStopped() {
			c.finish()
			return
		}

		c.transition(types.StateConnecting, nil, 0)
		mc, err := c.transport.Dial(ctx, c.url)
		if err != nil {
			metrics.ConnectionAttempts.WithLabelValues(kind, "error").Inc()
			if c.isStopped() {
				c.finish()
				return
			}
			c.transition(types.StateClosed, &TransportError{Op: "dial", URL: c.url, Err: err}, 0)
		} else {
			metrics.ConnectionAttempts.WithLabelValues(kind, "success").Inc()

			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				_ = mc.Close()
				c.finish()
				return
			}
			c.current = mc
			c.attempt = 0
			c.mu.Unlock()

			c.transition(types.StateOpen, nil, 0)
			err = c.readLoop(mc)

			c.mu.Lock()
			c.current = nil
			c.mu.Unlock()
			_ = mc.Close()

			if c.isStopped() {
				c.finish()
				return
			}
			c.transition(types.StateClosed, &TransportError{Op: "read", URL: c.url, Err: err}, 0)
		}

		// A handler may have closed the connection in reaction to closed
		if c.isStopped() {
			c.finish()
			return
		}

		c.mu.Lock()
		attempt := c.attempt
		c.mu.Unlock()

		if c.policy.Exhausted(attempt) {
			metrics.RetriesExhausted.WithLabelValues(kind).Inc()
			c.logger.Error().Int("attempts", attempt).Msg("Reconnect attempts exhausted")
			c.transition(types.StateFailed, ErrExhaustedRetries, 0)
			return
		}

		delay := c.policy.Delay(attempt)
		c.mu.Lock()
		c.attempt++
		c.mu.Unlock()

		metrics.Reconnects.WithLabelValues(kind).Inc()
		c.logger.Warn().Int("attempt", attempt+1).Dur("delay", delay).Msg("Scheduling reconnect")
		c.transition(types.StateReconnecting, nil, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.finish()
			return
		case <-timer.C:
		}
	}
}

// readLoop delivers messages until the transport fails or the caller stops
func (c *Conn) readLoop(mc MessageConn) error {
	kind := string(c.channel.Kind)
	for {
		msg, err := mc.ReadMessage()
		if err != nil {
			return err
		}

		c.mu.Lock()
		stopped := c.stopped
		handlers := append(([]func(string))(nil), c.msgHandlers...)
		c.mu.Unlock()

		if stopped {
			metrics.MessagesDiscarded.WithLabelValues(kind).Inc()
			return nil
		}

		metrics.MessagesReceived.WithLabelValues(kind).Inc()
		for _, h := range handlers {
			h(msg)
		}
	}
}

// finish reports the caller-initiated close
func (c *Conn) finish() {
	if c.State() != types.StateClosed {
		c.transition(types.StateClosing, nil, 0)
		c.transition(types.StateClosed, nil, 0)
	}
	c.forget()
}

func (c *Conn) forget() {
	metrics.ForgetChannel(c.channel.String())
	metrics.RemoveComponent(c.channel.String())
}

func (c *Conn) transition(to types.ConnectionState, err error, delay time.Duration) {
	c.mu.Lock()
	change := types.StateChange{
		From:    c.state,
		To:      to,
		Err:     err,
		Attempt: c.attempt,
		Delay:   delay,
		At:      time.Now(),
	}
	c.state = to
	stopped := c.stopped
	handlers := append(([]func(types.StateChange))(nil), c.stateHandlers...)
	c.mu.Unlock()

	event := c.logger.Debug()
	if err != nil {
		event = event.Err(err)
	}
	event.Str("from", string(change.From)).Str("to", string(to)).Int("attempt", change.Attempt).Msg("Connection state changed")

	c.record(change, stopped)

	for _, h := range handlers {
		h(change)
	}
}

// record mirrors the transition into the metrics and health registries
func (c *Conn) record(change types.StateChange, stopped bool) {
	name := c.channel.String()
	metrics.SetConnectionState(name, string(change.To))

	switch change.To {
	case types.StateOpen:
		metrics.UpdateComponent(name, true, "open")
	case types.StateConnecting, types.StateReconnecting:
		metrics.MarkDegraded(name, string(change.To))
	case types.StateClosed:
		if !stopped && change.Err != nil {
			metrics.MarkDegraded(name, change.Err.Error())
		}
	case types.StateFailed:
		metrics.UpdateComponent(name, false, ErrExhaustedRetries.Error())
	}
}
