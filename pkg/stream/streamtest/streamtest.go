// Package streamtest provides in-memory transports for testing code built on
// package stream.
package streamtest

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/proxywatch/pkg/stream"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/stretchr/testify/require"
)

// ErrRemoteClosed is returned by ReadMessage after RemoteClose
var ErrRemoteClosed = errors.New("streamtest: remote closed")

// ErrRefused is returned by dials past the end of a Transport's script
var ErrRefused = errors.New("streamtest: connection refused")

// Conn is an in-memory stream.MessageConn driven by the test
type Conn struct {
	msgs   chan string
	closed chan struct{}
	once   sync.Once
}

// NewConn returns a connection with room for 256 undelivered messages
func NewConn() *Conn {
	return &Conn{
		msgs:   make(chan string, 256),
		closed: make(chan struct{}),
	}
}

// Send queues an inbound message
func (c *Conn) Send(msgs ...string) {
	for _, m := range msgs {
		c.msgs <- m
	}
}

// RemoteClose simulates the server dropping the connection once queued
// messages have been read.
func (c *Conn) RemoteClose() {
	close(c.msgs)
}

// Closed reports whether the client closed the connection
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ReadMessage implements stream.MessageConn
func (c *Conn) ReadMessage() (string, error) {
	select {
	case <-c.closed:
		return "", net.ErrClosed
	default:
	}
	select {
	case m, ok := <-c.msgs:
		if !ok {
			return "", ErrRemoteClosed
		}
		return m, nil
	case <-c.closed:
		return "", net.ErrClosed
	}
}

// Close implements stream.MessageConn
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Result is one scripted dial outcome
type Result struct {
	Conn *Conn
	Err  error
}

// Transport hands out scripted dial results in order; once the script runs
// out every dial fails with ErrRefused.
type Transport struct {
	mu     sync.Mutex
	script []Result
	dials  int
	urls   []string
}

// NewTransport returns a Transport following script
func NewTransport(script ...Result) *Transport {
	return &Transport{script: script}
}

// Accepting returns a Transport whose first n dials succeed with fresh
// connections.
func Accepting(n int) (*Transport, []*Conn) {
	conns := make([]*Conn, n)
	script := make([]Result, n)
	for i := range conns {
		conns[i] = NewConn()
		script[i] = Result{Conn: conns[i]}
	}
	return NewTransport(script...), conns
}

// Dial implements stream.Transport
func (t *Transport) Dial(ctx context.Context, url string) (stream.MessageConn, error) {
	t.mu.Lock()
	i := t.dials
	t.dials++
	t.urls = append(t.urls, url)
	r := Result{Err: ErrRefused}
	if i < len(t.script) {
		r = t.script[i]
	}
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Conn, nil
}

// Dials returns the number of dial attempts so far
func (t *Transport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// URLs returns every dialled URL in order
func (t *Transport) URLs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.urls...)
}

// Recorder collects state transitions
type Recorder struct {
	mu      sync.Mutex
	changes []types.StateChange
}

// Record is an OnStateChange handler
func (r *Recorder) Record(c types.StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

// Changes returns a copy of everything recorded
func (r *Recorder) Changes() []types.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.StateChange(nil), r.changes...)
}

// States returns the target state of every recorded transition
func (r *Recorder) States() []types.ConnectionState {
	changes := r.Changes()
	out := make([]types.ConnectionState, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.To)
	}
	return out
}

// WaitFor blocks until the occurrence-th transition to state is recorded
func (r *Recorder) WaitFor(t testing.TB, state types.ConnectionState, occurrence int) types.StateChange {
	t.Helper()
	var match types.StateChange
	require.Eventuallyf(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		n := 0
		for _, c := range r.changes {
			if c.To == state {
				n++
				if n == occurrence {
					match = c
					return true
				}
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond, "waiting for %s #%d", state, occurrence)
	return match
}
