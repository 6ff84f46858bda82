package stream_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/proxywatch/pkg/backoff"
	. "github.com/cuemby/proxywatch/pkg/stream"
	"github.com/cuemby/proxywatch/pkg/stream/streamtest"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEndpoint = MustParseEndpoint("http://panel.test/api/v1")

func fastPolicy(maxAttempts int) backoff.Policy {
	return backoff.Policy{
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}
}

func newTestConn(t *testing.T, tr Transport, p backoff.Policy) (*Conn, *streamtest.Recorder) {
	t.Helper()
	c, err := NewConn(testEndpoint,
		types.Channel{Kind: types.ChannelLogs, LogType: "error"},
		WithTransport(tr),
		WithPolicy(p),
	)
	require.NoError(t, err)

	rec := &streamtest.Recorder{}
	c.OnStateChange(rec.Record)
	t.Cleanup(c.Close)
	return c, rec
}

func TestNewConnDerivesURL(t *testing.T) {
	c, err := NewConn(testEndpoint, types.Channel{Kind: types.ChannelMirror, JobID: "a.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ws://panel.test/api/v1/mirror/progress/a.example.com", c.URL())
	assert.Equal(t, types.StateIdle, c.State())

	_, err = NewConn(testEndpoint, types.Channel{Kind: types.ChannelLogs})
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "connection goroutine did not exit")
	}
}

// TestConnDeliversMessagesInOrder tests arrival-order delivery
func TestConnDeliversMessagesInOrder(t *testing.T) {
	fc := streamtest.NewConn()
	tr := streamtest.NewTransport(streamtest.Result{Conn: fc})
	c, rec := newTestConn(t, tr, fastPolicy(3))

	var mu sync.Mutex
	var got []string
	c.OnMessage(func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
	})

	c.Open()
	rec.WaitFor(t, types.StateOpen, 1)

	fc.Send("first")
	fc.Send("second")
	fc.Send("third")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 2*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"first", "second", "third"}, got)
	mu.Unlock()
}

// TestConnReconnectsAfterRemoteClose tests the drop-and-recover sequence
func TestConnReconnectsAfterRemoteClose(t *testing.T) {
	first, second := streamtest.NewConn(), streamtest.NewConn()
	tr := streamtest.NewTransport(streamtest.Result{Conn: first}, streamtest.Result{Conn: second})
	c, rec := newTestConn(t, tr, fastPolicy(5))

	c.Open()
	rec.WaitFor(t, types.StateOpen, 1)

	first.RemoteClose()
	rec.WaitFor(t, types.StateOpen, 2)

	assert.Equal(t, []types.ConnectionState{
		types.StateConnecting,
		types.StateOpen,
		types.StateClosed,
		types.StateReconnecting,
		types.StateConnecting,
		types.StateOpen,
	}, rec.States())
	assert.Equal(t, 0, c.Attempt())

	changes := rec.Changes()
	var closeErr *TransportError
	require.ErrorAs(t, changes[2].Err, &closeErr)
	assert.Equal(t, "read", closeErr.Op)
	assert.ErrorIs(t, changes[2].Err, streamtest.ErrRemoteClosed)
	assert.Equal(t, 1, changes[3].Attempt)
	assert.Equal(t, time.Millisecond, changes[3].Delay)
	assert.Equal(t, 0, changes[5].Attempt)
}

// TestConnFailsAfterMaxAttempts tests the bounded retry budget
func TestConnFailsAfterMaxAttempts(t *testing.T) {
	tr := streamtest.NewTransport() // every dial fails
	c, rec := newTestConn(t, tr, fastPolicy(3))

	c.Open()
	failed := rec.WaitFor(t, types.StateFailed, 1)
	waitDone(t, c)

	assert.ErrorIs(t, failed.Err, ErrExhaustedRetries)
	assert.Equal(t, types.StateFailed, c.State())
	assert.Equal(t, 4, tr.Dials(), "initial dial plus three reconnects")

	var delays []time.Duration
	for _, ch := range rec.Changes() {
		if ch.To == types.StateReconnecting {
			delays = append(delays, ch.Delay)
		}
	}
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, delays)

	// Failed is terminal: Close reports nothing further
	before := len(rec.Changes())
	c.Close()
	assert.Len(t, rec.Changes(), before)
}

func TestConnDialErrorIsReportedNotThrown(t *testing.T) {
	dialErr := errors.New("no route to host")
	fc := streamtest.NewConn()
	tr := streamtest.NewTransport(streamtest.Result{Err: dialErr}, streamtest.Result{Conn: fc})
	c, rec := newTestConn(t, tr, fastPolicy(2))

	c.Open()
	rec.WaitFor(t, types.StateOpen, 1)

	closed := rec.WaitFor(t, types.StateClosed, 1)
	var terr *TransportError
	require.ErrorAs(t, closed.Err, &terr)
	assert.Equal(t, "dial", terr.Op)
	assert.ErrorIs(t, closed.Err, dialErr)
}

// TestConnCloseIsTerminalAndIdempotent tests caller-initiated close
func TestConnCloseIsTerminalAndIdempotent(t *testing.T) {
	fc := streamtest.NewConn()
	tr := streamtest.NewTransport(streamtest.Result{Conn: fc}, streamtest.Result{Conn: streamtest.NewConn()})
	c, rec := newTestConn(t, tr, fastPolicy(5))

	var mu sync.Mutex
	var got []string
	c.OnMessage(func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
	})

	c.Open()
	rec.WaitFor(t, types.StateOpen, 1)

	c.Close()
	c.Close()
	waitDone(t, c)

	// A message arriving on the wire after close is never delivered
	fc.Send("late")
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []types.ConnectionState{
		types.StateConnecting,
		types.StateOpen,
		types.StateClosing,
		types.StateClosed,
	}, rec.States())
	assert.Nil(t, rec.Changes()[3].Err)
	assert.Equal(t, 1, tr.Dials(), "no reconnect after close")

	mu.Lock()
	assert.Empty(t, got)
	mu.Unlock()
}

// TestConnCloseCancelsPendingReconnect tests that a scheduled reconnect
// never fires on an abandoned connection.
func TestConnCloseCancelsPendingReconnect(t *testing.T) {
	tr := streamtest.NewTransport()
	c, rec := newTestConn(t, tr, backoff.Policy{
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
		MaxAttempts: 5,
	})

	c.Open()
	rec.WaitFor(t, types.StateReconnecting, 1)

	c.Close()
	waitDone(t, c)

	assert.Equal(t, 1, tr.Dials())
	assert.Equal(t, types.StateClosed, c.State())
	states := rec.States()
	assert.Equal(t, []types.ConnectionState{types.StateClosing, types.StateClosed}, states[len(states)-2:])
}

func TestConnCloseFromHandler(t *testing.T) {
	fc := streamtest.NewConn()
	tr := streamtest.NewTransport(streamtest.Result{Conn: fc})
	c, rec := newTestConn(t, tr, fastPolicy(5))

	var mu sync.Mutex
	var got []string
	c.OnMessage(func(msg string) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		c.Close()
	})

	c.Open()
	rec.WaitFor(t, types.StateOpen, 1)

	fc.Send("one")
	fc.Send("two")
	waitDone(t, c)

	mu.Lock()
	assert.Equal(t, []string{"one"}, got)
	mu.Unlock()
	assert.Equal(t, types.StateClosed, c.State())
}

func TestConnCloseOnClosedSkipsReconnect(t *testing.T) {
	tests := []struct {
		name   string
		script func() (*streamtest.Transport, func())
		want   []types.ConnectionState
	}{
		{
			name: "remote close",
			script: func() (*streamtest.Transport, func()) {
				fc := streamtest.NewConn()
				return streamtest.NewTransport(streamtest.Result{Conn: fc}), fc.RemoteClose
			},
			want: []types.ConnectionState{types.StateConnecting, types.StateOpen, types.StateClosed},
		},
		{
			name: "dial error",
			script: func() (*streamtest.Transport, func()) {
				return streamtest.NewTransport(streamtest.Result{Err: errors.New("refused")}), func() {}
			},
			want: []types.ConnectionState{types.StateConnecting, types.StateClosed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, drop := tt.script()
			c, rec := newTestConn(t, tr, fastPolicy(5))
			c.OnStateChange(func(change types.StateChange) {
				if change.To == types.StateClosed && change.Err != nil {
					c.Close()
				}
			})

			c.Open()
			drop()
			waitDone(t, c)

			assert.Equal(t, tt.want, rec.States())
			assert.Equal(t, 1, tr.Dials())
			assert.Equal(t, types.StateClosed, c.State())
		})
	}
}

func TestConnHandlerRegisteredDuringDispatch(t *testing.T) {
	fc := streamtest.NewConn()
	tr := streamtest.NewTransport(streamtest.Result{Conn: fc})
	c, _ := newTestConn(t, tr, fastPolicy(5))

	var mu sync.Mutex
	var late []types.ConnectionState
	c.OnStateChange(func(change types.StateChange) {
		if change.To != types.StateOpen {
			return
		}
		c.OnStateChange(func(change types.StateChange) {
			mu.Lock()
			late = append(late, change.To)
			mu.Unlock()
			if change.To == types.StateClosed {
				c.Close()
			}
		})
	})

	c.Open()
	require.Eventually(t, func() bool { return c.State() == types.StateOpen }, time.Second, time.Millisecond)
	fc.RemoteClose()
	waitDone(t, c)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.ConnectionState{types.StateClosed}, late)
}

func TestConnCloseBeforeOpen(t *testing.T) {
	tr := streamtest.NewTransport(streamtest.Result{Conn: streamtest.NewConn()})
	c, rec := newTestConn(t, tr, fastPolicy(1))

	c.Close()
	waitDone(t, c)
	c.Open()

	assert.Equal(t, []types.ConnectionState{types.StateClosed}, rec.States())
	assert.Equal(t, 0, tr.Dials())
}

func TestConnOpenIsIdempotent(t *testing.T) {
	tr := streamtest.NewTransport(streamtest.Result{Conn: streamtest.NewConn()})
	c, rec := newTestConn(t, tr, fastPolicy(1))

	c.Open()
	c.Open()
	rec.WaitFor(t, types.StateOpen, 1)
	c.Open()

	assert.Equal(t, 1, tr.Dials())
}

// TestConnsAreIndependent tests that two connections never share state
func TestConnsAreIndependent(t *testing.T) {
	a, b := streamtest.NewConn(), streamtest.NewConn()
	ca, recA := newTestConn(t, streamtest.NewTransport(streamtest.Result{Conn: a}), fastPolicy(1))
	cb, recB := newTestConn(t, streamtest.NewTransport(streamtest.Result{Conn: b}), fastPolicy(1))

	ca.Open()
	cb.Open()
	recA.WaitFor(t, types.StateOpen, 1)
	recB.WaitFor(t, types.StateOpen, 1)

	ca.Close()
	waitDone(t, ca)

	assert.Equal(t, types.StateClosed, ca.State())
	assert.Equal(t, types.StateOpen, cb.State())
}
